package ternutil

import (
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strings"

	cidr "github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"
)

// IP protocol type.
type IPType int

// IP protocol type enum.
const (
	IPv4 IPType = 4
	IPv6 IPType = 6
)

// Structure returned by ParseIP function. It comprises the information about
// the parsed IP address or delegated prefix.
type ParsedIP struct {
	NetworkAddress string // Full address or delegated prefix e.g. 192.0.2.0/24.
	Protocol       IPType // Detected IP type: IPv4 or IPv6.
	NetworkPrefix  string // Prefix part (slash and length excluded).
	PrefixLength   int    // Network address mask.
	Prefix         bool   // Boolean indicating if it is an address or prefix.
	CIDR           bool   // Boolean indicating if parsed value was in CIDR form.
	Addr           netip.Addr
}

// Parses an IP address or prefix and returns parsed information in the
// structure. If the specified value is invalid, a nil structure is
// returned.
func ParseIP(address string) *ParsedIP {
	parsed := &ParsedIP{}

	// Check if this is an IP address without a prefix length.
	addr, err := netip.ParseAddr(address)
	if err != nil {
		// Apparently it comprises a prefix length.
		prefix, err := netip.ParsePrefix(address)
		if err != nil {
			// It is neither an IP address nor prefix.
			return nil
		}
		parsed.Addr = prefix.Addr().Unmap()
		parsed.CIDR = true
		if prefix.Bits() < parsed.Addr.BitLen() {
			// This seems to be a prefix.
			parsed.NetworkAddress = prefix.Masked().String()
			parsed.NetworkPrefix = prefix.Masked().Addr().String()
			parsed.PrefixLength = prefix.Bits()
			parsed.Prefix = true
		}
	} else {
		parsed.Addr = addr.Unmap()
	}

	// Prefix length wasn't specified, so use the address itself.
	if !parsed.Prefix {
		parsed.NetworkAddress = parsed.Addr.String()
		parsed.NetworkPrefix = parsed.Addr.String()
	}

	// Check if this is IPv4 or IPv6 address/prefix.
	if parsed.Addr.Is4() {
		if parsed.PrefixLength == 0 {
			parsed.PrefixLength = 32
		}
		parsed.Protocol = IPv4
	} else {
		if parsed.PrefixLength == 0 {
			parsed.PrefixLength = 128
		}
		parsed.Protocol = IPv6
	}
	// Parsing finished.
	return parsed
}

// Returns lower and upper bound addresses of the address range. The address
// range may follow two conventions, e.g., 192.0.2.1 - 192.0.3.10
// or 192.0.2.0/24. Both IPv4 and IPv6 ranges are supported by this function.
func ParseIPRange(ipRange string) (netip.Addr, netip.Addr, error) {
	none := netip.Addr{}
	s := strings.Split(ipRange, "-")
	for i := 0; i < len(s); i++ {
		s[i] = strings.TrimSpace(s[i])
	}
	switch len(s) {
	case 2:
		// The two addresses with a hyphen were specified.
		addrs := []netip.Addr{}
		for _, ipStr := range s {
			addr, err := netip.ParseAddr(ipStr)
			if err != nil {
				return none, none, errors.Errorf("unable to parse the IP address %s", ipStr)
			}
			addrs = append(addrs, addr.Unmap())
		}
		if addrs[0].Is4() != addrs[1].Is4() {
			return none, none, errors.Errorf("IP addresses in the IP range %s must belong to the same family",
				ipRange)
		}
		if addrs[1].Less(addrs[0]) {
			return none, none, errors.Errorf("lower bound is greater than upper bound in the IP range %s",
				ipRange)
		}
		return addrs[0], addrs[1], nil

	case 1:
		// There is one token only, so apparently this is a range provided
		// as a prefix. For this prefix find an upper and lower bound address.
		_, ipNet, err := net.ParseCIDR(s[0])
		if err != nil {
			return none, none, errors.Errorf("unable to parse the pool prefix %s", s[0])
		}
		lb, ub := cidr.AddressRange(ipNet)
		lower, _ := netip.AddrFromSlice(lb)
		upper, _ := netip.AddrFromSlice(ub)
		return lower.Unmap(), upper.Unmap(), nil

	default:
		// No other formats for the address range are accepted.
		return none, none, errors.Errorf("unable to parse the IP range %s", ipRange)
	}
}

// A range of IP addresses between a lower and upper bound, inclusive.
// It is used to represent address pool boundaries and provides the
// address arithmetic needed by the allocators.
type AddrRange struct {
	Lower netip.Addr
	Upper netip.Addr
}

// Creates an address range from the lower and upper bound. The bounds
// must belong to the same family and be properly ordered.
func NewAddrRange(lower, upper netip.Addr) (AddrRange, error) {
	lower = lower.Unmap()
	upper = upper.Unmap()
	if lower.Is4() != upper.Is4() {
		return AddrRange{}, errors.Errorf("address range bounds %s and %s must belong to the same family", lower, upper)
	}
	if upper.Less(lower) {
		return AddrRange{}, errors.Errorf("address range lower bound %s is greater than the upper bound %s", lower, upper)
	}
	return AddrRange{Lower: lower, Upper: upper}, nil
}

// Checks if an address belongs to the range.
func (r AddrRange) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.Less(r.Lower) && !r.Upper.Less(addr)
}

// Returns the number of addresses in the range.
func (r AddrRange) Size() *big.Int {
	return CalculateRangeSize(r.Lower, r.Upper)
}

// Returns the number of addresses in the range as uint64. The second
// returned value is false when the range is too large to be expressed
// as uint64.
func (r AddrRange) Size64() (uint64, bool) {
	size := r.Size()
	if !size.IsUint64() {
		return 0, false
	}
	return size.Uint64(), true
}

// Returns the address at the given zero-based offset from the lower
// bound. The offset must be within the range size.
func (r AddrRange) At(offset uint64) netip.Addr {
	value := big.NewInt(0).SetBytes(r.Lower.AsSlice())
	value.Add(value, big.NewInt(0).SetUint64(offset))
	return addrFromBig(value, r.Lower.BitLen())
}

// Returns the zero-based offset of the address from the lower bound.
// The second returned value is false when the address is outside of
// the range or the offset does not fit in uint64.
func (r AddrRange) Offset(addr netip.Addr) (uint64, bool) {
	if !r.Contains(addr) {
		return 0, false
	}
	diff := big.NewInt(0).SetBytes(addr.Unmap().AsSlice())
	diff.Sub(diff, big.NewInt(0).SetBytes(r.Lower.AsSlice()))
	if !diff.IsUint64() {
		return 0, false
	}
	return diff.Uint64(), true
}

// Calculates the number of addresses in the address range.
func CalculateRangeSize(lb, ub netip.Addr) *big.Int {
	size := big.NewInt(0)
	size.Add(size, big.NewInt(0).SetBytes(ub.Unmap().AsSlice()))
	size.Sub(size, big.NewInt(0).SetBytes(lb.Unmap().AsSlice()))
	size.Add(size, big.NewInt(1))
	return size
}

// Calculates the number of delegated prefixes in the delegated prefix range.
func CalculateDelegatedPrefixRangeSize(prefixLength, delegatedLength int) *big.Int {
	if delegatedLength < prefixLength {
		// Invalid arguments.
		return big.NewInt(0)
	}

	// Number of delegated prefixes = 2 ^ (delegated length - prefix length).
	return big.NewInt(0).Exp(
		big.NewInt(2),
		big.NewInt(int64(delegatedLength-prefixLength)),
		nil,
	)
}

// Returns the delegated prefix at the given zero-based offset within the
// delegated prefix range, i.e. the range of prefixes of delegatedLength
// carved out of the containing prefix.
func DelegatedPrefixAt(container netip.Prefix, delegatedLength int, offset uint64) netip.Prefix {
	base := big.NewInt(0).SetBytes(container.Masked().Addr().AsSlice())
	step := big.NewInt(0).Lsh(big.NewInt(0).SetUint64(offset), uint(container.Addr().BitLen()-delegatedLength))
	base.Add(base, step)
	return netip.PrefixFrom(addrFromBig(base, container.Addr().BitLen()), delegatedLength)
}

// Converts a big integer to an address of the given bit length. Values
// exceeding the bit length wrap around, which cannot happen for offsets
// validated against the range size.
func addrFromBig(value *big.Int, bitLen int) netip.Addr {
	buf := make([]byte, bitLen/8)
	value.FillBytes(buf)
	addr, _ := netip.AddrFromSlice(buf)
	return addr
}

// Combines the IP and mask to a single string using
// the [IP]/[MASK] notation.
func FormatCIDRNotation(ip string, mask int) string {
	return fmt.Sprintf("%s/%d", ip, mask)
}
