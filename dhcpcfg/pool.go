package dhcpcfg

import (
	"encoding/json"
	"math/big"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	ternutil "isc.org/tern/util"
)

// An address pool within a subnet. The pool boundaries use the
// "192.0.2.10 - 192.0.2.20" notation or the prefix notation, e.g.
// "192.0.2.0/26". The boundaries are normalized to the hyphenated
// notation when the pool is unmarshalled.
type AddressPool struct {
	// Database identifier, zero before the first insert.
	ID int64 `json:"-"`
	// Pool boundaries.
	Pool string `json:"pool"`
	// Client class limiting the pool to a class of clients, empty
	// means no limit.
	ClientClass string `json:"client-class,omitempty"`
	// Options attached at the pool scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`
}

// Implements custom unmarshalling of an address pool normalizing the
// boundaries notation, e.g. the "192.0.2.1-192.0.2.10" pool becomes
// "192.0.2.1 - 192.0.2.10".
func (pool *AddressPool) UnmarshalJSON(data []byte) error {
	type t AddressPool
	if err := json.Unmarshal(data, (*t)(pool)); err != nil {
		return err
	}
	lb, ub, err := ternutil.ParseIPRange(pool.Pool)
	if err != nil {
		return errors.WithMessagef(err, "invalid pool %s", pool.Pool)
	}
	pool.Pool = lb.String() + " - " + ub.String()
	return nil
}

// Returns the lower and upper bound addresses of the pool.
func (pool AddressPool) Boundaries() (netip.Addr, netip.Addr, error) {
	return ternutil.ParseIPRange(pool.Pool)
}

// Returns the pool boundaries as an address range.
func (pool AddressPool) Range() (ternutil.AddrRange, error) {
	lb, ub, err := pool.Boundaries()
	if err != nil {
		return ternutil.AddrRange{}, err
	}
	return ternutil.NewAddrRange(lb, ub)
}

// Validates the pool boundaries and options.
func (pool AddressPool) Validate(family ternutil.IPType) error {
	lb, ub, err := pool.Boundaries()
	if err != nil {
		return err
	}
	if (family == ternutil.IPv4) != lb.Is4() {
		return errors.Errorf("pool %s does not belong to the IPv%d family", pool.Pool, family)
	}
	_ = ub
	for i := range pool.Options {
		if err := pool.Options[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid option in pool %s", pool.Pool)
		}
	}
	return nil
}

// A prefix delegation pool within an IPv6 subnet. Addresses are not
// assigned from this pool; instead, prefixes of the delegated length
// are carved out of the pool prefix and delegated to clients.
type PrefixPool struct {
	// Database identifier, zero before the first insert.
	ID int64 `json:"-"`
	// Pool prefix address.
	Prefix string `json:"prefix"`
	// Pool prefix length.
	PrefixLen int `json:"prefix-len"`
	// Length of the prefixes delegated to clients.
	DelegatedLen int `json:"delegated-len"`
	// Prefix excluded from the delegation (RFC 6603), empty when none.
	ExcludedPrefix string `json:"excluded-prefix,omitempty"`
	// Length of the excluded prefix.
	ExcludedPrefixLen int `json:"excluded-prefix-len,omitempty"`
	// Client class limiting the pool to a class of clients, empty
	// means no limit.
	ClientClass string `json:"client-class,omitempty"`
	// Options attached at the pool scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`
}

// Returns the pool prefix in the canonical CIDR form.
func (pool PrefixPool) CanonicalPrefix() string {
	parsed := ternutil.ParseIP(pool.Prefix)
	if parsed == nil {
		return ternutil.FormatCIDRNotation(pool.Prefix, pool.PrefixLen)
	}
	return ternutil.FormatCIDRNotation(parsed.NetworkPrefix, pool.PrefixLen)
}

// Returns the pool prefix as a parsed prefix.
func (pool PrefixPool) ParsedPrefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(pool.CanonicalPrefix())
	if err != nil {
		return netip.Prefix{}, errors.Errorf("unable to parse the pool prefix %s", pool.Prefix)
	}
	return prefix.Masked(), nil
}

// Returns the excluded prefix in the canonical CIDR form or an empty
// string when no prefix is excluded.
func (pool PrefixPool) CanonicalExcludedPrefix() string {
	if pool.ExcludedPrefix == "" {
		return ""
	}
	parsed := ternutil.ParseIP(pool.ExcludedPrefix)
	if parsed == nil {
		return ternutil.FormatCIDRNotation(pool.ExcludedPrefix, pool.ExcludedPrefixLen)
	}
	return ternutil.FormatCIDRNotation(parsed.NetworkPrefix, pool.ExcludedPrefixLen)
}

// Validates the prefix pool: the prefix must be a valid IPv6 prefix,
// the delegated length must not be shorter than the prefix length, and
// the excluded prefix, if present, must be contained in the pool
// prefix and be longer than the delegated length.
func (pool PrefixPool) Validate() error {
	prefix, err := pool.ParsedPrefix()
	if err != nil {
		return err
	}
	if prefix.Addr().Is4() {
		return errors.Errorf("prefix pool %s is not an IPv6 prefix", pool.Prefix)
	}
	if pool.DelegatedLen < pool.PrefixLen || pool.DelegatedLen > 128 {
		return errors.Errorf("prefix pool %s has invalid delegated length %d", pool.Prefix, pool.DelegatedLen)
	}
	if pool.ExcludedPrefix != "" {
		excluded, err := netip.ParsePrefix(pool.CanonicalExcludedPrefix())
		if err != nil {
			return errors.Errorf("unable to parse the excluded prefix %s", pool.ExcludedPrefix)
		}
		if !prefix.Contains(excluded.Addr()) {
			return errors.Errorf("excluded prefix %s is not contained in the pool prefix %s",
				pool.ExcludedPrefix, pool.Prefix)
		}
		if pool.ExcludedPrefixLen <= pool.DelegatedLen {
			return errors.Errorf("excluded prefix %s is not longer than the delegated length %d",
				pool.ExcludedPrefix, pool.DelegatedLen)
		}
	}
	for i := range pool.Options {
		if err := pool.Options[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid option in prefix pool %s", pool.Prefix)
		}
	}
	return nil
}

// Returns the number of delegated prefixes in the pool.
func (pool PrefixPool) Size() uint64 {
	size := ternutil.CalculateDelegatedPrefixRangeSize(pool.PrefixLen, pool.DelegatedLen)
	if !size.IsUint64() {
		return ^uint64(0)
	}
	return size.Uint64()
}

// Returns the delegated prefix at the given zero-based offset within
// the pool.
func (pool PrefixPool) At(offset uint64) (netip.Prefix, error) {
	prefix, err := pool.ParsedPrefix()
	if err != nil {
		return netip.Prefix{}, err
	}
	return ternutil.DelegatedPrefixAt(prefix, pool.DelegatedLen, offset), nil
}

// Returns the zero-based offset of the delegated prefix within the
// pool. The second returned value is false when the prefix does not
// belong to the pool.
func (pool PrefixPool) Offset(delegated netip.Prefix) (uint64, bool) {
	prefix, err := pool.ParsedPrefix()
	if err != nil {
		return 0, false
	}
	if delegated.Bits() != pool.DelegatedLen || !prefix.Contains(delegated.Addr()) {
		return 0, false
	}
	diff := big.NewInt(0).SetBytes(delegated.Masked().Addr().AsSlice())
	diff.Sub(diff, big.NewInt(0).SetBytes(prefix.Masked().Addr().AsSlice()))
	diff.Rsh(diff, uint(128-pool.DelegatedLen))
	if !diff.IsUint64() {
		return 0, false
	}
	return diff.Uint64(), true
}

// Returns true when the delegated prefix collides with the excluded
// prefix of the pool.
func (pool PrefixPool) Excludes(delegated netip.Prefix) bool {
	if pool.ExcludedPrefix == "" {
		return false
	}
	excluded, err := netip.ParsePrefix(pool.CanonicalExcludedPrefix())
	if err != nil {
		return false
	}
	return delegated.Contains(excluded.Addr()) || excluded.Contains(delegated.Addr())
}
