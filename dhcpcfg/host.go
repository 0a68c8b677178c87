package dhcpcfg

import (
	"net/netip"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	ternutil "isc.org/tern/util"
)

// A host reservation within a subnet. The reservation binds a client
// identifier to an address, delegated prefixes or a hostname. The
// identifiers are specified as hexadecimal strings, optionally with
// colon separators.
type Host struct {
	// Hardware address of the reserved client, e.g. "01:02:03:04:05:06".
	HWAddress string `json:"hw-address,omitempty"`
	// Client identifier of the reserved client.
	ClientID string `json:"client-id,omitempty"`
	// DUID of the reserved client.
	DUID string `json:"duid,omitempty"`
	// Reserved IPv4 address.
	IPAddress string `json:"ip-address,omitempty"`
	// Reserved IPv6 addresses.
	IPAddresses []string `json:"ip-addresses,omitempty"`
	// Reserved delegated prefixes.
	Prefixes []string `json:"prefixes,omitempty"`
	// Reserved hostname.
	Hostname string `json:"hostname,omitempty"`
}

// Returns the parsed hardware address or nil when the reservation has
// none.
func (host Host) ParsedHWAddress() (*dhcpmodel.HWAddr, error) {
	if host.HWAddress == "" {
		return nil, nil
	}
	raw := ternutil.HexToBytes(host.HWAddress)
	if raw == nil {
		return nil, errors.Errorf("invalid hardware address %s", host.HWAddress)
	}
	return dhcpmodel.NewEthernetHWAddr(raw)
}

// Returns the parsed client identifier or nil when the reservation has
// none.
func (host Host) ParsedClientID() (dhcpmodel.ClientID, error) {
	if host.ClientID == "" {
		return nil, nil
	}
	raw := ternutil.HexToBytes(host.ClientID)
	if raw == nil {
		return nil, errors.Errorf("invalid client identifier %s", host.ClientID)
	}
	return dhcpmodel.NewClientID(raw)
}

// Returns the parsed DUID or nil when the reservation has none.
func (host Host) ParsedDUID() (dhcpmodel.DUID, error) {
	if host.DUID == "" {
		return nil, nil
	}
	raw := ternutil.HexToBytes(host.DUID)
	if raw == nil {
		return nil, errors.Errorf("invalid DUID %s", host.DUID)
	}
	return dhcpmodel.NewDUID(raw)
}

// Returns the reserved IPv4 address; the zero value when the
// reservation has none.
func (host Host) ParsedIPAddress() (netip.Addr, error) {
	if host.IPAddress == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(host.IPAddress)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, errors.Errorf("invalid reserved address %s", host.IPAddress)
	}
	return addr, nil
}

// Returns the reserved IPv6 addresses.
func (host Host) ParsedIPAddresses() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(host.IPAddresses))
	for _, text := range host.IPAddresses {
		addr, err := netip.ParseAddr(text)
		if err != nil || addr.Is4() {
			return nil, errors.Errorf("invalid reserved address %s", text)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Returns the reserved delegated prefixes.
func (host Host) ParsedPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(host.Prefixes))
	for _, text := range host.Prefixes {
		prefix, err := netip.ParsePrefix(text)
		if err != nil || prefix.Addr().Is4() {
			return nil, errors.Errorf("invalid reserved prefix %s", text)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

// Validates the reservation for the given family. A reservation must
// carry at least one client identifier appropriate for the family and
// its identifiers, addresses and hostname must parse.
func (host Host) Validate(family ternutil.IPType) error {
	switch family {
	case ternutil.IPv4:
		if host.HWAddress == "" && host.ClientID == "" {
			return errors.New("reservation has neither a hardware address nor a client identifier")
		}
		if host.DUID != "" || len(host.IPAddresses) > 0 || len(host.Prefixes) > 0 {
			return errors.New("reservation uses IPv6 properties in an IPv4 subnet")
		}
	case ternutil.IPv6:
		if host.DUID == "" && host.HWAddress == "" {
			return errors.New("reservation has neither a DUID nor a hardware address")
		}
		if host.ClientID != "" || host.IPAddress != "" {
			return errors.New("reservation uses IPv4 properties in an IPv6 subnet")
		}
	}
	if _, err := host.ParsedHWAddress(); err != nil {
		return err
	}
	if _, err := host.ParsedClientID(); err != nil {
		return err
	}
	if _, err := host.ParsedDUID(); err != nil {
		return err
	}
	if _, err := host.ParsedIPAddress(); err != nil {
		return err
	}
	if _, err := host.ParsedIPAddresses(); err != nil {
		return err
	}
	if _, err := host.ParsedPrefixes(); err != nil {
		return err
	}
	if host.Hostname != "" && !govalidator.IsDNSName(host.Hostname) {
		return errors.Errorf("invalid reserved hostname %s", host.Hostname)
	}
	return nil
}

// Checks if the reservation belongs to the IPv4 client identified by
// the hardware address or client identifier. The client identifier
// takes precedence, matching the identifier evaluation order during
// allocation.
func (host Host) Matches4(hwAddr *dhcpmodel.HWAddr, clientID dhcpmodel.ClientID) bool {
	if clientID != nil && host.ClientID != "" {
		parsed, err := host.ParsedClientID()
		if err == nil && parsed.Equal(clientID) {
			return true
		}
	}
	if hwAddr != nil && host.HWAddress != "" {
		parsed, err := host.ParsedHWAddress()
		if err == nil && parsed != nil && parsed.Equal(hwAddr) {
			return true
		}
	}
	return false
}

// Checks if the reservation belongs to the IPv6 client identified by
// the DUID or, as a fallback, the hardware address.
func (host Host) Matches6(duid dhcpmodel.DUID, hwAddr *dhcpmodel.HWAddr) bool {
	if duid != nil && host.DUID != "" {
		parsed, err := host.ParsedDUID()
		if err == nil && parsed.Equal(duid) {
			return true
		}
	}
	if hwAddr != nil && host.HWAddress != "" {
		parsed, err := host.ParsedHWAddress()
		if err == nil && parsed != nil && parsed.Equal(hwAddr) {
			return true
		}
	}
	return false
}
