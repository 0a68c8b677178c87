package dhcpcfg

import (
	"net/netip"
	"time"

	"github.com/pkg/errors"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	ternutil "isc.org/tern/util"
)

// Names of the address allocators selectable per subnet.
const (
	AllocatorIterative = "iterative"
	AllocatorRandom    = "random"
	AllocatorHashed    = "hashed"
)

// Default number of the candidate addresses an allocator probes before
// giving up on a subnet.
const DefaultAllocationRetries = 50

// Checks if the allocator name is one of the supported allocators. The
// empty name selects the default allocator.
func ValidAllocator(name string) bool {
	switch name {
	case "", AllocatorIterative, AllocatorRandom, AllocatorHashed:
		return true
	}
	return false
}

// An IPv4 subnet with its pools, options and reservations.
type Subnet4 struct {
	// Subnet identifier, assigned by the administrator and unique
	// within the configuration.
	ID dhcpmodel.SubnetID `json:"id"`
	// Subnet prefix, e.g. 192.0.2.0/24.
	Prefix string `json:"subnet"`
	// Name of the shared network the subnet belongs to, empty for a
	// standalone subnet.
	SharedNetworkName string `json:"-"`
	// Name of the interface the subnet is served on.
	Interface string `json:"interface,omitempty"`
	// Client class limiting the subnet to a class of clients.
	ClientClass string `json:"client-class,omitempty"`
	// Addresses of the relay agents the subnet is selected by.
	Relay []string `json:"relay,omitempty"`
	// Renew timer (T1) in seconds.
	RenewTimer *int64 `json:"renew-timer,omitempty"`
	// Rebind timer (T2) in seconds.
	RebindTimer *int64 `json:"rebind-timer,omitempty"`
	// Valid lifetime of the leases allocated from the subnet.
	ValidLifetime *int64 `json:"valid-lifetime,omitempty"`
	// Name of the address allocator used for the subnet; empty selects
	// the iterative allocator.
	Allocator string `json:"allocator,omitempty"`
	// Number of the candidate addresses probed before the allocation
	// fails; nil selects the default.
	AllocationRetries *int64 `json:"allocation-retries,omitempty"`
	// Address pools.
	Pools []AddressPool `json:"pools,omitempty"`
	// Options attached at the subnet scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Host reservations.
	Reservations []Host `json:"reservations,omitempty"`
	// Free form annotations.
	UserContext map[string]any `json:"user-context,omitempty"`
	// Tags of the servers the subnet applies to, filled by the
	// configuration backends on read.
	ServerTags []string `json:"-"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`
}

// Returns the parsed subnet prefix.
func (subnet *Subnet4) ParsedPrefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(subnet.Prefix)
	if err != nil || !prefix.Addr().Is4() {
		return netip.Prefix{}, errors.Errorf("invalid IPv4 subnet prefix %s", subnet.Prefix)
	}
	return prefix.Masked(), nil
}

// Returns the effective number of the allocation retries.
func (subnet *Subnet4) EffectiveAllocationRetries() int64 {
	if subnet.AllocationRetries == nil || *subnet.AllocationRetries <= 0 {
		return DefaultAllocationRetries
	}
	return *subnet.AllocationRetries
}

// Finds the first address pool containing the address. Returns nil
// when the address belongs to no pool.
func (subnet *Subnet4) PoolContaining(addr netip.Addr) *AddressPool {
	for i := range subnet.Pools {
		r, err := subnet.Pools[i].Range()
		if err == nil && r.Contains(addr) {
			return &subnet.Pools[i]
		}
	}
	return nil
}

// Finds the reservation for the client identified by the hardware
// address or client identifier. Returns nil when the client has none.
func (subnet *Subnet4) ReservationFor(hwAddr *dhcpmodel.HWAddr, clientID dhcpmodel.ClientID) *Host {
	for i := range subnet.Reservations {
		if subnet.Reservations[i].Matches4(hwAddr, clientID) {
			return &subnet.Reservations[i]
		}
	}
	return nil
}

// Finds the reservation holding the address. Returns nil when the
// address is reserved for nobody.
func (subnet *Subnet4) ReservationOf(addr netip.Addr) *Host {
	for i := range subnet.Reservations {
		if subnet.Reservations[i].IPAddress == addr.String() {
			return &subnet.Reservations[i]
		}
	}
	return nil
}

// Validates the subnet: the identifier and prefix must be valid, the
// pools must fit in the prefix and be pairwise disjoint, and the
// reservations must be valid and reserve addresses within the prefix.
func (subnet *Subnet4) Validate() error {
	if subnet.ID == 0 {
		return errors.Errorf("subnet %s has no identifier", subnet.Prefix)
	}
	prefix, err := subnet.ParsedPrefix()
	if err != nil {
		return err
	}
	if !ValidAllocator(subnet.Allocator) {
		return errors.Errorf("subnet %s uses unsupported allocator %s", subnet.Prefix, subnet.Allocator)
	}
	ranges := make([]ternutil.AddrRange, 0, len(subnet.Pools))
	for i := range subnet.Pools {
		if err := subnet.Pools[i].Validate(ternutil.IPv4); err != nil {
			return errors.WithMessagef(err, "invalid pool in subnet %s", subnet.Prefix)
		}
		r, err := subnet.Pools[i].Range()
		if err != nil {
			return err
		}
		if !prefix.Contains(r.Lower) || !prefix.Contains(r.Upper) {
			return errors.Errorf("pool %s is not contained in the subnet %s", subnet.Pools[i].Pool, subnet.Prefix)
		}
		for _, other := range ranges {
			if r.Contains(other.Lower) || other.Contains(r.Lower) {
				return errors.Errorf("pool %s overlaps with another pool in the subnet %s",
					subnet.Pools[i].Pool, subnet.Prefix)
			}
		}
		ranges = append(ranges, r)
	}
	for i := range subnet.Options {
		if err := subnet.Options[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid option in subnet %s", subnet.Prefix)
		}
	}
	for i := range subnet.Reservations {
		if err := subnet.Reservations[i].Validate(ternutil.IPv4); err != nil {
			return errors.WithMessagef(err, "invalid reservation in subnet %s", subnet.Prefix)
		}
		addr, err := subnet.Reservations[i].ParsedIPAddress()
		if err == nil && addr.IsValid() && !prefix.Contains(addr) {
			return errors.Errorf("reserved address %s is not contained in the subnet %s",
				addr, subnet.Prefix)
		}
	}
	return nil
}

// An IPv6 subnet with its pools, prefix pools, options and
// reservations.
type Subnet6 struct {
	// Subnet identifier, assigned by the administrator and unique
	// within the configuration.
	ID dhcpmodel.SubnetID `json:"id"`
	// Subnet prefix, e.g. 2001:db8:1::/64.
	Prefix string `json:"subnet"`
	// Name of the shared network the subnet belongs to, empty for a
	// standalone subnet.
	SharedNetworkName string `json:"-"`
	// Name of the interface the subnet is served on.
	Interface string `json:"interface,omitempty"`
	// Client class limiting the subnet to a class of clients.
	ClientClass string `json:"client-class,omitempty"`
	// Addresses of the relay agents the subnet is selected by.
	Relay []string `json:"relay,omitempty"`
	// Renew timer (T1) in seconds.
	RenewTimer *int64 `json:"renew-timer,omitempty"`
	// Rebind timer (T2) in seconds.
	RebindTimer *int64 `json:"rebind-timer,omitempty"`
	// Preferred lifetime of the leases allocated from the subnet.
	PreferredLifetime *int64 `json:"preferred-lifetime,omitempty"`
	// Valid lifetime of the leases allocated from the subnet.
	ValidLifetime *int64 `json:"valid-lifetime,omitempty"`
	// Rapid commit support.
	RapidCommit *bool `json:"rapid-commit,omitempty"`
	// Name of the address allocator used for the subnet; empty selects
	// the iterative allocator.
	Allocator string `json:"allocator,omitempty"`
	// Name of the prefix allocator used for the subnet; empty selects
	// the iterative allocator.
	PDAllocator string `json:"pd-allocator,omitempty"`
	// Number of the candidate addresses probed before the allocation
	// fails; nil selects the default.
	AllocationRetries *int64 `json:"allocation-retries,omitempty"`
	// Address pools.
	Pools []AddressPool `json:"pools,omitempty"`
	// Prefix delegation pools.
	PDPools []PrefixPool `json:"pd-pools,omitempty"`
	// Options attached at the subnet scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Host reservations.
	Reservations []Host `json:"reservations,omitempty"`
	// Free form annotations.
	UserContext map[string]any `json:"user-context,omitempty"`
	// Tags of the servers the subnet applies to, filled by the
	// configuration backends on read.
	ServerTags []string `json:"-"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`
}

// Returns the parsed subnet prefix.
func (subnet *Subnet6) ParsedPrefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(subnet.Prefix)
	if err != nil || prefix.Addr().Is4() {
		return netip.Prefix{}, errors.Errorf("invalid IPv6 subnet prefix %s", subnet.Prefix)
	}
	return prefix.Masked(), nil
}

// Returns the effective number of the allocation retries.
func (subnet *Subnet6) EffectiveAllocationRetries() int64 {
	if subnet.AllocationRetries == nil || *subnet.AllocationRetries <= 0 {
		return DefaultAllocationRetries
	}
	return *subnet.AllocationRetries
}

// Finds the first address pool containing the address. Returns nil
// when the address belongs to no pool.
func (subnet *Subnet6) PoolContaining(addr netip.Addr) *AddressPool {
	for i := range subnet.Pools {
		r, err := subnet.Pools[i].Range()
		if err == nil && r.Contains(addr) {
			return &subnet.Pools[i]
		}
	}
	return nil
}

// Finds the first prefix pool the delegated prefix belongs to. Returns
// nil when the prefix belongs to no pool.
func (subnet *Subnet6) PDPoolContaining(delegated netip.Prefix) *PrefixPool {
	for i := range subnet.PDPools {
		if _, ok := subnet.PDPools[i].Offset(delegated); ok {
			return &subnet.PDPools[i]
		}
	}
	return nil
}

// Finds the reservation for the client identified by the DUID or
// hardware address. Returns nil when the client has none.
func (subnet *Subnet6) ReservationFor(duid dhcpmodel.DUID, hwAddr *dhcpmodel.HWAddr) *Host {
	for i := range subnet.Reservations {
		if subnet.Reservations[i].Matches6(duid, hwAddr) {
			return &subnet.Reservations[i]
		}
	}
	return nil
}

// Finds the reservation holding the address or delegated prefix.
// Returns nil when it is reserved for nobody.
func (subnet *Subnet6) ReservationOf(addr netip.Addr, prefixLen int) *Host {
	for i := range subnet.Reservations {
		host := &subnet.Reservations[i]
		if prefixLen == 0 || prefixLen == 128 {
			for _, reserved := range host.IPAddresses {
				if reserved == addr.String() {
					return host
				}
			}
			continue
		}
		notation := ternutil.FormatCIDRNotation(addr.String(), prefixLen)
		for _, reserved := range host.Prefixes {
			if reserved == notation {
				return host
			}
		}
	}
	return nil
}

// Validates the subnet, its pools, prefix pools, options and
// reservations.
func (subnet *Subnet6) Validate() error {
	if subnet.ID == 0 {
		return errors.Errorf("subnet %s has no identifier", subnet.Prefix)
	}
	prefix, err := subnet.ParsedPrefix()
	if err != nil {
		return err
	}
	if !ValidAllocator(subnet.Allocator) {
		return errors.Errorf("subnet %s uses unsupported allocator %s", subnet.Prefix, subnet.Allocator)
	}
	if !ValidAllocator(subnet.PDAllocator) {
		return errors.Errorf("subnet %s uses unsupported prefix allocator %s", subnet.Prefix, subnet.PDAllocator)
	}
	ranges := make([]ternutil.AddrRange, 0, len(subnet.Pools))
	for i := range subnet.Pools {
		if err := subnet.Pools[i].Validate(ternutil.IPv6); err != nil {
			return errors.WithMessagef(err, "invalid pool in subnet %s", subnet.Prefix)
		}
		r, err := subnet.Pools[i].Range()
		if err != nil {
			return err
		}
		if !prefix.Contains(r.Lower) || !prefix.Contains(r.Upper) {
			return errors.Errorf("pool %s is not contained in the subnet %s", subnet.Pools[i].Pool, subnet.Prefix)
		}
		for _, other := range ranges {
			if r.Contains(other.Lower) || other.Contains(r.Lower) {
				return errors.Errorf("pool %s overlaps with another pool in the subnet %s",
					subnet.Pools[i].Pool, subnet.Prefix)
			}
		}
		ranges = append(ranges, r)
	}
	prefixes := make([]netip.Prefix, 0, len(subnet.PDPools))
	for i := range subnet.PDPools {
		if err := subnet.PDPools[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid prefix pool in subnet %s", subnet.Prefix)
		}
		poolPrefix, err := subnet.PDPools[i].ParsedPrefix()
		if err != nil {
			return err
		}
		for _, other := range prefixes {
			if poolPrefix.Contains(other.Addr()) || other.Contains(poolPrefix.Addr()) {
				return errors.Errorf("prefix pool %s overlaps with another prefix pool in the subnet %s",
					subnet.PDPools[i].Prefix, subnet.Prefix)
			}
		}
		prefixes = append(prefixes, poolPrefix)
	}
	for i := range subnet.Options {
		if err := subnet.Options[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid option in subnet %s", subnet.Prefix)
		}
	}
	for i := range subnet.Reservations {
		if err := subnet.Reservations[i].Validate(ternutil.IPv6); err != nil {
			return errors.WithMessagef(err, "invalid reservation in subnet %s", subnet.Prefix)
		}
		addrs, err := subnet.Reservations[i].ParsedIPAddresses()
		if err != nil {
			return err
		}
		for _, addr := range addrs {
			if !prefix.Contains(addr) {
				return errors.Errorf("reserved address %s is not contained in the subnet %s",
					addr, subnet.Prefix)
			}
		}
	}
	return nil
}
