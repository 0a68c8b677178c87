// Package leasestore defines the lease data model and the uniform
// contract implemented by the lease store backends. Leases are plain
// records with direct field access because they travel on the packet
// processing hot path.
package leasestore

import (
	"net/netip"
	"time"

	"github.com/pkg/errors"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
)

// An IPv4 lease.
type Lease4 struct {
	// Leased address, the primary key.
	Address netip.Addr
	// Hardware address of the client, may be nil.
	HWAddr *dhcpmodel.HWAddr
	// Client identifier, may be nil.
	ClientID dhcpmodel.ClientID
	// Valid lifetime in seconds. Zero means the lease was released.
	ValidLifetime uint32
	// Renewal and rebind timers in seconds.
	T1 uint32
	T2 uint32
	// Client last transmission time as epoch seconds. Lifetimes are
	// measured from this instant.
	CLTT int64
	// Identifier of the subnet the lease belongs to.
	SubnetID dhcpmodel.SubnetID
	// Identifier of the pool the address was drawn from.
	PoolID uint32
	// True when the lease is bound to a host reservation.
	Fixed bool
	// Lease hostname, canonicalized at write time, may be empty.
	Hostname string
	// DNS update state.
	FqdnFwd bool
	FqdnRev bool
	// Lease state.
	State dhcpmodel.LeaseState
	// Free-form structured value attached by the clients or hooks.
	UserContext map[string]any
	// Last modification time of the lease record, maintained by the
	// stores.
	ModificationTime time.Time
}

// An IPv6 lease covering an address or a delegated prefix. A delegated
// prefix lease is keyed by its prefix and carries a prefix length lower
// than 128.
type Lease6 struct {
	// Leased address or delegated prefix, the first primary key part.
	Address netip.Addr
	// Prefix length; 128 for addresses, <128 for delegated prefixes.
	PrefixLen uint8
	// Lease type, the second primary key part.
	Type dhcpmodel.LeaseType
	// Client DHCP unique identifier, required.
	DUID dhcpmodel.DUID
	// Identity association identifier the lease was allocated under.
	IAID dhcpmodel.IAID
	// Hardware address of the client, may be nil.
	HWAddr *dhcpmodel.HWAddr
	// Preferred lifetime in seconds.
	PreferredLifetime uint32
	// Valid lifetime in seconds. Zero means the lease was released.
	ValidLifetime uint32
	// Renewal and rebind timers in seconds.
	T1 uint32
	T2 uint32
	// Client last transmission time as epoch seconds.
	CLTT int64
	// Identifier of the subnet the lease belongs to.
	SubnetID dhcpmodel.SubnetID
	// Identifier of the pool the address or prefix was drawn from.
	PoolID uint32
	// True when the lease is bound to a host reservation.
	Fixed bool
	// Lease hostname, canonicalized at write time, may be empty.
	Hostname string
	// DNS update state.
	FqdnFwd bool
	FqdnRev bool
	// Lease state.
	State dhcpmodel.LeaseState
	// Free-form structured value attached by the clients or hooks.
	UserContext map[string]any
	// Last modification time of the lease record, maintained by the
	// stores.
	ModificationTime time.Time
}

// Primary key of an IPv6 lease. An address lease and a delegated prefix
// lease rooted at the same address have distinct keys.
type Lease6Key struct {
	Address netip.Addr
	Type    dhcpmodel.LeaseType
}

// Returns the primary key of the lease.
func (lease *Lease6) Key() Lease6Key {
	return Lease6Key{Address: lease.Address, Type: lease.Type}
}

// Returns the expiration time of the lease.
func (lease *Lease4) ExpirationTime() time.Time {
	return time.Unix(lease.CLTT+int64(lease.ValidLifetime), 0).UTC()
}

// Checks if the lease is expired at the given time.
func (lease *Lease4) Expired(now time.Time) bool {
	return lease.ExpirationTime().Before(now)
}

// Returns the expiration time of the lease.
func (lease *Lease6) ExpirationTime() time.Time {
	return time.Unix(lease.CLTT+int64(lease.ValidLifetime), 0).UTC()
}

// Checks if the lease is expired at the given time.
func (lease *Lease6) Expired(now time.Time) bool {
	return lease.ExpirationTime().Before(now)
}

// Validates the lease before it is written to a store.
func (lease *Lease4) Validate() error {
	if !lease.Address.IsValid() || !lease.Address.Unmap().Is4() {
		return errors.Errorf("lease address %s is not an IPv4 address", lease.Address)
	}
	if lease.SubnetID == 0 {
		return errors.Errorf("lease %s has no subnet id", lease.Address)
	}
	return validateTimers(lease.T1, lease.T2, lease.ValidLifetime, lease.Address.String())
}

// Validates the lease before it is written to a store.
func (lease *Lease6) Validate() error {
	if !lease.Address.IsValid() || lease.Address.Unmap().Is4() {
		return errors.Errorf("lease address %s is not an IPv6 address", lease.Address)
	}
	if len(lease.DUID) == 0 {
		return errors.Errorf("lease %s has no DUID", lease.Address)
	}
	if lease.SubnetID == 0 {
		return errors.Errorf("lease %s has no subnet id", lease.Address)
	}
	switch lease.Type {
	case dhcpmodel.LeaseTypePD:
		if lease.PrefixLen >= 128 {
			return errors.Errorf("delegated prefix lease %s must have a prefix length lower than 128", lease.Address)
		}
	case dhcpmodel.LeaseTypeNA, dhcpmodel.LeaseTypeTA:
		if lease.PrefixLen != 128 {
			return errors.Errorf("address lease %s must have the prefix length of 128", lease.Address)
		}
	default:
		return errors.Errorf("lease %s has invalid type %d", lease.Address, lease.Type)
	}
	return validateTimers(lease.T1, lease.T2, lease.ValidLifetime, lease.Address.String())
}

// Checks the T1 <= T2 <= valid lifetime rule. The rule applies only when
// any of the timers is set.
func validateTimers(t1, t2, valid uint32, address string) error {
	if t1 == 0 && t2 == 0 {
		return nil
	}
	if t2 != 0 && t1 > t2 {
		return errors.Errorf("lease %s has the renew timer %d greater than the rebind timer %d", address, t1, t2)
	}
	if t2 > valid {
		return errors.Errorf("lease %s has the rebind timer %d greater than the valid lifetime %d", address, t2, valid)
	}
	if t2 == 0 && t1 > valid {
		return errors.Errorf("lease %s has the renew timer %d greater than the valid lifetime %d", address, t1, valid)
	}
	return nil
}
