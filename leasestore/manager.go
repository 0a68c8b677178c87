package leasestore

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
)

// Kind of a lease store backend, naming its capability variant.
type Kind string

// Supported backend kinds.
const (
	KindInMemory   Kind = "in-memory"
	KindRelational Kind = "relational"
	KindWideColumn Kind = "wide-column"
)

// Schema version of a backend, as the major and minor pair. Backends
// refuse to open when the on-disk major differs from the major expected
// by the code; minor differences are tolerated.
type Version struct {
	Major uint32
	Minor uint32
}

// Returns the version in the major.minor notation.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// The uniform contract of a lease store backend. Lookups returning a
// single lease return nil without an error when no lease matches.
// Lookups returning collections return them ordered as documented per
// operation. All operations may block on I/O and honor the context.
//
// Backends serialize conflicting writes on the same primary key: a
// reader observes either the pre-image or the post-image of a write,
// never a torn value.
type Manager interface {
	// Inserts a new lease. It returns false when a lease conflicting on
	// the primary key already exists in a state other than
	// expired-reclaimed. An existing expired-reclaimed lease is replaced.
	AddLease4(ctx context.Context, lease *Lease4) (bool, error)
	// Returns the lease by address.
	GetLease4ByAddr(ctx context.Context, addr netip.Addr) (*Lease4, error)
	// Returns the leases held by the hardware address across subnets.
	// There is at most one lease per subnet.
	GetLeases4ByHWAddr(ctx context.Context, hwaddr *dhcpmodel.HWAddr) ([]Lease4, error)
	// Returns the lease held by the hardware address in the subnet.
	GetLease4ByHWAddrSubnet(ctx context.Context, hwaddr *dhcpmodel.HWAddr, subnetID dhcpmodel.SubnetID) (*Lease4, error)
	// Returns the leases held by the client identifier across subnets.
	GetLeases4ByClientID(ctx context.Context, clientID dhcpmodel.ClientID) ([]Lease4, error)
	// Returns the lease held by the client identifier in the subnet.
	GetLease4ByClientIDSubnet(ctx context.Context, clientID dhcpmodel.ClientID, subnetID dhcpmodel.SubnetID) (*Lease4, error)
	// Returns all leases in the subnet, ordered by address.
	GetLeases4BySubnet(ctx context.Context, subnetID dhcpmodel.SubnetID) ([]Lease4, error)
	// Returns up to maxCount expired, not yet reclaimed leases, ordered
	// by ascending expiration time so the oldest are reclaimed first.
	// Zero maxCount means no limit.
	GetExpiredLeases4(ctx context.Context, maxCount int64) ([]Lease4, error)
	// Returns the leases modified strictly after the given time, ordered
	// by the modification time.
	GetModifiedLeases4(ctx context.Context, since time.Time) ([]Lease4, error)
	// Updates an existing lease. It fails with ErrNoSuchLease when the
	// primary key matches no row.
	UpdateLease4(ctx context.Context, lease *Lease4) error
	// Deletes the lease by address. It returns whether a row was removed;
	// deleting an absent lease is not an error.
	DeleteLease4(ctx context.Context, addr netip.Addr) (bool, error)
	// Deletes the expired-reclaimed leases that expired more than the
	// given duration ago. It returns the number of removed rows.
	DeleteExpiredReclaimedLeases4(ctx context.Context, age time.Duration) (int64, error)

	// Inserts a new lease. The primary key is the (address, type) tuple,
	// so an address lease and a delegated prefix lease rooted at the
	// same address do not conflict.
	AddLease6(ctx context.Context, lease *Lease6) (bool, error)
	// Returns the lease by address and lease type.
	GetLease6ByAddr(ctx context.Context, addr netip.Addr, leaseType dhcpmodel.LeaseType) (*Lease6, error)
	// Returns the leases held by the DUID and IAID across subnets.
	GetLeases6ByDUID(ctx context.Context, duid dhcpmodel.DUID, iaid dhcpmodel.IAID) ([]Lease6, error)
	// Returns the leases held by the DUID and IAID in the subnet.
	GetLeases6ByDUIDSubnet(ctx context.Context, duid dhcpmodel.DUID, iaid dhcpmodel.IAID, subnetID dhcpmodel.SubnetID) ([]Lease6, error)
	// Returns all leases in the subnet, ordered by address.
	GetLeases6BySubnet(ctx context.Context, subnetID dhcpmodel.SubnetID) ([]Lease6, error)
	// Returns up to maxCount expired, not yet reclaimed leases, ordered
	// by ascending expiration time. Zero maxCount means no limit.
	GetExpiredLeases6(ctx context.Context, maxCount int64) ([]Lease6, error)
	// Returns the leases modified strictly after the given time, ordered
	// by the modification time.
	GetModifiedLeases6(ctx context.Context, since time.Time) ([]Lease6, error)
	// Updates an existing lease. It fails with ErrNoSuchLease when the
	// primary key matches no row.
	UpdateLease6(ctx context.Context, lease *Lease6) error
	// Deletes the lease by address and type. It returns whether a row
	// was removed; deleting an absent lease is not an error.
	DeleteLease6(ctx context.Context, addr netip.Addr, leaseType dhcpmodel.LeaseType) (bool, error)
	// Deletes the expired-reclaimed leases that expired more than the
	// given duration ago. It returns the number of removed rows.
	DeleteExpiredReclaimedLeases6(ctx context.Context, age time.Duration) (int64, error)

	// Returns the backend name, e.g. "memfile" or "postgresql".
	Name() string
	// Returns a one-line description of the backend instance.
	Description() string
	// Returns the backend schema version.
	Version(ctx context.Context) (Version, error)
	// Returns the capability variant of the backend.
	Kind() Kind
	// Releases the backend resources. The manager must not be used
	// after closing.
	Close()
}

// An optional capability of the backends supporting transactions.
// The callback receives a manager running all its operations within
// one transaction; returning an error rolls the transaction back.
type TransactionRunner interface {
	RunInTransaction(ctx context.Context, fn func(manager Manager) error) error
}
