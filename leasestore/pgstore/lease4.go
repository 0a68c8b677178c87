package pgstore

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/insomniacslk/dhcp/iana"
	pkgerrors "github.com/pkg/errors"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/leasestore"
	ternutil "isc.org/tern/util"
)

// Row of the lease4 table.
type lease4Record struct {
	tableName struct{} `pg:"lease4,alias:lease4"` //nolint:unused

	Address        net.IP `pg:",pk"`
	HWAddr         []byte `pg:"hwaddr"`
	HWType         int    `pg:"hwtype,use_zero"`
	ClientID       []byte
	ValidLifetime  int64 `pg:",use_zero"`
	CLTT           int64 `pg:",use_zero"`
	Expire         time.Time
	RenewTimer     int64  `pg:",use_zero"`
	RebindTimer    int64  `pg:",use_zero"`
	SubnetID       int64  `pg:",use_zero"`
	PoolID         int64  `pg:",use_zero"`
	FqdnFwd        bool   `pg:",use_zero"`
	FqdnRev        bool   `pg:",use_zero"`
	Hostname       string `pg:",use_zero"`
	State          int    `pg:",use_zero"`
	UserContext    map[string]any
	ModificationTS time.Time
}

// Converts an address to the form stored in the INET columns.
func pgAddr(addr netip.Addr) net.IP {
	return net.IP(addr.Unmap().AsSlice())
}

// Converts an INET column value back to an address.
func recordAddr(ip net.IP) netip.Addr {
	addr, _ := netip.AddrFromSlice(ip)
	return addr.Unmap()
}

// Converts a lease to its table row. The expiration column is derived
// from the client last transmission time and the valid lifetime.
func newLease4Record(lease *leasestore.Lease4, modificationTime time.Time) *lease4Record {
	record := &lease4Record{
		Address:        pgAddr(lease.Address),
		ClientID:       lease.ClientID,
		ValidLifetime:  int64(lease.ValidLifetime),
		CLTT:           lease.CLTT,
		Expire:         lease.ExpirationTime(),
		RenewTimer:     int64(lease.T1),
		RebindTimer:    int64(lease.T2),
		SubnetID:       int64(lease.SubnetID),
		PoolID:         int64(lease.PoolID),
		FqdnFwd:        lease.FqdnFwd,
		FqdnRev:        lease.FqdnRev,
		Hostname:       lease.Hostname,
		State:          int(lease.State),
		UserContext:    lease.UserContext,
		ModificationTS: modificationTime,
	}
	if lease.HWAddr != nil {
		record.HWAddr = lease.HWAddr.Address
		record.HWType = int(lease.HWAddr.Type)
	}
	return record
}

// Converts a table row to a lease.
func (record *lease4Record) toLease() *leasestore.Lease4 {
	lease := &leasestore.Lease4{
		Address:          recordAddr(record.Address),
		ClientID:         record.ClientID,
		ValidLifetime:    uint32(record.ValidLifetime),
		T1:               uint32(record.RenewTimer),
		T2:               uint32(record.RebindTimer),
		CLTT:             record.CLTT,
		SubnetID:         dhcpmodel.SubnetID(record.SubnetID),
		PoolID:           uint32(record.PoolID),
		Hostname:         record.Hostname,
		FqdnFwd:          record.FqdnFwd,
		FqdnRev:          record.FqdnRev,
		State:            dhcpmodel.LeaseState(record.State),
		UserContext:      record.UserContext,
		ModificationTime: record.ModificationTS.UTC(),
	}
	if len(record.HWAddr) > 0 {
		lease.HWAddr = &dhcpmodel.HWAddr{
			Type:    iana.HWType(record.HWType),
			Address: net.HardwareAddr(record.HWAddr),
		}
	}
	return lease
}

// Validates and canonicalizes a lease before it is stored.
func prepareLease4(lease *leasestore.Lease4) error {
	if err := lease.Validate(); err != nil {
		return err
	}
	lease.Address = lease.Address.Unmap()
	lease.Hostname = dhcpmodel.CanonicalHostname(lease.Hostname)
	return nil
}

// Inserts a new IPv4 lease. An existing expired-reclaimed lease under
// the same address is replaced by the new one, any other conflicting
// lease makes the insert return false.
func (store *Store) AddLease4(ctx context.Context, lease *leasestore.Lease4) (bool, error) {
	if err := prepareLease4(lease); err != nil {
		return false, err
	}
	record := newLease4Record(lease, ternutil.UTCNow())
	result, err := store.db.ModelContext(ctx, record).
		OnConflict("(address) DO UPDATE").
		Set("hwaddr = EXCLUDED.hwaddr").
		Set("hwtype = EXCLUDED.hwtype").
		Set("client_id = EXCLUDED.client_id").
		Set("valid_lifetime = EXCLUDED.valid_lifetime").
		Set("cltt = EXCLUDED.cltt").
		Set("expire = EXCLUDED.expire").
		Set("renew_timer = EXCLUDED.renew_timer").
		Set("rebind_timer = EXCLUDED.rebind_timer").
		Set("subnet_id = EXCLUDED.subnet_id").
		Set("pool_id = EXCLUDED.pool_id").
		Set("fqdn_fwd = EXCLUDED.fqdn_fwd").
		Set("fqdn_rev = EXCLUDED.fqdn_rev").
		Set("hostname = EXCLUDED.hostname").
		Set("state = EXCLUDED.state").
		Set("user_context = EXCLUDED.user_context").
		Set("modification_ts = EXCLUDED.modification_ts").
		Where("lease4.state = ?", dhcpmodel.LeaseStateExpiredReclaimed).
		Insert()
	if err != nil {
		return false, pkgerrors.Wrapf(err, "problem inserting the lease %s", lease.Address)
	}
	return result.RowsAffected() > 0, nil
}

// Returns the IPv4 lease by address.
func (store *Store) GetLease4ByAddr(ctx context.Context, addr netip.Addr) (*leasestore.Lease4, error) {
	record := &lease4Record{}
	err := store.db.ModelContext(ctx, record).
		Where("address = ?", pgAddr(addr)).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the lease %s", addr)
	}
	return record.toLease(), nil
}

// Returns the IPv4 leases held by the hardware address across subnets,
// ordered by address.
func (store *Store) GetLeases4ByHWAddr(ctx context.Context, hwaddr *dhcpmodel.HWAddr) ([]leasestore.Lease4, error) {
	if hwaddr == nil {
		return nil, nil
	}
	var records []lease4Record
	err := store.db.ModelContext(ctx, &records).
		Where("hwaddr = ?", []byte(hwaddr.Address)).
		Order("address ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the leases by the hardware address %s", hwaddr)
	}
	return convertLease4Records(records), nil
}

// Returns the IPv4 lease held by the hardware address in the subnet.
func (store *Store) GetLease4ByHWAddrSubnet(ctx context.Context, hwaddr *dhcpmodel.HWAddr, subnetID dhcpmodel.SubnetID) (*leasestore.Lease4, error) {
	if hwaddr == nil {
		return nil, nil
	}
	record := &lease4Record{}
	err := store.db.ModelContext(ctx, record).
		Where("hwaddr = ?", []byte(hwaddr.Address)).
		Where("subnet_id = ?", int64(subnetID)).
		Order("address ASC").
		Limit(1).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the lease by the hardware address %s in subnet %d", hwaddr, subnetID)
	}
	return record.toLease(), nil
}

// Returns the IPv4 leases held by the client identifier across subnets,
// ordered by address.
func (store *Store) GetLeases4ByClientID(ctx context.Context, clientID dhcpmodel.ClientID) ([]leasestore.Lease4, error) {
	var records []lease4Record
	err := store.db.ModelContext(ctx, &records).
		Where("client_id = ?", []byte(clientID)).
		Order("address ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the leases by the client identifier %s", clientID)
	}
	return convertLease4Records(records), nil
}

// Returns the IPv4 lease held by the client identifier in the subnet.
func (store *Store) GetLease4ByClientIDSubnet(ctx context.Context, clientID dhcpmodel.ClientID, subnetID dhcpmodel.SubnetID) (*leasestore.Lease4, error) {
	record := &lease4Record{}
	err := store.db.ModelContext(ctx, record).
		Where("client_id = ?", []byte(clientID)).
		Where("subnet_id = ?", int64(subnetID)).
		Order("address ASC").
		Limit(1).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the lease by the client identifier %s in subnet %d", clientID, subnetID)
	}
	return record.toLease(), nil
}

// Returns all IPv4 leases in the subnet, ordered by address.
func (store *Store) GetLeases4BySubnet(ctx context.Context, subnetID dhcpmodel.SubnetID) ([]leasestore.Lease4, error) {
	var records []lease4Record
	err := store.db.ModelContext(ctx, &records).
		Where("subnet_id = ?", int64(subnetID)).
		Order("address ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the leases in subnet %d", subnetID)
	}
	return convertLease4Records(records), nil
}

// Returns up to maxCount expired, not yet reclaimed IPv4 leases,
// ordered by ascending expiration time. Zero maxCount means no limit.
func (store *Store) GetExpiredLeases4(ctx context.Context, maxCount int64) ([]leasestore.Lease4, error) {
	var records []lease4Record
	q := store.db.ModelContext(ctx, &records).
		Where("state != ?", dhcpmodel.LeaseStateExpiredReclaimed).
		Where("expire < ?", ternutil.UTCNow()).
		Order("expire ASC")
	if maxCount > 0 {
		q = q.Limit(int(maxCount))
	}
	if err := q.Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the expired IPv4 leases")
	}
	return convertLease4Records(records), nil
}

// Returns the IPv4 leases modified strictly after the given time,
// ordered by the modification time.
func (store *Store) GetModifiedLeases4(ctx context.Context, since time.Time) ([]leasestore.Lease4, error) {
	var records []lease4Record
	err := store.db.ModelContext(ctx, &records).
		Where("modification_ts > ?", since).
		Order("modification_ts ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the IPv4 leases modified since %s", since)
	}
	return convertLease4Records(records), nil
}

// Updates an existing IPv4 lease.
func (store *Store) UpdateLease4(ctx context.Context, lease *leasestore.Lease4) error {
	if err := prepareLease4(lease); err != nil {
		return err
	}
	record := newLease4Record(lease, ternutil.UTCNow())
	result, err := store.db.ModelContext(ctx, record).
		WherePK().
		Update()
	if err != nil {
		return pkgerrors.Wrapf(err, "problem updating the lease %s", lease.Address)
	}
	if result.RowsAffected() == 0 {
		return pkgerrors.Wrapf(leasestore.ErrNoSuchLease, "no lease for the address %s", lease.Address)
	}
	return nil
}

// Deletes the IPv4 lease by address. It returns whether a row was
// removed; deleting an absent lease is not an error.
func (store *Store) DeleteLease4(ctx context.Context, addr netip.Addr) (bool, error) {
	result, err := store.db.ModelContext(ctx, (*lease4Record)(nil)).
		Where("address = ?", pgAddr(addr)).
		Delete()
	if err != nil {
		return false, pkgerrors.Wrapf(err, "problem deleting the lease %s", addr)
	}
	return result.RowsAffected() > 0, nil
}

// Deletes the expired-reclaimed IPv4 leases that expired more than the
// given duration ago. It returns the number of removed rows.
func (store *Store) DeleteExpiredReclaimedLeases4(ctx context.Context, age time.Duration) (int64, error) {
	horizon := ternutil.UTCNow().Add(-age)
	result, err := store.db.ModelContext(ctx, (*lease4Record)(nil)).
		Where("state = ?", dhcpmodel.LeaseStateExpiredReclaimed).
		Where("expire < ?", horizon).
		Delete()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "problem deleting the expired-reclaimed IPv4 leases")
	}
	return int64(result.RowsAffected()), nil
}

func convertLease4Records(records []lease4Record) []leasestore.Lease4 {
	var leases []leasestore.Lease4
	for i := range records {
		leases = append(leases, *records[i].toLease())
	}
	return leases
}
