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

// Row of the lease6 table. The primary key is the (address, lease_type)
// tuple, so an address lease and a delegated prefix lease rooted at the
// same address occupy distinct rows.
type lease6Record struct {
	tableName struct{} `pg:"lease6,alias:lease6"` //nolint:unused

	Address           net.IP `pg:",pk"`
	LeaseType         int    `pg:",pk,use_zero"`
	PrefixLen         int    `pg:",use_zero"`
	DUID              []byte
	IAID              int64  `pg:",use_zero"`
	HWAddr            []byte `pg:"hwaddr"`
	HWType            int    `pg:"hwtype,use_zero"`
	PreferredLifetime int64  `pg:",use_zero"`
	ValidLifetime     int64  `pg:",use_zero"`
	CLTT              int64  `pg:",use_zero"`
	Expire            time.Time
	RenewTimer        int64  `pg:",use_zero"`
	RebindTimer       int64  `pg:",use_zero"`
	SubnetID          int64  `pg:",use_zero"`
	PoolID            int64  `pg:",use_zero"`
	FqdnFwd           bool   `pg:",use_zero"`
	FqdnRev           bool   `pg:",use_zero"`
	Hostname          string `pg:",use_zero"`
	State             int    `pg:",use_zero"`
	UserContext       map[string]any
	ModificationTS    time.Time
}

// Converts a lease to its table row.
func newLease6Record(lease *leasestore.Lease6, modificationTime time.Time) *lease6Record {
	record := &lease6Record{
		Address:           pgAddr(lease.Address),
		LeaseType:         int(lease.Type),
		PrefixLen:         int(lease.PrefixLen),
		DUID:              lease.DUID,
		IAID:              int64(lease.IAID),
		PreferredLifetime: int64(lease.PreferredLifetime),
		ValidLifetime:     int64(lease.ValidLifetime),
		CLTT:              lease.CLTT,
		Expire:            lease.ExpirationTime(),
		RenewTimer:        int64(lease.T1),
		RebindTimer:       int64(lease.T2),
		SubnetID:          int64(lease.SubnetID),
		PoolID:            int64(lease.PoolID),
		FqdnFwd:           lease.FqdnFwd,
		FqdnRev:           lease.FqdnRev,
		Hostname:          lease.Hostname,
		State:             int(lease.State),
		UserContext:       lease.UserContext,
		ModificationTS:    modificationTime,
	}
	if lease.HWAddr != nil {
		record.HWAddr = lease.HWAddr.Address
		record.HWType = int(lease.HWAddr.Type)
	}
	return record
}

// Converts a table row to a lease.
func (record *lease6Record) toLease() *leasestore.Lease6 {
	lease := &leasestore.Lease6{
		Address:           recordAddr(record.Address),
		Type:              dhcpmodel.LeaseType(record.LeaseType),
		PrefixLen:         uint8(record.PrefixLen),
		DUID:              record.DUID,
		IAID:              dhcpmodel.IAID(record.IAID),
		PreferredLifetime: uint32(record.PreferredLifetime),
		ValidLifetime:     uint32(record.ValidLifetime),
		T1:                uint32(record.RenewTimer),
		T2:                uint32(record.RebindTimer),
		CLTT:              record.CLTT,
		SubnetID:          dhcpmodel.SubnetID(record.SubnetID),
		PoolID:            uint32(record.PoolID),
		Hostname:          record.Hostname,
		FqdnFwd:           record.FqdnFwd,
		FqdnRev:           record.FqdnRev,
		State:             dhcpmodel.LeaseState(record.State),
		UserContext:       record.UserContext,
		ModificationTime:  record.ModificationTS.UTC(),
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
func prepareLease6(lease *leasestore.Lease6) error {
	if err := lease.Validate(); err != nil {
		return err
	}
	lease.Address = lease.Address.Unmap()
	lease.Hostname = dhcpmodel.CanonicalHostname(lease.Hostname)
	return nil
}

// Inserts a new IPv6 lease. An existing expired-reclaimed lease under
// the same (address, type) key is replaced by the new one, any other
// conflicting lease makes the insert return false.
func (store *Store) AddLease6(ctx context.Context, lease *leasestore.Lease6) (bool, error) {
	if err := prepareLease6(lease); err != nil {
		return false, err
	}
	record := newLease6Record(lease, ternutil.UTCNow())
	result, err := store.db.ModelContext(ctx, record).
		OnConflict("(address, lease_type) DO UPDATE").
		Set("prefix_len = EXCLUDED.prefix_len").
		Set("duid = EXCLUDED.duid").
		Set("iaid = EXCLUDED.iaid").
		Set("hwaddr = EXCLUDED.hwaddr").
		Set("hwtype = EXCLUDED.hwtype").
		Set("preferred_lifetime = EXCLUDED.preferred_lifetime").
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
		Where("lease6.state = ?", dhcpmodel.LeaseStateExpiredReclaimed).
		Insert()
	if err != nil {
		return false, pkgerrors.Wrapf(err, "problem inserting the lease %s", lease.Address)
	}
	return result.RowsAffected() > 0, nil
}

// Returns the IPv6 lease by address and lease type.
func (store *Store) GetLease6ByAddr(ctx context.Context, addr netip.Addr, leaseType dhcpmodel.LeaseType) (*leasestore.Lease6, error) {
	record := &lease6Record{}
	err := store.db.ModelContext(ctx, record).
		Where("address = ?", pgAddr(addr)).
		Where("lease_type = ?", int(leaseType)).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the %s lease %s", leaseType, addr)
	}
	return record.toLease(), nil
}

// Returns the IPv6 leases held by the DUID and IAID across subnets,
// ordered by address.
func (store *Store) GetLeases6ByDUID(ctx context.Context, duid dhcpmodel.DUID, iaid dhcpmodel.IAID) ([]leasestore.Lease6, error) {
	var records []lease6Record
	err := store.db.ModelContext(ctx, &records).
		Where("duid = ?", []byte(duid)).
		Where("iaid = ?", int64(iaid)).
		Order("address ASC").
		Order("lease_type ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the leases by the DUID %s", duid)
	}
	return convertLease6Records(records), nil
}

// Returns the IPv6 leases held by the DUID and IAID in the subnet,
// ordered by address.
func (store *Store) GetLeases6ByDUIDSubnet(ctx context.Context, duid dhcpmodel.DUID, iaid dhcpmodel.IAID, subnetID dhcpmodel.SubnetID) ([]leasestore.Lease6, error) {
	var records []lease6Record
	err := store.db.ModelContext(ctx, &records).
		Where("duid = ?", []byte(duid)).
		Where("iaid = ?", int64(iaid)).
		Where("subnet_id = ?", int64(subnetID)).
		Order("address ASC").
		Order("lease_type ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the leases by the DUID %s in subnet %d", duid, subnetID)
	}
	return convertLease6Records(records), nil
}

// Returns all IPv6 leases in the subnet, ordered by address.
func (store *Store) GetLeases6BySubnet(ctx context.Context, subnetID dhcpmodel.SubnetID) ([]leasestore.Lease6, error) {
	var records []lease6Record
	err := store.db.ModelContext(ctx, &records).
		Where("subnet_id = ?", int64(subnetID)).
		Order("address ASC").
		Order("lease_type ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the leases in subnet %d", subnetID)
	}
	return convertLease6Records(records), nil
}

// Returns up to maxCount expired, not yet reclaimed IPv6 leases,
// ordered by ascending expiration time. Zero maxCount means no limit.
func (store *Store) GetExpiredLeases6(ctx context.Context, maxCount int64) ([]leasestore.Lease6, error) {
	var records []lease6Record
	q := store.db.ModelContext(ctx, &records).
		Where("state != ?", dhcpmodel.LeaseStateExpiredReclaimed).
		Where("expire < ?", ternutil.UTCNow()).
		Order("expire ASC")
	if maxCount > 0 {
		q = q.Limit(int(maxCount))
	}
	if err := q.Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the expired IPv6 leases")
	}
	return convertLease6Records(records), nil
}

// Returns the IPv6 leases modified strictly after the given time,
// ordered by the modification time.
func (store *Store) GetModifiedLeases6(ctx context.Context, since time.Time) ([]leasestore.Lease6, error) {
	var records []lease6Record
	err := store.db.ModelContext(ctx, &records).
		Where("modification_ts > ?", since).
		Order("modification_ts ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the IPv6 leases modified since %s", since)
	}
	return convertLease6Records(records), nil
}

// Updates an existing IPv6 lease.
func (store *Store) UpdateLease6(ctx context.Context, lease *leasestore.Lease6) error {
	if err := prepareLease6(lease); err != nil {
		return err
	}
	record := newLease6Record(lease, ternutil.UTCNow())
	result, err := store.db.ModelContext(ctx, record).
		WherePK().
		Update()
	if err != nil {
		return pkgerrors.Wrapf(err, "problem updating the lease %s", lease.Address)
	}
	if result.RowsAffected() == 0 {
		return pkgerrors.Wrapf(leasestore.ErrNoSuchLease, "no %s lease for the address %s", lease.Type, lease.Address)
	}
	return nil
}

// Deletes the IPv6 lease by address and type. It returns whether a row
// was removed; deleting an absent lease is not an error.
func (store *Store) DeleteLease6(ctx context.Context, addr netip.Addr, leaseType dhcpmodel.LeaseType) (bool, error) {
	result, err := store.db.ModelContext(ctx, (*lease6Record)(nil)).
		Where("address = ?", pgAddr(addr)).
		Where("lease_type = ?", int(leaseType)).
		Delete()
	if err != nil {
		return false, pkgerrors.Wrapf(err, "problem deleting the %s lease %s", leaseType, addr)
	}
	return result.RowsAffected() > 0, nil
}

// Deletes the expired-reclaimed IPv6 leases that expired more than the
// given duration ago. It returns the number of removed rows.
func (store *Store) DeleteExpiredReclaimedLeases6(ctx context.Context, age time.Duration) (int64, error) {
	horizon := ternutil.UTCNow().Add(-age)
	result, err := store.db.ModelContext(ctx, (*lease6Record)(nil)).
		Where("state = ?", dhcpmodel.LeaseStateExpiredReclaimed).
		Where("expire < ?", horizon).
		Delete()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "problem deleting the expired-reclaimed IPv6 leases")
	}
	return int64(result.RowsAffected()), nil
}

func convertLease6Records(records []lease6Record) []leasestore.Lease6 {
	var leases []leasestore.Lease6
	for i := range records {
		leases = append(leases, *records[i].toLease())
	}
	return leases
}
