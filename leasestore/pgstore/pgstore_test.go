package pgstore

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	dbops "isc.org/tern/database"
	dbtest "isc.org/tern/database/test"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/leasestore"
)

// Creates a store over a dedicated test database with the schema
// migrated to the latest version.
func setupStore(t *testing.T) (*Store, func()) {
	db, _, teardown := dbtest.SetupDatabaseTestCase(t)
	_, _, err := dbops.MigrateToLatest(db)
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)
	return store, teardown
}

// Creates an IPv4 lease with a hardware address and a client identifier.
func newTestLease4(t *testing.T, address string, subnetID dhcpmodel.SubnetID) *leasestore.Lease4 {
	hwaddr, err := dhcpmodel.NewEthernetHWAddr(net.HardwareAddr{0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f})
	require.NoError(t, err)
	return &leasestore.Lease4{
		Address:       netip.MustParseAddr(address),
		HWAddr:        hwaddr,
		ClientID:      dhcpmodel.ClientID{0x01, 0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f},
		ValidLifetime: 3600,
		CLTT:          time.Now().UTC().Unix(),
		SubnetID:      subnetID,
	}
}

// Creates an IPv6 address lease.
func newTestLease6(t *testing.T, address string, subnetID dhcpmodel.SubnetID) *leasestore.Lease6 {
	return &leasestore.Lease6{
		Address:           netip.MustParseAddr(address),
		PrefixLen:         128,
		Type:              dhcpmodel.LeaseTypeNA,
		DUID:              dhcpmodel.DUID{0x00, 0x03, 0x00, 0x01, 0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f},
		IAID:              7,
		ValidLifetime:     3600,
		PreferredLifetime: 1800,
		CLTT:              time.Now().UTC().Unix(),
		SubnetID:          subnetID,
	}
}

// Check that an added IPv4 lease can be fetched by address and by the
// client identifiers, and that a conflicting insert is rejected.
func TestAddGetLease4(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	lease := newTestLease4(t, "192.0.2.1", 123)
	lease.Hostname = "Printer.Example.ORG."
	lease.UserContext = map[string]any{"comment": "first floor"}
	inserted, err := store.AddLease4(ctx, lease)
	require.NoError(t, err)
	require.True(t, inserted)

	// A second lease for the same address must be rejected.
	conflicting := newTestLease4(t, "192.0.2.1", 123)
	inserted, err = store.AddLease4(ctx, conflicting)
	require.NoError(t, err)
	require.False(t, inserted)

	returned, err := store.GetLease4ByAddr(ctx, netip.MustParseAddr("192.0.2.1"))
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Equal(t, netip.MustParseAddr("192.0.2.1"), returned.Address)
	require.Equal(t, lease.HWAddr.String(), returned.HWAddr.String())
	require.Equal(t, lease.HWAddr.Type, returned.HWAddr.Type)
	require.Equal(t, lease.ClientID, returned.ClientID)
	require.EqualValues(t, 3600, returned.ValidLifetime)
	require.EqualValues(t, 123, returned.SubnetID)
	// The hostname is canonicalized at write time.
	require.Equal(t, "printer.example.org", returned.Hostname)
	require.Equal(t, map[string]any{"comment": "first floor"}, returned.UserContext)
	require.False(t, returned.ModificationTime.IsZero())

	byHW, err := store.GetLeases4ByHWAddr(ctx, lease.HWAddr)
	require.NoError(t, err)
	require.Len(t, byHW, 1)

	byHWSubnet, err := store.GetLease4ByHWAddrSubnet(ctx, lease.HWAddr, 123)
	require.NoError(t, err)
	require.NotNil(t, byHWSubnet)

	byHWSubnet, err = store.GetLease4ByHWAddrSubnet(ctx, lease.HWAddr, 124)
	require.NoError(t, err)
	require.Nil(t, byHWSubnet)

	byCID, err := store.GetLeases4ByClientID(ctx, lease.ClientID)
	require.NoError(t, err)
	require.Len(t, byCID, 1)

	byCIDSubnet, err := store.GetLease4ByClientIDSubnet(ctx, lease.ClientID, 123)
	require.NoError(t, err)
	require.NotNil(t, byCIDSubnet)

	bySubnet, err := store.GetLeases4BySubnet(ctx, 123)
	require.NoError(t, err)
	require.Len(t, bySubnet, 1)

	absent, err := store.GetLease4ByAddr(ctx, netip.MustParseAddr("192.0.2.2"))
	require.NoError(t, err)
	require.Nil(t, absent)
}

// Check that an expired-reclaimed lease is replaced by a new insert
// under the same address.
func TestAddLease4OverReclaimed(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	reclaimed := newTestLease4(t, "192.0.2.7", 123)
	reclaimed.State = dhcpmodel.LeaseStateExpiredReclaimed
	inserted, err := store.AddLease4(ctx, reclaimed)
	require.NoError(t, err)
	require.True(t, inserted)

	replacement := newTestLease4(t, "192.0.2.7", 124)
	inserted, err = store.AddLease4(ctx, replacement)
	require.NoError(t, err)
	require.True(t, inserted)

	returned, err := store.GetLease4ByAddr(ctx, netip.MustParseAddr("192.0.2.7"))
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.EqualValues(t, 124, returned.SubnetID)
	require.Equal(t, dhcpmodel.LeaseStateDefault, returned.State)
}

// Check that an address lease and a delegated prefix lease rooted at
// the same address occupy distinct rows, while two delegated prefix
// leases for the same prefix conflict.
func TestLease6AddressAndPrefixKeys(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	prefix := newTestLease6(t, "2001:db8::", 5)
	prefix.Type = dhcpmodel.LeaseTypePD
	prefix.PrefixLen = 56
	inserted, err := store.AddLease6(ctx, prefix)
	require.NoError(t, err)
	require.True(t, inserted)

	address := newTestLease6(t, "2001:db8::", 5)
	inserted, err = store.AddLease6(ctx, address)
	require.NoError(t, err)
	require.True(t, inserted)

	conflicting := newTestLease6(t, "2001:db8::", 5)
	conflicting.Type = dhcpmodel.LeaseTypePD
	conflicting.PrefixLen = 64
	inserted, err = store.AddLease6(ctx, conflicting)
	require.NoError(t, err)
	require.False(t, inserted)

	returned, err := store.GetLease6ByAddr(ctx, netip.MustParseAddr("2001:db8::"), dhcpmodel.LeaseTypePD)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.EqualValues(t, 56, returned.PrefixLen)

	byDUID, err := store.GetLeases6ByDUID(ctx, prefix.DUID, prefix.IAID)
	require.NoError(t, err)
	require.Len(t, byDUID, 2)

	byDUIDSubnet, err := store.GetLeases6ByDUIDSubnet(ctx, prefix.DUID, prefix.IAID, 5)
	require.NoError(t, err)
	require.Len(t, byDUIDSubnet, 2)

	byDUIDSubnet, err = store.GetLeases6ByDUIDSubnet(ctx, prefix.DUID, prefix.IAID, 6)
	require.NoError(t, err)
	require.Empty(t, byDUIDSubnet)
}

// Check that updating a lease replaces its row and bumps the
// modification time, and that updating an absent lease fails.
func TestUpdateLease4(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	lease := newTestLease4(t, "192.0.2.3", 123)
	inserted, err := store.AddLease4(ctx, lease)
	require.NoError(t, err)
	require.True(t, inserted)

	added, err := store.GetLease4ByAddr(ctx, lease.Address)
	require.NoError(t, err)
	require.NotNil(t, added)

	updated := newTestLease4(t, "192.0.2.3", 123)
	updated.Hostname = "Workstation.Example.ORG."
	updated.ValidLifetime = 7200
	err = store.UpdateLease4(ctx, updated)
	require.NoError(t, err)

	returned, err := store.GetLease4ByAddr(ctx, lease.Address)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Equal(t, "workstation.example.org", returned.Hostname)
	require.EqualValues(t, 7200, returned.ValidLifetime)
	require.False(t, returned.ModificationTime.Before(added.ModificationTime))

	absent := newTestLease4(t, "192.0.2.4", 123)
	err = store.UpdateLease4(ctx, absent)
	require.ErrorIs(t, err, leasestore.ErrNoSuchLease)
}

// Check that updating an absent IPv6 lease fails with the dedicated
// error.
func TestUpdateLease6NotFound(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()

	lease := newTestLease6(t, "2001:db8::5", 5)
	err := store.UpdateLease6(context.Background(), lease)
	require.ErrorIs(t, err, leasestore.ErrNoSuchLease)
}

// Check that deleting a lease removes its row and that deleting an
// absent lease is not an error.
func TestDeleteLease4(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	lease := newTestLease4(t, "192.0.2.9", 123)
	inserted, err := store.AddLease4(ctx, lease)
	require.NoError(t, err)
	require.True(t, inserted)

	removed, err := store.DeleteLease4(ctx, lease.Address)
	require.NoError(t, err)
	require.True(t, removed)

	returned, err := store.GetLease4ByAddr(ctx, lease.Address)
	require.NoError(t, err)
	require.Nil(t, returned)

	removed, err = store.DeleteLease4(ctx, lease.Address)
	require.NoError(t, err)
	require.False(t, removed)
}

// Check that the IPv6 delete distinguishes the lease types sharing an
// address.
func TestDeleteLease6(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	prefix := newTestLease6(t, "2001:db8:1::", 5)
	prefix.Type = dhcpmodel.LeaseTypePD
	prefix.PrefixLen = 64
	inserted, err := store.AddLease6(ctx, prefix)
	require.NoError(t, err)
	require.True(t, inserted)

	address := newTestLease6(t, "2001:db8:1::", 5)
	inserted, err = store.AddLease6(ctx, address)
	require.NoError(t, err)
	require.True(t, inserted)

	removed, err := store.DeleteLease6(ctx, prefix.Address, dhcpmodel.LeaseTypePD)
	require.NoError(t, err)
	require.True(t, removed)

	returned, err := store.GetLease6ByAddr(ctx, address.Address, dhcpmodel.LeaseTypeNA)
	require.NoError(t, err)
	require.NotNil(t, returned)
}

// Check that the expired leases are returned oldest first and that the
// count limit and the reclaimed state filter are honored.
func TestGetExpiredLeases4(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()
	now := time.Now().UTC().Unix()

	older := newTestLease4(t, "192.0.2.10", 123)
	older.CLTT = now - 1000
	older.ValidLifetime = 500
	newer := newTestLease4(t, "192.0.2.11", 123)
	newer.CLTT = now - 1000
	newer.ValidLifetime = 800
	active := newTestLease4(t, "192.0.2.12", 123)
	active.CLTT = now - 1000
	active.ValidLifetime = 4000
	reclaimed := newTestLease4(t, "192.0.2.13", 123)
	reclaimed.CLTT = now - 1000
	reclaimed.ValidLifetime = 500
	reclaimed.State = dhcpmodel.LeaseStateExpiredReclaimed

	for _, lease := range []*leasestore.Lease4{older, newer, active, reclaimed} {
		inserted, err := store.AddLease4(ctx, lease)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	expired, err := store.GetExpiredLeases4(ctx, 0)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	require.Equal(t, older.Address, expired[0].Address)
	require.Equal(t, newer.Address, expired[1].Address)

	expired, err = store.GetExpiredLeases4(ctx, 1)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, older.Address, expired[0].Address)
}

// Check that only the expired-reclaimed leases older than the given age
// are garbage collected.
func TestDeleteExpiredReclaimedLeases6(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()
	now := time.Now().UTC().Unix()

	old := newTestLease6(t, "2001:db8::10", 5)
	old.CLTT = now - 4000
	old.ValidLifetime = 100
	old.State = dhcpmodel.LeaseStateExpiredReclaimed
	recent := newTestLease6(t, "2001:db8::11", 5)
	recent.CLTT = now - 200
	recent.ValidLifetime = 100
	recent.State = dhcpmodel.LeaseStateExpiredReclaimed
	active := newTestLease6(t, "2001:db8::12", 5)
	active.CLTT = now
	active.ValidLifetime = 3600

	for _, lease := range []*leasestore.Lease6{old, recent, active} {
		inserted, err := store.AddLease6(ctx, lease)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	count, err := store.DeleteExpiredReclaimedLeases6(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	returned, err := store.GetLease6ByAddr(ctx, old.Address, dhcpmodel.LeaseTypeNA)
	require.NoError(t, err)
	require.Nil(t, returned)

	returned, err = store.GetLease6ByAddr(ctx, recent.Address, dhcpmodel.LeaseTypeNA)
	require.NoError(t, err)
	require.NotNil(t, returned)
}

// Check that the modified-since query returns only the leases written
// strictly after the given time.
func TestGetModifiedLeases4(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	first := newTestLease4(t, "192.0.2.20", 123)
	inserted, err := store.AddLease4(ctx, first)
	require.NoError(t, err)
	require.True(t, inserted)

	returnedFirst, err := store.GetLease4ByAddr(ctx, first.Address)
	require.NoError(t, err)
	require.NotNil(t, returnedFirst)

	time.Sleep(20 * time.Millisecond)

	second := newTestLease4(t, "192.0.2.21", 123)
	inserted, err = store.AddLease4(ctx, second)
	require.NoError(t, err)
	require.True(t, inserted)

	modified, err := store.GetModifiedLeases4(ctx, returnedFirst.ModificationTime)
	require.NoError(t, err)
	require.Len(t, modified, 1)
	require.Equal(t, second.Address, modified[0].Address)

	modified, err = store.GetModifiedLeases4(ctx, returnedFirst.ModificationTime.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, modified, 2)
	require.Equal(t, first.Address, modified[0].Address)
	require.Equal(t, second.Address, modified[1].Address)
}

// Check that a failed transaction rolls all its writes back and a
// successful one commits them.
func TestRunInTransaction(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(manager leasestore.Manager) error {
		inserted, err := manager.AddLease4(ctx, newTestLease4(t, "192.0.2.30", 123))
		require.NoError(t, err)
		require.True(t, inserted)
		return pkgerrors.New("canceling the transaction")
	})
	require.ErrorContains(t, err, "canceling the transaction")

	returned, err := store.GetLease4ByAddr(ctx, netip.MustParseAddr("192.0.2.30"))
	require.NoError(t, err)
	require.Nil(t, returned)

	err = store.RunInTransaction(ctx, func(manager leasestore.Manager) error {
		inserted, err := manager.AddLease4(ctx, newTestLease4(t, "192.0.2.31", 123))
		require.NoError(t, err)
		require.True(t, inserted)

		// A nested call joins the ongoing transaction.
		runner, ok := manager.(leasestore.TransactionRunner)
		require.True(t, ok)
		return runner.RunInTransaction(ctx, func(nested leasestore.Manager) error {
			inserted, err := nested.AddLease4(ctx, newTestLease4(t, "192.0.2.32", 123))
			require.NoError(t, err)
			require.True(t, inserted)
			return nil
		})
	})
	require.NoError(t, err)

	returned, err = store.GetLease4ByAddr(ctx, netip.MustParseAddr("192.0.2.31"))
	require.NoError(t, err)
	require.NotNil(t, returned)
	returned, err = store.GetLease4ByAddr(ctx, netip.MustParseAddr("192.0.2.32"))
	require.NoError(t, err)
	require.NotNil(t, returned)
}

// Check that the store refuses to open over a schema older than the one
// expected by the code.
func TestSchemaVersionGuard(t *testing.T) {
	db, _, teardown := dbtest.SetupDatabaseTestCase(t)
	defer teardown()

	_, _, err := dbops.MigrateToLatest(db)
	require.NoError(t, err)

	_, _, err = dbops.Migrate(db, "down", strconv.FormatInt(dbops.AvailableVersion()-1, 10))
	require.NoError(t, err)

	_, err = NewStore(db)
	require.ErrorIs(t, err, leasestore.ErrIncompatibleSchema)
}

// Check the backend identification surface.
func TestStoreIdentification(t *testing.T) {
	store, teardown := setupStore(t)
	defer teardown()

	require.Equal(t, "postgresql", store.Name())
	require.Equal(t, leasestore.KindRelational, store.Kind())
	require.Contains(t, store.Description(), "PostgreSQL lease store")

	version, err := store.Version(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, dbops.AvailableVersion(), version.Major)
}
