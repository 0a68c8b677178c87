package alloc

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/leasestore"
)

// Seeds an IPv4 lease that stopped being valid age ago.
func seedExpiredLease4(t *testing.T, et *engineTest, addr string, age time.Duration) *leasestore.Lease4 {
	lease := &leasestore.Lease4{
		Address:       netip.MustParseAddr(addr),
		ValidLifetime: 3600,
		CLTT:          time.Now().UTC().Add(-age - 3600*time.Second).Unix(),
		SubnetID:      1,
	}
	added, err := et.store.AddLease4(context.Background(), lease)
	require.NoError(t, err)
	require.True(t, added)
	return lease
}

func seedExpiredLease6(t *testing.T, et *engineTest, addr string, prefixLen uint8, leaseType dhcpmodel.LeaseType) *leasestore.Lease6 {
	lease := &leasestore.Lease6{
		Address:       netip.MustParseAddr(addr),
		PrefixLen:     prefixLen,
		Type:          leaseType,
		DUID:          dhcpmodel.DUID{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		IAID:          1,
		ValidLifetime: 3600,
		CLTT:          time.Now().UTC().Add(-2 * time.Hour).Unix(),
		SubnetID:      1,
	}
	added, err := et.store.AddLease6(context.Background(), lease)
	require.NoError(t, err)
	require.True(t, added)
	return lease
}

// One reclamation cycle moves the expired leases of both families to
// the reclaimed state, leaving the active leases and the lifetimes of
// the reclaimed rows untouched.
func TestReclaimExpiredLeases(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), newTestConfig6())
	ctx := context.Background()

	expired := seedExpiredLease4(t, et, "192.0.2.2", time.Hour)
	declined := seedExpiredLease4(t, et, "192.0.2.3", time.Hour)
	declined.State = dhcpmodel.LeaseStateDeclined
	require.NoError(t, et.store.UpdateLease4(ctx, declined))

	active := &leasestore.Lease4{
		Address:       netip.MustParseAddr("192.0.2.4"),
		ValidLifetime: 3600,
		CLTT:          time.Now().UTC().Unix(),
		SubnetID:      1,
	}
	added, err := et.store.AddLease4(ctx, active)
	require.NoError(t, err)
	require.True(t, added)

	seedExpiredLease6(t, et, "2001:db8:1::10", 128, dhcpmodel.LeaseTypeNA)
	seedExpiredLease6(t, et, "2001:db8:8::", 64, dhcpmodel.LeaseTypePD)

	reclaimer := NewReclaimer(et.engine, ReclaimConfig{})
	require.NoError(t, reclaimer.Reclaim(ctx))

	reclaimed, err := et.store.GetLease4ByAddr(ctx, expired.Address)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, dhcpmodel.LeaseStateExpiredReclaimed, reclaimed.State)
	// Only the state changes, the record keeps its history.
	require.EqualValues(t, 3600, reclaimed.ValidLifetime)
	require.Equal(t, expired.CLTT, reclaimed.CLTT)

	reclaimed, err = et.store.GetLease4ByAddr(ctx, declined.Address)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, dhcpmodel.LeaseStateExpiredReclaimed, reclaimed.State)

	untouched, err := et.store.GetLease4ByAddr(ctx, active.Address)
	require.NoError(t, err)
	require.NotNil(t, untouched)
	require.Equal(t, dhcpmodel.LeaseStateDefault, untouched.State)

	for _, leaseType := range []dhcpmodel.LeaseType{dhcpmodel.LeaseTypeNA, dhcpmodel.LeaseTypePD} {
		addr := netip.MustParseAddr("2001:db8:1::10")
		if leaseType == dhcpmodel.LeaseTypePD {
			addr = netip.MustParseAddr("2001:db8:8::")
		}
		lease6, err := et.store.GetLease6ByAddr(ctx, addr, leaseType)
		require.NoError(t, err)
		require.NotNil(t, lease6)
		require.Equal(t, dhcpmodel.LeaseStateExpiredReclaimed, lease6.State)
	}

	require.Equal(t, 4.0, testutil.ToFloat64(et.sink.Engine.ReclaimedLeases))

	// The reclaimed address serves the next client right away.
	request := newTestRequest4(t, 1)
	request.RequestedAddr = expired.Address
	lease, err := et.engine.Allocate4(ctx, request)
	require.NoError(t, err)
	require.Equal(t, expired.Address, lease.Address)
}

// Reclaimed leases past the purge age are removed from the store in
// the same cycle, the fresher ones stay.
func TestReclaimPurge(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	old := seedExpiredLease4(t, et, "192.0.2.2", 2*time.Hour)

	fresh := &leasestore.Lease4{
		Address:  netip.MustParseAddr("192.0.2.3"),
		CLTT:     time.Now().UTC().Unix(),
		SubnetID: 1,
		State:    dhcpmodel.LeaseStateExpiredReclaimed,
	}
	added, err := et.store.AddLease4(ctx, fresh)
	require.NoError(t, err)
	require.True(t, added)

	reclaimer := NewReclaimer(et.engine, ReclaimConfig{PurgeAge: time.Hour})
	require.NoError(t, reclaimer.Reclaim(ctx))

	purged, err := et.store.GetLease4ByAddr(ctx, old.Address)
	require.NoError(t, err)
	require.Nil(t, purged)

	kept, err := et.store.GetLease4ByAddr(ctx, fresh.Address)
	require.NoError(t, err)
	require.NotNil(t, kept)
}

// The batch limit caps one cycle, the oldest leases go first and the
// next cycle picks up the rest.
func TestReclaimBatchLimit(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	oldest := seedExpiredLease4(t, et, "192.0.2.2", 3*time.Hour)
	older := seedExpiredLease4(t, et, "192.0.2.3", 2*time.Hour)
	newest := seedExpiredLease4(t, et, "192.0.2.4", time.Hour)

	reclaimer := NewReclaimer(et.engine, ReclaimConfig{BatchLimit: 2})
	require.NoError(t, reclaimer.Reclaim(ctx))

	for _, addr := range []netip.Addr{oldest.Address, older.Address} {
		lease, err := et.store.GetLease4ByAddr(ctx, addr)
		require.NoError(t, err)
		require.NotNil(t, lease)
		require.Equal(t, dhcpmodel.LeaseStateExpiredReclaimed, lease.State, "address %s", addr)
	}
	behind, err := et.store.GetLease4ByAddr(ctx, newest.Address)
	require.NoError(t, err)
	require.NotNil(t, behind)
	require.Equal(t, dhcpmodel.LeaseStateDefault, behind.State)

	require.NoError(t, reclaimer.Reclaim(ctx))
	behind, err = et.store.GetLease4ByAddr(ctx, newest.Address)
	require.NoError(t, err)
	require.NotNil(t, behind)
	require.Equal(t, dhcpmodel.LeaseStateExpiredReclaimed, behind.State)
	require.Equal(t, 3.0, testutil.ToFloat64(et.sink.Engine.ReclaimedLeases))
}

// The reclaimer runs the cycles on its own once started.
func TestReclaimPeriodicRun(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)

	seedExpiredLease4(t, et, "192.0.2.2", time.Hour)

	reclaimer := NewReclaimer(et.engine, ReclaimConfig{Interval: 1})
	require.NoError(t, reclaimer.Run())
	defer reclaimer.Shutdown()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(et.sink.Engine.ReclaimedLeases) >= 1
	}, 5*time.Second, 100*time.Millisecond)

	counter := testutil.ToFloat64(et.sink.Engine.ReclaimedLeases)

	// A paused reclaimer leaves the next expired lease alone.
	reclaimer.Pause()
	seedExpiredLease4(t, et, "192.0.2.3", time.Hour)
	require.Never(t, func() bool {
		return testutil.ToFloat64(et.sink.Engine.ReclaimedLeases) > counter
	}, 1500*time.Millisecond, 100*time.Millisecond)

	reclaimer.Unpause()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(et.sink.Engine.ReclaimedLeases) > counter
	}, 5*time.Second, 100*time.Millisecond)
}
