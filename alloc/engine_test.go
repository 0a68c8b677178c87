package alloc

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
	"isc.org/tern/dhcpsrv"
	"isc.org/tern/leasestore"
	"isc.org/tern/leasestore/memfile"
	"isc.org/tern/metrics"
	ternutil "isc.org/tern/util"
)

// An engine over a volatile memfile store with all collaborators.
type engineTest struct {
	store  *memfile.Store
	holder *dhcpsrv.SnapshotHolder
	sink   *metrics.Metrics
	engine *Engine
}

func newEngineTest(t *testing.T, cfg4 *dhcpcfg.Config4, cfg6 *dhcpcfg.Config6) *engineTest {
	store, err := memfile.NewStore(memfile.Config{})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	if cfg4 == nil {
		cfg4 = &dhcpcfg.Config4{}
	}
	if cfg6 == nil {
		cfg6 = &dhcpcfg.Config6{}
	}
	holder := dhcpsrv.NewSnapshotHolder()
	holder.Commit(&dhcpsrv.Snapshot{Config4: cfg4, Config6: cfg6})

	sink := metrics.New()
	return &engineTest{
		store:  store,
		holder: holder,
		sink:   sink,
		engine: NewEngine(store, holder, ternutil.MultiThreadingConfig{Enabled: true}, OperationRetry{}, sink.Engine),
	}
}

// Publishes a fresh snapshot, which also resets the engine's occupancy
// maps the way a reconfiguration does.
func (et *engineTest) commit(cfg4 *dhcpcfg.Config4, cfg6 *dhcpcfg.Config6) {
	if cfg4 == nil {
		cfg4 = et.holder.Acquire().Config4
	}
	if cfg6 == nil {
		cfg6 = et.holder.Acquire().Config6
	}
	et.holder.Commit(&dhcpsrv.Snapshot{Config4: cfg4, Config6: cfg6})
}

func (et *engineTest) activeLeases(family string) float64 {
	return testutil.ToFloat64(et.sink.Engine.ActiveLeases.WithLabelValues(family))
}

// A /29 subnet with a five address pool.
func newTestConfig4() *dhcpcfg.Config4 {
	return &dhcpcfg.Config4{
		Subnets: []dhcpcfg.Subnet4{{
			ID:     1,
			Prefix: "192.0.2.0/29",
			Pools:  []dhcpcfg.AddressPool{{Pool: "192.0.2.2 - 192.0.2.6"}},
		}},
	}
}

// A /64 subnet with a four address pool and a /48 prefix pool
// delegating /64s.
func newTestConfig6() *dhcpcfg.Config6 {
	return &dhcpcfg.Config6{
		Subnets: []dhcpcfg.Subnet6{{
			ID:     1,
			Prefix: "2001:db8:1::/64",
			Pools:  []dhcpcfg.AddressPool{{Pool: "2001:db8:1::10 - 2001:db8:1::13"}},
			PDPools: []dhcpcfg.PrefixPool{{
				Prefix:       "2001:db8:8::",
				PrefixLen:    48,
				DelegatedLen: 64,
			}},
		}},
	}
}

// An IPv4 request identified by a hardware address derived from the
// octet.
func newTestRequest4(t *testing.T, octet byte) *Request4 {
	hwaddr, err := dhcpmodel.NewEthernetHWAddr(net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, octet})
	require.NoError(t, err)
	return &Request4{
		HWAddr:   hwaddr,
		SubnetID: 1,
	}
}

// An IPv6 address request identified by a DUID derived from the octet.
func newTestRequest6(octet byte) *Request6 {
	return &Request6{
		DUID:      dhcpmodel.DUID{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, octet},
		IAID:      1,
		LeaseType: dhcpmodel.LeaseTypeNA,
		SubnetID:  1,
	}
}

// Five clients drain the five address pool, every client gets a
// distinct address with the default lifetimes, and the sixth client is
// refused.
func TestAllocate4PoolExhaustion(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	pool, err := ternutil.NewAddrRange(netip.MustParseAddr("192.0.2.2"), netip.MustParseAddr("192.0.2.6"))
	require.NoError(t, err)

	granted := make(map[netip.Addr]bool)
	for octet := byte(1); octet <= 5; octet++ {
		lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, octet))
		require.NoError(t, err)
		require.NotNil(t, lease)
		require.True(t, pool.Contains(lease.Address), "address %s", lease.Address)
		require.False(t, granted[lease.Address], "address %s granted twice", lease.Address)
		granted[lease.Address] = true

		require.Equal(t, dhcpmodel.LeaseStateDefault, lease.State)
		require.EqualValues(t, 1, lease.SubnetID)
		require.EqualValues(t, 7200, lease.ValidLifetime)
		require.EqualValues(t, 3600, lease.T1)
		require.EqualValues(t, 6300, lease.T2)
		require.False(t, lease.Fixed)
		require.NotZero(t, lease.CLTT)
	}

	lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, 6))
	require.ErrorIs(t, err, ErrNoAddressAvailable)
	require.Nil(t, lease)

	require.Equal(t, 5.0, testutil.ToFloat64(et.sink.Engine.Allocations.WithLabelValues(metrics.Family4, metrics.OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(et.sink.Engine.Allocations.WithLabelValues(metrics.Family4, metrics.OutcomeExhausted)))
	require.Equal(t, 5.0, et.activeLeases(metrics.Family4))
}

// A repeated request from the same client extends the existing lease
// instead of burning another address.
func TestAllocate4RenewsExistingLease(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	first, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	second, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)

	require.Equal(t, first.Address, second.Address)
	require.Equal(t, 1.0, et.activeLeases(metrics.Family4))
}

// The requested address is granted when it is free and lies in an
// active pool; a requested address outside the pools is ignored.
func TestAllocate4RequestedAddress(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	request := newTestRequest4(t, 1)
	request.RequestedAddr = netip.MustParseAddr("192.0.2.5")
	lease, err := et.engine.Allocate4(ctx, request)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.5"), lease.Address)

	outside := newTestRequest4(t, 2)
	outside.RequestedAddr = netip.MustParseAddr("192.0.2.1")
	lease, err = et.engine.Allocate4(ctx, outside)
	require.NoError(t, err)
	require.NotEqual(t, netip.MustParseAddr("192.0.2.1"), lease.Address)
}

// A reserved client gets its reservation even when the address lies
// outside the pools, with the reserved hostname on the lease.
func TestAllocate4Reservation(t *testing.T) {
	cfg := newTestConfig4()
	cfg.Subnets[0].Reservations = []dhcpcfg.Host{{
		HWAddress: "02:00:00:00:00:01",
		IPAddress: "192.0.2.1",
		Hostname:  "printer",
	}}
	et := newEngineTest(t, cfg, nil)
	ctx := context.Background()

	lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.1"), lease.Address)
	require.True(t, lease.Fixed)
	require.Equal(t, "printer", lease.Hostname)

	// Another client never sees the reservation.
	other, err := et.engine.Allocate4(ctx, newTestRequest4(t, 2))
	require.NoError(t, err)
	require.NotEqual(t, lease.Address, other.Address)
}

// The picker never grants an address reserved for another client.
func TestAllocate4SkipsReservedAddresses(t *testing.T) {
	cfg := newTestConfig4()
	cfg.Subnets[0].Reservations = []dhcpcfg.Host{{
		HWAddress: "02:00:00:00:00:63",
		IPAddress: "192.0.2.2",
	}}
	et := newEngineTest(t, cfg, nil)
	ctx := context.Background()

	lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.3"), lease.Address)
}

// A reservation added for an address another client already holds: the
// reserved client falls back to the free pools and the caller learns
// about the conflict from the error.
func TestAllocate4ReservedInUse(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	squatter, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.2"), squatter.Address)

	// The administrator reserves the taken address for another client.
	cfg := newTestConfig4()
	cfg.Subnets[0].Reservations = []dhcpcfg.Host{{
		HWAddress: "02:00:00:00:00:02",
		IPAddress: "192.0.2.2",
	}}
	et.commit(cfg, nil)

	lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, 2))
	require.ErrorIs(t, err, ErrReservedInUse)
	require.NotNil(t, lease)
	require.NotEqual(t, squatter.Address, lease.Address)
	require.False(t, lease.Fixed)
}

// A pool guarded by a client class serves only the clients of the
// class; the others overflow to the open pool.
func TestAllocate4ClientClasses(t *testing.T) {
	cfg := &dhcpcfg.Config4{
		Subnets: []dhcpcfg.Subnet4{{
			ID:     1,
			Prefix: "192.0.2.0/29",
			Pools: []dhcpcfg.AddressPool{
				{Pool: "192.0.2.2 - 192.0.2.3", ClientClass: "gold"},
				{Pool: "192.0.2.4 - 192.0.2.6"},
			},
		}},
	}
	et := newEngineTest(t, cfg, nil)
	ctx := context.Background()

	classless, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.4"), classless.Address)

	gold := newTestRequest4(t, 2)
	gold.Classes = []string{"gold"}
	lease, err := et.engine.Allocate4(ctx, gold)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.2"), lease.Address)
}

// A subnet guarded by a client class is invisible to the clients
// outside the class.
func TestAllocate4SubnetClassGuard(t *testing.T) {
	cfg := newTestConfig4()
	cfg.Subnets[0].ClientClass = "iot"
	et := newEngineTest(t, cfg, nil)
	ctx := context.Background()

	_, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.ErrorIs(t, err, ErrNoAddressAvailable)

	request := newTestRequest4(t, 1)
	request.Classes = []string{"iot"}
	lease, err := et.engine.Allocate4(ctx, request)
	require.NoError(t, err)
	require.NotNil(t, lease)
}

// When the selected subnet is exhausted the allocation overflows to
// the other members of its shared network.
func TestAllocate4SharedNetworkOverflow(t *testing.T) {
	cfg := &dhcpcfg.Config4{
		SharedNetworks: []dhcpcfg.SharedNetwork4{{
			Name: "frontend",
			Subnets: []dhcpcfg.Subnet4{
				{ID: 1, Prefix: "192.0.2.0/29", Pools: []dhcpcfg.AddressPool{{Pool: "192.0.2.2 - 192.0.2.2"}}},
				{ID: 2, Prefix: "192.0.3.0/29", Pools: []dhcpcfg.AddressPool{{Pool: "192.0.3.2 - 192.0.3.3"}}},
			},
		}},
	}
	cfg.Normalize()
	et := newEngineTest(t, cfg, nil)
	ctx := context.Background()

	first, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.2"), first.Address)
	require.EqualValues(t, 1, first.SubnetID)

	second, err := et.engine.Allocate4(ctx, newTestRequest4(t, 2))
	require.NoError(t, err)
	require.EqualValues(t, 2, second.SubnetID)
	require.Equal(t, netip.MustParseAddr("192.0.3.2"), second.Address)
}

// The request can select the candidate subnets by the shared network
// name instead of a subnet identifier.
func TestAllocate4Selectors(t *testing.T) {
	cfg := &dhcpcfg.Config4{
		SharedNetworks: []dhcpcfg.SharedNetwork4{{
			Name: "frontend",
			Subnets: []dhcpcfg.Subnet4{
				{ID: 1, Prefix: "192.0.2.0/29", Pools: []dhcpcfg.AddressPool{{Pool: "192.0.2.2 - 192.0.2.6"}}},
			},
		}},
	}
	cfg.Normalize()
	et := newEngineTest(t, cfg, nil)
	ctx := context.Background()

	request := newTestRequest4(t, 1)
	request.SubnetID = 0
	request.SharedNetworkHint = "frontend"
	lease, err := et.engine.Allocate4(ctx, request)
	require.NoError(t, err)
	require.EqualValues(t, 1, lease.SubnetID)

	unknown := newTestRequest4(t, 2)
	unknown.SubnetID = 0
	unknown.SharedNetworkHint = "backend"
	_, err = et.engine.Allocate4(ctx, unknown)
	require.ErrorContains(t, err, "shared network backend does not exist")

	missing := newTestRequest4(t, 3)
	missing.SubnetID = 42
	_, err = et.engine.Allocate4(ctx, missing)
	require.ErrorContains(t, err, "subnet 42 does not exist")

	bare := newTestRequest4(t, 4)
	bare.SubnetID = 0
	_, err = et.engine.Allocate4(ctx, bare)
	require.ErrorContains(t, err, "no subnet selector")
}

// An address held by an expired lease is handed over to a new client.
func TestAllocate4ExpiredTakeover(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	hwaddr, err := dhcpmodel.NewEthernetHWAddr(net.HardwareAddr{0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f})
	require.NoError(t, err)
	expired := &leasestore.Lease4{
		Address:       netip.MustParseAddr("192.0.2.2"),
		HWAddr:        hwaddr,
		ValidLifetime: 3600,
		CLTT:          time.Now().UTC().Add(-2 * time.Hour).Unix(),
		SubnetID:      1,
	}
	added, err := et.store.AddLease4(ctx, expired)
	require.NoError(t, err)
	require.True(t, added)

	lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	require.Equal(t, expired.Address, lease.Address)

	returned, err := et.store.GetLease4ByAddr(ctx, expired.Address)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Equal(t, "02:00:00:00:00:01", returned.HWAddr.String())
	require.False(t, returned.Expired(time.Now().UTC()))
}

// A declined address loses its client identity, sits out the probation
// period and is skipped by the following allocations.
func TestDecline4(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, 1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.2"), lease.Address)

	require.NoError(t, et.engine.Decline4(ctx, lease.Address))

	declined, err := et.store.GetLease4ByAddr(ctx, lease.Address)
	require.NoError(t, err)
	require.NotNil(t, declined)
	require.Equal(t, dhcpmodel.LeaseStateDeclined, declined.State)
	require.Nil(t, declined.HWAddr)
	require.Empty(t, declined.ClientID)
	require.Empty(t, declined.Hostname)
	require.EqualValues(t, 86400, declined.ValidLifetime)
	require.Equal(t, 1.0, testutil.ToFloat64(et.sink.Engine.DeclinedLeases))

	// The occupancy map rebuilt on a reconfiguration keeps the
	// declined address out of the pool.
	et.commit(newTestConfig4(), nil)
	next, err := et.engine.Allocate4(ctx, newTestRequest4(t, 2))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.3"), next.Address)

	// Declining an address with no lease is refused.
	err = et.engine.Decline4(ctx, netip.MustParseAddr("192.0.2.6"))
	require.ErrorIs(t, err, leasestore.ErrNoSuchLease)
}

// A renewal extends the lease on the address the client already holds:
// the address stays, the client last transaction time moves forward and
// the store sees an update of the existing row, not an insert.
func TestRenew4(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	request := newTestRequest4(t, 1)
	lease, err := et.engine.Allocate4(ctx, request)
	require.NoError(t, err)

	// Age the lease so the renewal's transaction time visibly advances.
	lease.CLTT -= 100
	require.NoError(t, et.store.UpdateLease4(ctx, lease))
	since := time.Now().UTC()

	request.RequestedAddr = lease.Address
	renewed, err := et.engine.Renew4(ctx, request)
	require.NoError(t, err)
	require.Equal(t, lease.Address, renewed.Address)
	require.Equal(t, dhcpmodel.LeaseStateDefault, renewed.State)
	require.Greater(t, renewed.CLTT, lease.CLTT)
	require.Equal(t, 1.0, testutil.ToFloat64(et.sink.Engine.Renewals))

	// The renewal updated the row in place.
	modified, err := et.store.GetModifiedLeases4(ctx, since)
	require.NoError(t, err)
	require.Len(t, modified, 1)
	require.Equal(t, lease.Address, modified[0].Address)
	all, err := et.store.GetLeases4BySubnet(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

// Renewals refused: no lease on the address, a foreign lease, the
// address reserved for another client, and the address no longer in
// any pool after a reconfiguration.
func TestRenew4Errors(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	request := newTestRequest4(t, 1)
	lease, err := et.engine.Allocate4(ctx, request)
	require.NoError(t, err)
	request.RequestedAddr = lease.Address

	free := newTestRequest4(t, 1)
	free.RequestedAddr = netip.MustParseAddr("192.0.2.6")
	_, err = et.engine.Renew4(ctx, free)
	require.ErrorIs(t, err, leasestore.ErrNoSuchLease)

	foreign := newTestRequest4(t, 2)
	foreign.RequestedAddr = lease.Address
	_, err = et.engine.Renew4(ctx, foreign)
	require.ErrorIs(t, err, ErrClientMismatch)

	// The held address becomes reserved for another client.
	reserved := newTestConfig4()
	reserved.Subnets[0].Reservations = []dhcpcfg.Host{{
		HWAddress: "02:00:00:00:00:63",
		IPAddress: lease.Address.String(),
	}}
	et.commit(reserved, nil)
	_, err = et.engine.Renew4(ctx, request)
	require.ErrorIs(t, err, ErrReservedForOther)

	// The pool disappears from the configuration.
	poolless := newTestConfig4()
	poolless.Subnets[0].Pools = nil
	et.commit(poolless, nil)
	_, err = et.engine.Renew4(ctx, request)
	require.ErrorIs(t, err, ErrOutsidePool)
}

// A released address keeps its row in the reclaimed state and is
// immediately available to the next client.
func TestRelease4(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	request := newTestRequest4(t, 1)
	lease, err := et.engine.Allocate4(ctx, request)
	require.NoError(t, err)
	require.Equal(t, 1.0, et.activeLeases(metrics.Family4))

	err = et.engine.Release4(ctx, lease.Address, []byte{0xde, 0xad})
	require.ErrorIs(t, err, ErrClientMismatch)

	require.NoError(t, et.engine.Release4(ctx, lease.Address, request.ClientKey()))
	require.Equal(t, 0.0, et.activeLeases(metrics.Family4))

	released, err := et.store.GetLease4ByAddr(ctx, lease.Address)
	require.NoError(t, err)
	require.NotNil(t, released)
	require.Equal(t, dhcpmodel.LeaseStateExpiredReclaimed, released.State)
	require.Zero(t, released.ValidLifetime)

	// The release is not repeatable.
	err = et.engine.Release4(ctx, lease.Address, request.ClientKey())
	require.ErrorIs(t, err, leasestore.ErrNoSuchLease)

	// The address is free for the next client right away.
	next := newTestRequest4(t, 2)
	next.RequestedAddr = lease.Address
	granted, err := et.engine.Allocate4(ctx, next)
	require.NoError(t, err)
	require.Equal(t, lease.Address, granted.Address)
}

// Concurrent clients racing for the same pool all end up with distinct
// addresses.
func TestAllocate4Concurrent(t *testing.T) {
	et := newEngineTest(t, newTestConfig4(), nil)
	ctx := context.Background()

	requests := make([]*Request4, 5)
	for i := range requests {
		requests[i] = newTestRequest4(t, byte(10+i))
	}

	var mu sync.Mutex
	granted := make(map[netip.Addr]bool)
	errs := make([]error, 0, len(requests))
	var wg sync.WaitGroup
	for _, request := range requests {
		wg.Add(1)
		go func(request *Request4) {
			defer wg.Done()
			lease, err := et.engine.Allocate4(ctx, request)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			granted[lease.Address] = true
		}(request)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, granted, len(requests))
	require.Equal(t, 5.0, et.activeLeases(metrics.Family4))
}

// An IPv6 address allocation draws from the subnet pool with the
// default lifetimes.
func TestAllocate6Address(t *testing.T) {
	et := newEngineTest(t, nil, newTestConfig6())
	ctx := context.Background()

	lease, err := et.engine.Allocate6(ctx, newTestRequest6(1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8:1::10"), lease.Address)
	require.EqualValues(t, 128, lease.PrefixLen)
	require.Equal(t, dhcpmodel.LeaseTypeNA, lease.Type)
	require.EqualValues(t, 7200, lease.ValidLifetime)
	require.EqualValues(t, 3600, lease.PreferredLifetime)
	require.EqualValues(t, 1, lease.SubnetID)
	require.Equal(t, 1.0, et.activeLeases(metrics.Family6))

	// The same client asking again extends the same lease.
	again, err := et.engine.Allocate6(ctx, newTestRequest6(1))
	require.NoError(t, err)
	require.Equal(t, lease.Address, again.Address)
	require.Equal(t, 1.0, et.activeLeases(metrics.Family6))
}

// A prefix delegation hands out whole /64s carved from the /48 pool.
func TestAllocate6Prefix(t *testing.T) {
	et := newEngineTest(t, nil, newTestConfig6())
	ctx := context.Background()

	request := newTestRequest6(1)
	request.LeaseType = dhcpmodel.LeaseTypePD
	lease, err := et.engine.Allocate6(ctx, request)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8:8::"), lease.Address)
	require.EqualValues(t, 64, lease.PrefixLen)
	require.Equal(t, dhcpmodel.LeaseTypePD, lease.Type)

	second := newTestRequest6(2)
	second.LeaseType = dhcpmodel.LeaseTypePD
	next, err := et.engine.Allocate6(ctx, second)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8:8:1::"), next.Address)

	// Addresses and delegated prefixes live in separate spaces.
	addr, err := et.engine.Allocate6(ctx, newTestRequest6(3))
	require.NoError(t, err)
	require.Equal(t, dhcpmodel.LeaseTypeNA, addr.Type)
}

// Delegated prefixes colliding with the excluded prefix are skipped.
func TestAllocate6ExcludedPrefix(t *testing.T) {
	cfg := &dhcpcfg.Config6{
		Subnets: []dhcpcfg.Subnet6{{
			ID:     1,
			Prefix: "2001:db8:1::/64",
			PDPools: []dhcpcfg.PrefixPool{{
				Prefix:            "2001:db8:8::",
				PrefixLen:         48,
				DelegatedLen:      64,
				ExcludedPrefix:    "2001:db8:8::",
				ExcludedPrefixLen: 80,
			}},
		}},
	}
	et := newEngineTest(t, nil, cfg)
	ctx := context.Background()

	request := newTestRequest6(1)
	request.LeaseType = dhcpmodel.LeaseTypePD
	lease, err := et.engine.Allocate6(ctx, request)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8:8:1::"), lease.Address)
}

// A reserved IPv6 address outside the pools is granted to its client.
func TestAllocate6Reservation(t *testing.T) {
	cfg := newTestConfig6()
	cfg.Subnets[0].Reservations = []dhcpcfg.Host{{
		DUID:        "00:03:00:01:02:00:00:00:00:01",
		IPAddresses: []string{"2001:db8:1::100"},
		Hostname:    "gateway",
	}}
	et := newEngineTest(t, nil, cfg)
	ctx := context.Background()

	lease, err := et.engine.Allocate6(ctx, newTestRequest6(1))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8:1::100"), lease.Address)
	require.True(t, lease.Fixed)
	require.Equal(t, "gateway", lease.Hostname)
}

// A reserved delegated prefix is granted to its client with the
// reserved length.
func TestAllocate6PrefixReservation(t *testing.T) {
	cfg := newTestConfig6()
	cfg.Subnets[0].Reservations = []dhcpcfg.Host{{
		DUID:     "00:03:00:01:02:00:00:00:00:01",
		Prefixes: []string{"2001:db8:f::/56"},
	}}
	et := newEngineTest(t, nil, cfg)
	ctx := context.Background()

	request := newTestRequest6(1)
	request.LeaseType = dhcpmodel.LeaseTypePD
	lease, err := et.engine.Allocate6(ctx, request)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8:f::"), lease.Address)
	require.EqualValues(t, 56, lease.PrefixLen)
	require.True(t, lease.Fixed)
}

// The address pool runs dry for the third client.
func TestAllocate6Exhaustion(t *testing.T) {
	cfg := &dhcpcfg.Config6{
		Subnets: []dhcpcfg.Subnet6{{
			ID:     1,
			Prefix: "2001:db8:1::/64",
			Pools:  []dhcpcfg.AddressPool{{Pool: "2001:db8:1::10 - 2001:db8:1::11"}},
		}},
	}
	et := newEngineTest(t, nil, cfg)
	ctx := context.Background()

	for octet := byte(1); octet <= 2; octet++ {
		_, err := et.engine.Allocate6(ctx, newTestRequest6(octet))
		require.NoError(t, err)
	}
	_, err := et.engine.Allocate6(ctx, newTestRequest6(3))
	require.ErrorIs(t, err, ErrNoAddressAvailable)
}

// Renewals of an address lease and of a delegated prefix lease.
func TestRenew6(t *testing.T) {
	et := newEngineTest(t, nil, newTestConfig6())
	ctx := context.Background()

	request := newTestRequest6(1)
	lease, err := et.engine.Allocate6(ctx, request)
	require.NoError(t, err)

	request.RequestedAddr = lease.Address
	renewed, err := et.engine.Renew6(ctx, request)
	require.NoError(t, err)
	require.Equal(t, lease.Address, renewed.Address)

	pd := newTestRequest6(1)
	pd.LeaseType = dhcpmodel.LeaseTypePD
	delegated, err := et.engine.Allocate6(ctx, pd)
	require.NoError(t, err)

	pd.RequestedPrefix = netip.PrefixFrom(delegated.Address, int(delegated.PrefixLen))
	renewed, err = et.engine.Renew6(ctx, pd)
	require.NoError(t, err)
	require.Equal(t, delegated.Address, renewed.Address)
	require.Equal(t, dhcpmodel.LeaseTypePD, renewed.Type)

	// A renewal by a different client is refused.
	foreign := newTestRequest6(2)
	foreign.RequestedAddr = lease.Address
	_, err = et.engine.Renew6(ctx, foreign)
	require.ErrorIs(t, err, ErrClientMismatch)
}

// A released IPv6 lease moves to the reclaimed state under its own
// lease type key.
func TestRelease6(t *testing.T) {
	et := newEngineTest(t, nil, newTestConfig6())
	ctx := context.Background()

	request := newTestRequest6(1)
	lease, err := et.engine.Allocate6(ctx, request)
	require.NoError(t, err)

	err = et.engine.Release6(ctx, lease.Address, dhcpmodel.LeaseTypeNA, []byte{0xde, 0xad})
	require.ErrorIs(t, err, ErrClientMismatch)

	require.NoError(t, et.engine.Release6(ctx, lease.Address, dhcpmodel.LeaseTypeNA, request.ClientKey()))
	require.Equal(t, 0.0, et.activeLeases(metrics.Family6))

	released, err := et.store.GetLease6ByAddr(ctx, lease.Address, dhcpmodel.LeaseTypeNA)
	require.NoError(t, err)
	require.NotNil(t, released)
	require.Equal(t, dhcpmodel.LeaseStateExpiredReclaimed, released.State)
	require.Zero(t, released.ValidLifetime)
}

// A declined IPv6 address keeps a placeholder DUID because a stored
// lease must carry one.
func TestDecline6(t *testing.T) {
	et := newEngineTest(t, nil, newTestConfig6())
	ctx := context.Background()

	lease, err := et.engine.Allocate6(ctx, newTestRequest6(1))
	require.NoError(t, err)

	require.NoError(t, et.engine.Decline6(ctx, lease.Address))

	declined, err := et.store.GetLease6ByAddr(ctx, lease.Address, dhcpmodel.LeaseTypeNA)
	require.NoError(t, err)
	require.NotNil(t, declined)
	require.Equal(t, dhcpmodel.LeaseStateDeclined, declined.State)
	require.Equal(t, dhcpmodel.DUID{0}, declined.DUID)
	require.Zero(t, declined.IAID)
	require.Empty(t, declined.Hostname)
	require.EqualValues(t, 86400, declined.ValidLifetime)
	require.Equal(t, 1.0, testutil.ToFloat64(et.sink.Engine.DeclinedLeases))
}

// The random and hashed allocators stay within the pool and satisfy
// all clients of a small subnet.
func TestAllocate4Allocators(t *testing.T) {
	for _, allocator := range []string{dhcpcfg.AllocatorRandom, dhcpcfg.AllocatorHashed} {
		t.Run(allocator, func(t *testing.T) {
			cfg := newTestConfig4()
			cfg.Subnets[0].Allocator = allocator
			// Enough retries that the random allocator finds the last
			// free address of the small pool.
			retries := int64(1000)
			cfg.Subnets[0].AllocationRetries = &retries
			et := newEngineTest(t, cfg, nil)
			ctx := context.Background()

			pool, err := ternutil.NewAddrRange(netip.MustParseAddr("192.0.2.2"), netip.MustParseAddr("192.0.2.6"))
			require.NoError(t, err)

			granted := make(map[netip.Addr]bool)
			for octet := byte(1); octet <= 5; octet++ {
				lease, err := et.engine.Allocate4(ctx, newTestRequest4(t, octet))
				require.NoError(t, err)
				require.True(t, pool.Contains(lease.Address))
				require.False(t, granted[lease.Address])
				granted[lease.Address] = true
			}
			_, err = et.engine.Allocate4(ctx, newTestRequest4(t, 6))
			require.ErrorIs(t, err, ErrNoAddressAvailable)
		})
	}
}
