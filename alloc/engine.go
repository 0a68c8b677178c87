// Package alloc implements the lease allocation engine: it turns
// client requests into lease store commits made against the
// configuration snapshot current at the time of the request. The
// engine prefers renewing the client's existing lease, then honors the
// host reservations, then draws candidates from the subnet pools with
// the configured allocator. The store stays authoritative for
// occupancy; the per-pool bitmaps only make the probing cheaper.
package alloc

import (
	"bytes"
	"context"
	"hash/fnv"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
	"isc.org/tern/dhcpsrv"
	"isc.org/tern/leasestore"
	"isc.org/tern/metrics"
	ternutil "isc.org/tern/util"
)

const (
	// Default number of the attempts of one store operation.
	DefaultRetryAttempts = 3
	// Default delay before the first store operation retry. The delay
	// doubles after every failed attempt.
	DefaultRetryBackoff = 10 * time.Millisecond
)

// Retry policy applied to the store operations failing with an
// operational error.
type OperationRetry struct {
	// Number of attempts. Zero selects the default.
	Attempts int
	// Initial delay between the attempts, doubled after every failure.
	// Zero selects the default.
	Backoff time.Duration
}

func (retry OperationRetry) attempts() int {
	if retry.Attempts <= 0 {
		return DefaultRetryAttempts
	}
	return retry.Attempts
}

func (retry OperationRetry) backoff() time.Duration {
	if retry.Backoff <= 0 {
		return DefaultRetryBackoff
	}
	return retry.Backoff
}

const lockStripes = 256

// Striped per-address mutexes serializing the writes on the same
// primary key within one process. Disabled in the single threaded
// mode.
type addrLocker struct {
	enabled bool
	stripes [lockStripes]sync.Mutex
}

func (locker *addrLocker) lock(addr netip.Addr, kind byte) func() {
	if !locker.enabled {
		return func() {}
	}
	raw := addr.As16()
	hash := fnv.New32a()
	hash.Write(raw[:])
	hash.Write([]byte{kind})
	stripe := &locker.stripes[hash.Sum32()%lockStripes]
	stripe.Lock()
	return stripe.Unlock
}

// The allocation engine. One instance serves both address families.
type Engine struct {
	store   leasestore.Manager
	holder  *dhcpsrv.SnapshotHolder
	mt      ternutil.MultiThreadingConfig
	retry   OperationRetry
	metrics *metrics.EngineMetrics

	locks  addrLocker
	state4 familyState
	state6 familyState
}

// Creates the allocation engine on top of a lease store and a
// configuration snapshot holder. The metrics sink must not be nil.
func NewEngine(store leasestore.Manager, holder *dhcpsrv.SnapshotHolder, mt ternutil.MultiThreadingConfig, retry OperationRetry, sink *metrics.EngineMetrics) *Engine {
	engine := &Engine{
		store:   store,
		holder:  holder,
		mt:      mt,
		retry:   retry,
		metrics: sink,
	}
	engine.locks.enabled = mt.Enabled
	return engine
}

// Runs a store operation, retrying the operational failures with a
// doubling backoff. Lookup misses and schema errors surface
// immediately.
func (engine *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := engine.retry.attempts()
	backoff := engine.retry.backoff()
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			log.WithError(err).WithField("operation", op).Warn("Retrying the failed store operation")
		}
		if err = fn(); err == nil || !operational(err) {
			return err
		}
	}
	return errors.WithMessagef(err, "problem with the %s after %d attempts", op, attempts)
}

// An operational error is a store failure worth retrying, e.g. a lost
// database connection. Lookup misses, schema mismatches and cancelled
// contexts are not.
func operational(err error) bool {
	switch {
	case errors.Is(err, leasestore.ErrNoSuchLease),
		errors.Is(err, leasestore.ErrIncompatibleSchema),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Allocates an IPv4 lease for the client. The engine first tries to
// renew the client's existing lease in a candidate subnet, then its
// host reservation, then the requested address and finally the free
// pool candidates drawn by the configured allocator. When the client's
// reserved address is held by another client, the returned lease comes
// from the free pools and is accompanied by ErrReservedInUse.
func (engine *Engine) Allocate4(ctx context.Context, request *Request4) (*leasestore.Lease4, error) {
	if err := request.Validate(); err != nil {
		engine.count4(metrics.OutcomeError)
		return nil, err
	}
	snapshot := engine.holder.Acquire()
	candidates, err := engine.candidateSubnets4(snapshot.Config4, request)
	if err != nil {
		engine.count4(metrics.OutcomeError)
		return nil, err
	}
	now := ternutil.UTCNow()
	reservedConflict := false
	for _, subnet := range candidates {
		lease, conflict, err := engine.allocateInSubnet4(ctx, snapshot, subnet, request, now)
		reservedConflict = reservedConflict || conflict
		if err != nil {
			engine.count4(metrics.OutcomeError)
			return nil, err
		}
		if lease != nil {
			engine.count4(metrics.OutcomeSuccess)
			if reservedConflict {
				return lease, ErrReservedInUse
			}
			return lease, nil
		}
	}
	engine.count4(metrics.OutcomeExhausted)
	if reservedConflict {
		return nil, ErrReservedInUse
	}
	return nil, ErrNoAddressAvailable
}

func (engine *Engine) count4(outcome string) {
	engine.metrics.Allocations.WithLabelValues(metrics.Family4, outcome).Inc()
}

func (engine *Engine) count6(outcome string) {
	engine.metrics.Allocations.WithLabelValues(metrics.Family6, outcome).Inc()
}

// Resolves the candidate subnets of the request: the selected subnet
// followed by the other members of its shared network in the
// declaration order, filtered by the client class guards.
func (engine *Engine) candidateSubnets4(cfg *dhcpcfg.Config4, request *Request4) ([]*dhcpcfg.Subnet4, error) {
	var candidates []*dhcpcfg.Subnet4
	switch {
	case request.SubnetID != 0:
		subnet := cfg.FindSubnet(request.SubnetID)
		if subnet == nil {
			return nil, errors.Errorf("subnet %d does not exist", request.SubnetID)
		}
		candidates = cfg.CandidateSubnets(subnet)
	case request.SharedNetworkHint != "":
		if cfg.FindSharedNetwork(request.SharedNetworkHint) == nil {
			return nil, errors.Errorf("shared network %s does not exist", request.SharedNetworkHint)
		}
		for i := range cfg.Subnets {
			if cfg.Subnets[i].SharedNetworkName == request.SharedNetworkHint {
				candidates = append(candidates, &cfg.Subnets[i])
			}
		}
	default:
		return nil, errors.New("request carries no subnet selector")
	}
	allowed := make([]*dhcpcfg.Subnet4, 0, len(candidates))
	for _, subnet := range candidates {
		if !classAllowed(request.Classes, subnet.ClientClass) {
			continue
		}
		if network := cfg.FindSharedNetwork(subnet.SharedNetworkName); network != nil && !classAllowed(request.Classes, network.ClientClass) {
			continue
		}
		allowed = append(allowed, subnet)
	}
	return allowed, nil
}

// Attempts the allocation within one subnet. Returns a nil lease and a
// nil error when the subnet yields nothing and the next candidate
// subnet should be tried. The second returned value reports that the
// client's reserved address was found held by another client.
func (engine *Engine) allocateInSubnet4(ctx context.Context, snapshot *dhcpsrv.Snapshot, subnet *dhcpcfg.Subnet4, request *Request4, now time.Time) (*leasestore.Lease4, bool, error) {
	cfg := snapshot.Config4
	state, err := engine.subnetState4(ctx, snapshot, subnet)
	if err != nil {
		return nil, false, err
	}

	existing, err := engine.findClientLease4(ctx, subnet, request)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.State == dhcpmodel.LeaseStateDefault && !existing.Expired(now) {
		renewed, err := engine.tryExtend4(ctx, cfg, subnet, state, request, existing, now)
		if err != nil {
			return nil, false, err
		}
		if renewed != nil {
			return renewed, false, nil
		}
	}

	conflict := false
	if host := subnet.ReservationFor(request.HWAddr, request.ClientID); host != nil {
		reserved, err := host.ParsedIPAddress()
		if err == nil && reserved.IsValid() {
			lease, taken, err := engine.claimAddress4(ctx, cfg, subnet, state, request, reserved, host, now)
			if err != nil {
				return nil, false, err
			}
			if lease != nil {
				return lease, false, nil
			}
			if taken {
				conflict = true
				log.WithFields(log.Fields{
					"address": reserved,
					"subnet":  subnet.Prefix,
				}).Warn("Reserved address is held by another client, allocating from the free pools")
			}
		}
	}

	if addr := request.RequestedAddr.Unmap(); addr.IsValid() {
		if pool := subnet.PoolContaining(addr); pool != nil && classAllowed(request.Classes, pool.ClientClass) {
			if holder := subnet.ReservationOf(addr); holder == nil || holder.Matches4(request.HWAddr, request.ClientID) {
				lease, _, err := engine.claimAddress4(ctx, cfg, subnet, state, request, addr, holder, now)
				if err != nil {
					return nil, conflict, err
				}
				if lease != nil {
					return lease, conflict, nil
				}
			}
		}
	}

	allocator := cfg.EffectiveAllocator(subnet)
	budget := subnet.EffectiveAllocationRetries()
	attempt := 0
	for i := range subnet.Pools {
		if budget <= 0 {
			break
		}
		pool := &subnet.Pools[i]
		if !classAllowed(request.Classes, pool.ClientClass) {
			continue
		}
		occupancy := state.pools[i]
		if occupancy == nil || occupancy.full() {
			continue
		}
		picker := engine.pickerFor(allocator, occupancy, request.ClientKey())
		for budget > 0 {
			if err := ctx.Err(); err != nil {
				return nil, conflict, err
			}
			addr := picker.Pick(occupancy.space, attempt)
			attempt++
			budget--
			if !addr.IsValid() {
				break
			}
			if occupancy.isUsed(addr) {
				if occupancy.full() {
					break
				}
				continue
			}
			if holder := subnet.ReservationOf(addr); holder != nil && !holder.Matches4(request.HWAddr, request.ClientID) {
				occupancy.markUsed(addr)
				continue
			}
			lease, _, err := engine.claimAddress4(ctx, cfg, subnet, state, request, addr, nil, now)
			if err != nil {
				return nil, conflict, err
			}
			if lease != nil {
				return lease, conflict, nil
			}
		}
	}
	return nil, conflict, nil
}

// Finds the client's lease within the subnet, by the client identifier
// first, by the hardware address second.
func (engine *Engine) findClientLease4(ctx context.Context, subnet *dhcpcfg.Subnet4, request *Request4) (*leasestore.Lease4, error) {
	var lease *leasestore.Lease4
	err := engine.withRetry(ctx, "client lease query", func() error {
		var err error
		if len(request.ClientID) > 0 {
			lease, err = engine.store.GetLease4ByClientIDSubnet(ctx, request.ClientID, subnet.ID)
			if err != nil || lease != nil {
				return err
			}
		}
		if request.HWAddr != nil {
			lease, err = engine.store.GetLease4ByHWAddrSubnet(ctx, request.HWAddr, subnet.ID)
		}
		return err
	})
	return lease, err
}

// Extends the client's existing lease when its address is still valid
// for the client: it lies in an active pool admitting the client or is
// the client's own reservation, and is not reserved for anybody else.
// Returns nil when the lease is not extendable and a fresh allocation
// should proceed.
func (engine *Engine) tryExtend4(ctx context.Context, cfg *dhcpcfg.Config4, subnet *dhcpcfg.Subnet4, state *subnetState, request *Request4, lease *leasestore.Lease4, now time.Time) (*leasestore.Lease4, error) {
	addr := lease.Address
	holder := subnet.ReservationOf(addr)
	if holder != nil && !holder.Matches4(request.HWAddr, request.ClientID) {
		return nil, nil
	}
	pool := subnet.PoolContaining(addr)
	inPool := pool != nil && classAllowed(request.Classes, pool.ClientClass)
	if !inPool && holder == nil {
		return nil, nil
	}

	unlock := engine.locks.lock(addr, 0)
	defer unlock()
	renewed := engine.newLease4(cfg, subnet, request, addr, holder, now)
	renewed.UserContext = lease.UserContext
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease4(ctx, renewed)
	})
	if errors.Is(err, leasestore.ErrNoSuchLease) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state.markUsed(addr)
	return renewed, nil
}

// Probes one candidate address and commits a lease on it when it is
// free, expired-reclaimed or expired. The second returned value is
// true when an active lease of another client holds the address.
func (engine *Engine) claimAddress4(ctx context.Context, cfg *dhcpcfg.Config4, subnet *dhcpcfg.Subnet4, state *subnetState, request *Request4, addr netip.Addr, host *dhcpcfg.Host, now time.Time) (*leasestore.Lease4, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	unlock := engine.locks.lock(addr, 0)
	defer unlock()

	var existing *leasestore.Lease4
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		existing, err = engine.store.GetLease4ByAddr(ctx, addr)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	switch {
	case existing == nil || existing.State == dhcpmodel.LeaseStateExpiredReclaimed:
		lease := engine.newLease4(cfg, subnet, request, addr, host, now)
		var added bool
		err := engine.withRetry(ctx, "lease insert", func() error {
			var err error
			added, err = engine.store.AddLease4(ctx, lease)
			return err
		})
		if err != nil {
			return nil, false, err
		}
		state.markUsed(addr)
		if !added {
			engine.metrics.AllocationConflicts.Inc()
			return nil, true, nil
		}
		engine.metrics.ActiveLeases.WithLabelValues(metrics.Family4).Inc()
		return lease, false, nil

	case existing.State == dhcpmodel.LeaseStateDefault && sameClient4(existing, request):
		renewed := engine.newLease4(cfg, subnet, request, addr, host, now)
		renewed.UserContext = existing.UserContext
		err := engine.withRetry(ctx, "lease update", func() error {
			return engine.store.UpdateLease4(ctx, renewed)
		})
		if errors.Is(err, leasestore.ErrNoSuchLease) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		state.markUsed(addr)
		return renewed, false, nil

	case existing.State == dhcpmodel.LeaseStateDefault && existing.Expired(now):
		lease := engine.newLease4(cfg, subnet, request, addr, host, now)
		err := engine.withRetry(ctx, "lease update", func() error {
			return engine.store.UpdateLease4(ctx, lease)
		})
		if errors.Is(err, leasestore.ErrNoSuchLease) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		state.markUsed(addr)
		return lease, false, nil

	default:
		state.markUsed(addr)
		return nil, true, nil
	}
}

// Builds a fresh lease image for the commit.
func (engine *Engine) newLease4(cfg *dhcpcfg.Config4, subnet *dhcpcfg.Subnet4, request *Request4, addr netip.Addr, host *dhcpcfg.Host, now time.Time) *leasestore.Lease4 {
	valid := cfg.EffectiveValidLifetime(subnet)
	renew, rebind := cfg.EffectiveTimers(subnet)
	hostname := request.Hostname
	fixed := false
	if host != nil {
		fixed = true
		if host.Hostname != "" {
			hostname = host.Hostname
		}
	}
	var poolID uint32
	if pool := subnet.PoolContaining(addr); pool != nil {
		poolID = uint32(pool.ID)
	}
	return &leasestore.Lease4{
		Address:       addr.Unmap(),
		HWAddr:        request.HWAddr,
		ClientID:      request.ClientID,
		ValidLifetime: uint32(valid),
		T1:            uint32(renew),
		T2:            uint32(rebind),
		CLTT:          now.Unix(),
		SubnetID:      subnet.ID,
		PoolID:        poolID,
		Fixed:         fixed,
		Hostname:      hostname,
		FqdnFwd:       request.FwdDNS,
		FqdnRev:       request.RevDNS,
		State:         dhcpmodel.LeaseStateDefault,
	}
}

// Renews the lease on the requested address. REBIND is served the same
// way, the engine does not track which server granted the lease.
func (engine *Engine) Renew4(ctx context.Context, request *Request4) (*leasestore.Lease4, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	addr := request.RequestedAddr.Unmap()
	if !addr.IsValid() {
		return nil, errors.New("renewal request carries no address")
	}
	snapshot := engine.holder.Acquire()
	cfg := snapshot.Config4
	now := ternutil.UTCNow()

	unlock := engine.locks.lock(addr, 0)
	defer unlock()
	var lease *leasestore.Lease4
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease4ByAddr(ctx, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed {
		return nil, errors.Wrapf(leasestore.ErrNoSuchLease, "no lease for the address %s", addr)
	}
	if !sameClient4(lease, request) {
		return nil, ErrClientMismatch
	}
	subnet := cfg.FindSubnet(lease.SubnetID)
	if subnet == nil || !classAllowed(request.Classes, subnet.ClientClass) {
		return nil, ErrOutsidePool
	}
	holder := subnet.ReservationOf(addr)
	if holder != nil && !holder.Matches4(request.HWAddr, request.ClientID) {
		return nil, ErrReservedForOther
	}
	pool := subnet.PoolContaining(addr)
	if holder == nil && (pool == nil || !classAllowed(request.Classes, pool.ClientClass)) {
		return nil, ErrOutsidePool
	}

	renewed := engine.newLease4(cfg, subnet, request, addr, holder, now)
	renewed.UserContext = lease.UserContext
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease4(ctx, renewed)
	})
	if err != nil {
		return nil, err
	}
	engine.metrics.Renewals.Inc()
	engine.state4.occupy(subnet.ID, addr)
	return renewed, nil
}

// Releases the lease on the address. The client key must match one of
// the lease client identifiers. The released row moves to the
// expired-reclaimed state so the address returns to the free space
// immediately while the row stays around until the purge.
func (engine *Engine) Release4(ctx context.Context, addr netip.Addr, clientKey []byte) error {
	addr = addr.Unmap()
	unlock := engine.locks.lock(addr, 0)
	defer unlock()
	var lease *leasestore.Lease4
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease4ByAddr(ctx, addr)
		return err
	})
	if err != nil {
		return err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed {
		return errors.Wrapf(leasestore.ErrNoSuchLease, "no lease for the address %s", addr)
	}
	if !leaseOwner4(lease, clientKey) {
		return ErrClientMismatch
	}
	lease.State = dhcpmodel.LeaseStateExpiredReclaimed
	lease.ValidLifetime = 0
	lease.T1, lease.T2 = 0, 0
	lease.CLTT = ternutil.UTCNow().Unix()
	if err := ctx.Err(); err != nil {
		return err
	}
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease4(ctx, lease)
	})
	if err != nil {
		return err
	}
	engine.state4.free(lease.SubnetID, addr)
	engine.metrics.ActiveLeases.WithLabelValues(metrics.Family4).Dec()
	return nil
}

// Quarantines the declined address. The lease loses its client
// identifiers and hostname and sits out the decline probation period;
// the reclamation returns it to the free space afterwards.
func (engine *Engine) Decline4(ctx context.Context, addr netip.Addr) error {
	addr = addr.Unmap()
	unlock := engine.locks.lock(addr, 0)
	defer unlock()
	var lease *leasestore.Lease4
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease4ByAddr(ctx, addr)
		return err
	})
	if err != nil {
		return err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed {
		return errors.Wrapf(leasestore.ErrNoSuchLease, "no lease for the address %s", addr)
	}
	probation := engine.holder.Acquire().Config4.EffectiveDeclineProbationPeriod()
	lease.HWAddr = nil
	lease.ClientID = nil
	lease.Hostname = ""
	lease.FqdnFwd, lease.FqdnRev = false, false
	lease.State = dhcpmodel.LeaseStateDeclined
	lease.ValidLifetime = uint32(probation)
	lease.T1, lease.T2 = 0, 0
	lease.CLTT = ternutil.UTCNow().Unix()
	if err := ctx.Err(); err != nil {
		return err
	}
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease4(ctx, lease)
	})
	if err != nil {
		return err
	}
	engine.state4.occupy(lease.SubnetID, addr)
	engine.metrics.DeclinedLeases.Inc()
	return nil
}

func (engine *Engine) pickerFor(allocator string, state *poolState, clientKey []byte) Picker {
	switch allocator {
	case dhcpcfg.AllocatorRandom:
		return NewRandomPicker()
	case dhcpcfg.AllocatorHashed:
		return NewHashedPicker(clientKey)
	default:
		return state.iterative
	}
}

// Returns the occupancy state of the subnet, building it from the
// store when the subnet is visited for the first time under the
// current snapshot.
func (engine *Engine) subnetState4(ctx context.Context, snapshot *dhcpsrv.Snapshot, subnet *dhcpcfg.Subnet4) (*subnetState, error) {
	state := &engine.state4
	state.mu.Lock()
	defer state.mu.Unlock()
	if built, ok := state.get(snapshot, subnet.ID); ok {
		return built, nil
	}
	built := &subnetState{}
	for i := range subnet.Pools {
		space, err := NewAddressPool(&subnet.Pools[i])
		if err != nil {
			log.WithError(err).WithField("pool", subnet.Pools[i].Pool).Warn("Skipping an invalid pool")
			built.pools = append(built.pools, nil)
			continue
		}
		built.pools = append(built.pools, newPoolState(space))
	}
	var leases []leasestore.Lease4
	err := engine.withRetry(ctx, "subnet lease query", func() error {
		var err error
		leases, err = engine.store.GetLeases4BySubnet(ctx, subnet.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := ternutil.UTCNow()
	for i := range leases {
		if leaseOccupies(leases[i].State, leases[i].Expired(now)) {
			built.markUsed(leases[i].Address)
		}
	}
	state.subnets[subnet.ID] = built
	log.WithFields(log.Fields{
		"subnet": subnet.Prefix,
		"leases": len(leases),
	}).Debug("Rebuilt the free space state of the subnet")
	return built, nil
}

// A declined lease occupies its address until the reclamation even
// when the probation already passed; an expired default lease is up
// for the takeover.
func leaseOccupies(state dhcpmodel.LeaseState, expired bool) bool {
	switch state {
	case dhcpmodel.LeaseStateDeclined:
		return true
	case dhcpmodel.LeaseStateDefault:
		return !expired
	}
	return false
}

// Checks if the lease belongs to the requesting client, the client
// identifier compared first.
func sameClient4(lease *leasestore.Lease4, request *Request4) bool {
	if len(request.ClientID) > 0 && len(lease.ClientID) > 0 {
		return lease.ClientID.Equal(request.ClientID)
	}
	if request.HWAddr != nil && lease.HWAddr != nil {
		return lease.HWAddr.Equal(request.HWAddr)
	}
	return false
}

func leaseOwner4(lease *leasestore.Lease4, clientKey []byte) bool {
	if len(clientKey) == 0 {
		return false
	}
	if len(lease.ClientID) > 0 && bytes.Equal(lease.ClientID, clientKey) {
		return true
	}
	return lease.HWAddr != nil && bytes.Equal(lease.HWAddr.Address, clientKey)
}
