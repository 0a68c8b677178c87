package alloc

import (
	"context"
	"net/netip"
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

// Allocates an IPv6 address or delegated prefix lease, selected by the
// request lease type. The flow mirrors Allocate4: renew first, then
// the host reservation, then the requested address or prefix, then the
// pool candidates drawn by the configured allocator.
func (engine *Engine) Allocate6(ctx context.Context, request *Request6) (*leasestore.Lease6, error) {
	if err := request.Validate(); err != nil {
		engine.count6(metrics.OutcomeError)
		return nil, err
	}
	snapshot := engine.holder.Acquire()
	candidates, err := engine.candidateSubnets6(snapshot.Config6, request)
	if err != nil {
		engine.count6(metrics.OutcomeError)
		return nil, err
	}
	now := ternutil.UTCNow()
	reservedConflict := false
	for _, subnet := range candidates {
		lease, conflict, err := engine.allocateInSubnet6(ctx, snapshot, subnet, request, now)
		reservedConflict = reservedConflict || conflict
		if err != nil {
			engine.count6(metrics.OutcomeError)
			return nil, err
		}
		if lease != nil {
			engine.count6(metrics.OutcomeSuccess)
			if reservedConflict {
				return lease, ErrReservedInUse
			}
			return lease, nil
		}
	}
	engine.count6(metrics.OutcomeExhausted)
	if reservedConflict {
		return nil, ErrReservedInUse
	}
	return nil, ErrNoAddressAvailable
}

func (engine *Engine) candidateSubnets6(cfg *dhcpcfg.Config6, request *Request6) ([]*dhcpcfg.Subnet6, error) {
	if request.SubnetID == 0 {
		return nil, errors.New("request carries no subnet selector")
	}
	subnet := cfg.FindSubnet(request.SubnetID)
	if subnet == nil {
		return nil, errors.Errorf("subnet %d does not exist", request.SubnetID)
	}
	candidates := cfg.CandidateSubnets(subnet)
	allowed := make([]*dhcpcfg.Subnet6, 0, len(candidates))
	for _, candidate := range candidates {
		if !classAllowed(request.Classes, candidate.ClientClass) {
			continue
		}
		if network := cfg.FindSharedNetwork(candidate.SharedNetworkName); network != nil && !classAllowed(request.Classes, network.ClientClass) {
			continue
		}
		allowed = append(allowed, candidate)
	}
	return allowed, nil
}

func (engine *Engine) allocateInSubnet6(ctx context.Context, snapshot *dhcpsrv.Snapshot, subnet *dhcpcfg.Subnet6, request *Request6, now time.Time) (*leasestore.Lease6, bool, error) {
	cfg := snapshot.Config6
	state, err := engine.subnetState6(ctx, snapshot, subnet)
	if err != nil {
		return nil, false, err
	}

	existing, err := engine.findClientLease6(ctx, subnet, request)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.State == dhcpmodel.LeaseStateDefault && !existing.Expired(now) {
		renewed, err := engine.tryExtend6(ctx, cfg, subnet, state, request, existing, now)
		if err != nil {
			return nil, false, err
		}
		if renewed != nil {
			return renewed, false, nil
		}
	}

	conflict := false
	if host := subnet.ReservationFor(request.DUID, nil); host != nil {
		lease, taken, err := engine.claimReservation6(ctx, cfg, subnet, state, request, host, now)
		if err != nil {
			return nil, false, err
		}
		if lease != nil {
			return lease, false, nil
		}
		if taken {
			conflict = true
			log.WithField("subnet", subnet.Prefix).Warn("Reserved address is held by another client, allocating from the free pools")
		}
	}

	if lease, err := engine.claimHint6(ctx, cfg, subnet, state, request, now); err != nil {
		return nil, conflict, err
	} else if lease != nil {
		return lease, conflict, nil
	}

	if request.LeaseType == dhcpmodel.LeaseTypePD {
		lease, err := engine.pickPrefix6(ctx, cfg, subnet, state, request, now)
		return lease, conflict, err
	}
	lease, err := engine.pickAddress6(ctx, cfg, subnet, state, request, now)
	return lease, conflict, err
}

// Claims the reserved addresses or prefixes of the host, the first
// free one wins. The second returned value reports that at least one
// reserved candidate is held by another client and none was free.
func (engine *Engine) claimReservation6(ctx context.Context, cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, state *subnetState, request *Request6, host *dhcpcfg.Host, now time.Time) (*leasestore.Lease6, bool, error) {
	taken := false
	if request.LeaseType == dhcpmodel.LeaseTypePD {
		prefixes, err := host.ParsedPrefixes()
		if err != nil {
			return nil, false, nil
		}
		for _, prefix := range prefixes {
			lease, busy, err := engine.claimAddress6(ctx, cfg, subnet, state, request, prefix.Addr(), uint8(prefix.Bits()), host, now)
			if err != nil {
				return nil, false, err
			}
			if lease != nil {
				return lease, false, nil
			}
			taken = taken || busy
		}
		return nil, taken, nil
	}
	addrs, err := host.ParsedIPAddresses()
	if err != nil {
		return nil, false, nil
	}
	for _, addr := range addrs {
		lease, busy, err := engine.claimAddress6(ctx, cfg, subnet, state, request, addr, 128, host, now)
		if err != nil {
			return nil, false, err
		}
		if lease != nil {
			return lease, false, nil
		}
		taken = taken || busy
	}
	return nil, taken, nil
}

// Claims the address or prefix the client asks for when the
// configuration admits it.
func (engine *Engine) claimHint6(ctx context.Context, cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, state *subnetState, request *Request6, now time.Time) (*leasestore.Lease6, error) {
	if request.LeaseType == dhcpmodel.LeaseTypePD {
		prefix := request.RequestedPrefix
		if !prefix.IsValid() {
			return nil, nil
		}
		pool := subnet.PDPoolContaining(prefix)
		if pool == nil || !classAllowed(request.Classes, pool.ClientClass) || pool.Excludes(prefix) {
			return nil, nil
		}
		if holder := subnet.ReservationOf(prefix.Addr(), prefix.Bits()); holder != nil && !holder.Matches6(request.DUID, nil) {
			return nil, nil
		}
		lease, _, err := engine.claimAddress6(ctx, cfg, subnet, state, request, prefix.Addr(), uint8(prefix.Bits()), nil, now)
		return lease, err
	}
	for _, addr := range []netip.Addr{request.RequestedAddr, request.Hint} {
		addr = addr.Unmap()
		if !addr.IsValid() {
			continue
		}
		pool := subnet.PoolContaining(addr)
		if pool == nil || !classAllowed(request.Classes, pool.ClientClass) {
			continue
		}
		if holder := subnet.ReservationOf(addr, 128); holder != nil && !holder.Matches6(request.DUID, nil) {
			continue
		}
		lease, _, err := engine.claimAddress6(ctx, cfg, subnet, state, request, addr, 128, nil, now)
		if err != nil || lease != nil {
			return lease, err
		}
	}
	return nil, nil
}

func (engine *Engine) pickAddress6(ctx context.Context, cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, state *subnetState, request *Request6, now time.Time) (*leasestore.Lease6, error) {
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
				return nil, err
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
			if holder := subnet.ReservationOf(addr, 128); holder != nil && !holder.Matches6(request.DUID, nil) {
				occupancy.markUsed(addr)
				continue
			}
			lease, _, err := engine.claimAddress6(ctx, cfg, subnet, state, request, addr, 128, nil, now)
			if err != nil {
				return nil, err
			}
			if lease != nil {
				return lease, nil
			}
		}
	}
	return nil, nil
}

func (engine *Engine) pickPrefix6(ctx context.Context, cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, state *subnetState, request *Request6, now time.Time) (*leasestore.Lease6, error) {
	allocator := cfg.EffectivePDAllocator(subnet)
	budget := subnet.EffectiveAllocationRetries()
	attempt := 0
	for i := range subnet.PDPools {
		if budget <= 0 {
			break
		}
		pool := &subnet.PDPools[i]
		if !classAllowed(request.Classes, pool.ClientClass) {
			continue
		}
		occupancy := state.pdPools[i]
		if occupancy == nil || occupancy.full() {
			continue
		}
		picker := engine.pickerFor(allocator, occupancy, request.ClientKey())
		for budget > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
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
			prefix := netip.PrefixFrom(addr, pool.DelegatedLen)
			if pool.Excludes(prefix) {
				occupancy.markUsed(addr)
				continue
			}
			if holder := subnet.ReservationOf(addr, pool.DelegatedLen); holder != nil && !holder.Matches6(request.DUID, nil) {
				occupancy.markUsed(addr)
				continue
			}
			lease, _, err := engine.claimAddress6(ctx, cfg, subnet, state, request, addr, uint8(pool.DelegatedLen), nil, now)
			if err != nil {
				return nil, err
			}
			if lease != nil {
				return lease, nil
			}
		}
	}
	return nil, nil
}

func (engine *Engine) findClientLease6(ctx context.Context, subnet *dhcpcfg.Subnet6, request *Request6) (*leasestore.Lease6, error) {
	var leases []leasestore.Lease6
	err := engine.withRetry(ctx, "client lease query", func() error {
		var err error
		leases, err = engine.store.GetLeases6ByDUIDSubnet(ctx, request.DUID, request.IAID, subnet.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range leases {
		if leases[i].Type == request.LeaseType {
			return &leases[i], nil
		}
	}
	return nil, nil
}

func (engine *Engine) tryExtend6(ctx context.Context, cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, state *subnetState, request *Request6, lease *leasestore.Lease6, now time.Time) (*leasestore.Lease6, error) {
	addr := lease.Address
	holder := subnet.ReservationOf(addr, int(lease.PrefixLen))
	if holder != nil && !holder.Matches6(request.DUID, nil) {
		return nil, nil
	}
	inPool := false
	if lease.Type == dhcpmodel.LeaseTypePD {
		pool := subnet.PDPoolContaining(netip.PrefixFrom(addr, int(lease.PrefixLen)))
		inPool = pool != nil && classAllowed(request.Classes, pool.ClientClass)
	} else {
		pool := subnet.PoolContaining(addr)
		inPool = pool != nil && classAllowed(request.Classes, pool.ClientClass)
	}
	if !inPool && holder == nil {
		return nil, nil
	}

	unlock := engine.locks.lock(addr, byte(lease.Type))
	defer unlock()
	renewed := engine.newLease6(cfg, subnet, request, addr, lease.PrefixLen, holder, now)
	renewed.UserContext = lease.UserContext
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease6(ctx, renewed)
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

// Probes one candidate and commits a lease on it when it is free,
// expired-reclaimed or expired. The second returned value is true
// when an active lease of another client holds the candidate.
func (engine *Engine) claimAddress6(ctx context.Context, cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, state *subnetState, request *Request6, addr netip.Addr, prefixLen uint8, host *dhcpcfg.Host, now time.Time) (*leasestore.Lease6, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	addr = addr.Unmap()
	unlock := engine.locks.lock(addr, byte(request.LeaseType))
	defer unlock()

	var existing *leasestore.Lease6
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		existing, err = engine.store.GetLease6ByAddr(ctx, addr, request.LeaseType)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	switch {
	case existing == nil || existing.State == dhcpmodel.LeaseStateExpiredReclaimed:
		lease := engine.newLease6(cfg, subnet, request, addr, prefixLen, host, now)
		var added bool
		err := engine.withRetry(ctx, "lease insert", func() error {
			var err error
			added, err = engine.store.AddLease6(ctx, lease)
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
		engine.metrics.ActiveLeases.WithLabelValues(metrics.Family6).Inc()
		return lease, false, nil

	case existing.State == dhcpmodel.LeaseStateDefault && existing.DUID.Equal(request.DUID):
		renewed := engine.newLease6(cfg, subnet, request, addr, existing.PrefixLen, host, now)
		renewed.UserContext = existing.UserContext
		err := engine.withRetry(ctx, "lease update", func() error {
			return engine.store.UpdateLease6(ctx, renewed)
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
		lease := engine.newLease6(cfg, subnet, request, addr, prefixLen, host, now)
		err := engine.withRetry(ctx, "lease update", func() error {
			return engine.store.UpdateLease6(ctx, lease)
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

func (engine *Engine) newLease6(cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, request *Request6, addr netip.Addr, prefixLen uint8, host *dhcpcfg.Host, now time.Time) *leasestore.Lease6 {
	valid := cfg.EffectiveValidLifetime(subnet)
	preferred := cfg.EffectivePreferredLifetime(subnet)
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
	if request.LeaseType == dhcpmodel.LeaseTypePD {
		if pool := subnet.PDPoolContaining(netip.PrefixFrom(addr, int(prefixLen))); pool != nil {
			poolID = uint32(pool.ID)
		}
	} else if pool := subnet.PoolContaining(addr); pool != nil {
		poolID = uint32(pool.ID)
	}
	return &leasestore.Lease6{
		Address:           addr.Unmap(),
		PrefixLen:         prefixLen,
		Type:              request.LeaseType,
		DUID:              request.DUID,
		IAID:              request.IAID,
		PreferredLifetime: uint32(preferred),
		ValidLifetime:     uint32(valid),
		T1:                uint32(renew),
		T2:                uint32(rebind),
		CLTT:              now.Unix(),
		SubnetID:          subnet.ID,
		PoolID:            poolID,
		Fixed:             fixed,
		Hostname:          hostname,
		FqdnFwd:           request.FwdDNS,
		FqdnRev:           request.RevDNS,
		State:             dhcpmodel.LeaseStateDefault,
	}
}

// Renews the lease on the requested address or prefix.
func (engine *Engine) Renew6(ctx context.Context, request *Request6) (*leasestore.Lease6, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	addr := request.RequestedAddr.Unmap()
	if request.LeaseType == dhcpmodel.LeaseTypePD {
		addr = request.RequestedPrefix.Addr().Unmap()
	}
	if !addr.IsValid() {
		return nil, errors.New("renewal request carries no address")
	}
	snapshot := engine.holder.Acquire()
	cfg := snapshot.Config6
	now := ternutil.UTCNow()

	unlock := engine.locks.lock(addr, byte(request.LeaseType))
	defer unlock()
	var lease *leasestore.Lease6
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease6ByAddr(ctx, addr, request.LeaseType)
		return err
	})
	if err != nil {
		return nil, err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed {
		return nil, errors.Wrapf(leasestore.ErrNoSuchLease, "no lease for the address %s", addr)
	}
	if !lease.DUID.Equal(request.DUID) {
		return nil, ErrClientMismatch
	}
	subnet := cfg.FindSubnet(lease.SubnetID)
	if subnet == nil || !classAllowed(request.Classes, subnet.ClientClass) {
		return nil, ErrOutsidePool
	}
	holder := subnet.ReservationOf(addr, int(lease.PrefixLen))
	if holder != nil && !holder.Matches6(request.DUID, nil) {
		return nil, ErrReservedForOther
	}
	inPool := false
	if lease.Type == dhcpmodel.LeaseTypePD {
		pool := subnet.PDPoolContaining(netip.PrefixFrom(addr, int(lease.PrefixLen)))
		inPool = pool != nil && classAllowed(request.Classes, pool.ClientClass)
	} else {
		pool := subnet.PoolContaining(addr)
		inPool = pool != nil && classAllowed(request.Classes, pool.ClientClass)
	}
	if holder == nil && !inPool {
		return nil, ErrOutsidePool
	}

	renewed := engine.newLease6(cfg, subnet, request, addr, lease.PrefixLen, holder, now)
	renewed.UserContext = lease.UserContext
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease6(ctx, renewed)
	})
	if err != nil {
		return nil, err
	}
	engine.metrics.Renewals.Inc()
	engine.state6.occupy(subnet.ID, addr)
	return renewed, nil
}

// Releases the lease on the address or prefix. The client key must
// equal the lease DUID.
func (engine *Engine) Release6(ctx context.Context, addr netip.Addr, leaseType dhcpmodel.LeaseType, clientKey []byte) error {
	addr = addr.Unmap()
	unlock := engine.locks.lock(addr, byte(leaseType))
	defer unlock()
	var lease *leasestore.Lease6
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease6ByAddr(ctx, addr, leaseType)
		return err
	})
	if err != nil {
		return err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed {
		return errors.Wrapf(leasestore.ErrNoSuchLease, "no lease for the address %s", addr)
	}
	if !lease.DUID.Equal(clientKey) {
		return ErrClientMismatch
	}
	lease.State = dhcpmodel.LeaseStateExpiredReclaimed
	lease.ValidLifetime = 0
	lease.PreferredLifetime = 0
	lease.T1, lease.T2 = 0, 0
	lease.CLTT = ternutil.UTCNow().Unix()
	if err := ctx.Err(); err != nil {
		return err
	}
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease6(ctx, lease)
	})
	if err != nil {
		return err
	}
	engine.state6.free(lease.SubnetID, addr)
	engine.metrics.ActiveLeases.WithLabelValues(metrics.Family6).Dec()
	return nil
}

// Quarantines the declined IA_NA address. The lease keeps a one byte
// placeholder DUID because a stored lease must carry one.
func (engine *Engine) Decline6(ctx context.Context, addr netip.Addr) error {
	addr = addr.Unmap()
	unlock := engine.locks.lock(addr, byte(dhcpmodel.LeaseTypeNA))
	defer unlock()
	var lease *leasestore.Lease6
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease6ByAddr(ctx, addr, dhcpmodel.LeaseTypeNA)
		return err
	})
	if err != nil {
		return err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed {
		return errors.Wrapf(leasestore.ErrNoSuchLease, "no lease for the address %s", addr)
	}
	probation := engine.holder.Acquire().Config6.EffectiveDeclineProbationPeriod()
	lease.DUID = dhcpmodel.DUID{0}
	lease.IAID = 0
	lease.HWAddr = nil
	lease.Hostname = ""
	lease.FqdnFwd, lease.FqdnRev = false, false
	lease.State = dhcpmodel.LeaseStateDeclined
	lease.ValidLifetime = uint32(probation)
	lease.PreferredLifetime = 0
	lease.T1, lease.T2 = 0, 0
	lease.CLTT = ternutil.UTCNow().Unix()
	if err := ctx.Err(); err != nil {
		return err
	}
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease6(ctx, lease)
	})
	if err != nil {
		return err
	}
	engine.state6.occupy(lease.SubnetID, addr)
	engine.metrics.DeclinedLeases.Inc()
	return nil
}

// Returns the occupancy state of the subnet, building it from the
// store when the subnet is visited for the first time under the
// current snapshot.
func (engine *Engine) subnetState6(ctx context.Context, snapshot *dhcpsrv.Snapshot, subnet *dhcpcfg.Subnet6) (*subnetState, error) {
	state := &engine.state6
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
	for i := range subnet.PDPools {
		space, err := NewPrefixPool(&subnet.PDPools[i])
		if err != nil {
			log.WithError(err).WithField("pool", subnet.PDPools[i].Prefix).Warn("Skipping an invalid prefix pool")
			built.pdPools = append(built.pdPools, nil)
			continue
		}
		built.pdPools = append(built.pdPools, newPoolState(space))
	}
	var leases []leasestore.Lease6
	err := engine.withRetry(ctx, "subnet lease query", func() error {
		var err error
		leases, err = engine.store.GetLeases6BySubnet(ctx, subnet.ID)
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
