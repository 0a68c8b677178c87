package alloc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/leasestore"
	"isc.org/tern/metrics"
	ternutil "isc.org/tern/util"
)

// Defaults applied by the reclaimer when the configuration leaves the
// knobs unset.
const (
	DefaultReclaimInterval   int64 = 10
	DefaultReclaimBatchLimit int64 = 100
)

// ReclaimConfig controls the periodic lease reclamation.
type ReclaimConfig struct {
	// Seconds between the reclamation cycles. Zero selects the
	// default; a negative value suspends the periodic reclamation.
	Interval int64
	// Maximum number of expired leases read per family and cycle.
	// Zero selects the default; a negative value removes the limit.
	BatchLimit int64
	// Age after which the reclaimed leases are removed from the
	// store. Zero keeps them indefinitely.
	PurgeAge time.Duration
}

func (config ReclaimConfig) interval() int64 {
	if config.Interval == 0 {
		return DefaultReclaimInterval
	}
	return config.Interval
}

func (config ReclaimConfig) batchLimit() int64 {
	if config.BatchLimit == 0 {
		return DefaultReclaimBatchLimit
	}
	return config.BatchLimit
}

// Reclaimer periodically transitions the expired leases to the
// reclaimed state, returning their addresses to the free pools, and
// purges the reclaimed leases older than the configured age.
type Reclaimer struct {
	engine   *Engine
	config   ReclaimConfig
	pool     *ternutil.PausablePool
	executor *ternutil.PeriodicExecutor
}

// Creates a reclaimer. The engine must not be nil. The per-lease work
// of a cycle is spread over a worker pool sized by the multi-threading
// configuration of the engine.
func NewReclaimer(engine *Engine, config ReclaimConfig) *Reclaimer {
	return &Reclaimer{
		engine: engine,
		config: config,
		pool:   ternutil.NewPausablePool(engine.mt.EffectiveWorkerCount()),
	}
}

// Starts the periodic reclamation. The first cycle runs after one
// interval.
func (reclaimer *Reclaimer) Run() error {
	executor, err := ternutil.NewPeriodicExecutor("lease reclamation", func() error {
		return reclaimer.Reclaim(context.Background())
	}, func() (int64, error) {
		return reclaimer.config.interval(), nil
	})
	if err != nil {
		return err
	}
	reclaimer.executor = executor
	return nil
}

// Temporarily stops the periodic reclamation and pauses the worker
// pool, cutting an in-flight cycle short. The call blocks until the
// per-lease tasks running at the time of the call finish, so no lease
// write is in flight when it returns. Pause nests; the periodic
// reclamation resumes after the same number of Unpause calls. The
// reclaimer must be started with Run first.
func (reclaimer *Reclaimer) Pause() {
	reclaimer.executor.Pause()
	_ = reclaimer.pool.Pause()
}

// Resumes the periodic reclamation paused with Pause.
func (reclaimer *Reclaimer) Unpause() {
	_ = reclaimer.pool.Resume()
	reclaimer.executor.Unpause()
}

// Stops the periodic reclamation and the worker pool. Waits for an
// in-flight cycle to finish.
func (reclaimer *Reclaimer) Shutdown() {
	if reclaimer.executor != nil {
		reclaimer.executor.Shutdown()
	}
	reclaimer.pool.Stop()
}

// Performs one reclamation cycle over both families. The periodic
// executor calls it on every tick; the daemon calls it directly on
// demand.
func (reclaimer *Reclaimer) Reclaim(ctx context.Context) error {
	timer := prometheus.NewTimer(reclaimer.engine.metrics.ReclaimCycleDuration)
	defer timer.ObserveDuration()
	err4 := reclaimer.reclaim4(ctx)
	err6 := reclaimer.reclaim6(ctx)
	if err4 != nil {
		return err4
	}
	return err6
}

func (reclaimer *Reclaimer) reclaim4(ctx context.Context) error {
	engine := reclaimer.engine
	var expired []leasestore.Lease4
	err := engine.withRetry(ctx, "expired lease query", func() error {
		var err error
		expired, err = engine.store.GetExpiredLeases4(ctx, reclaimer.config.batchLimit())
		return err
	})
	if err != nil {
		return err
	}
	reclaimed := reclaimer.sweep(len(expired), func(i int) (bool, error) {
		return engine.reclaimLease4(ctx, &expired[i])
	})
	if reclaimed > 0 {
		log.WithFields(log.Fields{
			"family": metrics.Family4,
			"leases": reclaimed,
		}).Info("Reclaimed expired leases")
	}
	if reclaimer.config.PurgeAge <= 0 {
		return nil
	}
	var removed int64
	err = engine.withRetry(ctx, "reclaimed lease purge", func() error {
		var err error
		removed, err = engine.store.DeleteExpiredReclaimedLeases4(ctx, reclaimer.config.PurgeAge)
		return err
	})
	if err != nil {
		return err
	}
	if removed > 0 {
		log.WithFields(log.Fields{
			"family": metrics.Family4,
			"leases": removed,
		}).Info("Removed old reclaimed leases from the store")
	}
	return nil
}

func (reclaimer *Reclaimer) reclaim6(ctx context.Context) error {
	engine := reclaimer.engine
	var expired []leasestore.Lease6
	err := engine.withRetry(ctx, "expired lease query", func() error {
		var err error
		expired, err = engine.store.GetExpiredLeases6(ctx, reclaimer.config.batchLimit())
		return err
	})
	if err != nil {
		return err
	}
	reclaimed := reclaimer.sweep(len(expired), func(i int) (bool, error) {
		return engine.reclaimLease6(ctx, &expired[i])
	})
	if reclaimed > 0 {
		log.WithFields(log.Fields{
			"family": metrics.Family6,
			"leases": reclaimed,
		}).Info("Reclaimed expired leases")
	}
	if reclaimer.config.PurgeAge <= 0 {
		return nil
	}
	var removed int64
	err = engine.withRetry(ctx, "reclaimed lease purge", func() error {
		var err error
		removed, err = engine.store.DeleteExpiredReclaimedLeases6(ctx, reclaimer.config.PurgeAge)
		return err
	})
	if err != nil {
		return err
	}
	if removed > 0 {
		log.WithFields(log.Fields{
			"family": metrics.Family6,
			"leases": removed,
		}).Info("Removed old reclaimed leases from the store")
	}
	return nil
}

// Distributes the per-lease reclamation over the worker pool.
// Per-lease failures are logged and skipped so that one bad row does
// not abort the cycle; a paused or stopped pool cuts the sweep short
// and the next cycle picks up the rest. Returns the number of
// reclaimed leases.
func (reclaimer *Reclaimer) sweep(count int, reclaimOne func(i int) (bool, error)) int64 {
	var reclaimed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		at := i
		wg.Add(1)
		err := reclaimer.pool.Submit(func() {
			defer wg.Done()
			done, err := reclaimOne(at)
			if err != nil {
				log.WithError(err).Warn("Failed to reclaim the lease")
				return
			}
			if done {
				reclaimed.Add(1)
			}
		})
		if err != nil {
			wg.Done()
			log.WithError(err).Debug("Stopping the reclamation sweep early")
			break
		}
	}
	wg.Wait()
	return reclaimed.Load()
}

// Transitions one expired lease to the reclaimed state. The lease is
// probed again under the address lock, so a row renewed or released
// since the expired batch was read is left alone. Returns false when
// there was nothing to reclaim.
func (engine *Engine) reclaimLease4(ctx context.Context, candidate *leasestore.Lease4) (bool, error) {
	addr := candidate.Address
	unlock := engine.locks.lock(addr, 0)
	defer unlock()

	var lease *leasestore.Lease4
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease4ByAddr(ctx, addr)
		return err
	})
	if err != nil {
		return false, err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed || !lease.Expired(ternutil.UTCNow()) {
		return false, nil
	}
	lease.State = dhcpmodel.LeaseStateExpiredReclaimed
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease4(ctx, lease)
	})
	if errors.Is(err, leasestore.ErrNoSuchLease) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	engine.state4.free(lease.SubnetID, addr)
	engine.metrics.ReclaimedLeases.Inc()
	engine.metrics.ActiveLeases.WithLabelValues(metrics.Family4).Dec()
	return true, nil
}

func (engine *Engine) reclaimLease6(ctx context.Context, candidate *leasestore.Lease6) (bool, error) {
	addr := candidate.Address
	unlock := engine.locks.lock(addr, byte(candidate.Type))
	defer unlock()

	var lease *leasestore.Lease6
	err := engine.withRetry(ctx, "lease query", func() error {
		var err error
		lease, err = engine.store.GetLease6ByAddr(ctx, addr, candidate.Type)
		return err
	})
	if err != nil {
		return false, err
	}
	if lease == nil || lease.State == dhcpmodel.LeaseStateExpiredReclaimed || !lease.Expired(ternutil.UTCNow()) {
		return false, nil
	}
	lease.State = dhcpmodel.LeaseStateExpiredReclaimed
	err = engine.withRetry(ctx, "lease update", func() error {
		return engine.store.UpdateLease6(ctx, lease)
	})
	if errors.Is(err, leasestore.ErrNoSuchLease) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	engine.state6.free(lease.SubnetID, addr)
	engine.metrics.ReclaimedLeases.Inc()
	engine.metrics.ActiveLeases.WithLabelValues(metrics.Family6).Dec()
	return true, nil
}
