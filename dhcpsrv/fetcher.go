package dhcpsrv

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"isc.org/tern/cb"
	"isc.org/tern/metrics"
	ternutil "isc.org/tern/util"
)

// Identifies one audit feed: a backend and a family.
type feedKey struct {
	backend int
	family  ternutil.IPType
}

// CBFetcher polls the audit feeds of the configuration backends and
// applies the changes made by the peer servers. On a non-empty batch
// of audit entries it rebuilds the affected family's configuration,
// commits a new snapshot to the holder and only then dispatches the
// batch through the notifier, so a notified subscriber already sees
// the new configuration. Fetch errors keep the watermarks in place and
// the affected entries are fetched again on the next cycle.
type CBFetcher struct {
	selector cb.ServerSelector
	holder   *SnapshotHolder
	notifier *cb.Notifier
	metrics  *metrics.FetcherMetrics
	backends []ConfigBackend

	executor *ternutil.PeriodicExecutor

	mu    sync.Mutex
	marks map[feedKey]Watermark
}

// Creates a fetcher. The fetcher starts with the zero watermarks, so
// its first cycle replays the whole audit feeds and rebuilds both
// family configurations from scratch; the following cycles apply the
// increments only. The holder, the notifier and the metrics sink must
// not be nil.
func NewCBFetcher(selector cb.ServerSelector, holder *SnapshotHolder, notifier *cb.Notifier, sink *metrics.FetcherMetrics, backends ...ConfigBackend) *CBFetcher {
	return &CBFetcher{
		selector: selector,
		holder:   holder,
		notifier: notifier,
		metrics:  sink,
		backends: backends,
		marks:    make(map[feedKey]Watermark),
	}
}

// Starts fetching periodically with the interval in seconds returned
// by getInterval. The interval function is re-evaluated after every
// cycle, so the interval can be changed at runtime; a non-positive
// interval suspends the fetching until it becomes positive again.
func (fetcher *CBFetcher) Run(getInterval func() (int64, error)) error {
	executor, err := ternutil.NewPeriodicExecutor("config backend fetcher", func() error {
		return fetcher.Refresh(context.Background())
	}, getInterval)
	if err != nil {
		return err
	}
	fetcher.executor = executor
	return nil
}

// Temporarily stops the periodic fetching, e.g. for the time of a bulk
// configuration edit. Pause nests; the fetching resumes after the same
// number of Unpause calls. The fetcher must be started with Run first.
func (fetcher *CBFetcher) Pause() {
	fetcher.executor.Pause()
}

// Resumes the periodic fetching paused with Pause.
func (fetcher *CBFetcher) Unpause() {
	fetcher.executor.Unpause()
}

// Checks if the periodic fetching is paused.
func (fetcher *CBFetcher) Paused() bool {
	return fetcher.executor.Paused()
}

// Stops the periodic fetching.
func (fetcher *CBFetcher) Shutdown() {
	if fetcher.executor != nil {
		fetcher.executor.Shutdown()
	}
}

// Performs one fetch cycle. The periodic executor calls it on every
// tick; the daemon calls it directly for the initial synchronization.
func (fetcher *CBFetcher) Refresh(ctx context.Context) error {
	err := fetcher.refresh(ctx)
	result := metrics.FetchSuccess
	if err != nil {
		result = metrics.FetchError
	}
	fetcher.metrics.ConfigFetches.WithLabelValues(result).Inc()
	return err
}

func (fetcher *CBFetcher) refresh(ctx context.Context) error {
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()

	var batch4, batch6 []cb.AuditEntry
	advanced := make(map[feedKey]Watermark)
	var lastErr error
	for at, backend := range fetcher.backends {
		key := feedKey{backend: at, family: ternutil.IPv4}
		mark := fetcher.marks[key]
		entries, err := backend.GetRecentAuditEntries4(ctx, fetcher.selector, mark.Time, mark.Revision)
		switch {
		case err != nil:
			lastErr = errors.WithMessagef(err, "problem fetching the IPv4 audit entries from the %s backend", backend.Name())
		case len(entries) > 0:
			batch4 = append(batch4, entries...)
			advanced[key] = mark.Advance(entries)
		}
		key = feedKey{backend: at, family: ternutil.IPv6}
		mark = fetcher.marks[key]
		switch entries, err = backend.GetRecentAuditEntries6(ctx, fetcher.selector, mark.Time, mark.Revision); {
		case err != nil:
			lastErr = errors.WithMessagef(err, "problem fetching the IPv6 audit entries from the %s backend", backend.Name())
		case len(entries) > 0:
			batch6 = append(batch6, entries...)
			advanced[key] = mark.Advance(entries)
		}
	}
	if len(batch4) == 0 && len(batch6) == 0 {
		return lastErr
	}

	current := fetcher.holder.Acquire()
	snapshot := &Snapshot{
		Config4:  current.Config4,
		Config6:  current.Config6,
		Globals4: current.Globals4,
		Globals6: current.Globals6,
		Revision: current.Revision,
	}
	var err error
	if len(batch4) > 0 {
		if snapshot.Config4, snapshot.Globals4, err = buildConfig4(ctx, fetcher.selector, fetcher.backends); err != nil {
			return err
		}
	}
	if len(batch6) > 0 {
		if snapshot.Config6, snapshot.Globals6, err = buildConfig6(ctx, fetcher.selector, fetcher.backends); err != nil {
			return err
		}
	}
	for key, mark := range advanced {
		fetcher.marks[key] = mark
		if mark.After(snapshot.Revision) {
			snapshot.Revision = mark
		}
	}
	fetcher.holder.Commit(snapshot)
	fetcher.metrics.SnapshotCommits.Inc()
	fetcher.metrics.PoolCapacity.WithLabelValues(metrics.Family4).Set(Capacity4(snapshot.Config4).ToFloat64())
	fetcher.metrics.PoolCapacity.WithLabelValues(metrics.Family6).Set(Capacity6(snapshot.Config6).ToFloat64())
	log.WithFields(log.Fields{
		"revision": snapshot.Revision,
		"entries":  len(batch4) + len(batch6),
	}).Info("Applied a configuration change from the backends")

	if len(batch4) > 0 {
		cb.SortAuditEntries(batch4)
		fetcher.notifier.Notify(ternutil.IPv4, batch4)
	}
	if len(batch6) > 0 {
		cb.SortAuditEntries(batch6)
		fetcher.notifier.Notify(ternutil.IPv6, batch6)
	}
	return lastErr
}
