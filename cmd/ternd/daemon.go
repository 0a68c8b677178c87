package main

import (
	"context"
	"net/http"
	"os"
	"time"

	fqdn "github.com/Showmax/go-fqdn"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"isc.org/tern/alloc"
	"isc.org/tern/cb"
	"isc.org/tern/cb/memcb"
	"isc.org/tern/cb/pgcb"
	dbops "isc.org/tern/database"
	"isc.org/tern/dhcpcfg"
	"isc.org/tern/dhcpsrv"
	"isc.org/tern/leasestore"
	"isc.org/tern/leasestore/memfile"
	"isc.org/tern/leasestore/pgstore"
	"isc.org/tern/metrics"
	ternutil "isc.org/tern/util"
)

// Global Tern daemon state.
type TernDaemon struct {
	Settings  *Settings
	ServerTag string

	DB    *dbops.PgDB
	Store leasestore.Manager

	Backends []dhcpsrv.ConfigBackend
	Holder   *dhcpsrv.SnapshotHolder
	Notifier *cb.Notifier
	Fetcher  *dhcpsrv.CBFetcher

	Engine    *alloc.Engine
	Reclaimer *alloc.Reclaimer

	Metrics       *metrics.Metrics
	metricsServer *http.Server
}

// Returns the server tag identifying this instance in the
// configuration backends. An explicit tag takes precedence; otherwise
// the fully qualified host name is used, falling back to the plain
// host name when the FQDN cannot be determined.
func serverTag(settings *GeneralSettings) (string, error) {
	tag := settings.ServerTag
	if tag == "" {
		var err error
		tag, err = fqdn.FqdnHostname()
		if err != nil {
			log.WithError(err).Debug("Cannot resolve the host FQDN, using the host name")
			tag, err = os.Hostname()
			if err != nil {
				return "", errors.Wrap(err, "cannot determine the default server tag")
			}
		}
	}
	if err := cb.ValidateServerTag(tag); err != nil {
		return "", err
	}
	return tag, nil
}

// Init for Tern daemon state. Opens the lease store and the
// configuration backend, seeds the backend from the configuration file
// when the backend holds no configuration yet, and performs the
// initial configuration synchronization.
func NewTernDaemon(settings *Settings) (daemon *TernDaemon, err error) {
	daemon = &TernDaemon{
		Settings: settings,
		Holder:   dhcpsrv.NewSnapshotHolder(),
		Notifier: cb.NewNotifier(),
		Metrics:  metrics.New(),
	}
	defer func() {
		if err != nil {
			daemon.close()
		}
	}()

	daemon.ServerTag, err = serverTag(settings.GeneralSettings)
	if err != nil {
		return nil, err
	}
	log.WithField("tag", daemon.ServerTag).Info("Using the server tag")

	// A single database connection is shared when both the lease store
	// and the configuration backend live in PostgreSQL.
	openDB := func() (*dbops.PgDB, error) {
		if daemon.DB == nil {
			db, err := dbops.NewPgDBConn(settings.DatabaseSettings)
			if err != nil {
				return nil, err
			}
			daemon.DB = db
		}
		return daemon.DB, nil
	}

	switch settings.LeaseStoreSettings.Backend {
	case "pg":
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		daemon.Store, err = pgstore.NewStore(db)
		if err != nil {
			return nil, err
		}
	default:
		daemon.Store, err = memfile.NewStore(memfile.Config{
			LeaseFile4:  settings.LeaseStoreSettings.LeaseFile4,
			LeaseFile6:  settings.LeaseStoreSettings.LeaseFile6,
			LFCInterval: settings.LeaseStoreSettings.LFCInterval,
			LFCCommand:  settings.LeaseStoreSettings.LFCCommand,
		})
		if err != nil {
			return nil, err
		}
	}

	var backend dhcpsrv.ConfigBackend
	switch settings.ConfigBackendSettings.Backend {
	case "pg":
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		backend, err = pgcb.NewBackend(db)
		if err != nil {
			return nil, err
		}
	default:
		backend = memcb.New()
	}
	daemon.Backends = []dhcpsrv.ConfigBackend{backend}

	ctx := context.Background()
	selector := cb.SelectOne(daemon.ServerTag)

	if settings.GeneralSettings.ConfigFile != "" {
		file, err := dhcpcfg.LoadFile(settings.GeneralSettings.ConfigFile)
		if err != nil {
			return nil, err
		}
		err = seedConfigBackend(ctx, backend, daemon.ServerTag, file)
		if err != nil {
			return nil, errors.WithMessagef(err, "cannot seed the configuration backend from file: '%s'", settings.GeneralSettings.ConfigFile)
		}
	}

	daemon.Fetcher = dhcpsrv.NewCBFetcher(selector, daemon.Holder, daemon.Notifier, daemon.Metrics.Fetcher, daemon.Backends...)
	// Pull the initial configuration before the engine starts serving.
	if err = daemon.Fetcher.Refresh(ctx); err != nil {
		return nil, err
	}
	snapshot := daemon.Holder.Acquire()
	log.WithFields(log.Fields{
		"subnets4": len(snapshot.Config4.Subnets),
		"subnets6": len(snapshot.Config6.Subnets),
	}).Info("Built the initial configuration snapshot")

	err = daemon.Notifier.Subscribe("audit-log", func(family ternutil.IPType, entries []cb.AuditEntry) {
		for _, entry := range entries {
			log.WithFields(log.Fields{
				"family": family,
				"object": entry.ObjectType,
				"change": entry.ModificationType,
				"id":     entry.ObjectID,
			}).Debug("Configuration object changed")
		}
	})
	if err != nil {
		return nil, err
	}

	daemon.Engine = alloc.NewEngine(
		daemon.Store,
		daemon.Holder,
		ternutil.MultiThreadingConfig{Enabled: true, WorkerCount: settings.GeneralSettings.Workers},
		alloc.OperationRetry{},
		daemon.Metrics.Engine,
	)
	daemon.Reclaimer = alloc.NewReclaimer(daemon.Engine, alloc.ReclaimConfig{
		Interval:   settings.ReclaimSettings.Interval,
		BatchLimit: settings.ReclaimSettings.BatchLimit,
		PurgeAge:   time.Duration(settings.ReclaimSettings.HoldTime) * time.Second,
	})

	return daemon, nil
}

// Seeds the configuration backend from the parsed configuration file
// unless the backend already holds a configuration for this server.
// All objects of one family are written in a single transaction, so
// they share one audit revision and the fetchers observe the seeded
// configuration atomically.
func seedConfigBackend(ctx context.Context, backend dhcpsrv.ConfigBackend, tag string, file *dhcpcfg.File) error {
	selector := cb.SelectOne(tag)

	entries4, err := backend.GetRecentAuditEntries4(ctx, selector, time.Time{}, 0)
	if err != nil {
		return err
	}
	entries6, err := backend.GetRecentAuditEntries6(ctx, selector, time.Time{}, 0)
	if err != nil {
		return err
	}
	if len(entries4) > 0 || len(entries6) > 0 {
		log.WithField("backend", backend.Name()).Info("The configuration backend is not empty, skipping the file seed")
		return nil
	}

	if file.Dhcp4 != nil {
		cfg := file.Dhcp4
		err = backend.RunWithTransaction4(ctx, func(tx cb.Backend4) error {
			if err := tx.CreateUpdateServer4(ctx, &cb.Server{Tag: tag, Description: "seeded from the configuration file"}); err != nil {
				return err
			}
			for _, value := range cfg.GlobalParameters() {
				if err := tx.CreateUpdateGlobalParameter4(ctx, selector, value); err != nil {
					return err
				}
			}
			for i := range cfg.OptionDefs {
				if err := tx.CreateUpdateOptionDef4(ctx, selector, &cfg.OptionDefs[i]); err != nil {
					return err
				}
			}
			for i := range cfg.Options {
				if err := tx.CreateUpdateOption4(ctx, selector, &cfg.Options[i]); err != nil {
					return err
				}
			}
			for i := range cfg.SharedNetworks {
				if err := tx.CreateUpdateSharedNetwork4(ctx, selector, &cfg.SharedNetworks[i]); err != nil {
					return err
				}
			}
			for i := range cfg.Subnets {
				if err := tx.CreateUpdateSubnet4(ctx, selector, &cfg.Subnets[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"subnets":  len(cfg.Subnets),
			"networks": len(cfg.SharedNetworks),
		}).Info("Seeded the DHCPv4 configuration")
	}

	if file.Dhcp6 != nil {
		cfg := file.Dhcp6
		err = backend.RunWithTransaction6(ctx, func(tx cb.Backend6) error {
			if err := tx.CreateUpdateServer6(ctx, &cb.Server{Tag: tag, Description: "seeded from the configuration file"}); err != nil {
				return err
			}
			for _, value := range cfg.GlobalParameters() {
				if err := tx.CreateUpdateGlobalParameter6(ctx, selector, value); err != nil {
					return err
				}
			}
			for i := range cfg.OptionDefs {
				if err := tx.CreateUpdateOptionDef6(ctx, selector, &cfg.OptionDefs[i]); err != nil {
					return err
				}
			}
			for i := range cfg.Options {
				if err := tx.CreateUpdateOption6(ctx, selector, &cfg.Options[i]); err != nil {
					return err
				}
			}
			for i := range cfg.SharedNetworks {
				if err := tx.CreateUpdateSharedNetwork6(ctx, selector, &cfg.SharedNetworks[i]); err != nil {
					return err
				}
			}
			for i := range cfg.Subnets {
				if err := tx.CreateUpdateSubnet6(ctx, selector, &cfg.Subnets[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"subnets":  len(cfg.Subnets),
			"networks": len(cfg.SharedNetworks),
		}).Info("Seeded the DHCPv6 configuration")
	}

	return nil
}

// Run Tern daemon. Starts the periodic executors and the metrics
// endpoint; it does not block.
func (daemon *TernDaemon) Serve() error {
	err := daemon.Fetcher.Run(func() (int64, error) {
		return daemon.Settings.ConfigBackendSettings.FetchInterval, nil
	})
	if err != nil {
		return err
	}
	if err = daemon.Reclaimer.Run(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", daemon.Metrics.Handler())
	daemon.metricsServer = &http.Server{
		Addr:         daemon.Settings.GeneralSettings.MetricsAddress,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := daemon.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Problem serving the metrics endpoint")
		}
	}()
	log.WithField("address", daemon.Settings.GeneralSettings.MetricsAddress).Info("Started serving the Prometheus metrics")

	return nil
}

// Shutdown for Tern daemon state.
func (daemon *TernDaemon) Shutdown() {
	log.Println("Shutting down Tern")
	if daemon.Fetcher != nil {
		daemon.Fetcher.Shutdown()
	}
	if daemon.Reclaimer != nil {
		daemon.Reclaimer.Shutdown()
	}
	if daemon.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := daemon.metricsServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Problem stopping the metrics endpoint")
		}
	}
	daemon.close()
	log.Println("Tern shut down")
}

// Closes the stores and the database connection.
func (daemon *TernDaemon) close() {
	for _, backend := range daemon.Backends {
		backend.Close()
	}
	daemon.Backends = nil
	if daemon.Store != nil {
		daemon.Store.Close()
		daemon.Store = nil
	}
	if daemon.DB != nil {
		_ = daemon.DB.Close()
		daemon.DB = nil
	}
}
