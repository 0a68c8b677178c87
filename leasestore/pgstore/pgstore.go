// Package pgstore implements the lease store backend persisting leases
// in a PostgreSQL database. The store runs over an established database
// connection owned by the caller and relies on the database to
// serialize conflicting writes on the same primary key.
package pgstore

import (
	"context"
	"fmt"

	"github.com/go-pg/pg/v10"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	dbops "isc.org/tern/database"
	"isc.org/tern/leasestore"
)

// The PostgreSQL lease store.
type Store struct {
	db          dbops.DBI
	version     leasestore.Version
	description string
	// Set when the store executes within a transaction opened by
	// RunInTransaction.
	transactional bool
}

var (
	_ leasestore.Manager           = (*Store)(nil)
	_ leasestore.TransactionRunner = (*Store)(nil)
)

// Opens the lease store over the given database connection. The schema
// version found in the database must match the version expected by the
// code, otherwise the open fails with leasestore.ErrIncompatibleSchema.
// The connection is owned by the caller and is not closed by the store.
func NewStore(db *dbops.PgDB) (*Store, error) {
	current, err := dbops.CurrentVersion(db)
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "problem checking the lease schema version")
	}
	available := dbops.AvailableVersion()
	if current != available {
		return nil, pkgerrors.Wrapf(leasestore.ErrIncompatibleSchema,
			"database holds the schema version %d but the server expects %d; run tern-db-migrate",
			current, available)
	}

	options := db.Options()
	store := &Store{
		db:          db,
		version:     leasestore.Version{Major: uint32(current)},
		description: fmt.Sprintf("PostgreSQL lease store in the %s database at %s", options.Database, options.Addr),
	}
	log.WithFields(log.Fields{
		"database": options.Database,
		"address":  options.Addr,
	}).Info("Opened the PostgreSQL lease store")
	return store, nil
}

// Returns the backend name.
func (store *Store) Name() string {
	return "postgresql"
}

// Returns a one-line description of the store instance.
func (store *Store) Description() string {
	return store.description
}

// Returns the schema version the store was opened over.
func (store *Store) Version(ctx context.Context) (leasestore.Version, error) {
	return store.version, nil
}

// Returns the backend kind.
func (store *Store) Kind() leasestore.Kind {
	return leasestore.KindRelational
}

// Releases the store resources. The database connection is owned by the
// caller and stays open.
func (store *Store) Close() {}

// Runs the callback with a store executing all its operations within
// one database transaction. Returning an error rolls the transaction
// back. A nested call joins the ongoing transaction.
func (store *Store) RunInTransaction(ctx context.Context, fn func(manager leasestore.Manager) error) error {
	if store.transactional {
		return fn(store)
	}
	return store.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(&Store{
			db:            tx,
			version:       store.version,
			description:   store.description,
			transactional: true,
		})
	})
}
