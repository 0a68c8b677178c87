package dbops

import (
	"fmt"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Minimum supported PostgreSQL server version.
var minSupportedDatabaseVersion = mustParseDatabaseServerVersion("10.0.0")

// Establishes a connection to the database without touching the schema.
// The connection is verified with a simple query, retried a few times
// to survive a database server that is still starting up.
func NewPgDBConn(settings *DatabaseSettings) (*PgDB, error) {
	pgParams, err := settings.convertToPgOptions()
	if err != nil {
		return nil, err
	}

	db := pg.Connect(pgParams)

	// Add the query logging hook before the connection check, so the
	// tracing covers all queries.
	if settings.TraceSQL.IsRuntime() {
		db.AddQueryHook(DBLogger{})
	}
	db.AddQueryHook(NewDBQuerySizeLimiterDefault())

	for tries := 0; tries < 10; tries++ {
		var n int
		_, err = db.QueryOne(pg.Scan(&n), "SELECT 1")
		if err == nil {
			break
		}
		if tries < 9 {
			log.WithError(err).Info("Retrying the database connection")
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "unable to connect to the database using provided credentials")
	}

	if err = checkDatabaseServerVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"database": settings.DBName,
		"user":     settings.User,
	}).Info("Connected to the database")
	return db, nil
}

// Establishes a connection to the database and migrates the schema to
// the latest version.
func NewApplicationDatabaseConn(settings *DatabaseSettings) (*PgDB, error) {
	db, err := NewPgDBConn(settings)
	if err != nil {
		return nil, err
	}

	oldVersion, newVersion, err := MigrateToLatest(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if oldVersion != newVersion {
		log.WithFields(log.Fields{
			"old-version": oldVersion,
			"new-version": newVersion,
		}).Info("Successfully migrated the database schema")
	}
	return db, nil
}

// Rolls back the transaction when the error pointed to is not nil.
// Meant to be deferred right after beginning a transaction, with the
// commit error assigned to the pointed variable.
func RollbackOnError(tx *pg.Tx, err *error) {
	if err != nil && *err != nil {
		_ = tx.Rollback()
	}
}

// Parses the PostgreSQL version in the major.minor.patch format into
// the numeric form used by the server_version_num variable.
func mustParseDatabaseServerVersion(version string) int {
	var major, minor, patch int
	n, err := fmt.Sscanf(version, "%d.%d.%d", &major, &minor, &patch)
	if err != nil || n != 3 {
		panic("invalid database server version format")
	}
	return major*10000 + minor*100 + patch
}

// Rejects the database servers older than the minimum supported
// version.
func checkDatabaseServerVersion(db *PgDB) error {
	var rawVersion int
	if _, err := db.QueryOne(pg.Scan(&rawVersion), "SELECT CAST(current_setting('server_version_num') AS integer)"); err != nil {
		return errors.Wrap(err, "problem reading the database server version")
	}
	if rawVersion < minSupportedDatabaseVersion {
		return errors.Errorf("unsupported database server version %d, required at least %d",
			rawVersion, minSupportedDatabaseVersion)
	}
	return nil
}
