package dbops

import (
	"context"
	"strconv"

	"github.com/go-pg/migrations/v8"
	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"isc.org/tern/database/maintenance"

	// Registers the schema migrations in the migration framework.
	_ "isc.org/tern/database/migrations"
)

// Checks if the migrations table exists, i.e. the 'init' command was called.
func Initialized(db *PgDB) bool {
	var n int
	_, err := db.QueryOne(pg.Scan(&n), "SELECT count(*) FROM gopg_migrations")
	return err == nil
}

// Migrates the database version down to 0 and then removes the
// gopg_migrations table.
func Toss(db *PgDB) error {
	if db == nil {
		return errors.New("database is nil")
	}

	if !Initialized(db) {
		return nil
	}

	_, _, err := Migrate(db, "reset")
	if err != nil {
		return err
	}

	return db.RunInTransaction(context.Background(), func(tx *pg.Tx) (err error) {
		if err := maintenance.DropTableIfExists(tx, "gopg_migrations"); err != nil {
			return err
		}
		return maintenance.DropSequenceIfExists(tx, "gopg_migrations_id_seq")
	})
}

// Migrates the database. The args specify one of the migration
// operations supported by go-pg/migrations. The returned values contain
// the old and the new database version.
func Migrate(db *PgDB, args ...string) (oldVersion, newVersion int64, err error) {
	if len(args) > 0 && args[0] == "up" && !Initialized(db) {
		if oldVersion, newVersion, err = migrations.Run(db, "init"); err != nil {
			return oldVersion, newVersion, errors.Wrapf(err, "problem initiating database")
		}
	}

	// The migration framework does not support migrating down to a
	// specific version, but it can migrate down one step. Run the
	// single step as many times as needed.
	if len(args) > 1 && args[0] == "down" {
		var oldVer int64
		if oldVer, _, err = migrations.Run(db, "version"); err != nil {
			return oldVer, oldVer, errors.Wrapf(err, "problem checking database version")
		}
		toVer, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return oldVer, oldVer, errors.Wrapf(err, "can't parse -t argument %s as database version (expected integer)", args[1])
		}

		if toVer >= oldVer {
			return oldVer, oldVer, errors.Errorf("can't migrate down, current version %d, want to migrate to %d", oldVer, toVer)
		}
		startVer := oldVer
		var newVer int64
		for i := oldVer; i > toVer; i-- {
			if oldVer, newVer, err = migrations.Run(db, "down"); err != nil {
				return oldVer, oldVer, errors.Wrapf(err, "problem migrating database down")
			}
		}
		return startVer, newVer, nil
	}

	oldVersion, newVersion, err = migrations.Run(db, args...)
	if err != nil {
		return oldVersion, newVersion, errors.Wrapf(err, "problem migrating database, old: %d, new: %d", oldVersion, newVersion)
	}
	return oldVersion, newVersion, nil
}

// Migrates the database to the latest version, initializing the
// migration framework first when necessary.
func MigrateToLatest(db *PgDB) (oldVersion, newVersion int64, err error) {
	return Migrate(db, "up")
}

// Checks what is the highest available schema version.
func AvailableVersion() int64 {
	if migrations := migrations.RegisteredMigrations(); len(migrations) > 0 {
		return migrations[len(migrations)-1].Version
	}
	return 0
}

// Returns current schema version.
func CurrentVersion(db *PgDB) (int64, error) {
	return migrations.Version(db)
}

// Prepares a new database for the tern server. This function must be
// called with the maintenance (admin) database credentials, typically
// the postgres user and the postgres database. The dbName and userName
// denote the created database and user. The force flag indicates
// whether an existing database and user should be dropped and
// re-created. The function grants the created user all privileges on
// the new database.
func CreateDatabase(settings DatabaseSettings, dbName, userName, password string, force bool) error {
	db, err := NewPgDBConn(&settings)
	if err != nil {
		return err
	}
	defer db.Close()

	if force {
		if err = maintenance.DropDatabaseIfExists(db, dbName); err != nil {
			return err
		}
	}
	// The database creation cannot be done in a transaction.
	isCreated, err := maintenance.CreateDatabase(db, dbName)
	if err != nil {
		return err
	} else if !isCreated {
		log.Infof("Database '%s' already exists", dbName)
	}

	// Connect to the newly created database to set up the user there.
	db.Close()
	settings.DBName = dbName
	db, err = NewPgDBConn(&settings)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.RunInTransaction(context.Background(), func(tx *pg.Tx) (err error) {
		hasUser, err := maintenance.HasUser(tx, userName)
		if err != nil {
			return err
		}

		if hasUser && force {
			if err = maintenance.RevokeAllPrivilegesOnSchemaFromUser(tx, "public", userName); err != nil {
				return err
			}
			if err = maintenance.DropUserSafe(tx, userName); err != nil {
				return err
			}
			hasUser = false
		}

		if hasUser {
			log.Infof("User '%s' already exists", userName)
		} else if err = maintenance.CreateUser(tx, userName); err != nil {
			return err
		}

		if err = maintenance.GrantAllPrivilegesOnDatabaseToUser(tx, dbName, userName); err != nil {
			return err
		}
		// Full control over the public schema is necessary for modern
		// Postgres installations.
		if err = maintenance.GrantAllPrivilegesOnSchemaToUser(tx, "public", userName); err != nil {
			return err
		}

		if password != "" {
			if err = maintenance.AlterUserPassword(tx, userName, password); err != nil {
				return err
			}
		}
		return nil
	})
}
