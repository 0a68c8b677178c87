// The dbtest package prepares per-test databases. Each test case clones
// the terntest template database under a random name, so the tests can
// write freely and in parallel. The tests are skipped unless the
// TERN_DATABASE_* environment points to a running PostgreSQL server
// with the terntest template prepared by tern-db-migrate.
package dbtest

import (
	"fmt"
	"math/rand"
	"os"
	"testing"

	dbops "isc.org/tern/database"
	"isc.org/tern/database/maintenance"
)

func failOnError(testArg interface{}, err error) {
	if err == nil {
		return
	}
	if t, ok := (testArg).(*testing.T); ok {
		t.Fatalf("%+v", err)
	} else if b, ok := (testArg).(*testing.B); ok {
		b.Fatalf("%+v", err)
	} else {
		panic("Specified test parameter must have type *testing.T or *testing.B")
	}
}

func skipIfUnconfigured(testArg interface{}) {
	for _, variable := range []string{"TERN_DATABASE_HOST", "TERN_DATABASE_NAME", "TERN_DATABASE_URL"} {
		if os.Getenv(variable) != "" {
			return
		}
	}
	if t, ok := (testArg).(*testing.T); ok {
		t.Skip("database tests require the TERN_DATABASE_* environment")
	} else if b, ok := (testArg).(*testing.B); ok {
		b.Skip("database tests require the TERN_DATABASE_* environment")
	} else {
		panic("Specified test parameter must have type *testing.T or *testing.B")
	}
}

// Creates a randomly named clone of the terntest template database and
// returns the settings for connecting to it.
func createDatabaseTestCase() (settings *dbops.DatabaseSettings, maintenanceSettings *dbops.DatabaseSettings, err error) {
	flags := &dbops.DatabaseCLIFlagsWithMaintenance{
		DatabaseCLIFlags: dbops.DatabaseCLIFlags{
			DBName: "terntest",
			User:   "terntest",
			Host:   "/var/run/postgresql",
			Port:   5432,
		},
		MaintenanceDBName: "postgres",
		MaintenanceUser:   "postgres",
	}

	flags.ReadFromEnvironment()

	maintenanceSettings, err = flags.ConvertToMaintenanceDatabaseSettings()
	if err != nil {
		return
	}

	db, err := dbops.NewPgDBConn(maintenanceSettings)
	if err != nil {
		return
	}
	defer db.Close()

	templateDBName := flags.DBName
	dbName := fmt.Sprintf("%s%d", templateDBName, rand.Int63()) //nolint:gosec

	if err = maintenance.DropDatabaseIfExists(db, dbName); err != nil {
		return
	}
	if _, err = maintenance.CreateDatabaseFromTemplate(db, dbName, templateDBName); err != nil {
		return
	}

	settings, err = flags.ConvertToDatabaseSettings()
	if err != nil {
		return
	}

	settings.DBName = dbName
	maintenanceSettings.DBName = dbName

	return settings, maintenanceSettings, nil
}

func prepareDBInstance(settings *dbops.DatabaseSettings) (*dbops.PgDB, func(), error) {
	db, err := dbops.NewPgDBConn(settings)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		db.Close()
	}, nil
}

// Prepares a unit test setup with a dedicated database clone and
// returns the teardown function. The specified argument must be of a
// *testing.T or *testing.B type.
func SetupDatabaseTestCase(testArg interface{}) (*dbops.PgDB, *dbops.DatabaseSettings, func()) {
	skipIfUnconfigured(testArg)
	settings, _, err := createDatabaseTestCase()
	failOnError(testArg, err)
	db, teardown, err := prepareDBInstance(settings)
	failOnError(testArg, err)
	return db, settings, teardown
}

// Prepares a unit test setup with a dedicated database clone accessed
// with the maintenance credentials, and returns the teardown function.
// The specified argument must be of a *testing.T or *testing.B type.
func SetupDatabaseTestCaseAsMaintenance(testArg interface{}) (*dbops.PgDB, *dbops.DatabaseSettings, func()) {
	skipIfUnconfigured(testArg)
	_, settings, err := createDatabaseTestCase()
	failOnError(testArg, err)
	db, teardown, err := prepareDBInstance(settings)
	failOnError(testArg, err)
	return db, settings, teardown
}
