package dbops

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
)

// The tern binaries use different CLI libraries: the daemon parses its
// flags with go-flags while the migration tool uses urfave/cli. The
// helpers below read the database parameters from the struct tags so
// that both libraries expose a consistent set of flags and environment
// variables.

// Iterates over the leaf fields of a struct, descending into the nested
// structs breadth-first. The callback receives the field description
// and its value; the value is invalid when the object is nil.
func iterateOverFields(obj any, f func(field reflect.StructField, valueField reflect.Value)) {
	type fieldValuePair struct {
		field reflect.StructField
		value reflect.Value
	}

	v := reflect.ValueOf(obj).Elem()
	vType := reflect.TypeOf(obj).Elem()

	var fieldQueue []fieldValuePair
	for i := 0; i < vType.NumField(); i++ {
		var valueField reflect.Value
		if v.IsValid() {
			valueField = v.Field(i)
		}
		fieldQueue = append(fieldQueue, fieldValuePair{
			field: vType.Field(i),
			value: valueField,
		})
	}

	for len(fieldQueue) != 0 {
		pair := fieldQueue[0]
		fieldQueue = fieldQueue[1:]

		fieldType := pair.field.Type
		if fieldType.Kind() == reflect.Struct {
			for i := 0; i < fieldType.NumField(); i++ {
				var valueField reflect.Value
				if pair.value.IsValid() {
					valueField = pair.value.Field(i)
				}
				fieldQueue = append(fieldQueue, fieldValuePair{
					field: fieldType.Field(i),
					value: valueField,
				})
			}
			continue
		}

		f(pair.field, pair.value)
	}
}

// Sets the struct fields from an external lookup keyed by the given
// struct tag. Unsupported field types are skipped.
func setFieldsBasedOnTags(obj any, tagName string, valueLookup func(string) (string, bool)) {
	iterateOverFields(obj, func(field reflect.StructField, valueField reflect.Value) {
		key, ok := field.Tag.Lookup(tagName)
		if !ok {
			return
		}
		value, ok := valueLookup(key)
		if !ok {
			return
		}

		switch field.Type.Kind() {
		case reflect.Int64:
			// Only the time.Duration flavor of int64 is used in the
			// flag structs.
			if field.Type.AssignableTo(reflect.TypeOf(time.Duration(0))) {
				duration, err := time.ParseDuration(value)
				if err != nil {
					return
				}
				valueField.SetInt(int64(duration))
			}
		case reflect.String:
			valueField.SetString(value)
		case reflect.Int:
			parsed, err := strconv.ParseInt(value, 10, 0)
			if err != nil {
				return
			}
			valueField.SetInt(parsed)
		default:
		}
	})
}

// Reads the member values from the environment variables named by the
// 'env' struct tags.
func readFromEnvironment(obj any) {
	setFieldsBasedOnTags(obj, "env", os.LookupEnv)
}

// The lookup used to read the flag values parsed by an external CLI
// library.
type CLILookup interface {
	IsSet(key string) bool
	String(key string) string
}

// Reads the member values from the CLI flags named by the 'long' struct
// tags using the external lookup.
func readFromCLI(obj any, lookup CLILookup) {
	setFieldsBasedOnTags(obj, "long", func(key string) (string, bool) {
		value := lookup.String(key)
		if value != "" || lookup.IsSet(key) {
			return value, true
		}
		return "", false
	})
}

// The definition of a CLI flag extracted from the struct tags used by
// the github.com/jessevdk/go-flags library.
type CLIFlagDefinition struct {
	Short               string
	Long                string
	Description         string
	EnvironmentVariable string
	Default             string
	Kind                reflect.Kind
}

// Reads the CLI flag metadata from the struct tags. Safe for nil
// pointers.
func convertToCLIFlagDefinitions(obj any) []*CLIFlagDefinition {
	var flags []*CLIFlagDefinition
	iterateOverFields(obj, func(field reflect.StructField, _ reflect.Value) {
		var flag CLIFlagDefinition
		flag.Kind = field.Type.Kind()
		if value, ok := field.Tag.Lookup("short"); ok {
			flag.Short = value
		}
		if value, ok := field.Tag.Lookup("long"); ok {
			flag.Long = value
		}
		if value, ok := field.Tag.Lookup("description"); ok {
			flag.Description = value
		}
		if value, ok := field.Tag.Lookup("env"); ok {
			flag.EnvironmentVariable = value
		}
		if value, ok := field.Tag.Lookup("default"); ok {
			flag.Default = value
		}
		flags = append(flags, &flag)
	})
	return flags
}

// General definition of the CLI flags used to connect to the database.
type DatabaseCLIFlags struct {
	URL          string        `long:"db-url" description:"The URL to locate the tern PostgreSQL database" env:"TERN_DATABASE_URL"`
	DBName       string        `short:"d" long:"db-name" description:"The name of the database to connect to" env:"TERN_DATABASE_NAME" default:"tern"`
	User         string        `short:"u" long:"db-user" description:"The user name to be used for database connections" env:"TERN_DATABASE_USER_NAME" default:"tern"`
	Password     string        `long:"db-password" description:"The database password to be used for database connections; it is recommended to provide this value using an environment variable or leave it empty to type it in the safe prompt" env:"TERN_DATABASE_PASSWORD"`
	Host         string        `long:"db-host" description:"The host name, IP address or socket directory where the database is available" env:"TERN_DATABASE_HOST" default:""`
	Port         int           `short:"p" long:"db-port" description:"The port on which the database is available" env:"TERN_DATABASE_PORT" default:"5432"`
	SSLMode      string        `long:"db-sslmode" description:"The SSL mode for connecting to the database" choice:"disable" choice:"require" choice:"verify-ca" choice:"verify-full" env:"TERN_DATABASE_SSLMODE" default:"disable"`
	SSLCert      string        `long:"db-sslcert" description:"The location of the SSL certificate used by the server to connect to the database" env:"TERN_DATABASE_SSLCERT"`
	SSLKey       string        `long:"db-sslkey" description:"The location of the SSL key used by the server to connect to the database" env:"TERN_DATABASE_SSLKEY"`
	SSLRootCert  string        `long:"db-sslrootcert" description:"The location of the root certificate file used to verify the database server's certificate" env:"TERN_DATABASE_SSLROOTCERT"`
	TraceSQL     string        `long:"db-trace-queries" description:"Enable tracing SQL queries: run (only run-time, without migrations), all (migrations and run-time), or none (no query logging)" env:"TERN_DATABASE_TRACE" choice:"run" choice:"all" choice:"none" default:"none"`
	ReadTimeout  time.Duration `long:"db-read-timeout" description:"Timeout for socket reads; if reached, commands fail instead of blocking, zero disables the timeout; requires unit: ms (milliseconds), s (seconds), m (minutes), e.g.: 42s" env:"TERN_DATABASE_READ_TIMEOUT" default:"0s"`
	WriteTimeout time.Duration `long:"db-write-timeout" description:"Timeout for socket writes; if reached, commands fail instead of blocking, zero disables the timeout; requires unit: ms (milliseconds), s (seconds), m (minutes), e.g.: 42s" env:"TERN_DATABASE_WRITE_TIMEOUT" default:"0s"`
}

// Converts the CLI flag values to the database settings. The URL is
// mutually exclusive with the standard location parameters.
func (s *DatabaseCLIFlags) ConvertToDatabaseSettings() (*DatabaseSettings, error) {
	settings := &DatabaseSettings{
		DBName:       s.DBName,
		User:         s.User,
		Password:     s.Password,
		Host:         s.Host,
		Port:         s.Port,
		SSLMode:      s.SSLMode,
		SSLCert:      s.SSLCert,
		SSLKey:       s.SSLKey,
		SSLRootCert:  s.SSLRootCert,
		TraceSQL:     newLoggingQueryPreset(s.TraceSQL),
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
	}

	if s.URL != "" {
		var nonEmptyParam string
		switch {
		case s.DBName != "":
			nonEmptyParam = "database name"
		case s.User != "":
			nonEmptyParam = "user"
		case s.Password != "":
			nonEmptyParam = "password"
		case s.Host != "":
			nonEmptyParam = "host"
		case s.Port != 0:
			nonEmptyParam = "port"
		}
		if nonEmptyParam != "" {
			return nil, errors.Errorf("URL is mutually exclusive with the %s", nonEmptyParam)
		}

		opts, err := pg.ParseURL(s.URL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid database URL: %s", s.URL)
		}

		host, portRaw, ok := strings.Cut(opts.Addr, ":")
		if !ok {
			// pg.ParseURL always appends the port when it is missing.
			return nil, errors.Errorf("unknown address format: '%s'", opts.Addr)
		}
		port, err := strconv.ParseInt(portRaw, 10, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port: '%s'", portRaw)
		}

		settings.DBName = opts.Database
		settings.Host = host
		settings.Port = int(port)
		settings.Password = opts.Password
		settings.User = opts.User

		// The sslmode URL parameter is not supported because go-pg
		// folds it into an opaque TLS object and the exact mode value
		// is lost. The dedicated flags must be used instead.
	}

	return settings, nil
}

// Returns the CLI flag definitions as objects, so the struct tags do
// not have to be parsed outside the package.
func (s *DatabaseCLIFlags) ConvertToCLIFlagDefinitions() []*CLIFlagDefinition {
	return convertToCLIFlagDefinitions(s)
}

// Reads the member values from the environment variables.
func (s *DatabaseCLIFlags) ReadFromEnvironment() {
	readFromEnvironment(s)
}

// Reads the member values from the CLI flags using the external lookup.
func (s *DatabaseCLIFlags) ReadFromCLI(lookup CLILookup) {
	readFromCLI(s, lookup)
}

// The database CLI flags extended with the maintenance credentials. The
// maintenance access is used for the operations outside the standard
// database: creating or removing databases and users or granting
// privileges.
type DatabaseCLIFlagsWithMaintenance struct {
	DatabaseCLIFlags
	MaintenanceDBName   string `short:"m" long:"db-maintenance-name" description:"The existing maintenance database name" env:"TERN_DATABASE_MAINTENANCE_NAME" default:"postgres"`
	MaintenanceUser     string `short:"a" long:"db-maintenance-user" description:"The Postgres database administrator user name" env:"TERN_DATABASE_MAINTENANCE_USER_NAME" default:"postgres"`
	MaintenancePassword string `long:"db-maintenance-password" description:"The Postgres database administrator password; if not specified, the user will be prompted for the password if necessary" env:"TERN_DATABASE_MAINTENANCE_PASSWORD"`
}

// Returns the database settings needed to connect to the maintenance
// database using the maintenance credentials.
func (s *DatabaseCLIFlagsWithMaintenance) ConvertToMaintenanceDatabaseSettings() (*DatabaseSettings, error) {
	settings, err := s.ConvertToDatabaseSettings()
	if err != nil {
		return nil, err
	}

	settings.DBName = s.MaintenanceDBName
	settings.User = s.MaintenanceUser
	settings.Password = s.MaintenancePassword
	return settings, nil
}

// Returns the CLI flag definitions as objects, so the struct tags do
// not have to be parsed outside the package.
func (s *DatabaseCLIFlagsWithMaintenance) ConvertToCLIFlagDefinitions() []*CLIFlagDefinition {
	return convertToCLIFlagDefinitions(s)
}

// Reads the member values from the environment variables.
func (s *DatabaseCLIFlagsWithMaintenance) ReadFromEnvironment() {
	readFromEnvironment(s)
}

// Reads the member values from the CLI flags using the external lookup.
func (s *DatabaseCLIFlagsWithMaintenance) ReadFromCLI(lookup CLILookup) {
	readFromCLI(s, lookup)
}
