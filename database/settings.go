// The dbops package provides the low-level PostgreSQL plumbing shared
// by the lease and configuration backends: connection settings, the
// go-pg connection setup, query logging hooks and the schema migration
// runner.
package dbops

import (
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
)

// Aliases to the go-pg types. The rest of the code base refers to these
// so that the ORM generation is switched in one place.
type (
	PgDB      = pg.DB
	PgOptions = pg.Options
	// Common interface of the pg.DB and pg.Tx allowing the queries to
	// run within or without a transaction.
	DBI = pg.DBI
)

// Enables singular SQL table names for go-pg ORM.
func init() {
	orm.SetTableNameInflector(func(s string) string {
		return s
	})
}

// Settings of the SQL query logging.
type LoggingQueryPreset string

const (
	// No query logging.
	LoggingQueryPresetNone LoggingQueryPreset = "none"
	// Log the run-time queries but not the ones executed by the
	// schema migrations.
	LoggingQueryPresetRuntime LoggingQueryPreset = "run"
	// Log all queries including the migrations.
	LoggingQueryPresetAll LoggingQueryPreset = "all"
)

// Parses the query logging preset from a string. Unrecognized values
// disable the logging.
func newLoggingQueryPreset(raw string) LoggingQueryPreset {
	switch LoggingQueryPreset(raw) {
	case LoggingQueryPresetRuntime:
		return LoggingQueryPresetRuntime
	case LoggingQueryPresetAll:
		return LoggingQueryPresetAll
	default:
		return LoggingQueryPresetNone
	}
}

// Indicates if the preset enables logging of the run-time queries.
func (p LoggingQueryPreset) IsRuntime() bool {
	return p == LoggingQueryPresetRuntime || p == LoggingQueryPresetAll
}

// The generic database connection settings, produced from the CLI
// flags, the environment variables or the test defaults.
type DatabaseSettings struct {
	DBName       string
	Host         string
	Password     string
	Port         int
	ReadTimeout  time.Duration
	SSLCert      string
	SSLKey       string
	SSLMode      string
	SSLRootCert  string
	TraceSQL     LoggingQueryPreset
	User         string
	WriteTimeout time.Duration
}

// Returns the settings in the libpq connection string format with the
// values single-quoted, e.g.: dbname='tern' user='tern' port=5432.
// The password quotes and double quotes are escaped.
func (s *DatabaseSettings) ConvertToConnectionString() string {
	escape := func(value string) string {
		value = strings.ReplaceAll(value, `'`, `\'`)
		value = strings.ReplaceAll(value, `"`, `\"`)
		return "'" + value + "'"
	}

	var params []string
	if s.DBName != "" {
		params = append(params, "dbname="+escape(s.DBName))
	}
	if s.User != "" {
		params = append(params, "user="+escape(s.User))
	}
	if s.Password != "" {
		params = append(params, "password="+escape(s.Password))
	}
	if s.Host != "" {
		params = append(params, "host="+escape(s.Host))
	}
	if s.Port != 0 {
		params = append(params, fmt.Sprintf("port=%d", s.Port))
	}
	sslMode := s.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	params = append(params, "sslmode="+escape(sslMode))
	if s.SSLCert != "" {
		params = append(params, "sslcert="+escape(s.SSLCert))
	}
	if s.SSLKey != "" {
		params = append(params, "sslkey="+escape(s.SSLKey))
	}
	if s.SSLRootCert != "" {
		params = append(params, "sslrootcert="+escape(s.SSLRootCert))
	}
	return strings.Join(params, " ")
}

// Converts the settings to the go-pg specific connection options. The
// host pointing to a directory with a PostgreSQL socket selects the
// unix network; any other host selects TCP with the TLS configuration
// built from the SSL settings.
func (s *DatabaseSettings) convertToPgOptions() (*PgOptions, error) {
	pgopts := &PgOptions{
		Database:     s.DBName,
		User:         s.User,
		Password:     s.Password,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
	}

	if s.Host != "" {
		socketPath := path.Join(s.Host, fmt.Sprintf(".s.PGSQL.%d", s.Port))
		if info, err := os.Stat(socketPath); err == nil && info.Mode()&os.ModeSocket != 0 {
			pgopts.Network = "unix"
			pgopts.Addr = socketPath
		} else {
			pgopts.Network = "tcp"
			pgopts.Addr = net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
		}
	}

	tlsConfig, err := GetTLSConfig(s.SSLMode, s.Host, s.SSLCert, s.SSLKey, s.SSLRootCert)
	if err != nil {
		return nil, err
	}
	pgopts.TLSConfig = tlsConfig
	return pgopts, nil
}
