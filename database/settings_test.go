package dbops

import (
	"net"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"isc.org/tern/testutil"
)

// Test that connection string is created when all parameters are specified and
// none of the values include a space character. Also, make sure that the password
// with upper case letters is handled correctly.
func TestConvertToConnectionStringNoSpaces(t *testing.T) {
	settings := DatabaseSettings{
		DBName:   "tern",
		User:     "admin",
		Password: "TeRN123",
		Host:     "localhost",
		Port:     123,
	}

	params := settings.ConvertToConnectionString()
	require.Equal(t, "dbname='tern' user='admin' password='TeRN123' host='localhost' port=123 sslmode='disable'", params)
}

// Test that the password including space character is enclosed in quotes.
func TestConvertToConnectionStringWithSpaces(t *testing.T) {
	settings := DatabaseSettings{
		DBName:   "tern",
		User:     "admin",
		Password: "TeRN123 567",
		Host:     "localhost",
		Port:     123,
	}

	params := settings.ConvertToConnectionString()
	require.Equal(t, "dbname='tern' user='admin' password='TeRN123 567' host='localhost' port=123 sslmode='disable'", params)
}

// Test that quotes and double quotes are escaped.
func TestConvertToConnectionStringWithEscapes(t *testing.T) {
	settings := DatabaseSettings{
		DBName:   "tern",
		User:     "admin",
		Password: `TeRN123'56"7`,
		Host:     "localhost",
		Port:     123,
	}

	params := settings.ConvertToConnectionString()
	require.Equal(t, `dbname='tern' user='admin' password='TeRN123\'56\"7' host='localhost' port=123 sslmode='disable'`, params)
}

// Test that when the host is not specified it is not included in the
// connection string.
func TestConvertToConnectionStringWithOptionalHost(t *testing.T) {
	settings := DatabaseSettings{
		DBName:   "tern",
		User:     "admin",
		Password: "TeRN123 567",
		Port:     123,
	}

	params := settings.ConvertToConnectionString()
	require.Equal(t, "dbname='tern' user='admin' password='TeRN123 567' port=123 sslmode='disable'", params)
}

// Test that when the port is 0, it is not included in the connection string.
func TestConvertToConnectionStringWithOptionalPort(t *testing.T) {
	settings := DatabaseSettings{
		DBName:   "tern",
		User:     "admin",
		Password: "tern",
		Host:     "localhost",
	}

	params := settings.ConvertToConnectionString()
	require.Equal(t, "dbname='tern' user='admin' password='tern' host='localhost' sslmode='disable'", params)
}

// Test that sslmode and related parameters are included in the connection string.
func TestConvertToConnectionStringWithSSLMode(t *testing.T) {
	settings := DatabaseSettings{
		DBName:      "tern",
		User:        "admin",
		Password:    "tern",
		SSLMode:     "require",
		SSLCert:     "/tmp/sslcert",
		SSLKey:      "/tmp/sslkey",
		SSLRootCert: "/tmp/sslroot.crt",
	}

	params := settings.ConvertToConnectionString()
	require.Equal(t, "dbname='tern' user='admin' password='tern' sslmode='require' sslcert='/tmp/sslcert' sslkey='/tmp/sslkey' sslrootcert='/tmp/sslroot.crt'", params)
}

// Test that the conversion fails when the SSL mode is not supported.
func TestConvertToPgOptionsWithWrongSSLModeSettings(t *testing.T) {
	settings := DatabaseSettings{
		DBName:   "tern",
		User:     "admin",
		Password: "tern",
		SSLMode:  "unsupported",
	}

	params, err := settings.convertToPgOptions()
	require.Nil(t, params)
	require.Error(t, err)
}

// Test that the TCP network kind is recognized properly.
func TestConvertToPgOptionsTCP(t *testing.T) {
	settings := DatabaseSettings{
		DBName:   "tern",
		User:     "admin",
		Password: "TeRN123",
		Port:     123,
	}

	hosts := []string{"localhost", "192.168.0.1", "fe80::42", "foo.bar"}

	for _, host := range hosts {
		settings.Host = host

		t.Run(host, func(t *testing.T) {
			options, err := settings.convertToPgOptions()
			require.NoError(t, err)
			require.EqualValues(t, "tcp", options.Network)
		})
	}
}

// Test that the socket is recognized properly.
func TestConvertToPgOptionsSocket(t *testing.T) {
	sb := testutil.NewSandbox()
	defer sb.Close()
	socketPath := path.Join(sb.BasePath, ".s.PGSQL.123")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	settings := DatabaseSettings{
		DBName:   "tern",
		Host:     sb.BasePath,
		User:     "admin",
		Password: "TeRN123",
		Port:     123,
	}

	options, err := settings.convertToPgOptions()
	require.NoError(t, err)
	require.EqualValues(t, "unix", options.Network)
	require.Equal(t, socketPath, options.Addr)
}

// Test that the read and write timeouts are passed to the connection
// options.
func TestConvertToPgOptionsTimeouts(t *testing.T) {
	settings := DatabaseSettings{
		DBName:       "tern",
		User:         "admin",
		ReadTimeout:  1500000000,
		WriteTimeout: 2500000000,
	}

	options, err := settings.convertToPgOptions()
	require.NoError(t, err)
	require.EqualValues(t, settings.ReadTimeout, options.ReadTimeout)
	require.EqualValues(t, settings.WriteTimeout, options.WriteTimeout)
}

// Test the mapping of the raw trace flag values to the logging presets.
func TestNewLoggingQueryPreset(t *testing.T) {
	require.Equal(t, LoggingQueryPresetRuntime, newLoggingQueryPreset("run"))
	require.Equal(t, LoggingQueryPresetAll, newLoggingQueryPreset("all"))
	require.Equal(t, LoggingQueryPresetNone, newLoggingQueryPreset("none"))
	require.Equal(t, LoggingQueryPresetNone, newLoggingQueryPreset(""))
	require.Equal(t, LoggingQueryPresetNone, newLoggingQueryPreset("bogus"))

	require.True(t, LoggingQueryPresetRuntime.IsRuntime())
	require.True(t, LoggingQueryPresetAll.IsRuntime())
	require.False(t, LoggingQueryPresetNone.IsRuntime())
}
