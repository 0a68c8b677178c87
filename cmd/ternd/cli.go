package main

import (
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	dbops "isc.org/tern/database"
	ternutil "isc.org/tern/util"
)

// The command passed to the daemon by the CLI.
type Command string

// Valid commands supported by the Tern daemon.
const (
	// None command provided.
	NoneCommand Command = "none"
	// Run the daemon.
	RunCommand Command = "run"
	// Show help message.
	HelpCommand Command = "help"
	// Show version.
	VersionCommand Command = "version"
)

// Read environment file settings. It's parsed before the main settings.
type EnvironmentFileSettings struct {
	EnvFile    string `long:"env-file" description:"Environment file location; applicable only if the use-env-file is provided" default:"/etc/tern/server.env"`
	UseEnvFile bool   `long:"use-env-file" description:"Read the environment variables from the environment file"`
}

// General daemon settings.
type GeneralSettings struct {
	EnvironmentFileSettings
	Version        bool   `short:"v" long:"version" description:"Show software version"`
	ConfigFile     string `short:"c" long:"config-file" description:"Configuration file with the subnets, pools and host reservations, in the JSON format with comments" env:"TERN_CONFIG_FILE"`
	ServerTag      string `long:"server-tag" description:"Tag identifying this server in the configuration backend; defaults to the fully qualified host name" env:"TERN_SERVER_TAG"`
	Workers        int    `long:"workers" description:"Number of worker goroutines used by the bulk operations; zero picks the number of CPUs" env:"TERN_WORKERS"`
	MetricsAddress string `short:"m" long:"metrics-address" description:"Address with port to serve the Prometheus metrics on" env:"TERN_METRICS_ADDRESS" default:"127.0.0.1:9547"`
}

// Lease store selection and the memfile backend knobs.
type LeaseStoreSettings struct {
	Backend     string `long:"lease-backend" description:"The lease store backend" env:"TERN_LEASE_BACKEND" choice:"memfile" choice:"pg" default:"memfile"`
	LeaseFile4  string `long:"lease-file4" description:"Path of the IPv4 lease file of the memfile backend; empty keeps the leases in memory only" env:"TERN_LEASE_FILE4"`
	LeaseFile6  string `long:"lease-file6" description:"Path of the IPv6 lease file of the memfile backend; empty keeps the leases in memory only" env:"TERN_LEASE_FILE6"`
	LFCInterval int64  `long:"lfc-interval" description:"Interval in seconds between the lease file cleanups; zero disables the cleanup" env:"TERN_LFC_INTERVAL" default:"3600"`
	LFCCommand  string `long:"lfc-command" description:"Path of the tern-lfc binary; when provided the lease file cleanup runs in a separate process" env:"TERN_LFC_COMMAND"`
}

// Configuration backend selection.
type ConfigBackendSettings struct {
	Backend       string `long:"config-backend" description:"The configuration backend" env:"TERN_CONFIG_BACKEND" choice:"memory" choice:"pg" default:"memory"`
	FetchInterval int64  `long:"fetch-interval" description:"Interval in seconds between the configuration backend fetches" env:"TERN_FETCH_INTERVAL" default:"30"`
}

// Expired lease reclamation knobs.
type ReclaimSettings struct {
	Interval   int64 `long:"reclaim-interval" description:"Interval in seconds between the expired lease reclamation cycles" env:"TERN_RECLAIM_INTERVAL" default:"10"`
	BatchLimit int64 `long:"reclaim-batch-limit" description:"Maximum number of expired leases processed per family and cycle; a negative value removes the limit" env:"TERN_RECLAIM_BATCH_LIMIT" default:"100"`
	HoldTime   int64 `long:"reclaimed-hold-time" description:"Seconds a reclaimed lease stays in the store before it is removed; zero keeps the reclaimed leases indefinitely" env:"TERN_RECLAIMED_HOLD_TIME" default:"0"`
}

// Groups all Tern daemon settings.
type Settings struct {
	GeneralSettings       *GeneralSettings
	LeaseStoreSettings    *LeaseStoreSettings
	ConfigBackendSettings *ConfigBackendSettings
	ReclaimSettings       *ReclaimSettings
	DatabaseSettings      *dbops.DatabaseSettings
}

// Constructs a new settings instance.
// The members must be initialized because the go-flags library requires
// non-empty pointers.
func newSettings() *Settings {
	return &Settings{
		GeneralSettings:       &GeneralSettings{},
		LeaseStoreSettings:    &LeaseStoreSettings{},
		ConfigBackendSettings: &ConfigBackendSettings{},
		ReclaimSettings:       &ReclaimSettings{},
		DatabaseSettings:      &dbops.DatabaseSettings{},
	}
}

// Tern daemon-specific CLI arguments/flags parser.
type CLIParser struct {
	shortDescription string
	longDescription  string
}

// Constructs CLI parser.
func NewCLIParser() *CLIParser {
	return &CLIParser{
		shortDescription: "Tern DHCP lease engine",
		longDescription: `Tern allocates and persists DHCPv4 and DHCPv6 leases

Tern logs on INFO level by default. Other levels can be configured using the
TERN_LOG_LEVEL variable. Allowed values are: DEBUG, INFO, WARN, ERROR.`,
	}
}

// Parse the command line arguments into Tern-specific GO structures.
// First, it parses the settings related to an environment file and if
// the file is provided, the content is loaded. At the end, it composes
// the CLI parser from all the flag groups and runs it.
func (p *CLIParser) Parse() (command Command, settings *Settings, err error) {
	command = NoneCommand

	envFileSettings, err := p.parseEnvironmentFileSettings()
	if err != nil {
		return
	}

	err = p.loadEnvironmentFile(envFileSettings)
	if err != nil {
		return
	}

	settings, err = p.parseSettings()
	if err != nil {
		if isHelpRequest(err) {
			return HelpCommand, nil, nil
		}
		return NoneCommand, nil, err
	}

	if settings.GeneralSettings.Version {
		// If user specified --version or -v, print the version and quit.
		return VersionCommand, nil, nil
	}

	return RunCommand, settings, nil
}

// Check if a given error is a request to display the help.
func isHelpRequest(err error) bool {
	var flagsError *flags.Error
	if errors.As(err, &flagsError) {
		if flagsError.Type == flags.ErrHelp {
			return true
		}
	}
	return false
}

// Parses the CLI flags related to the environment file.
func (p *CLIParser) parseEnvironmentFileSettings() (*EnvironmentFileSettings, error) {
	envFileSettings := &EnvironmentFileSettings{}
	parser := flags.NewParser(envFileSettings, flags.IgnoreUnknown)
	parser.ShortDescription = p.shortDescription
	parser.LongDescription = p.longDescription

	if _, err := parser.Parse(); err != nil {
		err = errors.Wrap(err, "invalid CLI argument")
		return nil, err
	}
	return envFileSettings, nil
}

// Loads the environment file content to the environment dictionary of
// the current process.
func (p *CLIParser) loadEnvironmentFile(envFileSettings *EnvironmentFileSettings) error {
	if !envFileSettings.UseEnvFile {
		// Nothing to do.
		return nil
	}

	err := ternutil.LoadEnvironmentFileToSetter(
		envFileSettings.EnvFile,
		ternutil.NewProcessEnvironmentVariableSetter(),
	)
	if err != nil {
		err = errors.WithMessagef(err, "invalid environment file: '%s'", envFileSettings.EnvFile)
		return err
	}

	// Reconfigures logging using new environment variables.
	ternutil.SetupLogging()

	return nil
}

// Parses all CLI flags.
func (p *CLIParser) parseSettings() (*Settings, error) {
	settings := newSettings()

	parser := flags.NewParser(settings.GeneralSettings, flags.Default)
	parser.ShortDescription = p.shortDescription
	parser.LongDescription = p.longDescription

	// Process lease store specific args.
	_, err := parser.AddGroup("Lease Store Flags", "", settings.LeaseStoreSettings)
	if err != nil {
		err = errors.Wrap(err, "cannot add the lease store group")
		return nil, err
	}

	// Process configuration backend specific args.
	_, err = parser.AddGroup("Configuration Backend Flags", "", settings.ConfigBackendSettings)
	if err != nil {
		err = errors.Wrap(err, "cannot add the configuration backend group")
		return nil, err
	}

	// Process reclamation specific args.
	_, err = parser.AddGroup("Lease Reclamation Flags", "", settings.ReclaimSettings)
	if err != nil {
		err = errors.Wrap(err, "cannot add the reclamation group")
		return nil, err
	}

	databaseFlags := &dbops.DatabaseCLIFlags{}
	// Process database specific args, used by the pg backends.
	_, err = parser.AddGroup("Database Connection Flags", "", databaseFlags)
	if err != nil {
		err = errors.Wrap(err, "cannot add the database group")
		return nil, err
	}

	// Do args parsing.
	if _, err = parser.Parse(); err != nil {
		err = errors.Wrap(err, "cannot parse the CLI flags")
		return nil, err
	}

	settings.DatabaseSettings, err = databaseFlags.ConvertToDatabaseSettings()
	if err != nil {
		return nil, err
	}

	return settings, nil
}
