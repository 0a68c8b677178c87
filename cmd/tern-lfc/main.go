package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"isc.org/tern"
	"isc.org/tern/leasestore/memfile"
	ternutil "isc.org/tern/util"
)

// Settings of the lease file cleanup process. The daemon spawns it as
// tern-lfc --family <4|6> --file <lease file path>.
type Settings struct {
	Version bool   `short:"v" long:"version" description:"Show software version"`
	Family  string `short:"f" long:"family" description:"Family of the lease file: 4 or 6" choice:"4" choice:"6"`
	File    string `long:"file" description:"Path of the lease file; the rotated input and the compacted output names derive from it" env:"TERN_LFC_FILE"`
	PIDFile string `short:"p" long:"pid-file" description:"Path of the PID file guarding against concurrent cleanups of the same lease file; defaults to the lease file path with the .pid suffix" env:"TERN_LFC_PID_FILE"`
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

// Main tern-lfc function.
func main() {
	// Setup logging
	ternutil.SetupLogging()

	settings := &Settings{}
	parser := flags.NewParser(settings, flags.Default)
	parser.ShortDescription = "Tern lease file cleanup"
	parser.LongDescription = `tern-lfc compacts a rotated lease file of the memfile backend

It merges the previous cleanup result with the rotated lease file, keeps the
newest row for each lease and drops the removed leases. The Tern daemon spawns
it periodically; it can also be run by hand against an idle lease file.`

	if _, err := parser.Parse(); err != nil {
		if isHelpRequest(err) {
			return
		}
		log.Fatalf("unexpected error: %+v", err)
	}

	if settings.Version {
		fmt.Println(tern.Version)
		return
	}
	if settings.File == "" || settings.Family == "" {
		log.Fatal("Both the --family and --file flags are required")
	}

	if err := run(settings); err != nil {
		log.Fatalf("FATAL error: %+v", err)
	}
}

// Runs one guarded cleanup of the lease file.
func run(settings *Settings) error {
	pidFile := settings.PIDFile
	if pidFile == "" {
		pidFile = settings.File + ".pid"
	}

	acquired, err := acquirePIDFile(pidFile)
	if err != nil {
		return err
	}
	if !acquired {
		log.WithField("pid-file", pidFile).Warn("Another cleanup of this lease file is running, exiting")
		return nil
	}
	defer func() {
		if err := os.Remove(pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("pid-file", pidFile).Warn("Cannot remove the PID file")
		}
	}()

	cleanup := memfile.Cleanup4
	if settings.Family == "6" {
		cleanup = memfile.Cleanup6
	}
	if err := cleanup(settings.File); err != nil {
		return err
	}
	log.WithField("file", settings.File).Info("Completed the lease file cleanup")
	return nil
}

// Creates the PID file with the PID of this process. Returns false
// without an error when the file is held by a live process. A PID file
// left over by a crashed process is taken over.
func acquirePIDFile(path string) (bool, error) {
	created, err := writePIDFile(path)
	if created || err != nil {
		return created, err
	}

	pid, err := readPIDFile(path)
	if err == nil && pidAlive(pid) {
		return false, nil
	}

	// The file exists but its owner is gone.
	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, errors.Wrapf(err, "problem removing the stale PID file %s", path)
	}
	return writePIDFile(path)
}

// Creates the PID file unless it exists. Returns false without an
// error when it exists.
func writePIDFile(path string) (bool, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "problem creating the PID file %s", path)
	}

	_, err = fmt.Fprintf(file, "%d\n", os.Getpid())
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return false, errors.Wrapf(err, "problem writing the PID file %s", path)
	}
	return true, nil
}

// Reads the process identifier stored in the PID file.
func readPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "problem reading the PID file %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid content of the PID file %s", path)
	}
	return pid, nil
}

// Checks if a process with the given identifier is running.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
