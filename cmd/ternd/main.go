package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"isc.org/tern"
	ternutil "isc.org/tern/util"
)

// Main ternd function.
func main() {
	// Setup logging
	ternutil.SetupLogging()

	command, settings, err := NewCLIParser().Parse()
	if err != nil {
		log.Fatalf("unexpected error: %+v", err)
	}

	switch command {
	case VersionCommand:
		fmt.Println(tern.Version)
		return
	case HelpCommand, NoneCommand:
		return
	case RunCommand:
	}

	log.Printf("Starting Tern, version %s, build date %s", tern.Version, tern.BuildDate)

	// Initialize global state of the Tern daemon.
	daemon, err := NewTernDaemon(settings)
	if err != nil {
		log.Fatalf("unexpected error: %+v", err)
	}

	if err = daemon.Serve(); err != nil {
		daemon.Shutdown()
		log.Fatalf("unexpected error: %+v", err)
	}

	// Handle signals.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	log.WithField("signal", sig.String()).Info("Received a termination signal")

	daemon.Shutdown()
}
