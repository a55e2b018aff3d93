package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/calders/mediascope/internal"
	"github.com/calders/mediascope/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program. The user configuration is
// loaded from the path given on the command line (falling back to the
// environment), the services are constructed and run until the process
// receives an interrupt or termination signal.
func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose log output")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	config := internal.MediascopeConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Mediascope exited with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Mediascope shut down\n")
}
