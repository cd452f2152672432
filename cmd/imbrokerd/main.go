// imbrokerd - input-method context broker
//
// imbrokerd owns the input-method server name on the session bus. Text
// fields register their input-context objects with it, one of them at a time
// holds focus, and the broker relays between that client and the input-method
// backends.
//
//	imbrokerd [-config path] [-log-level level]
//	imbrokerd -check-config [-config path]
//	imbrokerd -init-config [-config path]
//	imbrokerd -schema
//	imbrokerd -version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"imbroker/internal/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "configuration file (default: search standard locations)")
		logLevel    = flag.String("log-level", "", "override logging.level (debug, info, warn, error)")
		checkConfig = flag.Bool("check-config", false, "validate the configuration and exit")
		initConfig  = flag.Bool("init-config", false, "write the default configuration and exit")
		printSchema = flag.Bool("schema", false, "print the configuration JSON Schema and exit")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("imbrokerd %s\n", Version)
		return
	}

	if *printSchema {
		fmt.Println(config.Schema())
		return
	}

	if *initConfig {
		path := *configPath
		if path == "" {
			path = config.ConfigPath()
		}
		if err := writeDefaultConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written: %s\n", path)
		return
	}

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
		if err := cfg.Validate(); err != nil {
			var verrs config.ValidationErrors
			if errors.As(err, &verrs) && verrs.HasField("logging.level") {
				err = fmt.Errorf("-log-level %q: %w", *logLevel, err)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *checkConfig {
		fmt.Printf("Configuration OK: %s\n", loader.Path())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loader, cfg, *logLevel); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// writeDefaultConfig saves the default configuration to path. An existing
// file is left alone.
func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return config.SaveConfig(config.DefaultConfig(), path)
}

func usage() {
	fmt.Fprintf(os.Stderr, `imbrokerd - input-method context broker

Usage:
  imbrokerd [flags]

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  IMBROKER_BUS_ADDRESS         session, system or a bus address
  IMBROKER_LOG_LEVEL           debug, info, warn, error
  IMBROKER_METRICS_ADDR        serve metrics and health on this address
  IMBROKER_QUERY_TIMEOUT_MS    preedit rectangle query bound
  IMBROKER_SWEEP_INTERVAL_SEC  liveness sweep period, 0 disables
`)
}
