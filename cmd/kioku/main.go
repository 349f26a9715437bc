// kioku serves the conversation memory API.
//
// Configuration is layered: built-in defaults, then the YAML file given with
// --config, then KIOKU_* environment variables, then command-line flags.
//
//	KIOKU_STORE_DSN              memory://, sqlite path or postgres:// URL (default ./kioku.db)
//	KIOKU_COMPLETION_PROVIDER    none, openai or anthropic (default none)
//	KIOKU_COMPLETION_API_KEY     API key for the completion provider
//	KIOKU_MAX_HISTORY_TOKENS     hard token budget of the prepared context
//	KIOKU_RECENT_WINDOW_SIZE     messages kept verbatim
//	KIOKU_LOG_LEVEL              debug, info, warn or error (default info)
//	KIOKU_LOG_FORMAT             text or json (default text)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bdobrica/kioku/common/redact"
	"github.com/bdobrica/kioku/common/version"
	"github.com/bdobrica/kioku/internal/kioku/app"
	"github.com/bdobrica/kioku/internal/kioku/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		addr       string
		storeDSN   string
		logLevel   string
		logFormat  string
		showVer    bool
	)
	flags := pflag.NewFlagSet("kioku", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", os.Getenv("KIOKU_CONFIG"), "path to YAML config file")
	flags.StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	flags.StringVar(&storeDSN, "store", "", "store DSN (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "log format: text or json")
	flags.BoolVar(&showVer, "version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVer {
		fmt.Printf("kioku %s\n", version.Info())
		return nil
	}

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if storeDSN != "" {
		cfg.StoreDSN = storeDSN
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	observability.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.Info("starting kioku",
		"version", version.Version,
		"commit", version.GitCommit,
		"config", configPath,
		"store", redact.DSN(cfg.StoreDSN))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, app.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("initialise kioku: %w", err)
	}
	defer svc.Close()

	return svc.Run(ctx)
}
