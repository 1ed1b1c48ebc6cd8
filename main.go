package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"apt_scrooper/config"
	"apt_scrooper/httputil"
	"apt_scrooper/logging"
	"apt_scrooper/scraper"
	"apt_scrooper/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries everything a command needs once config is loaded
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	units  storage.UnitStore
	ops    *storage.SQLiteStore
	closer []func()
}

func (a *app) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
}

// setup loads config, builds the logger and opens the stores for the
// configured driver. Operational data (runs, logs, commands) always lives
// in SQLite.
func setup(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logPath := cfg.LogFile
	if !opts.logToFile {
		logPath = ""
	}
	logger, logFile, err := logging.New(cfg.LogLevel, cfg.LogFormat, logPath)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.closer = append(a.closer, func() { logger.Sync() })
	if logFile != nil {
		a.closer = append(a.closer, func() { logFile.Close() })
	}

	ops, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
	}
	a.ops = ops
	a.closer = append(a.closer, func() { ops.Close() })

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		connString := cfg.DB.ConnString()
		pg, err := storage.NewPostgresStore(ctx, connString)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closer = append(a.closer, pg.Close)
		a.units = pg
		logger.Info("connected to postgres", zap.String("dsn", maskConnectionString(connString)))
	case config.StoreDriverSQLite:
		a.units = ops
		logger.Info("using sqlite unit store", zap.String("path", cfg.DBPath))
	case config.StoreDriverMemory:
		a.units = storage.NewMemoryStore()
		logger.Warn("using in-memory unit store, state is lost on exit")
	}

	if err := a.units.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate unit store: %w", err)
	}

	return a, nil
}

// orchestrator wires the scrape pipeline, with raw archiving when a bucket is configured
func (a *app) orchestrator(ctx context.Context) (*scraper.Orchestrator, error) {
	clients, err := httputil.NewClients(a.cfg.Proxy, a.cfg.Scraper)
	if err != nil {
		return nil, err
	}
	if a.cfg.Proxy.URL != "" {
		a.logger.Info("using proxy", zap.String("proxy", maskConnectionString(a.cfg.Proxy.URL)))
	}

	orch, err := scraper.NewOrchestrator(a.cfg, a.units, a.ops, clients, a.logger)
	if err != nil {
		return nil, err
	}
	a.closer = append(a.closer, orch.Close)

	if a.cfg.S3.Bucket != "" {
		archive, err := storage.NewRawArchive(ctx, a.cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("raw archive: %w", err)
		}
		orch.SetArchive(archive)
		a.logger.Info("archiving raw captures", zap.String("bucket", a.cfg.S3.Bucket))
	}

	return orch, nil
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
