// Command riotsync mirrors the GreyNoise RIOT feed into a SQLite database.
//
// Usage:
//
//	riotsync -db riot.db                     # one sync, then exit
//	riotsync -config riotsync.yaml           # settings from a YAML file
//	riotsync -db riot.db -interval 24h       # daemon: sync now and every 24h
//	riotsync -db riot.db -addr :8090         # daemon with the admin HTTP API
//	riotsync -db riot.db -mcp                # serve MCP tools over stdio
//	riotsync -db riot.db -lookup 8.8.8.8     # print one document and exit
//	riotsync -db riot.db -stats              # print stats and exit
//
// Environment (a .env file in the working directory is read first and never
// overrides the real environment):
//
//	RIOT_DB             database path
//	GREYNOISE_RIOT_URL  feed URL
//	LOG_LEVEL           debug, info, warn, error
//
// Exit status is 1 only when the configuration or the database is unusable.
// A failed fetch or failed batches are logged and the process exits 0; the
// next run resynchronizes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/riotsync/audit"
	"github.com/hazyhaar/riotsync/dbopen"
	"github.com/hazyhaar/riotsync/kit"
	"github.com/hazyhaar/riotsync/observability"
	"github.com/hazyhaar/riotsync/riotsync"
)

const version = "1.0.0"

type options struct {
	configPath string
	dbPath     string
	metricsDB  string
	feedURL    string
	batchSize  int
	interval   time.Duration
	addr       string
	logLevel   string
	mcp        bool
	lookup     string
	stats      bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to riotsync.yaml config file")
	flag.StringVar(&o.dbPath, "db", "", "path to SQLite database (env RIOT_DB)")
	flag.StringVar(&o.metricsDB, "metrics-db", "", "path to SQLite database for run metrics and the audit trail (optional)")
	flag.StringVar(&o.feedURL, "url", "", "feed URL (env GREYNOISE_RIOT_URL)")
	flag.IntVar(&o.batchSize, "batch", 0, fmt.Sprintf("upsert batch size (default %d)", riotsync.DefaultBatchSize))
	flag.DurationVar(&o.interval, "interval", 0, "sync interval; 0 runs once and exits")
	flag.StringVar(&o.addr, "addr", "", "admin HTTP listen address, e.g. :8090")
	flag.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	flag.StringVar(&o.lookup, "lookup", "", "print the document for this ip and exit")
	flag.BoolVar(&o.stats, "stats", false, "print store stats and exit")
	flag.Parse()

	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "riotsync: read .env: %v\n", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(firstNonEmpty(o.logLevel, getEnv("LOG_LEVEL", "info"))),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("riotsync: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := resolveConfig(o)
	if err != nil {
		return err
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("cannot open database %s: %w", cfg.DBPath, err)
	}
	defer db.Close()

	var svcOpts []riotsync.Option
	if cfg.MetricsDBPath != "" {
		opts, closeObs := openObservability(cfg.MetricsDBPath, logger)
		defer closeObs()
		svcOpts = append(svcOpts, opts...)
	}

	svc, err := riotsync.New(db, cfg, logger, svcOpts...)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	// One-shot: lookup.
	if o.lookup != "" {
		doc, err := svc.Lookup(ctx, o.lookup)
		if errors.Is(err, riotsync.ErrNotFound) {
			fmt.Fprintln(os.Stderr, err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
		return printJSON(doc)
	}

	// One-shot: stats.
	if o.stats {
		st, err := svc.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return printJSON(st)
	}

	daemon := cfg.Schedule.Interval > 0 || cfg.HTTPAddr != "" || o.mcp
	if !daemon {
		syncOnce(ctx, svc, logger)
		return nil
	}

	if cfg.Schedule.Interval > 0 {
		svc.Start(ctx)
	}

	errc := make(chan error, 2)
	if cfg.HTTPAddr != "" {
		go func() { errc <- serveHTTP(ctx, cfg.HTTPAddr, svc.Handler(), logger) }()
	}
	if o.mcp {
		go func() { errc <- serveMCP(ctx, svc, logger) }()
	}
	logger.Info("riotsync: running", "db", cfg.DBPath, "feed", cfg.Feed.URL,
		"interval", cfg.Schedule.Interval.String(), "addr", cfg.HTTPAddr, "mcp", o.mcp)

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			logger.Error("riotsync: server stopped", "error", err)
		}
	}
	logger.Info("riotsync: shutting down")
	return nil
}

// syncOnce runs one sync. Its failures are reported but never fatal.
func syncOnce(ctx context.Context, svc *riotsync.Service, logger *slog.Logger) {
	sum, err := svc.Sync(kit.WithTransport(ctx, "cli"))
	if err != nil {
		logger.Error("riotsync: sync failed", "error", err)
		return
	}
	if sum.FailedBatches > 0 {
		logger.Warn("riotsync: sync finished with failed batches",
			"failed_batches", sum.FailedBatches, "batches", sum.Batches)
	}
}

func resolveConfig(o options) (*riotsync.Config, error) {
	var cfg *riotsync.Config
	if o.configPath != "" {
		c, err := riotsync.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = riotsync.DefaultConfig()
	}

	cfg.DBPath = firstNonEmpty(o.dbPath, getEnv("RIOT_DB", ""), cfg.DBPath)
	cfg.Feed.URL = firstNonEmpty(o.feedURL, getEnv("GREYNOISE_RIOT_URL", ""), cfg.Feed.URL)
	cfg.MetricsDBPath = firstNonEmpty(o.metricsDB, cfg.MetricsDBPath)
	cfg.HTTPAddr = firstNonEmpty(o.addr, cfg.HTTPAddr)
	if o.batchSize > 0 {
		cfg.BatchSize = o.batchSize
	}
	if o.interval > 0 {
		cfg.Schedule.Interval = o.interval
	}
	return cfg, nil
}

// openObservability opens the metrics and audit database. A failure disables
// both and is only logged.
func openObservability(path string, logger *slog.Logger) ([]riotsync.Option, func()) {
	mdb, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema), dbopen.WithSchema(audit.Schema))
	if err != nil {
		logger.Warn("riotsync: metrics and audit disabled", "path", path, "error", err)
		return nil, func() {}
	}
	mm := observability.NewMetricsManager(mdb, 100, 5*time.Second)
	al := audit.NewSQLiteLogger(mdb)
	opts := []riotsync.Option{riotsync.WithMetrics(mm), riotsync.WithAudit(al)}
	return opts, func() {
		mm.Close()
		al.Close()
		mdb.Close()
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("riotsync: http listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, svc *riotsync.Service, logger *slog.Logger) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "riotsync", Version: version}, nil)
	svc.RegisterMCP(srv)
	logger.Info("riotsync: mcp serving on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
