package riotsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/riotsync/audit"
	"github.com/hazyhaar/riotsync/kit"
	"github.com/hazyhaar/riotsync/observability"
	"github.com/hazyhaar/riotsync/riotsync/internal/feed"
	"github.com/hazyhaar/riotsync/riotsync/internal/pipeline"
	"github.com/hazyhaar/riotsync/riotsync/internal/scheduler"
	"github.com/hazyhaar/riotsync/riotsync/internal/store"
)

// Service is the riotsync orchestrator.
type Service struct {
	store    *store.Store
	source   Source
	pipeline *pipeline.Pipeline
	metrics  *observability.MetricsManager // optional
	audit    audit.Logger                  // optional
	config   *Config
	logger   *slog.Logger
	now      func() time.Time

	runMu sync.Mutex // serializes Sync

	lastMu sync.RWMutex
	last   *RunSummary
}

// Option configures a Service during creation.
type Option func(*Service)

// WithFetcher replaces the HTTP feed fetcher, typically with a fixed record
// set in tests.
func WithFetcher(src Source) Option {
	return func(svc *Service) { svc.source = src }
}

// WithMetrics records per-run counters to a metrics database.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(svc *Service) { svc.metrics = mm }
}

// WithAudit records sync runs and MCP tool calls to an audit trail.
func WithAudit(a audit.Logger) Option {
	return func(svc *Service) { svc.audit = a }
}

// WithClock overrides the clock used to stamp ingested_at and runs.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// New creates a Service on an already-opened database and applies the schema.
// The caller keeps ownership of db and closes it after Close.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, ErrNoDatabase
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("riotsync: apply schema: %w", err)
	}

	svc := &Service{
		store:  store.NewStore(db),
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.source == nil {
		svc.source = feed.New(cfg.Feed)
	}

	svc.pipeline = pipeline.New(svc.source, svc.store, pipeline.Config{
		BatchSize: cfg.BatchSize,
		Now:       svc.now,
	}, logger)

	return svc, nil
}

// Config returns the effective configuration.
func (svc *Service) Config() *Config { return svc.config }

// Sync performs one full synchronization. The summary is always returned;
// the error is non-nil only when the feed could not be fetched, in which case
// the store was not touched. Failed batches are reported in the summary.
func (svc *Service) Sync(ctx context.Context) (*RunSummary, error) {
	svc.runMu.Lock()
	defer svc.runMu.Unlock()

	sum, err := svc.pipeline.Run(ctx)
	svc.setLast(sum)
	svc.recordMetrics(sum, err)
	svc.auditRun(ctx, sum, err)
	if err != nil {
		return sum, fmt.Errorf("riotsync: sync: %w", err)
	}
	return sum, nil
}

// LastRun returns a copy of the most recent run summary, or nil if no run
// has happened since the process started.
func (svc *Service) LastRun() *RunSummary {
	svc.lastMu.RLock()
	defer svc.lastMu.RUnlock()
	if svc.last == nil {
		return nil
	}
	cp := *svc.last
	return &cp
}

func (svc *Service) setLast(sum *RunSummary) {
	svc.lastMu.Lock()
	svc.last = sum
	svc.lastMu.Unlock()
}

func (svc *Service) recordMetrics(sum *RunSummary, err error) {
	if svc.metrics == nil || sum == nil {
		return
	}
	labels := map[string]string{"run_id": sum.RunID}
	if err != nil {
		svc.metrics.RecordCount(observability.MetricSyncFetchFailed, 1, labels)
		return
	}
	svc.metrics.RecordCount(observability.MetricSyncInserted, sum.Inserted, labels)
	svc.metrics.RecordCount(observability.MetricSyncUpdated, sum.Updated, labels)
	svc.metrics.RecordCount(observability.MetricSyncInvalid, sum.Invalid, labels)
	svc.metrics.RecordCount(observability.MetricSyncFailedBatches, sum.FailedBatches, labels)
	svc.metrics.Record(&observability.Metric{
		Name:      observability.MetricSyncDurationMs,
		Timestamp: sum.FinishedAt,
		Value:     float64(sum.Duration().Milliseconds()),
		Labels:    labels,
		Unit:      "milliseconds",
	})
}

func (svc *Service) auditRun(ctx context.Context, sum *RunSummary, err error) {
	if svc.audit == nil || sum == nil {
		return
	}
	e := &audit.Entry{
		Action:     "sync",
		Transport:  kit.GetTransport(ctx),
		TraceID:    kit.GetTraceID(ctx),
		RunID:      sum.RunID,
		DurationMs: sum.Duration().Milliseconds(),
	}
	if b, jerr := json.Marshal(sum); jerr == nil {
		e.Result = string(b)
	}
	if err != nil {
		e.Error = err.Error()
	}
	svc.audit.LogAsync(e)
}

// Lookup returns the document stored for ip.
func (svc *Service) Lookup(ctx context.Context, ip string) (*Document, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, fmt.Errorf("%w: ip is required", ErrInvalidInput)
	}
	doc, err := svc.store.Get(ctx, ip)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ip)
	}
	return doc, nil
}

// Stats summarises the stored collection.
func (svc *Service) Stats(ctx context.Context) (*Stats, error) {
	return svc.store.Stats(ctx)
}

// ListByCategory returns up to limit documents of one category, ordered by ip.
func (svc *Service) ListByCategory(ctx context.Context, category string, limit int) ([]*Document, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	return svc.store.ListByCategory(ctx, category, limit)
}

// Start launches the background scheduler when an interval is configured.
// Non-blocking; the scheduler stops when ctx is cancelled.
func (svc *Service) Start(ctx context.Context) {
	if svc.config.Schedule.Interval <= 0 {
		svc.logger.Info("riotsync: scheduler disabled")
		return
	}
	sched := scheduler.New(func(ctx context.Context) error {
		_, err := svc.Sync(kit.WithTransport(ctx, "scheduler"))
		return err
	}, scheduler.Config{Interval: svc.config.Schedule.Interval}, svc.logger)
	go sched.Run(ctx)
	svc.logger.Info("riotsync: started", "interval", sched.Interval().String())
}

// Close releases service resources. The database handle stays open.
func (svc *Service) Close() error {
	if svc.metrics != nil {
		svc.metrics.Flush()
	}
	svc.logger.Info("riotsync: closed")
	return nil
}
