// Package pipeline runs one synchronization: fetch the feed, transform each
// record, and write valid documents to the store in fixed-size batches.
//
// A run is single-threaded. Batches are flushed strictly in order and each
// flush is independent: a failed batch is logged and skipped, it never stops
// the run. Only a failed fetch ends a run early, and then nothing is written.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/riotsync/idgen"
	"github.com/hazyhaar/riotsync/riotsync/internal/feed"
	"github.com/hazyhaar/riotsync/riotsync/internal/store"
)

// DefaultBatchSize is used when Config.BatchSize is not set.
const DefaultBatchSize = 1000

// Run states.
const (
	StateFetching    = "fetching"
	StateFetchFailed = "fetch_failed"
	StateProcessing  = "processing"
	StateDone        = "done"
)

// Source yields the full feed for one run.
type Source interface {
	Fetch(ctx context.Context) ([]feed.RawRecord, error)
}

// BulkWriter applies a batch of upserts. *store.Store implements it.
type BulkWriter interface {
	BulkUpsert(ctx context.Context, ops []store.UpsertOp) (*store.BulkResult, error)
}

// RunSummary aggregates one run. Counters only grow from flushes that
// succeeded.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	State         string    `json:"state"`
	Fetched       int       `json:"fetched"`
	Inserted      int       `json:"inserted"`
	Updated       int       `json:"updated"`
	Invalid       int       `json:"invalid"`
	Batches       int       `json:"batches"`
	FailedBatches int       `json:"failed_batches"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

// Duration is FinishedAt - StartedAt.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// FlushEvent describes one flush, for hooks.
type FlushEvent struct {
	RunID  string
	Index  int // 1-based batch number
	Size   int
	Result *store.BulkResult
	Err    error
}

// Config configures a Pipeline.
type Config struct {
	BatchSize int
	// Now stamps ingested_at. Default: time.Now.
	Now func() time.Time
	// NewRunID names runs. Default: "run_" + UUIDv7.
	NewRunID idgen.Generator
	// OnFlush, if set, is called after every flush.
	OnFlush func(FlushEvent)
}

// Pipeline wires a Source to a BulkWriter.
type Pipeline struct {
	source Source
	writer BulkWriter
	config Config
	logger *slog.Logger
}

// New creates a Pipeline.
func New(source Source, writer BulkWriter, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = idgen.Prefixed("run_", idgen.Default)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{source: source, writer: writer, config: cfg, logger: logger}
}

// BatchSize returns the effective batch size.
func (p *Pipeline) BatchSize() int { return p.config.BatchSize }

// Run performs one synchronization and always returns a summary. The error is
// non-nil only when the fetch failed, in which case nothing was written.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	sum := &RunSummary{
		RunID:     p.config.NewRunID(),
		State:     StateFetching,
		StartedAt: p.config.Now(),
	}
	log := p.logger.With("run_id", sum.RunID)
	log.Info("sync: fetching feed")

	records, err := p.source.Fetch(ctx)
	if err != nil {
		sum.State = StateFetchFailed
		sum.Error = err.Error()
		sum.FinishedAt = p.config.Now()
		log.Error("sync: fetch failed, nothing written", "error", err,
			"shape_error", errors.Is(err, feed.ErrUnexpectedShape))
		return sum, err
	}
	sum.Fetched = len(records)
	sum.State = StateProcessing
	log.Info("sync: feed fetched", "records", len(records), "batch_size", p.config.BatchSize)

	ops := make([]store.UpsertOp, 0, min(p.config.BatchSize, len(records)))
	for i, raw := range records {
		doc, err := Transform(raw, p.config.Now())
		if err != nil {
			sum.Invalid++
			log.Debug("sync: invalid record skipped", "index", i, "error", err)
			continue
		}
		ops = append(ops, store.NewUpsert(doc))
		if len(ops) >= p.config.BatchSize {
			p.flush(ctx, log, sum, ops)
			ops = make([]store.UpsertOp, 0, p.config.BatchSize)
		}
	}
	if len(ops) > 0 {
		p.flush(ctx, log, sum, ops)
	}

	sum.State = StateDone
	sum.FinishedAt = p.config.Now()
	log.Info("sync: complete",
		"inserted", sum.Inserted,
		"updated", sum.Updated,
		"invalid", sum.Invalid,
		"batches", sum.Batches,
		"failed_batches", sum.FailedBatches,
		"duration_ms", sum.Duration().Milliseconds())
	return sum, nil
}

// flush writes one batch. A failure is logged and counted in FailedBatches;
// its result is not added to Inserted/Updated.
func (p *Pipeline) flush(ctx context.Context, log *slog.Logger, sum *RunSummary, ops []store.UpsertOp) {
	sum.Batches++
	ev := FlushEvent{RunID: sum.RunID, Index: sum.Batches, Size: len(ops)}

	res, err := p.writer.BulkUpsert(ctx, ops)
	ev.Result, ev.Err = res, err
	if p.config.OnFlush != nil {
		p.config.OnFlush(ev)
	}

	if err != nil {
		sum.FailedBatches++
		attrs := []any{"batch", ev.Index, "size", len(ops), "error", err}
		var bwe *store.BulkWriteError
		if errors.As(err, &bwe) {
			attrs = append(attrs,
				"rejected", len(bwe.Result.Errors),
				"committed_inserted", bwe.Result.Inserted,
				"committed_matched", bwe.Result.Matched)
		}
		log.Error("sync: bulk write failed", attrs...)
		return
	}

	// Matched rows count as updated: every upsert rewrites ingested_at, so a
	// match is always a modification.
	sum.Inserted += res.Inserted
	sum.Updated += res.Matched
	log.Debug("sync: batch flushed", "batch", ev.Index, "size", len(ops),
		"inserted", res.Inserted, "matched", res.Matched)
}
