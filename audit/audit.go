// Package audit keeps a SQLite trail of operations run against the store:
// sync runs, and lookups made through MCP or HTTP.
//
// Entries are written asynchronously in batches. Close drains the queue.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/riotsync/idgen"
	"github.com/hazyhaar/riotsync/kit"
)

// Schema is the DDL for the audit trail.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    action        TEXT NOT NULL,
    transport     TEXT NOT NULL,
    trace_id      TEXT,
    run_id        TEXT,
    parameters    TEXT,
    result        TEXT,
    error_message TEXT,
    duration_ms   INTEGER,
    status        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_action_time ON audit_log(action, timestamp DESC);
`

// Entry is one audited operation.
type Entry struct {
	EntryID    string
	Timestamp  time.Time
	Action     string // e.g. "sync", "riot_lookup_ip"
	Transport  string // "http", "mcp", "scheduler", "cli"
	TraceID    string
	RunID      string
	Parameters string // JSON
	Result     string // JSON
	Error      string
	DurationMs int64
	Status     string // "success" or "error"
}

// Logger records audit entries.
type Logger interface {
	Log(ctx context.Context, e *Entry) error
	LogAsync(e *Entry)
}

// SQLiteLogger persists entries to the audit_log table.
type SQLiteLogger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *Entry
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets the entry ID generator. Default: "aud_" + UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// NewSQLiteLogger creates a logger and starts its flush goroutine.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
		ch:    make(chan *Entry, 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the audit_log table.
func (l *SQLiteLogger) Init() error {
	_, err := l.db.Exec(Schema)
	return err
}

// Log inserts an entry synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	fillDefaults(e, l.newID)
	return insert(ctx, l.db, e)
}

// LogAsync queues an entry. A full queue falls back to a synchronous insert.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	fillDefaults(e, l.newID)
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit: buffer full, sync fallback", "action", e.Action)
		if err := insert(context.Background(), l.db, e); err != nil {
			slog.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Query returns the newest entries for action (empty = all).
func (l *SQLiteLogger) Query(ctx context.Context, action string, limit int) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, action, transport, trace_id, run_id,
		parameters, result, error_message, duration_ms, status FROM audit_log`
	var args []any
	if action != "" {
		q += " WHERE action = ?"
		args = append(args, action)
	}
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var traceID, runID, params, result, errMsg sql.NullString
		var dur sql.NullInt64
		if err := rows.Scan(&e.EntryID, &ts, &e.Action, &e.Transport, &traceID, &runID,
			&params, &result, &errMsg, &dur, &e.Status); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.TraceID, e.RunID = traceID.String, runID.String
		e.Parameters, e.Result, e.Error = params.String, result.String, errMsg.String
		e.DurationMs = dur.Int64
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close drains the queue and stops the flush goroutine. Safe to call once.
func (l *SQLiteLogger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

// Middleware audits every call of an endpoint under action. The request is
// recorded as parameters; the response only on error-free calls.
func Middleware(logger Logger, action string) func(kit.Endpoint) kit.Endpoint {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			e := &Entry{
				Action:     action,
				Transport:  kit.GetTransport(ctx),
				TraceID:    kit.GetTraceID(ctx),
				RunID:      kit.GetRunID(ctx),
				DurationMs: time.Since(start).Milliseconds(),
			}
			if b, jerr := json.Marshal(req); jerr == nil {
				e.Parameters = string(b)
			}
			if err != nil {
				e.Error = err.Error()
			}
			logger.LogAsync(e)
			return resp, err
		}
	}
}

func fillDefaults(e *Entry, newID idgen.Generator) {
	if e.EntryID == "" {
		e.EntryID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

const insertSQL = `INSERT INTO audit_log
	(entry_id, timestamp, action, transport, trace_id, run_id,
	 parameters, result, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?,?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, insertSQL,
		e.EntryID, e.Timestamp.UnixMilli(), e.Action, e.Transport, e.TraceID, e.RunID,
		e.Parameters, e.Result, e.Error, e.DurationMs, e.Status)
	return err
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*Entry, 0, 32)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := insert(ctx, tx, e); err != nil {
				slog.Error("audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 32 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
