package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/riotsync/dbopen"
)

// UpsertOp sets every field of Doc on the row keyed by IP, inserting the row
// when it does not exist.
type UpsertOp struct {
	IP  string
	Doc *Document
}

// NewUpsert builds the upsert for doc.
func NewUpsert(doc *Document) UpsertOp {
	return UpsertOp{IP: doc.IP, Doc: doc}
}

// BulkResult reports what one BulkUpsert did.
type BulkResult struct {
	Inserted int       `json:"inserted"` // rows created
	Matched  int       `json:"matched"`  // existing rows overwritten
	Errors   []OpError `json:"errors,omitempty"`
}

// OpError is one rejected operation within a bulk.
type OpError struct {
	Index int    `json:"index"`
	IP    string `json:"ip"`
	Err   error  `json:"-"`
}

func (e OpError) Error() string {
	return fmt.Sprintf("op %d (ip %s): %v", e.Index, e.IP, e.Err)
}

// BulkWriteError is returned by BulkUpsert when some operations were rejected.
// The other operations of the bulk were committed; Result counts them.
type BulkWriteError struct {
	Result *BulkResult
}

func (e *BulkWriteError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, oe := range e.Result.Errors {
		msgs = append(msgs, oe.Error())
	}
	return fmt.Sprintf("store: bulk write: %d of %d operation(s) rejected: %s",
		len(e.Result.Errors), len(e.Result.Errors)+e.Result.Inserted+e.Result.Matched,
		strings.Join(msgs, "; "))
}

const upsertSQL = `
INSERT INTO riot_ips (ip, name, category, description, last_updated, ingested_at, first_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(ip) DO UPDATE SET
    name         = excluded.name,
    category     = excluded.category,
    description  = excluded.description,
    last_updated = excluded.last_updated,
    ingested_at  = excluded.ingested_at`

// BulkUpsert applies ops in one transaction, unordered: every operation is
// attempted even when an earlier one was rejected, and the accepted ones are
// committed together. When at least one operation was rejected the result is
// also returned inside a *BulkWriteError. Any other error (begin, prepare,
// commit) means nothing from this bulk was committed.
func (s *Store) BulkUpsert(ctx context.Context, ops []UpsertOp) (*BulkResult, error) {
	if len(ops) == 0 {
		return &BulkResult{}, nil
	}

	var res *BulkResult
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res = &BulkResult{}

		probe, err := tx.PrepareContext(ctx, `SELECT 1 FROM riot_ips WHERE ip = ?`)
		if err != nil {
			return fmt.Errorf("store: prepare probe: %w", err)
		}
		defer probe.Close()

		upsert, err := tx.PrepareContext(ctx, upsertSQL)
		if err != nil {
			return fmt.Errorf("store: prepare upsert: %w", err)
		}
		defer upsert.Close()

		now := time.Now().UnixMilli()
		for i, op := range ops {
			existed, err := applyOp(ctx, probe, upsert, op, now)
			if err != nil {
				if dbopen.IsBusy(err) {
					return err
				}
				res.Errors = append(res.Errors, OpError{Index: i, IP: op.IP, Err: err})
				continue
			}
			if existed {
				res.Matched++
			} else {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: bulk upsert: %w", err)
	}
	if len(res.Errors) > 0 {
		return res, &BulkWriteError{Result: res}
	}
	return res, nil
}

func applyOp(ctx context.Context, probe, upsert *sql.Stmt, op UpsertOp, now int64) (bool, error) {
	if op.Doc == nil || op.IP == "" || op.Doc.IP != op.IP {
		return false, fmt.Errorf("malformed operation")
	}
	d := op.Doc

	var one int
	existed := true
	if err := probe.QueryRowContext(ctx, op.IP).Scan(&one); err != nil {
		if err != sql.ErrNoRows {
			return false, err
		}
		existed = false
	}

	args := make([]any, 0, 7)
	args = append(args, d.IP)
	for _, v := range []any{d.Name, d.Category, d.Description, d.LastUpdated} {
		bv, err := bindValue(v)
		if err != nil {
			return false, err
		}
		args = append(args, bv)
	}
	args = append(args, d.IngestedAt.UnixMilli(), now)

	if _, err := upsert.ExecContext(ctx, args...); err != nil {
		return false, err
	}
	return existed, nil
}

// bindValue converts a pass-through feed value into something the driver can
// bind. Scalars go through unchanged; objects and arrays are stored as their
// JSON text.
func bindValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64, int64, int:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field: %w", err)
		}
		return string(b), nil
	}
}
