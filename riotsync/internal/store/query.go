package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const selectCols = `ip, name, category, description, last_updated, ingested_at, first_seen_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var ingested, firstSeen int64
	if err := row.Scan(&d.IP, &d.Name, &d.Category, &d.Description, &d.LastUpdated, &ingested, &firstSeen); err != nil {
		return nil, err
	}
	d.Name = normalizeScanned(d.Name)
	d.Category = normalizeScanned(d.Category)
	d.Description = normalizeScanned(d.Description)
	d.LastUpdated = normalizeScanned(d.LastUpdated)
	d.IngestedAt = time.UnixMilli(ingested).UTC()
	d.FirstSeenAt = time.UnixMilli(firstSeen).UTC()
	return &d, nil
}

// normalizeScanned turns driver []byte values into strings so documents
// encode to JSON the way they were ingested.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Get returns the document for ip, or nil if there is none.
func (s *Store) Get(ctx context.Context, ip string) (*Document, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+selectCols+` FROM riot_ips WHERE ip = ?`, ip)
	d, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return d, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM riot_ips`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// ListByCategory returns documents of one category ordered by ip.
func (s *Store) ListByCategory(ctx context.Context, category string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectCols+` FROM riot_ips WHERE category = ? ORDER BY ip LIMIT ?`, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Stats returns collection-wide counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var last sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT category), MAX(ingested_at) FROM riot_ips`).
		Scan(&st.Documents, &st.Categories, &last)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if last.Valid {
		t := time.UnixMilli(last.Int64).UTC()
		st.LastIngestedAt = &t
	}
	return &st, nil
}
