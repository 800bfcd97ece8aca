// Package store persists normalized IP-reputation documents in SQLite.
//
// The store receives an already-opened *sql.DB; opening and closing it is the
// caller's job. Rows are keyed by ip through a UNIQUE index, so every write is
// an idempotent upsert.
package store

import (
	"database/sql"
	"time"
)

// Store wraps the riotsync database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Document is the stored shape of one feed record.
//
// Name, Category, Description and LastUpdated are passed through from the
// feed as decoded (nil when absent). IngestedAt is set when the record is
// transformed; FirstSeenAt is set by the store on insert and never changes.
type Document struct {
	IP          string    `json:"ip"`
	Name        any       `json:"name"`
	Category    any       `json:"category"`
	Description any       `json:"description"`
	LastUpdated any       `json:"last_updated"`
	IngestedAt  time.Time `json:"ingested_at"`
	FirstSeenAt time.Time `json:"first_seen_at,omitzero"`
}

// Stats summarises the collection.
type Stats struct {
	Documents      int        `json:"documents"`
	Categories     int        `json:"categories"`
	LastIngestedAt *time.Time `json:"last_ingested_at,omitempty"`
}
