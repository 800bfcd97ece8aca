// Package riotsync mirrors the GreyNoise RIOT feed into a SQLite table.
//
// A Service owns one explicitly opened database handle. Each Sync downloads
// the whole feed, normalizes every record, and upserts the valid ones in
// fixed-size batches keyed by ip. Re-running against an unchanged feed leaves
// the same set of documents: nothing is inserted, every row is refreshed.
//
// Runs can be triggered by the scheduler (Start), the admin HTTP API
// (Handler) or MCP tools (RegisterMCP). They never overlap.
package riotsync

import (
	"github.com/hazyhaar/riotsync/riotsync/internal/feed"
	"github.com/hazyhaar/riotsync/riotsync/internal/pipeline"
	"github.com/hazyhaar/riotsync/riotsync/internal/store"
)

// Re-export internal types for the public API.
type (
	Document   = store.Document
	Stats      = store.Stats
	RawRecord  = feed.RawRecord
	RunSummary = pipeline.RunSummary
	Source     = pipeline.Source
)

// Sentinel errors surfaced by Sync, re-exported so callers can match them
// with errors.Is.
var (
	ErrFetchFailed     = feed.ErrFetchFailed
	ErrUnexpectedShape = feed.ErrUnexpectedShape
)
