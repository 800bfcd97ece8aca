package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/riotsync/riotsync/internal/feed"
	"github.com/hazyhaar/riotsync/riotsync/internal/store"
)

// ErrInvalidRecord marks a feed record that cannot become a document.
var ErrInvalidRecord = errors.New("pipeline: invalid record")

// Transform validates raw and builds its document, stamped with now.
// The only validation is a non-empty ip after trimming; every other known
// field is copied as-is. A panic while reading the record is turned into
// ErrInvalidRecord so one bad record never aborts a run.
func Transform(raw feed.RawRecord, now time.Time) (doc *store.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: panic: %v", ErrInvalidRecord, r)
		}
	}()

	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidRecord)
	}
	if !raw.Has(feed.FieldIP) {
		return nil, fmt.Errorf("%w: missing ip", ErrInvalidRecord)
	}
	ip, ok := raw.String(feed.FieldIP)
	if !ok {
		return nil, fmt.Errorf("%w: ip is not a string", ErrInvalidRecord)
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, fmt.Errorf("%w: empty ip", ErrInvalidRecord)
	}

	return &store.Document{
		IP:          ip,
		Name:        raw.Value(feed.FieldName),
		Category:    raw.Value(feed.FieldCategory),
		Description: raw.Value(feed.FieldDescription),
		LastUpdated: raw.Value(feed.FieldLastUpdated),
		IngestedAt:  now,
	}, nil
}
