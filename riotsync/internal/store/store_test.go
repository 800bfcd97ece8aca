package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/riotsync/dbopen"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func doc(ip, name string, at time.Time) *Document {
	return &Document{IP: ip, Name: name, Category: "search_engine", IngestedAt: at}
}

func TestApplySchema_Idempotent(t *testing.T) {
	// WHAT: Schema can be applied twice and creates the unique ip index.
	// WHY: ApplySchema runs at every service start.
	db := openTestDB(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	var unique int
	err := db.QueryRow(`SELECT "unique" FROM pragma_index_list('riot_ips') WHERE name = 'idx_riot_ips_ip'`).Scan(&unique)
	if err != nil {
		t.Fatalf("index lookup: %v", err)
	}
	if unique != 1 {
		t.Fatalf("idx_riot_ips_ip unique = %d, want 1", unique)
	}
}

func TestBulkUpsert_InsertThenMatch(t *testing.T) {
	// WHAT: First bulk inserts, second bulk with the same ips matches.
	// WHY: Insert/update classification comes from the store, not the caller.
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	now := time.Now()

	ops := []UpsertOp{NewUpsert(doc("1.1.1.1", "a", now)), NewUpsert(doc("2.2.2.2", "b", now))}
	res, err := s.BulkUpsert(ctx, ops)
	if err != nil {
		t.Fatalf("first bulk: %v", err)
	}
	if res.Inserted != 2 || res.Matched != 0 {
		t.Fatalf("first bulk: got %+v", res)
	}

	res, err = s.BulkUpsert(ctx, ops)
	if err != nil {
		t.Fatalf("second bulk: %v", err)
	}
	if res.Inserted != 0 || res.Matched != 2 {
		t.Fatalf("second bulk: got %+v", res)
	}

	n, _ := s.Count(ctx)
	if n != 2 {
		t.Fatalf("count: got %d, want 2", n)
	}
}

func TestBulkUpsert_OverwritesFieldsKeepsFirstSeen(t *testing.T) {
	// WHAT: A matched upsert replaces every field but not first_seen_at.
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	t0 := time.Now().Add(-time.Hour)

	if _, err := s.BulkUpsert(ctx, []UpsertOp{NewUpsert(doc("1.1.1.1", "old", t0))}); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Get(ctx, "1.1.1.1")

	t1 := time.Now()
	updated := &Document{IP: "1.1.1.1", Name: "new", IngestedAt: t1}
	if _, err := s.BulkUpsert(ctx, []UpsertOp{NewUpsert(updated)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "1.1.1.1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Name != "new" {
		t.Errorf("name: got %v", got.Name)
	}
	if got.Category != nil {
		t.Errorf("category: got %v, want nil (absent in second run)", got.Category)
	}
	if got.IngestedAt.UnixMilli() != t1.UnixMilli() {
		t.Errorf("ingested_at: got %v, want %v", got.IngestedAt, t1)
	}
	if !got.FirstSeenAt.Equal(first.FirstSeenAt) {
		t.Errorf("first_seen_at changed: %v -> %v", first.FirstSeenAt, got.FirstSeenAt)
	}
}

func TestBulkUpsert_UnorderedPartialFailure(t *testing.T) {
	// WHAT: One rejected op does not prevent the others from committing.
	// WHY: Unordered bulk semantics bound the blast radius to the bad op.
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TRIGGER reject_ip BEFORE INSERT ON riot_ips
		WHEN new.ip = '6.6.6.6' BEGIN SELECT RAISE(ABORT, 'rejected by policy'); END;`); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	s := NewStore(db)
	ctx := context.Background()
	now := time.Now()

	res, err := s.BulkUpsert(ctx, []UpsertOp{
		NewUpsert(doc("1.1.1.1", "a", now)),
		NewUpsert(doc("6.6.6.6", "bad", now)),
		NewUpsert(doc("3.3.3.3", "c", now)),
	})
	var bwe *BulkWriteError
	if !errors.As(err, &bwe) {
		t.Fatalf("error: got %v, want *BulkWriteError", err)
	}
	if res.Inserted != 2 || len(res.Errors) != 1 {
		t.Fatalf("result: got %+v", res)
	}
	if res.Errors[0].Index != 1 || res.Errors[0].IP != "6.6.6.6" {
		t.Errorf("op error: got %+v", res.Errors[0])
	}

	n, _ := s.Count(ctx)
	if n != 2 {
		t.Fatalf("committed rows: got %d, want 2", n)
	}
}

func TestBulkUpsert_Empty(t *testing.T) {
	s := NewStore(openTestDB(t))
	res, err := s.BulkUpsert(context.Background(), nil)
	if err != nil || res.Inserted != 0 || res.Matched != 0 {
		t.Fatalf("empty bulk: %+v %v", res, err)
	}
}

func TestBulkUpsert_PassThroughValues(t *testing.T) {
	// WHAT: Non-string feed values are stored without coercion; objects as JSON text.
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	d := &Document{
		IP:          "4.4.4.4",
		Name:        float64(12),
		Category:    true,
		Description: map[string]any{"k": "v"},
		IngestedAt:  time.Now(),
	}
	if _, err := s.BulkUpsert(ctx, []UpsertOp{NewUpsert(d)}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "4.4.4.4")
	if got.Description != `{"k":"v"}` {
		t.Errorf("description: got %#v", got.Description)
	}
	if got.LastUpdated != nil {
		t.Errorf("last_updated: got %#v, want nil", got.LastUpdated)
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(openTestDB(t))
	got, err := s.Get(context.Background(), "8.8.8.8")
	if err != nil || got != nil {
		t.Fatalf("get missing: %v %v", got, err)
	}
}

func TestListByCategoryAndStats(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	now := time.Now()
	ops := []UpsertOp{
		NewUpsert(&Document{IP: "2.2.2.2", Category: "cdn", IngestedAt: now}),
		NewUpsert(&Document{IP: "1.1.1.1", Category: "cdn", IngestedAt: now}),
		NewUpsert(&Document{IP: "3.3.3.3", Category: "email", IngestedAt: now}),
	}
	if _, err := s.BulkUpsert(ctx, ops); err != nil {
		t.Fatal(err)
	}

	cdn, err := s.ListByCategory(ctx, "cdn", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cdn) != 2 || cdn[0].IP != "1.1.1.1" {
		t.Fatalf("cdn: got %d docs", len(cdn))
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 3 || st.Categories != 2 {
		t.Errorf("stats: got %+v", st)
	}
	if st.LastIngestedAt == nil || st.LastIngestedAt.UnixMilli() != now.UnixMilli() {
		t.Errorf("last_ingested_at: got %v", st.LastIngestedAt)
	}
}
