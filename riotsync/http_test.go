package riotsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_Health(t *testing.T) {
	svc, _ := setupTestService(t, &staticSource{})
	rec := doRequest(t, svc.Handler(), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("X-Trace-ID header missing")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestHTTP_SyncThenLookup(t *testing.T) {
	// WHAT: POST /api/sync runs a sync; lookups then answer 200 or 404.
	// WHY: Operators trigger and verify syncs through the admin API.
	svc, _ := setupTestService(t, &staticSource{records: sampleRecords()})
	h := svc.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/runs/last")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("runs/last before sync: got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: got %d: %s", rec.Code, rec.Body.String())
	}
	var sum RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Inserted != 3 || sum.Invalid != 1 {
		t.Fatalf("summary: got %+v", sum)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/ips/1.1.1.1")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup: got %d", rec.Code)
	}
	var doc map[string]any
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc["ip"] != "1.1.1.1" || doc["name"] != "Cloudflare DNS" {
		t.Errorf("doc: got %v", doc)
	}
	if _, ok := doc["ingested_at"]; !ok {
		t.Error("ingested_at missing")
	}

	rec = doRequest(t, h, http.MethodGet, "/api/ips/203.0.113.9")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ip: got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/runs/last")
	if rec.Code != http.StatusOK {
		t.Fatalf("runs/last: got %d", rec.Code)
	}
}

func TestHTTP_StatsAndCategory(t *testing.T) {
	svc, _ := setupTestService(t, &staticSource{records: sampleRecords()})
	svc.Sync(context.Background())
	h := svc.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: got %d", rec.Code)
	}
	var st Stats
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Documents != 3 {
		t.Errorf("documents: got %d", st.Documents)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/categories/search_engine?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("category: got %d", rec.Code)
	}
	var docs []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &docs)
	if len(docs) != 1 || docs[0]["ip"] != "66.249.66.1" {
		t.Errorf("docs: got %v", docs)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/categories/unknown")
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("empty category: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHTTP_SyncFetchFailed(t *testing.T) {
	svc, _ := setupTestService(t, &staticSource{err: ErrFetchFailed})
	rec := doRequest(t, svc.Handler(), http.MethodPost, "/api/sync")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d", rec.Code)
	}
}
