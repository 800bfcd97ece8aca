package riotsync

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/riotsync/shield"
)

// Handler returns the admin HTTP API:
//
//	GET  /health
//	GET  /api/ips/{ip}
//	GET  /api/stats
//	GET  /api/categories/{category}?limit=N
//	POST /api/sync
//	GET  /api/runs/last
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/ips/{ip}", func(w http.ResponseWriter, r *http.Request) {
			doc, err := svc.Lookup(r.Context(), chi.URLParam(r, "ip"))
			if err != nil {
				svc.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		})

		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			st, err := svc.Stats(r.Context())
			if err != nil {
				svc.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})

		r.Get("/categories/{category}", func(w http.ResponseWriter, r *http.Request) {
			docs, err := svc.ListByCategory(r.Context(), chi.URLParam(r, "category"), queryInt(r, "limit", 100))
			if err != nil {
				svc.writeServiceError(w, r, err)
				return
			}
			if docs == nil {
				docs = []*Document{}
			}
			writeJSON(w, http.StatusOK, docs)
		})

		r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
			sum, err := svc.Sync(r.Context())
			if err != nil {
				shield.GetLogger(r.Context()).Warn("riotsync: sync via http failed", "error", err)
				writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "run": sum})
				return
			}
			writeJSON(w, http.StatusOK, sum)
		})

		r.Get("/runs/last", func(w http.ResponseWriter, r *http.Request) {
			sum := svc.LastRun()
			if sum == nil {
				writeError(w, http.StatusNotFound, errors.New("no run yet"))
				return
			}
			writeJSON(w, http.StatusOK, sum)
		})
	})

	return r
}

func (svc *Service) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		shield.GetLogger(r.Context()).Error("riotsync: http", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
