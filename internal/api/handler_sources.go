package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/mybrohigh/Xpert/internal/aggregate"
	"github.com/mybrohigh/Xpert/internal/store"
)

// HandleListSources returns a handler for GET /xpert/sources.
func HandleListSources(sources *store.SourceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := sources.List()
		WriteJSON(w, http.StatusOK, map[string]any{
			"sources": list,
			"total":   len(list),
		})
	}
}

// HandleAddSource returns a handler for POST /xpert/sources.
func HandleAddSource(sources *store.SourceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			URL      string `json:"url"`
			Priority int    `json:"priority"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			invalidArgument(w, "url: must be an absolute http(s) URL")
			return
		}
		src, err := sources.Add(strings.TrimSpace(req.Name), req.URL, req.Priority)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, src)
	}
}

// HandleDeleteSource returns a handler for DELETE /xpert/sources/{id}.
// Aggregated configs that came from the source are removed with it.
func HandleDeleteSource(sources *store.SourceStore, snapshot *store.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r, "id")
		if !ok {
			return
		}
		if err := sources.Delete(id); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := snapshot.RemoveSource(id); err != nil {
			writeInternal(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleToggleSource returns a handler for POST /xpert/sources/{id}/toggle.
func HandleToggleSource(sources *store.SourceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r, "id")
		if !ok {
			return
		}
		src, err := sources.Toggle(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, src)
	}
}

// HandleForceUpdate returns a handler for POST /xpert/update. It runs a
// full aggregation pass synchronously and reports the tick result.
func HandleForceUpdate(orch *aggregate.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := orch.Tick(r.Context())
		if err != nil {
			if errors.Is(err, aggregate.ErrTickTimeout) {
				writeTimeout(w, "aggregation did not finish within the tick deadline")
				return
			}
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
