package api

import (
	"net/http"
	"time"

	"github.com/mybrohigh/Xpert/internal/buildinfo"
)

// HandleHealthz returns a handler for GET /healthz.
// No authentication is required.
func HandleHealthz(startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"version":        buildinfo.Version,
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		})
	}
}
