package api

import (
	"net/http"

	"github.com/mybrohigh/Xpert/internal/auditlog"
	"github.com/mybrohigh/Xpert/internal/model"
)

// HandleListAudit returns a handler for GET /xpert/audit. Entries come
// back newest first; action and target_username filter the trail.
func HandleListAudit(repo *auditlog.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		filter := auditlog.ListFilter{
			Action:         r.URL.Query().Get("action"),
			TargetUsername: r.URL.Query().Get("target_username"),
			Limit:          pg.Limit,
			Offset:         pg.Offset,
		}
		entries, err := repo.List(r.Context(), filter)
		if err != nil {
			writeInternal(w, err)
			return
		}
		total, err := repo.Count(r.Context(), filter)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, PageResponse[model.AdminAction]{
			Items:  entries,
			Total:  total,
			Limit:  pg.Limit,
			Offset: pg.Offset,
		})
	}
}
