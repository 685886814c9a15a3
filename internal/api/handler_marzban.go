package api

import (
	"net/http"

	"github.com/mybrohigh/Xpert/internal/marzban"
	"github.com/mybrohigh/Xpert/internal/store"
)

// HandleMarzbanSync returns a handler for POST /xpert/marzban/sync. The
// aggregated active set is pushed to the panel add-only; nothing is
// removed. Direct configs stay out of the host inventory.
func HandleMarzbanSync(client *marzban.Client, snapshot *store.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := client.Sync(r.Context(), snapshot.Active())
		if err != nil {
			writeUpstream(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

// HandleMarzbanCleanup returns a handler for POST /xpert/marzban/cleanup.
// Hosts on the panel that no longer match an active aggregated config are
// removed.
func HandleMarzbanCleanup(client *marzban.Client, snapshot *store.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := client.CleanupInactive(r.Context(), snapshot.Active())
		if err != nil {
			writeUpstream(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
