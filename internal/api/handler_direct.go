package api

import (
	"net/http"
	"strings"

	"github.com/mybrohigh/Xpert/internal/aggregate"
	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/store"
	"github.com/mybrohigh/Xpert/internal/subscription"
)

// HandleListDirectConfigs returns a handler for GET /xpert/direct-configs.
func HandleListDirectConfigs(direct *store.DirectConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := direct.List()
		WriteJSON(w, http.StatusOK, map[string]any{
			"configs": list,
			"total":   len(list),
		})
	}
}

// HandleAddDirectConfig returns a handler for POST /xpert/direct-configs.
// The link is parsed and probed before it is stored; a dead endpoint is
// stored inactive rather than rejected.
func HandleAddDirectConfig(direct *store.DirectConfigStore, orch *aggregate.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Raw string `json:"raw"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		cfg, err := probeAndBuildDirect(r, orch, req.Raw)
		if err != nil {
			invalidArgument(w, err.Error())
			return
		}
		added, err := direct.Add(cfg)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, added)
	}
}

// HandleBatchAddDirectConfigs returns a handler for
// POST /xpert/direct-configs/batch. Unparseable lines are reported but do
// not abort the rest of the batch.
func HandleBatchAddDirectConfigs(direct *store.DirectConfigStore, orch *aggregate.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Links []string `json:"links"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if len(req.Links) == 0 {
			invalidArgument(w, "links: at least one link is required")
			return
		}

		added := make([]model.DirectConfig, 0, len(req.Links))
		var failures []string
		for _, raw := range req.Links {
			cfg, err := probeAndBuildDirect(r, orch, raw)
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			stored, err := direct.Add(cfg)
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			added = append(added, stored)
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"added":    added,
			"total":    len(added),
			"failures": failures,
		})
	}
}

// HandleUpdateDirectConfig returns a handler for PUT /xpert/direct-configs/{id}.
func HandleUpdateDirectConfig(direct *store.DirectConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r, "id")
		if !ok {
			return
		}
		var req struct {
			Raw string `json:"raw"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		link, parsed := subscription.ParseLink(strings.TrimSpace(req.Raw))
		if !parsed {
			invalidArgument(w, "raw: not a recognized proxy link")
			return
		}
		updated, err := direct.Update(id, link.Raw, link.Protocol, link.Server, link.Port)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

// HandleDeleteDirectConfig returns a handler for DELETE /xpert/direct-configs/{id}.
func HandleDeleteDirectConfig(direct *store.DirectConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r, "id")
		if !ok {
			return
		}
		if err := direct.Delete(id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleToggleDirectConfig returns a handler for POST /xpert/direct-configs/{id}/toggle.
func HandleToggleDirectConfig(direct *store.DirectConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r, "id")
		if !ok {
			return
		}
		cfg, err := direct.Toggle(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg)
	}
}

// HandleMoveDirectConfig returns a handler for POST /xpert/direct-configs/{id}/move.
func HandleMoveDirectConfig(direct *store.DirectConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r, "id")
		if !ok {
			return
		}
		dir, ok := decodeMoveDirection(w, r)
		if !ok {
			return
		}
		if err := direct.Move(id, dir); err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"configs": direct.List(),
		})
	}
}

// HandleBatchMoveDirectConfigs returns a handler for POST /xpert/direct-configs/move-batch.
func HandleBatchMoveDirectConfigs(direct *store.DirectConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs       []int64 `json:"ids"`
			Direction string  `json:"direction"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if len(req.IDs) == 0 {
			invalidArgument(w, "ids: at least one id is required")
			return
		}
		dir := store.MoveDirection(req.Direction)
		if dir != store.MoveUp && dir != store.MoveDown {
			invalidArgument(w, "direction: must be up or down")
			return
		}
		if err := direct.BatchMove(req.IDs, dir); err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"configs": direct.List(),
		})
	}
}

// HandlePingRefresh returns a handler for POST /xpert/direct-configs/ping-refresh.
// With force=true the throttle window is bypassed.
func HandlePingRefresh(direct *store.DirectConfigStore, orch *aggregate.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, ok := parseBoolQueryOrWriteInvalid(w, r, "force")
		if !ok {
			return
		}
		refreshed, err := direct.RefreshAllPings(force != nil && *force, func(cfg model.DirectConfig) (float64, bool) {
			return orch.ProbeDirect(r.Context(), cfg)
		})
		if err != nil {
			writeInternal(w, err)
			return
		}
		status := "refreshed"
		if !refreshed {
			status = "throttled"
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":  status,
			"configs": direct.List(),
		})
	}
}

// HandleValidateDirectConfig returns a handler for
// POST /xpert/direct-configs/validate. The link is parsed and probed but
// never stored.
func HandleValidateDirectConfig(orch *aggregate.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Raw string `json:"raw"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		link, result, err := orch.ValidateLink(r.Context(), req.Raw)
		if err != nil {
			invalidArgument(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"valid":    true,
			"protocol": link.Protocol,
			"server":   link.Server,
			"port":     link.Port,
			"remarks":  link.Remarks,
			"tls":      link.TLS,
			"alive":    result.OK,
			"ping_ms":  result.PingMS,
		})
	}
}

func decodeMoveDirection(w http.ResponseWriter, r *http.Request) (store.MoveDirection, bool) {
	var req struct {
		Direction string `json:"direction"`
	}
	if err := DecodeBody(r, &req); err != nil {
		writeDecodeBodyError(w, err)
		return "", false
	}
	dir := store.MoveDirection(req.Direction)
	if dir != store.MoveUp && dir != store.MoveDown {
		invalidArgument(w, "direction: must be up or down")
		return "", false
	}
	return dir, true
}

// probeAndBuildDirect parses and probes one candidate link and shapes it
// as a storable direct config.
func probeAndBuildDirect(r *http.Request, orch *aggregate.Orchestrator, raw string) (model.DirectConfig, error) {
	link, result, err := orch.ValidateLink(r.Context(), strings.TrimSpace(raw))
	if err != nil {
		return model.DirectConfig{}, err
	}
	return model.DirectConfig{
		Raw:      link.Raw,
		Protocol: link.Protocol,
		Server:   link.Server,
		Port:     link.Port,
		Remarks:  link.Remarks,
		PingMS:   result.PingMS,
		IsActive: result.OK,
		AddedBy:  "admin",
	}, nil
}
