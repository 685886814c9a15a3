package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/netutil"
	"github.com/mybrohigh/Xpert/internal/probe"
	"github.com/mybrohigh/Xpert/internal/store"
)

// lastUpdateValue renders the newest probe timestamp, null before the
// first tick completes.
func lastUpdateValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// HandleListConfigs returns a handler for GET /xpert/configs.
func HandleListConfigs(snapshot *store.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly, ok := parseBoolQueryOrWriteInvalid(w, r, "active_only")
		if !ok {
			return
		}
		var configs []model.AggregatedConfig
		if activeOnly != nil && *activeOnly {
			configs = snapshot.Active()
		} else {
			configs = snapshot.All()
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"configs": configs,
			"total":   len(configs),
		})
	}
}

// HandleStats returns a handler for GET /xpert/stats.
func HandleStats(sources *store.SourceStore, snapshot *store.SnapshotStore, direct *store.DirectConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := snapshot.Stats()

		protocols := map[string]int{}
		perSource := map[int64]int{}
		var lastUpdate time.Time
		for _, cfg := range snapshot.All() {
			protocols[cfg.Protocol]++
			perSource[cfg.SourceID]++
			if cfg.LastCheck.After(lastUpdate) {
				lastUpdate = cfg.LastCheck
			}
		}

		srcList := sources.List()
		enabled := 0
		for _, src := range srcList {
			if src.Enabled {
				enabled++
			}
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"sources": map[string]any{
				"total":   len(srcList),
				"enabled": enabled,
			},
			"configs": map[string]any{
				"total":       stats.TotalConfigs,
				"active":      stats.ActiveConfigs,
				"avg_ping_ms": stats.AvgPingMS,
				"protocols":   protocols,
				"per_source":  perSource,
				"last_update": lastUpdateValue(lastUpdate),
			},
			"direct_configs": map[string]any{
				"total":  len(direct.List()),
				"active": len(direct.Active()),
			},
		})
	}
}

// HandlePingCheck returns a handler for GET /xpert/ping-check. It runs an
// ICMP round trip against one host as a diagnostic, reporting latency,
// jitter and loss independently of the TCP/TLS reachability probes.
func HandlePingCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := netutil.ExtractHost(strings.TrimSpace(r.URL.Query().Get("host")))
		if host == "" {
			invalidArgument(w, "host: query parameter is required")
			return
		}
		avgMS, jitterMS, loss := probe.CheckPing(r.Context(), host)
		WriteJSON(w, http.StatusOK, map[string]any{
			"host":        host,
			"ping_ms":     avgMS,
			"jitter_ms":   jitterMS,
			"packet_loss": loss,
		})
	}
}

// HandleGetTargetIPs returns a handler for GET /xpert/target-ips.
func HandleGetTargetIPs(overlay *probe.TargetOverlay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets := overlay.Targets()
		WriteJSON(w, http.StatusOK, map[string]any{
			"target_ips": targets,
			"total":      len(targets),
		})
	}
}

// HandleSetTargetIPs returns a handler for POST /xpert/target-ips.
// Entries are normalized to bare hosts and de-duplicated keeping the
// first occurrence. Replacing the list invalidates the overlay cache.
func HandleSetTargetIPs(overlay *probe.TargetOverlay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TargetIPs []string `json:"target_ips"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}

		seen := map[string]struct{}{}
		cleaned := make([]string, 0, len(req.TargetIPs))
		for _, entry := range req.TargetIPs {
			host := netutil.ExtractHost(strings.TrimSpace(entry))
			if host == "" {
				continue
			}
			if _, dup := seen[host]; dup {
				continue
			}
			seen[host] = struct{}{}
			cleaned = append(cleaned, host)
		}

		overlay.SetTargets(cleaned)
		WriteJSON(w, http.StatusOK, map[string]any{
			"target_ips": cleaned,
			"total":      len(cleaned),
		})
	}
}
