package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mybrohigh/Xpert/internal/auditlog"
	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/token"
	"github.com/mybrohigh/Xpert/internal/traffic"
)

const defaultStatsDays = 30

// HandleTrafficWebhook returns a handler for POST /api/xpert/traffic-webhook.
// Agents on the data path report usage in batches; the endpoint is public
// and identifies the subscriber by the token in the body. Tokens that do
// not resolve are accounted under "anonymous".
func HandleTrafficWebhook(repo *traffic.Repo, tokens *token.Resolver) http.HandlerFunc {
	type record struct {
		Server   string `json:"server"`
		Port     int    `json:"port"`
		Protocol string `json:"protocol"`
		Upload   int64  `json:"upload"`
		Download int64  `json:"download"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token   string   `json:"token"`
			Records []record `json:"records"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if len(req.Records) == 0 {
			invalidArgument(w, "records: at least one record is required")
			return
		}

		userToken, anonymous := tokens.Resolve(r.Context(), req.Token)
		if anonymous {
			userToken = "anonymous"
		}

		accepted := 0
		var failures []string
		for i, rec := range req.Records {
			rec.Server = strings.TrimSpace(rec.Server)
			if rec.Server == "" || rec.Port <= 0 || rec.Upload < 0 || rec.Download < 0 {
				failures = append(failures, fmt.Sprintf("records[%d]: invalid record", i))
				continue
			}
			if err := repo.Record(r.Context(), userToken, rec.Server, rec.Port, rec.Protocol, rec.Upload, rec.Download); err != nil {
				failures = append(failures, fmt.Sprintf("records[%d]: %v", i, err))
				continue
			}
			accepted++
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"accepted": accepted,
			"failures": failures,
		})
	}
}

// HandleUserTrafficStats returns a handler for GET /xpert/traffic-stats/user/{token}.
func HandleUserTrafficStats(repo *traffic.Repo, tokens *token.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, ok := requireUsernamePathParam(w, r, "token")
		if !ok {
			return
		}
		days, ok := parseDaysQuery(w, r, "days", defaultStatsDays)
		if !ok {
			return
		}
		userToken, anonymous := tokens.Resolve(r.Context(), tok)
		if anonymous {
			userToken = "anonymous"
		}
		stats, err := repo.UserStats(r.Context(), userToken, days)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleGlobalTrafficStats returns a handler for GET /xpert/traffic-stats/global.
func HandleGlobalTrafficStats(repo *traffic.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, ok := parseDaysQuery(w, r, "days", defaultStatsDays)
		if !ok {
			return
		}
		stats, err := repo.GlobalStats(r.Context(), days)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleServerTrafficStats returns a handler for GET /xpert/traffic-stats/server.
func HandleServerTrafficStats(repo *traffic.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server := strings.TrimSpace(r.URL.Query().Get("server"))
		if server == "" {
			invalidArgument(w, "server: query parameter is required")
			return
		}
		port, err := strconv.Atoi(r.URL.Query().Get("port"))
		if err != nil || port <= 0 || port > 65535 {
			invalidArgument(w, "port: must be in [1,65535]")
			return
		}
		days, ok := parseDaysQuery(w, r, "days", defaultStatsDays)
		if !ok {
			return
		}
		stats, err := repo.ServerStats(r.Context(), server, port, days)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleTrafficDatabaseInfo returns a handler for GET /xpert/traffic-stats/database-info.
func HandleTrafficDatabaseInfo(repo *traffic.Repo, dbPath string, retentionDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := repo.DatabaseInfo(r.Context(), dbPath, retentionDays)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, info)
	}
}

// HandleTrafficCleanup returns a handler for POST /xpert/traffic-stats/cleanup.
// The retention window can be overridden per call with ?days=.
func HandleTrafficCleanup(repo *traffic.Repo, retentionDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, ok := parseDaysQuery(w, r, "days", retentionDays)
		if !ok {
			return
		}
		result, err := repo.Cleanup(r.Context(), days)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

// HandleTrafficReset returns a handler for POST /xpert/traffic-stats/reset.
func HandleTrafficReset(repo *traffic.Repo, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := repo.Reset(r.Context())
		if err != nil {
			writeInternal(w, err)
			return
		}
		emitAudit(audit, r, model.ActionTrafficReset, "traffic", "", fmt.Sprintf("reset_gb=%.3f", result.ResetGB))
		WriteJSON(w, http.StatusOK, result)
	}
}

// HandleGetAdminTrafficLimit returns a handler for GET /xpert/admin-traffic-limit/{admin}.
func HandleGetAdminTrafficLimit(repo *traffic.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requireUsernamePathParam(w, r, "admin")
		if !ok {
			return
		}
		limit, err := repo.AdminLimit(r.Context(), admin)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"admin_username": admin,
			"limit":          limit,
		})
	}
}

// HandleSetAdminTrafficLimit returns a handler for POST /xpert/admin-traffic-limit/{admin}.
// Values above one GiB are read as bytes, smaller values as whole GB,
// matching how operators enter them. Zero clears the cap.
func HandleSetAdminTrafficLimit(repo *traffic.Repo, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requireUsernamePathParam(w, r, "admin")
		if !ok {
			return
		}
		var req struct {
			Limit int64 `json:"limit"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.Limit < 0 {
			invalidArgument(w, "limit: must be non-negative")
			return
		}
		if err := repo.SetAdminLimit(r.Context(), admin, req.Limit); err != nil {
			writeInternal(w, err)
			return
		}
		emitAudit(audit, r, model.ActionTrafficLimitSet, "admin", admin, fmt.Sprintf("limit=%d", req.Limit))
		WriteJSON(w, http.StatusOK, map[string]any{
			"admin_username": admin,
			"limit":          req.Limit,
		})
	}
}

// HandleCheckAdminTrafficLimit returns a handler for
// GET /xpert/admin-traffic-limit/{admin}/check.
func HandleCheckAdminTrafficLimit(repo *traffic.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requireUsernamePathParam(w, r, "admin")
		if !ok {
			return
		}
		limit, err := repo.AdminLimit(r.Context(), admin)
		if err != nil {
			writeInternal(w, err)
			return
		}
		check, err := repo.CheckAdminLimit(r.Context(), admin, limit)
		if err != nil {
			writeInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, check)
	}
}
