package api

import (
	"context"
	"net/http"
	"time"

	"github.com/mybrohigh/Xpert/internal/aggregate"
	"github.com/mybrohigh/Xpert/internal/auditlog"
	"github.com/mybrohigh/Xpert/internal/cryptolink"
	"github.com/mybrohigh/Xpert/internal/geoip"
	"github.com/mybrohigh/Xpert/internal/marzban"
	"github.com/mybrohigh/Xpert/internal/policy"
	"github.com/mybrohigh/Xpert/internal/probe"
	"github.com/mybrohigh/Xpert/internal/store"
	"github.com/mybrohigh/Xpert/internal/token"
	"github.com/mybrohigh/Xpert/internal/traffic"
)

// ServerConfig bundles every dependency the route table needs. Optional
// services (GeoIP, Marzban, Crypto, Audit, Traffic) may be nil; their
// routes are then either absent or answer with a disabled status.
type ServerConfig struct {
	ListenAddr      string
	AdminToken      string
	APIMaxBodyBytes int64
	PublicBaseURL   string

	Sources  *store.SourceStore
	Snapshot *store.SnapshotStore
	Direct   *store.DirectConfigStore
	Policies *policy.Store
	Tokens   *token.Resolver

	Orchestrator *aggregate.Orchestrator
	Overlay      *probe.TargetOverlay

	Traffic        *traffic.Repo
	TrafficDBPath  string
	RetentionDays  int
	Audit          *auditlog.Service
	GeoIP          *geoip.Service
	Marzban        *marzban.Client
	Crypto         *cryptolink.Client

	StartedAt time.Time
}

// Server wraps the HTTP server and mux for the Xpert API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

// NewServer creates a new API server wired with all routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}

	mux := http.NewServeMux()

	// Public (no auth).
	mux.Handle("GET /healthz", HandleHealthz(cfg.StartedAt))

	subDeps := SubscriptionDeps{
		Snapshot:      cfg.Snapshot,
		Direct:        cfg.Direct,
		Policies:      cfg.Policies,
		Tokens:        cfg.Tokens,
		Traffic:       cfg.Traffic,
		PublicBaseURL: cfg.PublicBaseURL,
	}
	mux.Handle("GET /sub/{token}", HandleSubscription(subDeps))
	mux.Handle("GET /sub/{token}/direct", HandleSubscriptionDirect(subDeps))

	// Tokenless mirrors used by panel clients. These exact patterns take
	// precedence over the authenticated /xpert/ subtree, so they stay
	// public and serve the anonymous feed.
	mux.Handle("GET /xpert/sub", HandleSubscription(subDeps))
	mux.Handle("GET /xpert/direct-configs/sub", HandleSubscriptionDirect(subDeps))

	if cfg.Traffic != nil {
		webhook := RequestBodyLimitMiddleware(cfg.APIMaxBodyBytes,
			HandleTrafficWebhook(cfg.Traffic, cfg.Tokens))
		mux.Handle("POST /api/xpert/traffic-webhook", webhook)
	}

	// Authenticated admin routes.
	authed := http.NewServeMux()

	// Sources and aggregation.
	authed.Handle("GET /xpert/sources", HandleListSources(cfg.Sources))
	authed.Handle("POST /xpert/sources", HandleAddSource(cfg.Sources))
	authed.Handle("DELETE /xpert/sources/{id}", HandleDeleteSource(cfg.Sources, cfg.Snapshot))
	authed.Handle("POST /xpert/sources/{id}/toggle", HandleToggleSource(cfg.Sources))
	authed.Handle("POST /xpert/update", HandleForceUpdate(cfg.Orchestrator))

	// Aggregated configs and probe targets.
	authed.Handle("GET /xpert/configs", HandleListConfigs(cfg.Snapshot))
	authed.Handle("GET /xpert/stats", HandleStats(cfg.Sources, cfg.Snapshot, cfg.Direct))
	authed.Handle("GET /xpert/ping-check", HandlePingCheck())
	authed.Handle("GET /xpert/target-ips", HandleGetTargetIPs(cfg.Overlay))
	authed.Handle("POST /xpert/target-ips", HandleSetTargetIPs(cfg.Overlay))

	// Direct configs.
	authed.Handle("GET /xpert/direct-configs", HandleListDirectConfigs(cfg.Direct))
	authed.Handle("POST /xpert/direct-configs", HandleAddDirectConfig(cfg.Direct, cfg.Orchestrator))
	authed.Handle("POST /xpert/direct-configs/batch", HandleBatchAddDirectConfigs(cfg.Direct, cfg.Orchestrator))
	authed.Handle("POST /xpert/direct-configs/validate", HandleValidateDirectConfig(cfg.Orchestrator))
	authed.Handle("POST /xpert/direct-configs/ping-refresh", HandlePingRefresh(cfg.Direct, cfg.Orchestrator))
	authed.Handle("POST /xpert/direct-configs/move-batch", HandleBatchMoveDirectConfigs(cfg.Direct))
	authed.Handle("PUT /xpert/direct-configs/{id}", HandleUpdateDirectConfig(cfg.Direct))
	authed.Handle("DELETE /xpert/direct-configs/{id}", HandleDeleteDirectConfig(cfg.Direct))
	authed.Handle("POST /xpert/direct-configs/{id}/toggle", HandleToggleDirectConfig(cfg.Direct))
	authed.Handle("POST /xpert/direct-configs/{id}/move", HandleMoveDirectConfig(cfg.Direct))

	// Subscriber policies.
	if cfg.Crypto != nil {
		authed.Handle("POST /xpert/crypto-link", HandleCryptoLink(cfg.Crypto, cfg.Policies, cfg.Tokens, cfg.Audit))
	}
	authed.Handle("POST /xpert/hwid/reset", HandleHWIDReset(cfg.Policies, cfg.Audit))
	authed.Handle("GET /xpert/hwid/{username}", HandleHWIDStatus(cfg.Policies))
	authed.Handle("POST /xpert/device-id", HandleSetDeviceID(cfg.Policies, cfg.Audit))
	authed.Handle("DELETE /xpert/device-id/{username}", HandleClearDeviceID(cfg.Policies, cfg.Audit))
	authed.Handle("GET /xpert/ip-limit", HandleGetIPLimit(cfg.Policies))
	authed.Handle("POST /xpert/ip-limit", HandleSetIPLimit(cfg.Policies, cfg.Audit))
	authed.Handle("DELETE /xpert/ip-limit/{username}", HandleClearIPLimit(cfg.Policies, cfg.Audit))

	// Traffic accounting.
	if cfg.Traffic != nil {
		authed.Handle("GET /xpert/traffic-stats/user/{token}", HandleUserTrafficStats(cfg.Traffic, cfg.Tokens))
		authed.Handle("GET /xpert/traffic-stats/global", HandleGlobalTrafficStats(cfg.Traffic))
		authed.Handle("GET /xpert/traffic-stats/server", HandleServerTrafficStats(cfg.Traffic))
		authed.Handle("GET /xpert/traffic-stats/database-info", HandleTrafficDatabaseInfo(cfg.Traffic, cfg.TrafficDBPath, cfg.RetentionDays))
		authed.Handle("POST /xpert/traffic-stats/cleanup", HandleTrafficCleanup(cfg.Traffic, cfg.RetentionDays))
		authed.Handle("POST /xpert/traffic-stats/reset", HandleTrafficReset(cfg.Traffic, cfg.Audit))
		authed.Handle("GET /xpert/admin-traffic-limit/{admin}", HandleGetAdminTrafficLimit(cfg.Traffic))
		authed.Handle("POST /xpert/admin-traffic-limit/{admin}", HandleSetAdminTrafficLimit(cfg.Traffic, cfg.Audit))
		authed.Handle("GET /xpert/admin-traffic-limit/{admin}/check", HandleCheckAdminTrafficLimit(cfg.Traffic))
	}

	// Marzban inventory.
	if cfg.Marzban.Enabled() {
		authed.Handle("POST /xpert/marzban/sync", HandleMarzbanSync(cfg.Marzban, cfg.Snapshot))
		authed.Handle("POST /xpert/marzban/cleanup", HandleMarzbanCleanup(cfg.Marzban, cfg.Snapshot))
	}

	// GeoIP.
	authed.Handle("GET /xpert/geoip/status", HandleGeoIPStatus(cfg.GeoIP))
	if cfg.GeoIP != nil {
		authed.Handle("GET /xpert/geoip/lookup", HandleGeoIPLookup(cfg.GeoIP))
		authed.Handle("POST /xpert/geoip/update", HandleGeoIPUpdate(cfg.GeoIP))
	}

	// Audit trail.
	if cfg.Audit != nil {
		authed.Handle("GET /xpert/audit", HandleListAudit(cfg.Audit.Repo()))
	}

	limitedAuthed := RequestBodyLimitMiddleware(cfg.APIMaxBodyBytes, authed)
	mux.Handle("/xpert/", AuthMiddleware(cfg.AdminToken, limitedAuthed))
	registerEmbeddedWebUI(mux)

	handler := RequestIDMiddleware(mux)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	return &Server{
		httpServer: srv,
		handler:    handler,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
