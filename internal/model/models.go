// Package model defines the core domain types shared across the Xpert
// aggregation pipeline, stores, and the HTTP API.
package model

import "time"

// Supported proxy-link protocols.
const (
	ProtocolVless       = "vless"
	ProtocolVmess       = "vmess"
	ProtocolTrojan      = "trojan"
	ProtocolShadowsocks = "shadowsocks"
	ProtocolSSR         = "ssr"
)

// KnownProtocols lists every link protocol the parser understands.
var KnownProtocols = []string{
	ProtocolVless,
	ProtocolVmess,
	ProtocolTrojan,
	ProtocolShadowsocks,
	ProtocolSSR,
}

// Failure sentinels for probe latency.
const (
	// PingFailed marks an unreachable or unknown endpoint.
	PingFailed = 999
	// PingTLSReset marks a TLS handshake cut short by the peer
	// (unexpected EOF). Distinct from PingFailed so ranking can tell
	// a filtered endpoint from a dead one.
	PingTLSReset = 1200
)

// SubscriptionSource is one upstream feed URL in the source registry.
type SubscriptionSource struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Enabled     bool      `json:"enabled"`
	Priority    int       `json:"priority"`
	LastFetched time.Time `json:"last_fetched,omitzero"`
	ConfigCount int       `json:"config_count"`
	SuccessRate float64   `json:"success_rate"`
	CreatedAt   time.Time `json:"created_at"`
}

// AggregatedConfig is the parsed and probed output of one link from one
// source at one aggregation tick. The whole set is rewritten atomically
// each tick.
type AggregatedConfig struct {
	ID         int64     `json:"id"`
	Raw        string    `json:"raw"`
	Protocol   string    `json:"protocol"`
	Server     string    `json:"server"`
	Port       int       `json:"port"`
	Remarks    string    `json:"remarks"`
	SourceID   int64     `json:"source_id"`
	PingMS     float64   `json:"ping_ms"`
	JitterMS   float64   `json:"jitter_ms"`
	PacketLoss float64   `json:"packet_loss"`
	IsActive   bool      `json:"is_active"`
	LastCheck  time.Time `json:"last_check"`
	Country    string    `json:"country,omitempty"`
}

// DirectConfig is a hand-added link served outside the aggregation
// pipeline. Ordering is explicit insertion order; movement operations
// permute the list. Flag is the sticky emoji assigned by auto-naming.
type DirectConfig struct {
	ID                int64     `json:"id"`
	Raw               string    `json:"raw"`
	Protocol          string    `json:"protocol"`
	Server            string    `json:"server"`
	Port              int       `json:"port"`
	Remarks           string    `json:"remarks"`
	Flag              string    `json:"flag,omitempty"`
	PingMS            float64   `json:"ping_ms"`
	IsActive          bool      `json:"is_active"`
	BypassWhitelist   bool      `json:"bypass_whitelist"`
	AutoSyncToMarzban bool      `json:"auto_sync_to_marzban"`
	AddedBy           string    `json:"added_by"`
	AddedAt           time.Time `json:"added_at"`
	LastCheck         time.Time `json:"last_check,omitzero"`
}

// AdminAction is an append-only audit trail row for admin mutations.
type AdminAction struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	AdminID        *int64    `json:"admin_id,omitempty"`
	AdminUsername  string    `json:"admin_username"`
	Action         string    `json:"action"`
	TargetType     string    `json:"target_type"`
	TargetUsername string    `json:"target_username"`
	Meta           string    `json:"meta,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
}

// Audited admin action names.
const (
	ActionTrafficLimitSet = "admin.traffic_limit_set"
	ActionCryptoEncrypt   = "crypto.encrypt"
	ActionHWIDReset       = "hwid.reset"
	ActionIPLimitSet      = "user.ip_limit_set"
	ActionTrafficReset    = "admin.traffic_reset"
)
