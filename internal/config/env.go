// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Network
	ListenAddr      string
	APIMaxBodyBytes int
	PublicBaseURL   string

	// Storage
	DataDir string

	// Auth
	AdminToken     string
	AllowWeakToken bool

	// Aggregation
	AggregationInterval time.Duration
	AggregationTimeout  time.Duration
	FetchTimeout        time.Duration
	FetchProxy          string
	SourceConcurrency   int

	// Probing
	ProbeTimeout        time.Duration
	ProbeConcurrency    int
	TargetIPs           []string
	PingRefreshInterval time.Duration

	// Policy
	IPLimitDefault int

	// Traffic
	TrafficRetentionDays int

	// Audit log
	AuditQueueSize      int
	AuditFlushBatchSize int
	AuditFlushInterval  time.Duration

	// GeoIP
	GeoIPDBURL          string
	GeoIPUpdateSchedule string

	// Marzban push-through
	MarzbanURL         string
	MarzbanToken       string
	MarzbanFallbackTag string

	// Crypto-link signing service
	CryptoEndpoint string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Network ---
	cfg.ListenAddr = strings.TrimSpace(envStr("XPERT_LISTEN_ADDR", ":8080"))
	cfg.APIMaxBodyBytes = envInt("XPERT_API_MAX_BODY_BYTES", 1<<20, &errs)
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(envStr("XPERT_PUBLIC_BASE_URL", "")), "/")

	// --- Storage ---
	cfg.DataDir = envStr("XPERT_DATA_DIR", "data")

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("XPERT_ADMIN_TOKEN")
	cfg.AdminToken = adminToken
	cfg.AllowWeakToken = envBool("XPERT_ALLOW_WEAK_TOKEN", false, &errs)

	// --- Aggregation ---
	cfg.AggregationInterval = envDuration("XPERT_AGGREGATION_INTERVAL", 10*time.Minute, &errs)
	cfg.AggregationTimeout = envDuration("XPERT_AGGREGATION_TIMEOUT", 300*time.Second, &errs)
	cfg.FetchTimeout = envDuration("XPERT_FETCH_TIMEOUT", 30*time.Second, &errs)
	cfg.FetchProxy = strings.TrimSpace(envStr("XPERT_FETCH_PROXY", ""))
	cfg.SourceConcurrency = envInt("XPERT_SOURCE_CONCURRENCY", 4, &errs)

	// --- Probing ---
	cfg.ProbeTimeout = envDuration("XPERT_PROBE_TIMEOUT", 2500*time.Millisecond, &errs)
	cfg.ProbeConcurrency = envInt("XPERT_PROBE_CONCURRENCY", 16, &errs)
	cfg.TargetIPs = envCSV("XPERT_TARGET_IPS")
	cfg.PingRefreshInterval = envDuration("XPERT_PING_REFRESH_INTERVAL", 5*time.Minute, &errs)

	// --- Policy ---
	cfg.IPLimitDefault = envInt("XPERT_IP_LIMIT_DEFAULT", 3, &errs)

	// --- Traffic ---
	cfg.TrafficRetentionDays = envInt("XPERT_TRAFFIC_RETENTION_DAYS", 90, &errs)

	// --- Audit log ---
	cfg.AuditQueueSize = envInt("XPERT_AUDIT_QUEUE_SIZE", 1024, &errs)
	cfg.AuditFlushBatchSize = envInt("XPERT_AUDIT_FLUSH_BATCH_SIZE", 64, &errs)
	cfg.AuditFlushInterval = envDuration("XPERT_AUDIT_FLUSH_INTERVAL", 5*time.Second, &errs)

	// --- GeoIP ---
	cfg.GeoIPDBURL = strings.TrimSpace(envStr("XPERT_GEOIP_DB_URL", ""))
	cfg.GeoIPUpdateSchedule = envStr("XPERT_GEOIP_REFRESH", "0 4 * * *")

	// --- Marzban ---
	cfg.MarzbanURL = strings.TrimRight(strings.TrimSpace(envStr("XPERT_MARZBAN_URL", "")), "/")
	cfg.MarzbanToken = envStr("XPERT_MARZBAN_TOKEN", "")
	cfg.MarzbanFallbackTag = strings.TrimSpace(envStr("XPERT_MARZBAN_FALLBACK_TAG", ""))

	// --- Crypto-link ---
	cfg.CryptoEndpoint = strings.TrimSpace(envStr("XPERT_CRYPTO_ENDPOINT", "https://crypto.happ.su/api-v2.php"))

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "XPERT_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.AdminToken != "" && !cfg.AllowWeakToken && IsWeakToken(cfg.AdminToken) {
		errs = append(errs, "XPERT_ADMIN_TOKEN is too weak (set XPERT_ALLOW_WEAK_TOKEN=1 to override)")
	}
	if cfg.ListenAddr == "" {
		errs = append(errs, "XPERT_LISTEN_ADDR must not be empty")
	}
	if cfg.DataDir == "" {
		errs = append(errs, "XPERT_DATA_DIR must not be empty")
	}
	validatePositive("XPERT_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("XPERT_SOURCE_CONCURRENCY", cfg.SourceConcurrency, &errs)
	validatePositive("XPERT_PROBE_CONCURRENCY", cfg.ProbeConcurrency, &errs)
	validatePositive("XPERT_IP_LIMIT_DEFAULT", cfg.IPLimitDefault, &errs)
	validatePositive("XPERT_AUDIT_QUEUE_SIZE", cfg.AuditQueueSize, &errs)
	validatePositive("XPERT_AUDIT_FLUSH_BATCH_SIZE", cfg.AuditFlushBatchSize, &errs)
	if cfg.TrafficRetentionDays < 0 {
		errs = append(errs, "XPERT_TRAFFIC_RETENTION_DAYS must not be negative")
	}
	if cfg.AggregationInterval <= 0 {
		errs = append(errs, "XPERT_AGGREGATION_INTERVAL must be positive")
	}
	if cfg.AggregationTimeout <= 0 {
		errs = append(errs, "XPERT_AGGREGATION_TIMEOUT must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		errs = append(errs, "XPERT_FETCH_TIMEOUT must be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, "XPERT_PROBE_TIMEOUT must be positive")
	}
	if cfg.PingRefreshInterval <= 0 {
		errs = append(errs, "XPERT_PING_REFRESH_INTERVAL must be positive")
	}
	if cfg.AuditFlushInterval <= 0 {
		errs = append(errs, "XPERT_AUDIT_FLUSH_INTERVAL must be positive")
	}
	if cfg.AuditQueueSize < 2*cfg.AuditFlushBatchSize {
		errs = append(errs, "XPERT_AUDIT_QUEUE_SIZE must be at least 2x XPERT_AUDIT_FLUSH_BATCH_SIZE")
	}
	if cfg.FetchProxy != "" {
		u, err := url.Parse(cfg.FetchProxy)
		if err != nil || u.Scheme != "socks5" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("XPERT_FETCH_PROXY: must be a socks5:// URL, got %q", cfg.FetchProxy))
		}
	}
	if _, err := cron.ParseStandard(cfg.GeoIPUpdateSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("XPERT_GEOIP_REFRESH: invalid cron expression %q: %v", cfg.GeoIPUpdateSchedule, err))
	}
	if cfg.MarzbanURL != "" {
		if _, err := url.Parse(cfg.MarzbanURL); err != nil {
			errs = append(errs, fmt.Sprintf("XPERT_MARZBAN_URL: invalid URL %q: %v", cfg.MarzbanURL, err))
		}
	}
	if cfg.CryptoEndpoint == "" {
		errs = append(errs, "XPERT_CRYPTO_ENDPOINT must not be empty")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
