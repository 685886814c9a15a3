// Package traffic implements per-user, per-endpoint traffic accounting in
// daily UTC buckets, plus the admin traffic limits derived from it.
package traffic

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/mybrohigh/Xpert/internal/netutil"
)

const bytesPerGB = 1 << 30

// Repo runs all traffic_records and admin_traffic_limits queries.
type Repo struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepo wraps the shared database handle.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, now: time.Now}
}

// Record adds one usage report into the daily bucket for
// (userToken, server, port, today-UTC). Counters only ever grow; repeated
// reports accumulate within the day and roll into a fresh row at the UTC
// date boundary.
func (r *Repo) Record(ctx context.Context, userToken, server string, port int, protocol string, uploadBytes, downloadBytes int64) error {
	now := r.now().UTC()
	nowNS := now.UnixNano()
	day := now.Format(time.DateOnly)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO traffic_records
			(user_token, server, port, protocol, upload_bytes, download_bytes, date_collected, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_token, server, port, date_collected) DO UPDATE SET
			upload_bytes   = upload_bytes + excluded.upload_bytes,
			download_bytes = download_bytes + excluded.download_bytes,
			protocol       = CASE WHEN excluded.protocol != '' THEN excluded.protocol ELSE protocol END,
			updated_at_ns  = excluded.updated_at_ns`,
		userToken, server, port, protocol, uploadBytes, downloadBytes, day, nowNS, nowNS,
	)
	if err != nil {
		return fmt.Errorf("traffic: record usage: %w", err)
	}
	return nil
}

// ServerUsage is one (server, port, protocol) slice of a user's usage.
type ServerUsage struct {
	Server      string    `json:"server"`
	Port        int       `json:"port"`
	Protocol    string    `json:"protocol"`
	UploadGB    float64   `json:"upload_gb"`
	DownloadGB  float64   `json:"download_gb"`
	TotalGB     float64   `json:"total_gb"`
	Connections int       `json:"connections"`
	LastUsed    time.Time `json:"last_used"`
}

// UserStats is the per-user usage report.
type UserStats struct {
	UserToken   string        `json:"user_token"`
	TotalGBUsed float64       `json:"total_gb_used"`
	PeriodDays  int           `json:"period_days"`
	Servers     []ServerUsage `json:"servers"`
}

// UserStats aggregates one user's usage over the last days, grouped by
// endpoint, heaviest download first.
func (r *Repo) UserStats(ctx context.Context, userToken string, days int) (UserStats, error) {
	stats := UserStats{UserToken: userToken, PeriodDays: days, Servers: []ServerUsage{}}
	cutoff := r.cutoffNS(days)

	rows, err := r.db.QueryContext(ctx, `
		SELECT server, port, protocol,
			SUM(upload_bytes), SUM(download_bytes), COUNT(id), MAX(updated_at_ns)
		FROM traffic_records
		WHERE user_token = ? AND updated_at_ns >= ?
		GROUP BY server, port, protocol
		ORDER BY SUM(download_bytes) DESC`,
		userToken, cutoff,
	)
	if err != nil {
		return stats, fmt.Errorf("traffic: user stats: %w", err)
	}
	defer rows.Close()

	var totalBytes int64
	for rows.Next() {
		var usage ServerUsage
		var up, down, lastNS int64
		if err := rows.Scan(&usage.Server, &usage.Port, &usage.Protocol, &up, &down, &usage.Connections, &lastNS); err != nil {
			return stats, fmt.Errorf("traffic: scan user stats: %w", err)
		}
		usage.UploadGB = roundGB(up)
		usage.DownloadGB = roundGB(down)
		usage.TotalGB = roundGB(up + down)
		usage.LastUsed = time.Unix(0, lastNS).UTC()
		totalBytes += up + down
		stats.Servers = append(stats.Servers, usage)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("traffic: user stats rows: %w", err)
	}
	stats.TotalGBUsed = roundGB(totalBytes)
	return stats, nil
}

// TopServer is one entry of the global heaviest-endpoints list.
type TopServer struct {
	Server   string  `json:"server"`
	Port     int     `json:"port"`
	Protocol string  `json:"protocol"`
	TotalGB  float64 `json:"total_gb"`
}

// DomainUsage is usage rolled up to a registrable domain (eTLD+1), so
// sibling endpoints of one provider are counted together.
type DomainUsage struct {
	Domain  string  `json:"domain"`
	TotalGB float64 `json:"total_gb"`
}

// GlobalStats is the all-users usage report.
type GlobalStats struct {
	TotalUsers       int           `json:"total_users"`
	TotalServers     int           `json:"total_servers"`
	TotalGBUsed      float64       `json:"total_gb_used"`
	TotalConnections int           `json:"total_connections"`
	TotalProtocols   int           `json:"total_protocols"`
	PeriodDays       int           `json:"period_days"`
	TopServers       []TopServer   `json:"top_servers"`
	TopDomains       []DomainUsage `json:"top_domains"`
}

// GlobalStats aggregates usage across all users over the last days.
func (r *Repo) GlobalStats(ctx context.Context, days int) (GlobalStats, error) {
	stats := GlobalStats{PeriodDays: days, TopServers: []TopServer{}, TopDomains: []DomainUsage{}}
	cutoff := r.cutoffNS(days)

	var totalBytes sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_token),
			COUNT(DISTINCT server || ':' || port),
			SUM(upload_bytes + download_bytes),
			COUNT(id),
			COUNT(DISTINCT protocol)
		FROM traffic_records
		WHERE updated_at_ns >= ?`,
		cutoff,
	).Scan(&stats.TotalUsers, &stats.TotalServers, &totalBytes, &stats.TotalConnections, &stats.TotalProtocols)
	if err != nil {
		return stats, fmt.Errorf("traffic: global totals: %w", err)
	}
	stats.TotalGBUsed = roundGB(totalBytes.Int64)

	rows, err := r.db.QueryContext(ctx, `
		SELECT server, port, protocol, SUM(upload_bytes + download_bytes) AS total_bytes
		FROM traffic_records
		WHERE updated_at_ns >= ?
		GROUP BY server, port, protocol
		ORDER BY total_bytes DESC`,
		cutoff,
	)
	if err != nil {
		return stats, fmt.Errorf("traffic: top servers: %w", err)
	}
	defer rows.Close()

	domainBytes := make(map[string]int64)
	for rows.Next() {
		var top TopServer
		var bytes int64
		if err := rows.Scan(&top.Server, &top.Port, &top.Protocol, &bytes); err != nil {
			return stats, fmt.Errorf("traffic: scan top servers: %w", err)
		}
		top.TotalGB = roundGB(bytes)
		if len(stats.TopServers) < 10 {
			stats.TopServers = append(stats.TopServers, top)
		}
		domainBytes[netutil.RegistrableDomain(top.Server)] += bytes
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("traffic: top servers rows: %w", err)
	}

	for domain, bytes := range domainBytes {
		stats.TopDomains = append(stats.TopDomains, DomainUsage{Domain: domain, TotalGB: roundGB(bytes)})
	}
	sort.Slice(stats.TopDomains, func(i, j int) bool {
		if stats.TopDomains[i].TotalGB != stats.TopDomains[j].TotalGB {
			return stats.TopDomains[i].TotalGB > stats.TopDomains[j].TotalGB
		}
		return stats.TopDomains[i].Domain < stats.TopDomains[j].Domain
	})
	if len(stats.TopDomains) > 10 {
		stats.TopDomains = stats.TopDomains[:10]
	}
	return stats, nil
}

// DailyStat is one day's bucket of a server's usage.
type DailyStat struct {
	Date        string  `json:"date"`
	TotalGB     float64 `json:"total_gb"`
	UniqueUsers int     `json:"unique_users"`
}

// ServerStats is the per-endpoint usage report.
type ServerStats struct {
	Server             string      `json:"server"`
	Port               int         `json:"port"`
	PeriodDays         int         `json:"period_days"`
	UniqueUsers        int         `json:"unique_users"`
	TotalGBUsed        float64     `json:"total_gb_used"`
	TotalConnections   int         `json:"total_connections"`
	AvgGBPerConnection float64     `json:"avg_gb_per_connection"`
	DailyStats         []DailyStat `json:"daily_stats"`
}

// ServerStats aggregates one endpoint's usage with per-day buckets,
// newest day first.
func (r *Repo) ServerStats(ctx context.Context, server string, port, days int) (ServerStats, error) {
	stats := ServerStats{Server: server, Port: port, PeriodDays: days, DailyStats: []DailyStat{}}
	cutoff := r.cutoffNS(days)

	var totalBytes sql.NullInt64
	var avgBytes sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_token),
			SUM(upload_bytes + download_bytes),
			COUNT(id),
			AVG(upload_bytes + download_bytes)
		FROM traffic_records
		WHERE server = ? AND port = ? AND updated_at_ns >= ?`,
		server, port, cutoff,
	).Scan(&stats.UniqueUsers, &totalBytes, &stats.TotalConnections, &avgBytes)
	if err != nil {
		return stats, fmt.Errorf("traffic: server totals: %w", err)
	}
	stats.TotalGBUsed = roundGB(totalBytes.Int64)
	stats.AvgGBPerConnection = round3(avgBytes.Float64 / bytesPerGB)

	rows, err := r.db.QueryContext(ctx, `
		SELECT date_collected,
			SUM(upload_bytes + download_bytes),
			COUNT(DISTINCT user_token)
		FROM traffic_records
		WHERE server = ? AND port = ? AND updated_at_ns >= ?
		GROUP BY date_collected
		ORDER BY date_collected DESC`,
		server, port, cutoff,
	)
	if err != nil {
		return stats, fmt.Errorf("traffic: daily stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day DailyStat
		var bytes int64
		if err := rows.Scan(&day.Date, &bytes, &day.UniqueUsers); err != nil {
			return stats, fmt.Errorf("traffic: scan daily stats: %w", err)
		}
		day.TotalGB = roundGB(bytes)
		stats.DailyStats = append(stats.DailyStats, day)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("traffic: daily stats rows: %w", err)
	}
	return stats, nil
}

// CleanupResult reports one retention pass.
type CleanupResult struct {
	Status      string `json:"status"`
	DeletedRows int64  `json:"deleted_rows,omitempty"`
	CleanupDays int    `json:"cleanup_days,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Cleanup deletes rows last touched more than days ago. days <= 0 means
// retention is disabled and the pass is skipped.
func (r *Repo) Cleanup(ctx context.Context, days int) (CleanupResult, error) {
	if days <= 0 {
		return CleanupResult{Status: "skipped", Reason: "retention disabled"}, nil
	}

	cutoff := r.cutoffNS(days)
	res, err := r.db.ExecContext(ctx, `DELETE FROM traffic_records WHERE updated_at_ns < ?`, cutoff)
	if err != nil {
		return CleanupResult{Status: "error"}, fmt.Errorf("traffic: cleanup: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return CleanupResult{Status: "success", DeletedRows: deleted, CleanupDays: days}, nil
}

// ResetResult reports a full table wipe.
type ResetResult struct {
	Status           string  `json:"status"`
	ResetGB          float64 `json:"reset_gb"`
	ResetConnections int64   `json:"reset_connections"`
}

// Reset wipes all traffic rows and reports what was cleared.
func (r *Repo) Reset(ctx context.Context) (ResetResult, error) {
	var totalBytes sql.NullInt64
	var connections int64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(upload_bytes + download_bytes), COUNT(id) FROM traffic_records`,
	).Scan(&totalBytes, &connections)
	if err != nil {
		return ResetResult{Status: "error"}, fmt.Errorf("traffic: reset totals: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM traffic_records`); err != nil {
		return ResetResult{Status: "error"}, fmt.Errorf("traffic: reset: %w", err)
	}
	return ResetResult{
		Status:           "success",
		ResetGB:          roundGB(totalBytes.Int64),
		ResetConnections: connections,
	}, nil
}

// DatabaseInfo describes the traffic database for the admin dashboard.
type DatabaseInfo struct {
	DatabasePath   string  `json:"database_path"`
	TotalRecords   int64   `json:"total_records"`
	UniqueUsers    int64   `json:"unique_users"`
	UniqueServers  int64   `json:"unique_servers"`
	DatabaseSizeMB float64 `json:"database_size_mb"`
	RetentionDays  int     `json:"retention_days"`
}

// DatabaseInfo reports row counts and the on-disk size of dbPath.
func (r *Repo) DatabaseInfo(ctx context.Context, dbPath string, retentionDays int) (DatabaseInfo, error) {
	info := DatabaseInfo{DatabasePath: dbPath, RetentionDays: retentionDays}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(id), COUNT(DISTINCT user_token), COUNT(DISTINCT server || ':' || port)
		FROM traffic_records`,
	).Scan(&info.TotalRecords, &info.UniqueUsers, &info.UniqueServers)
	if err != nil {
		return info, fmt.Errorf("traffic: database info: %w", err)
	}

	if fi, err := os.Stat(dbPath); err == nil {
		info.DatabaseSizeMB = math.Round(float64(fi.Size())/(1024*1024)*100) / 100
	}
	return info, nil
}

func (r *Repo) cutoffNS(days int) int64 {
	return r.now().UTC().AddDate(0, 0, -days).UnixNano()
}

func roundGB(bytes int64) float64 {
	return round3(float64(bytes) / bytesPerGB)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
