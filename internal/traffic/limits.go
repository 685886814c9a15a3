package traffic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

const adminLimitWindowDays = 30

// AdminUsage is the external-traffic view attributed to one admin.
type AdminUsage struct {
	AdminUsername         string  `json:"admin_username"`
	ExternalTrafficGB     float64 `json:"external_traffic_gb"`
	ExternalUniqueUsers   int     `json:"external_unique_users"`
	ExternalUniqueServers int     `json:"external_unique_servers"`
	ExternalConnections   int     `json:"external_connections"`
	PeriodDays            int     `json:"period_days"`
}

// AdminUsage sums all recorded traffic over the window and attributes it
// to the admin running the panel.
func (r *Repo) AdminUsage(ctx context.Context, adminUsername string, days int) (AdminUsage, error) {
	usage := AdminUsage{AdminUsername: adminUsername, PeriodDays: days}
	cutoff := r.cutoffNS(days)

	var totalBytes sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(upload_bytes + download_bytes),
			COUNT(DISTINCT user_token),
			COUNT(DISTINCT server || ':' || port),
			COUNT(id)
		FROM traffic_records
		WHERE updated_at_ns >= ?`,
		cutoff,
	).Scan(&totalBytes, &usage.ExternalUniqueUsers, &usage.ExternalUniqueServers, &usage.ExternalConnections)
	if err != nil {
		return usage, fmt.Errorf("traffic: admin usage: %w", err)
	}
	usage.ExternalTrafficGB = roundGB(totalBytes.Int64)
	return usage, nil
}

// SetAdminLimit stores (or with limitBytes = 0, clears) the traffic cap
// for an admin.
func (r *Repo) SetAdminLimit(ctx context.Context, adminUsername string, limitBytes int64) error {
	if limitBytes <= 0 {
		_, err := r.db.ExecContext(ctx,
			`DELETE FROM admin_traffic_limits WHERE username = ?`, adminUsername)
		if err != nil {
			return fmt.Errorf("traffic: clear admin limit: %w", err)
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_traffic_limits (username, limit_bytes, updated_at_ns)
		VALUES (?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			limit_bytes   = excluded.limit_bytes,
			updated_at_ns = excluded.updated_at_ns`,
		adminUsername, limitBytes, r.now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("traffic: set admin limit: %w", err)
	}
	return nil
}

// AdminLimit returns the stored cap in bytes, 0 when none is set.
func (r *Repo) AdminLimit(ctx context.Context, adminUsername string) (int64, error) {
	var limitBytes int64
	err := r.db.QueryRowContext(ctx,
		`SELECT limit_bytes FROM admin_traffic_limits WHERE username = ?`, adminUsername,
	).Scan(&limitBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("traffic: admin limit: %w", err)
	}
	return limitBytes, nil
}

// LimitCheck is the outcome of an admin traffic-limit check.
type LimitCheck struct {
	WithinLimit    bool    `json:"within_limit"`
	LimitGB        float64 `json:"limit_gb"`
	UsedGB         float64 `json:"used_gb"`
	RemainingGB    float64 `json:"remaining_gb"`
	PercentageUsed float64 `json:"percentage_used"`
}

// CheckAdminLimit compares the last 30 days of usage against the cap. A
// cap of zero (or below) always passes. Caps above one GiB are read as
// bytes; smaller values are read as whole GB, matching how operators
// enter them.
func (r *Repo) CheckAdminLimit(ctx context.Context, adminUsername string, limitBytes int64) (LimitCheck, error) {
	if limitBytes <= 0 {
		return LimitCheck{WithinLimit: true}, nil
	}

	usage, err := r.AdminUsage(ctx, adminUsername, adminLimitWindowDays)
	if err != nil {
		return LimitCheck{WithinLimit: true}, err
	}

	limitGB := float64(limitBytes)
	if limitBytes > bytesPerGB {
		limitGB = float64(limitBytes) / bytesPerGB
	}
	usedGB := usage.ExternalTrafficGB

	check := LimitCheck{
		WithinLimit: usedGB <= limitGB,
		LimitGB:     round3(limitGB),
		UsedGB:      round3(usedGB),
		RemainingGB: round3(math.Max(0, limitGB-usedGB)),
	}
	if limitGB > 0 {
		check.PercentageUsed = math.Round(usedGB/limitGB*1000) / 10
	}
	return check, nil
}
