package traffic

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/mybrohigh/Xpert/internal/state"
)

func newRepo(t *testing.T) (*Repo, *sql.DB) {
	t.Helper()
	db, err := state.Bootstrap(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepo(db), db
}

func TestRecordUpsertsDailyBucket(t *testing.T) {
	r, db := newRepo(t)
	ctx := context.Background()

	if err := r.Record(ctx, "tok", "srv.example.com", 443, "vless", 100, 200); err != nil {
		t.Fatal(err)
	}
	if err := r.Record(ctx, "tok", "srv.example.com", 443, "vless", 10, 20); err != nil {
		t.Fatal(err)
	}

	var rows int
	var up, down int64
	err := db.QueryRow(
		`SELECT COUNT(id), SUM(upload_bytes), SUM(download_bytes) FROM traffic_records`,
	).Scan(&rows, &up, &down)
	if err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("rows = %d, want 1 (same-day reports share a bucket)", rows)
	}
	if up != 110 || down != 220 {
		t.Errorf("accumulated = %d/%d, want 110/220", up, down)
	}
}

func TestRecordRollsOverAtUTCDateBoundary(t *testing.T) {
	r, db := newRepo(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return day1 }
	if err := r.Record(ctx, "tok", "srv", 443, "vless", 1, 1); err != nil {
		t.Fatal(err)
	}

	r.now = func() time.Time { return day1.Add(2 * time.Minute) }
	if err := r.Record(ctx, "tok", "srv", 443, "vless", 1, 1); err != nil {
		t.Fatal(err)
	}

	var rows int
	if err := db.QueryRow(`SELECT COUNT(id) FROM traffic_records`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("rows = %d, want 2 (crossing midnight UTC opens a new bucket)", rows)
	}
}

func TestUserStatsGroupsByEndpoint(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	r.Record(ctx, "tok", "a.example.com", 443, "vless", 0, 5*bytesPerGB)
	r.Record(ctx, "tok", "b.example.com", 8443, "trojan", 0, 1*bytesPerGB)
	r.Record(ctx, "other", "a.example.com", 443, "vless", 0, 9*bytesPerGB)

	stats, err := r.UserStats(ctx, "tok", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.Servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(stats.Servers))
	}
	if stats.Servers[0].Server != "a.example.com" {
		t.Errorf("ordering must be heaviest download first: %+v", stats.Servers)
	}
	if stats.TotalGBUsed != 6 {
		t.Errorf("TotalGBUsed = %v, want 6", stats.TotalGBUsed)
	}
	if stats.Servers[0].LastUsed.IsZero() {
		t.Error("LastUsed must be populated")
	}
}

func TestGlobalStatsWithDomainRollup(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	r.Record(ctx, "u1", "a.cdn.example.com", 443, "vless", 0, 2*bytesPerGB)
	r.Record(ctx, "u2", "b.cdn.example.com", 443, "vless", 0, 3*bytesPerGB)
	r.Record(ctx, "u1", "other.net", 8443, "trojan", 0, 1*bytesPerGB)

	stats, err := r.GlobalStats(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalUsers != 2 || stats.TotalServers != 3 || stats.TotalConnections != 3 {
		t.Errorf("totals = %+v", stats)
	}
	if stats.TotalGBUsed != 6 {
		t.Errorf("TotalGBUsed = %v, want 6", stats.TotalGBUsed)
	}
	if len(stats.TopServers) != 3 || stats.TopServers[0].Server != "b.cdn.example.com" {
		t.Errorf("TopServers = %+v", stats.TopServers)
	}

	// Sibling hosts of one provider roll up into a single eTLD+1 entry.
	if len(stats.TopDomains) != 2 {
		t.Fatalf("TopDomains = %+v", stats.TopDomains)
	}
	if stats.TopDomains[0].Domain != "example.com" || stats.TopDomains[0].TotalGB != 5 {
		t.Errorf("TopDomains[0] = %+v, want example.com with 5 GB", stats.TopDomains[0])
	}
}

func TestServerStatsDailyBuckets(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return day1 }
	r.Record(ctx, "u1", "srv", 443, "vless", 0, 1*bytesPerGB)
	r.now = func() time.Time { return day1.AddDate(0, 0, 1) }
	r.Record(ctx, "u1", "srv", 443, "vless", 0, 2*bytesPerGB)
	r.Record(ctx, "u2", "srv", 443, "vless", 0, 1*bytesPerGB)

	stats, err := r.ServerStats(ctx, "srv", 443, 30)
	if err != nil {
		t.Fatal(err)
	}
	if stats.UniqueUsers != 2 || stats.TotalConnections != 3 || stats.TotalGBUsed != 4 {
		t.Errorf("totals = %+v", stats)
	}
	if len(stats.DailyStats) != 2 {
		t.Fatalf("daily buckets = %d, want 2", len(stats.DailyStats))
	}
	if stats.DailyStats[0].Date != "2026-08-24" || stats.DailyStats[0].UniqueUsers != 2 {
		t.Errorf("newest day first: %+v", stats.DailyStats)
	}
}

func TestCleanupRespectsRetention(t *testing.T) {
	r, db := newRepo(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -120)
	r.now = func() time.Time { return old }
	r.Record(ctx, "u1", "srv", 443, "vless", 1, 1)
	r.now = time.Now
	r.Record(ctx, "u2", "srv", 443, "vless", 1, 1)

	res, err := r.Cleanup(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "success" || res.DeletedRows != 1 {
		t.Errorf("Cleanup = %+v", res)
	}

	var rows int
	db.QueryRow(`SELECT COUNT(id) FROM traffic_records`).Scan(&rows)
	if rows != 1 {
		t.Errorf("rows = %d after cleanup, want 1", rows)
	}

	// Retention disabled: skip, delete nothing.
	res, err = r.Cleanup(ctx, 0)
	if err != nil || res.Status != "skipped" {
		t.Errorf("Cleanup(0) = %+v, %v", res, err)
	}
}

func TestResetReportsTotals(t *testing.T) {
	r, db := newRepo(t)
	ctx := context.Background()
	r.Record(ctx, "u1", "srv", 443, "vless", bytesPerGB, bytesPerGB)

	res, err := r.Reset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "success" || res.ResetGB != 2 || res.ResetConnections != 1 {
		t.Errorf("Reset = %+v", res)
	}

	var rows int
	db.QueryRow(`SELECT COUNT(id) FROM traffic_records`).Scan(&rows)
	if rows != 0 {
		t.Errorf("rows = %d after reset, want 0", rows)
	}
}

func TestAdminLimitRoundTripAndCheck(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	if err := r.SetAdminLimit(ctx, "root", 10*bytesPerGB); err != nil {
		t.Fatal(err)
	}
	limit, err := r.AdminLimit(ctx, "root")
	if err != nil || limit != 10*bytesPerGB {
		t.Fatalf("AdminLimit = %d, %v", limit, err)
	}

	r.Record(ctx, "u1", "srv", 443, "vless", 0, 4*bytesPerGB)
	check, err := r.CheckAdminLimit(ctx, "root", limit)
	if err != nil {
		t.Fatal(err)
	}
	if !check.WithinLimit || check.LimitGB != 10 || check.UsedGB != 4 || check.RemainingGB != 6 {
		t.Errorf("check = %+v", check)
	}
	if check.PercentageUsed != 40 {
		t.Errorf("PercentageUsed = %v, want 40", check.PercentageUsed)
	}

	// Over the cap.
	r.Record(ctx, "u1", "srv", 443, "vless", 0, 7*bytesPerGB)
	check, _ = r.CheckAdminLimit(ctx, "root", limit)
	if check.WithinLimit {
		t.Errorf("11 GB used against 10 GB cap must fail: %+v", check)
	}

	// No cap set: always within limit.
	check, _ = r.CheckAdminLimit(ctx, "root", 0)
	if !check.WithinLimit {
		t.Error("zero cap must always pass")
	}

	// Clearing.
	if err := r.SetAdminLimit(ctx, "root", 0); err != nil {
		t.Fatal(err)
	}
	limit, _ = r.AdminLimit(ctx, "root")
	if limit != 0 {
		t.Errorf("cleared limit = %d", limit)
	}
}

func TestDatabaseInfo(t *testing.T) {
	dir := t.TempDir()
	db, err := state.Bootstrap(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	r := NewRepo(db)
	ctx := context.Background()

	r.Record(ctx, "u1", "srv", 443, "vless", 1, 1)
	r.Record(ctx, "u2", "srv", 443, "vless", 1, 1)

	info, err := r.DatabaseInfo(ctx, dir+"/xpert.db", 90)
	if err != nil {
		t.Fatal(err)
	}
	if info.TotalRecords != 2 || info.UniqueUsers != 2 || info.UniqueServers != 1 {
		t.Errorf("info = %+v", info)
	}
	if info.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d", info.RetentionDays)
	}
}
