package api

import (
	"net/http"
	"testing"
)

func reportTraffic(t *testing.T, env *testEnv, token string, uploadGB, downloadGB int64) {
	t.Helper()
	rec := env.doPublic(http.MethodPost, "/api/xpert/traffic-webhook", map[string]any{
		"token": token,
		"records": []map[string]any{
			{"server": "edge.example.com", "port": 8080, "protocol": "vless",
				"upload": uploadGB << 30, "download": downloadGB << 30},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTrafficWebhookAndUserStats(t *testing.T) {
	env := newTestEnv(t)

	reportTraffic(t, env, "token-for-alice", 1, 3)

	rec := env.do(http.MethodGet, "/xpert/traffic-stats/user/token-for-alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user stats: expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["user_token"] != "alice" {
		t.Errorf("expected stats keyed by resolved username, got %v", body["user_token"])
	}
	if body["total_gb_used"] != float64(4) {
		t.Errorf("expected 4 GB, got %v", body["total_gb_used"])
	}
	servers := body["servers"].([]any)
	if len(servers) != 1 {
		t.Fatalf("expected 1 server slice, got %d", len(servers))
	}
}

func TestTrafficWebhookRejectsBadRecords(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doPublic(http.MethodPost, "/api/xpert/traffic-webhook", map[string]any{
		"token": "token-for-alice",
		"records": []map[string]any{
			{"server": "", "port": 8080, "protocol": "vless", "upload": 1, "download": 1},
			{"server": "ok.example.com", "port": 8080, "protocol": "vless", "upload": 1, "download": 1},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["accepted"] != float64(1) {
		t.Errorf("expected 1 accepted, got %v", body["accepted"])
	}
	if failures := body["failures"].([]any); len(failures) != 1 {
		t.Errorf("expected 1 failure, got %v", failures)
	}

	rec = env.doPublic(http.MethodPost, "/api/xpert/traffic-webhook", map[string]any{
		"token":   "token-for-alice",
		"records": []map[string]any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", rec.Code)
	}
}

func TestGlobalAndServerStats(t *testing.T) {
	env := newTestEnv(t)

	reportTraffic(t, env, "token-for-alice", 1, 1)
	reportTraffic(t, env, "token-for-bob", 2, 2)

	rec := env.do(http.MethodGet, "/xpert/traffic-stats/global?days=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("global: expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["total_users"] != float64(2) {
		t.Errorf("expected 2 users, got %v", body["total_users"])
	}
	if body["total_gb_used"] != float64(6) {
		t.Errorf("expected 6 GB, got %v", body["total_gb_used"])
	}

	rec = env.do(http.MethodGet, "/xpert/traffic-stats/server?server=edge.example.com&port=8080", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("server: expected 200, got %d", rec.Code)
	}
	body = decodeMap(t, rec)
	if body["unique_users"] != float64(2) {
		t.Errorf("expected 2 unique users, got %v", body["unique_users"])
	}

	rec = env.do(http.MethodGet, "/xpert/traffic-stats/server?port=8080", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing server: expected 400, got %d", rec.Code)
	}
}

func TestTrafficDatabaseInfoAndReset(t *testing.T) {
	env := newTestEnv(t)

	reportTraffic(t, env, "token-for-alice", 1, 1)

	rec := env.do(http.MethodGet, "/xpert/traffic-stats/database-info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("database-info: expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["total_records"] != float64(1) {
		t.Errorf("expected 1 record, got %v", body["total_records"])
	}
	if body["retention_days"] != float64(90) {
		t.Errorf("expected retention 90, got %v", body["retention_days"])
	}

	rec = env.do(http.MethodPost, "/xpert/traffic-stats/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	result := decodeMap(t, rec)
	if result["reset_gb"] != float64(2) {
		t.Errorf("expected 2 GB cleared, got %v", result["reset_gb"])
	}

	rec = env.do(http.MethodGet, "/xpert/traffic-stats/database-info", nil)
	if body := decodeMap(t, rec); body["total_records"] != float64(0) {
		t.Errorf("expected table wiped, got %v", body["total_records"])
	}
}

func TestAdminTrafficLimitLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// 2 GB of external traffic attributed to the panel admin.
	reportTraffic(t, env, "token-for-alice", 1, 1)

	rec := env.do(http.MethodPost, "/xpert/admin-traffic-limit/root", map[string]any{
		"limit": 10, // 10 GB, entered as a small whole number
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set limit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/xpert/admin-traffic-limit/root", nil)
	if body := decodeMap(t, rec); body["limit"] != float64(10) {
		t.Errorf("expected stored limit 10, got %v", body["limit"])
	}

	rec = env.do(http.MethodGet, "/xpert/admin-traffic-limit/root/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", rec.Code)
	}
	check := decodeMap(t, rec)
	if check["within_limit"] != true {
		t.Errorf("expected within limit, got %v", check)
	}
	if check["used_gb"] != float64(2) {
		t.Errorf("expected 2 GB used, got %v", check["used_gb"])
	}

	rec = env.do(http.MethodPost, "/xpert/admin-traffic-limit/root", map[string]any{
		"limit": 1, // 1 GB cap, already exceeded
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("tighten limit: got %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/xpert/admin-traffic-limit/root/check", nil)
	if check := decodeMap(t, rec); check["within_limit"] != false {
		t.Errorf("expected over limit, got %v", check)
	}
}
