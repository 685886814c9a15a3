package api

import (
	"net/http"
	"testing"
	"time"
)

func TestHWIDResetClearsLock(t *testing.T) {
	env := newTestEnv(t)

	if err := env.policies.SetRequiredHWID("alice", "DEVICE-1"); err != nil {
		t.Fatalf("set hwid: %v", err)
	}

	rec := env.do(http.MethodGet, "/xpert/hwid/alice", nil)
	if body := decodeMap(t, rec); body["locked"] != true {
		t.Fatalf("expected locked before reset, got %v", body)
	}

	rec = env.do(http.MethodPost, "/xpert/hwid/reset", map[string]any{
		"username": "alice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/xpert/hwid/alice", nil)
	if body := decodeMap(t, rec); body["locked"] != false {
		t.Errorf("expected unlocked after reset, got %v", body)
	}
}

func TestIPLimitEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/xpert/ip-limit", nil)
	if body := decodeMap(t, rec); body["default_limit"] != float64(3) {
		t.Fatalf("expected default limit 3, got %v", body)
	}

	rec = env.do(http.MethodPost, "/xpert/ip-limit", map[string]any{
		"username": "bob",
		"limit":    1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/xpert/ip-limit?username=bob", nil)
	if body := decodeMap(t, rec); body["limit"] != float64(1) {
		t.Errorf("expected limit 1, got %v", body)
	}

	rec = env.do(http.MethodDelete, "/xpert/ip-limit/bob", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/xpert/ip-limit?username=bob", nil)
	if body := decodeMap(t, rec); body["limit"] != float64(3) {
		t.Errorf("expected default restored, got %v", body)
	}
}

func TestDeviceIDSetAndClear(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/xpert/device-id", map[string]any{
		"username":  "carol",
		"device_id": "V2BOX-9",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set: expected 200, got %d", rec.Code)
	}
	if !env.policies.CheckDeviceID("carol", "v2box-9") {
		t.Error("expected normalized device id to pass the gate")
	}
	if env.policies.CheckDeviceID("carol", "other") {
		t.Error("expected other device denied")
	}

	rec = env.do(http.MethodDelete, "/xpert/device-id/carol", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", rec.Code)
	}
	if !env.policies.CheckDeviceID("carol", "anything") {
		t.Error("expected gate open after clear")
	}
}

func TestAdminMutationsLandOnAuditTrail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/xpert/ip-limit", map[string]any{
		"username": "bob",
		"limit":    2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set ip limit: got %d", rec.Code)
	}
	requestID := rec.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Fatal("expected a request id on the mutation response")
	}

	// The trail is flushed asynchronously in small batches.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = env.do(http.MethodGet, "/xpert/audit?action=user.ip_limit_set", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("audit list: got %d", rec.Code)
		}
		body := decodeMap(t, rec)
		if body["total"] == float64(1) {
			items := body["items"].([]any)
			entry := items[0].(map[string]any)
			if entry["target_username"] != "bob" {
				t.Errorf("unexpected target: %v", entry["target_username"])
			}
			if entry["request_id"] != requestID {
				t.Errorf("audit request id %v does not match response header %q",
					entry["request_id"], requestID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit entry never flushed, last body: %s", rec.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
