package subscription

import (
	"encoding/base64"
	"regexp"
	"strings"
	"testing"
)

func TestRewriteFragmentPreservesPrefix(t *testing.T) {
	raw := "vless://uuid@host:443?security=tls&flow=xtls-rprx-vision#old name"
	out, ok := RewriteRemarks(raw, "\U0001F1FA\U0001F1F8 SR-001")
	if !ok {
		t.Fatal("rewrite failed")
	}

	wantPrefix := "vless://uuid@host:443?security=tls&flow=xtls-rprx-vision#"
	if !strings.HasPrefix(out, wantPrefix) {
		t.Errorf("prefix changed: %q", out)
	}

	link, ok := ParseLink(out)
	if !ok {
		t.Fatal("rewritten link must parse")
	}
	if link.Remarks != "\U0001F1FA\U0001F1F8 SR-001" {
		t.Errorf("Remarks = %q", link.Remarks)
	}
	if link.Server != "host" || link.Port != 443 || !link.TLS {
		t.Errorf("identity fields changed: %+v", link)
	}
}

func TestRewriteVmessRoundTrip(t *testing.T) {
	raw := vmessLink(t, map[string]any{
		"v": "2", "add": "h2.example.com", "port": "443", "ps": "upstream name",
		"id": "uuid", "aid": "0", "tls": "tls", "net": "ws", "path": "/ws",
	})

	before, ok := ParseLink(raw)
	if !ok {
		t.Fatal("parse before rewrite failed")
	}

	out, ok := RewriteRemarks(raw, "\U0001F1E9\U0001F1EA SR-007")
	if !ok {
		t.Fatal("rewrite failed")
	}

	after, ok := ParseLink(out)
	if !ok {
		t.Fatal("parse after rewrite failed")
	}
	if after.Server != before.Server || after.Port != before.Port || after.TLS != before.TLS {
		t.Errorf("identity changed: before=%+v after=%+v", before, after)
	}
	if after.Remarks != "\U0001F1E9\U0001F1EA SR-007" {
		t.Errorf("Remarks = %q", after.Remarks)
	}

	// Non-label fields of the body survive the rewrite.
	decoded, _ := decodeBase64Relaxed(strings.TrimPrefix(out, "vmess://"))
	body := string(decoded)
	for _, field := range []string{`"id":"uuid"`, `"path":"/ws"`, `"net":"ws"`} {
		if !strings.Contains(body, field) {
			t.Errorf("field lost in rewrite: %s (body %s)", field, body)
		}
	}
}

func TestRewriteSSRRemarks(t *testing.T) {
	body := "1.2.3.4:8388:origin:aes-256-cfb:plain:cGFzcw/?obfsparam=&remarks=b2xk"
	raw := "ssr://" + strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(body)), "=")

	out, ok := RewriteRemarks(raw, "new label")
	if !ok {
		t.Fatal("rewrite failed")
	}
	link, ok := ParseLink(out)
	if !ok {
		t.Fatal("rewritten ssr must parse")
	}
	if link.Server != "1.2.3.4" || link.Port != 8388 {
		t.Errorf("identity changed: %+v", link)
	}
	if link.Remarks != "new label" {
		t.Errorf("Remarks = %q", link.Remarks)
	}

	decoded, _ := decodeBase64Relaxed(strings.TrimPrefix(out, "ssr://"))
	if !strings.Contains(string(decoded), "obfsparam=") {
		t.Error("other params must survive the rewrite")
	}
}

func TestAutoLabelFormat(t *testing.T) {
	label := AutoLabel(FlagForCountry("us"), 7)
	matched, err := regexp.MatchString(`^[\x{1F1E6}-\x{1F1FF}]{2} SR-\d{3}$`, label)
	if err != nil || !matched {
		t.Errorf("AutoLabel = %q does not match flag + SR-NNN", label)
	}
	if !strings.HasSuffix(label, "SR-007") {
		t.Errorf("position must be zero-padded to 3: %q", label)
	}
}

func TestFlagFromRemarks(t *testing.T) {
	tests := []struct {
		remarks string
		want    string
	}{
		{"\U0001F1EF\U0001F1F5 Tokyo 1", "\U0001F1EF\U0001F1F5"},
		{"relay \U0001F1E9\U0001F1EA", "\U0001F1E9\U0001F1EA"},
		{"no flag here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FlagFromRemarks(tt.remarks); got != tt.want {
			t.Errorf("FlagFromRemarks(%q) = %q, want %q", tt.remarks, got, tt.want)
		}
	}
}

func TestRandomFlagAlwaysValid(t *testing.T) {
	for range 100 {
		flag := RandomFlag()
		if FlagFromRemarks(flag) != flag {
			t.Fatalf("RandomFlag produced a non-flag: %q", flag)
		}
	}
}
