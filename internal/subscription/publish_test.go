package subscription

import (
	"encoding/base64"
	"testing"

	"github.com/mybrohigh/Xpert/internal/model"
)

func TestFeedLinesOrderAndFiltering(t *testing.T) {
	aggregated := []model.AggregatedConfig{
		{Raw: "vless://a", IsActive: true},
		{Raw: "vless://dead", IsActive: false},
		{Raw: "trojan://b", IsActive: true},
	}
	direct := []model.DirectConfig{
		{Raw: "ss://c", IsActive: true},
		{Raw: "ss://off", IsActive: false},
	}

	lines := FeedLines(aggregated, direct)
	want := []string{"vless://a", "trojan://b", "ss://c"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestBuildFeedFormats(t *testing.T) {
	lines := []string{"vless://a", "trojan://b"}

	plain := BuildFeed(lines, FormatUniversal)
	if plain != "vless://a\ntrojan://b" {
		t.Errorf("plain = %q", plain)
	}

	encoded := BuildFeed(lines, FormatBase64)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || string(decoded) != plain {
		t.Errorf("base64 feed = %q (decoded %q, err %v)", encoded, decoded, err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"", FormatUniversal, true},
		{"universal", FormatUniversal, true},
		{"BASE64", FormatBase64, true},
		{" base64 ", FormatBase64, true},
		{"xml", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestProfileTitle(t *testing.T) {
	if got := ProfileTitle("Xpert"); got != "Xpert" {
		t.Errorf("ascii title = %q", got)
	}
	got := ProfileTitle("Xpert Панель")
	const prefix = "base64:"
	if len(got) <= len(prefix) || got[:len(prefix)] != prefix {
		t.Fatalf("non-ascii title = %q", got)
	}
	decoded, err := base64.StdEncoding.DecodeString(got[len(prefix):])
	if err != nil || string(decoded) != "Xpert Панель" {
		t.Errorf("decoded title = %q, %v", decoded, err)
	}
}
