package subscription

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestExtractLinksPlainText(t *testing.T) {
	body := "# comment\nvless://u@h1:443?security=tls#A\n\ntrojan://p@h2:443#B\nnot a link\n"
	links := ExtractLinks([]byte(body))
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %v", len(links), links)
	}
	if links[0] != "vless://u@h1:443?security=tls#A" || links[1] != "trojan://p@h2:443#B" {
		t.Errorf("unexpected links: %v", links)
	}
}

func TestExtractLinksBase64Wrapped(t *testing.T) {
	plain := "trojan://p@h:443#X\nss://YWVzLTI1Ni1nY206cHc@h2:8388#Y"
	wrapped := base64.StdEncoding.EncodeToString([]byte(plain))

	links := ExtractLinks([]byte(wrapped))
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %v", len(links), links)
	}

	// Raw and wrapped bodies must decode to the same link list.
	direct := ExtractLinks([]byte(plain))
	if len(direct) != len(links) {
		t.Fatalf("raw vs wrapped mismatch: %v vs %v", direct, links)
	}
	for i := range direct {
		if direct[i] != links[i] {
			t.Errorf("link %d: %q vs %q", i, direct[i], links[i])
		}
	}
}

func TestExtractLinksDoubleWrapped(t *testing.T) {
	plain := "vless://u@h:443#A\nvless://u@h2:443#B\nvless://u@h3:443#C"
	once := base64.StdEncoding.EncodeToString([]byte(plain))
	twice := base64.StdEncoding.EncodeToString([]byte(once))

	links := ExtractLinks([]byte(twice))
	if len(links) != 3 {
		t.Fatalf("double-wrapped feed: got %d links, want 3", len(links))
	}
}

func TestExtractLinksBOMAndWhitespace(t *testing.T) {
	body := "\xEF\xBB\xBF  vmess://" + base64.StdEncoding.EncodeToString([]byte(`{"add":"h","port":"443","ps":"x","id":"u"}`)) + "  \n"
	links := ExtractLinks([]byte(body))
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
}

func TestExtractLinksClashYAML(t *testing.T) {
	body := `
proxies:
  - name: "jp-ss"
    type: ss
    server: 1.2.3.4
    port: 8388
    cipher: aes-256-gcm
    password: pw
  - name: "us-trojan"
    type: trojan
    server: t.example.com
    port: 443
    password: secret
    sni: t.example.com
  - name: "skip-me"
    type: wireguard
    server: 5.6.7.8
    port: 51820
`
	links := ExtractLinks([]byte(body))
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %v", len(links), links)
	}
	for _, link := range links {
		parsed, ok := ParseLink(link)
		if !ok {
			t.Errorf("synthesized link does not round-trip: %q", link)
			continue
		}
		if parsed.Server == "" || parsed.Port == 0 {
			t.Errorf("bad synthesized link %q -> %+v", link, parsed)
		}
	}
	if !strings.HasPrefix(links[0], "ss://") || !strings.HasPrefix(links[1], "trojan://") {
		t.Errorf("unexpected order or schemes: %v", links)
	}
}

func TestExtractLinksGarbage(t *testing.T) {
	for _, body := range []string{"", "plain text only", "{\"json\": true}", "AAAA"} {
		if links := ExtractLinks([]byte(body)); len(links) != 0 {
			t.Errorf("ExtractLinks(%q) = %v, want none", body, links)
		}
	}
}
