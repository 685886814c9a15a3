package subscription

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// maxFeedDecodeAttempts bounds nested base64 unwrapping of a feed body.
const maxFeedDecodeAttempts = 3

// ExtractLinks decodes one upstream feed body into proxy-link lines.
//
// Decode order: if the body already contains a known scheme it is treated as
// line-delimited text; otherwise base64 unwrapping is attempted up to three
// times; otherwise a Clash YAML document with a proxies list is converted
// into canonical links. An unrecognized body yields no links.
func ExtractLinks(body []byte) []string {
	text := string(normalizeInput(body))
	if text == "" {
		return nil
	}

	if containsKnownScheme(text) {
		return collectLinkLines(text)
	}

	decoded := text
	for range maxFeedDecodeAttempts {
		next, ok := tryDecodeBase64ToText([]byte(decoded))
		if !ok {
			break
		}
		decoded = next
		if containsKnownScheme(decoded) {
			return collectLinkLines(decoded)
		}
	}

	if looksLikeClashYAML(text) {
		if links := linksFromClashYAML(text); len(links) > 0 {
			return links
		}
	}
	return nil
}

func containsKnownScheme(text string) bool {
	lower := strings.ToLower(text)
	for _, proto := range []string{"vless://", "vmess://", "trojan://", "ss://", "ssr://"} {
		if strings.Contains(lower, proto) {
			return true
		}
	}
	return false
}

func collectLinkLines(text string) []string {
	var out []string
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if HasKnownScheme(line) {
			out = append(out, line)
		}
	}
	return out
}

// --- Clash YAML conversion ---

func looksLikeClashYAML(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "proxies:") ||
		strings.Contains(lower, "\nproxies:") ||
		strings.HasPrefix(lower, "proxy-groups:") ||
		strings.Contains(lower, "\nproxy-groups:")
}

// linksFromClashYAML converts the proxies list of a Clash config into
// canonical URI links for the protocols the pipeline supports.
func linksFromClashYAML(text string) []string {
	var cfg struct {
		Proxies []map[string]any `yaml:"proxies"`
	}
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil
	}

	var out []string
	for _, proxy := range cfg.Proxies {
		if link, ok := clashProxyToLink(proxy); ok {
			out = append(out, link)
		}
	}
	return out
}

func clashProxyToLink(proxy map[string]any) (string, bool) {
	proxyType := strings.ToLower(strings.TrimSpace(clashString(proxy, "type")))
	name := strings.TrimSpace(clashString(proxy, "name"))
	server := strings.TrimSpace(clashString(proxy, "server"))
	port, havePort := clashInt(proxy, "port")
	if server == "" || !havePort || port < 1 || port > 65535 {
		return "", false
	}

	switch proxyType {
	case "ss", "shadowsocks":
		method := strings.TrimSpace(clashString(proxy, "cipher"))
		password := strings.TrimSpace(clashString(proxy, "password"))
		if method == "" || password == "" {
			return "", false
		}
		userinfo := base64.URLEncoding.EncodeToString([]byte(method + ":" + password))
		link := fmt.Sprintf("ss://%s@%s:%d", strings.TrimRight(userinfo, "="), server, port)
		if name != "" {
			link += "#" + url.PathEscape(name)
		}
		return link, true

	case "vmess":
		id := strings.TrimSpace(clashString(proxy, "uuid"))
		if id == "" {
			return "", false
		}
		payload := map[string]any{
			"v":    "2",
			"ps":   name,
			"add":  server,
			"port": fmt.Sprintf("%d", port),
			"id":   id,
			"aid":  "0",
			"net":  strings.TrimSpace(clashString(proxy, "network")),
			"host": strings.TrimSpace(clashString(proxy, "servername")),
			"path": "",
			"tls":  "",
		}
		if enabled, ok := clashBool(proxy, "tls"); ok && enabled {
			payload["tls"] = "tls"
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", false
		}
		return "vmess://" + base64.StdEncoding.EncodeToString(raw), true

	case "trojan":
		password := strings.TrimSpace(clashString(proxy, "password"))
		if password == "" {
			return "", false
		}
		link := fmt.Sprintf("trojan://%s@%s:%d", url.PathEscape(password), server, port)
		if sni := strings.TrimSpace(clashString(proxy, "sni")); sni != "" {
			link += "?sni=" + url.QueryEscape(sni)
		}
		if name != "" {
			link += "#" + url.PathEscape(name)
		}
		return link, true

	default:
		return "", false
	}
}

// --- input normalization ---

func normalizeInput(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	return bytes.TrimPrefix(trimmed, []byte{0xEF, 0xBB, 0xBF})
}

func tryDecodeBase64ToText(data []byte) (string, bool) {
	compact := strings.Join(strings.Fields(string(data)), "")
	if !looksLikeBase64(compact) {
		return "", false
	}
	decoded, ok := decodeBase64Relaxed(compact)
	if !ok || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

func looksLikeBase64(s string) bool {
	if len(s) < 24 || len(s)%4 == 1 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '-' || r == '_' || r == '=':
		default:
			return false
		}
	}
	return true
}

func clashString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return ""
}

func clashInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func clashBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off":
			return false, true
		}
	}
	return false, false
}
