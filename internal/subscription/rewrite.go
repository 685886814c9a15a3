package subscription

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"unicode/utf8"
)

// RewriteRemarks replaces the client-visible label of a link, leaving every
// other field of the link intact. For URI schemes only the fragment changes;
// for vmess only the ps key inside the base64 JSON body; for ssr only the
// remarks parameter inside the base64 body.
func RewriteRemarks(raw, label string) (string, bool) {
	line := strings.TrimSpace(raw)
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "vmess://"):
		return rewriteVmessPS(line, label)
	case strings.HasPrefix(lower, "ssr://"):
		return rewriteSSRRemarks(line, label)
	case strings.HasPrefix(lower, "vless://"),
		strings.HasPrefix(lower, "trojan://"),
		strings.HasPrefix(lower, "ss://"):
		return rewriteFragment(line, label), true
	default:
		return "", false
	}
}

// rewriteFragment keeps everything before the first '#' byte-identical and
// replaces (or appends) the fragment.
func rewriteFragment(line, label string) string {
	base, _, _ := strings.Cut(line, "#")
	return base + "#" + escapeFragment(label)
}

// escapeFragment percent-encodes a label so that url.QueryUnescape restores
// it exactly. PathEscape never emits '+', which QueryUnescape would decode
// as a space.
func escapeFragment(label string) string {
	return url.PathEscape(label)
}

func rewriteVmessPS(line, label string) (string, bool) {
	payload := strings.TrimSpace(line[len("vmess://"):])
	decoded, ok := decodeBase64Relaxed(payload)
	if !ok || !utf8.Valid(decoded) {
		return "", false
	}

	var body map[string]any
	if err := json.Unmarshal(decoded, &body); err != nil {
		return "", false
	}
	body["ps"] = label
	out, err := json.Marshal(body)
	if err != nil {
		return "", false
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(out), true
}

func rewriteSSRRemarks(line, label string) (string, bool) {
	payload := strings.TrimSpace(line[len("ssr://"):])
	decoded, ok := decodeBase64Relaxed(payload)
	if !ok || !utf8.Valid(decoded) {
		return "", false
	}

	body := string(decoded)
	encodedLabel := strings.TrimRight(
		base64.URLEncoding.EncodeToString([]byte(label)), "=")

	main, params, hasParams := strings.Cut(body, "/?")
	if !hasParams {
		body = main + "/?remarks=" + encodedLabel
	} else {
		parts := strings.Split(params, "&")
		replaced := false
		for i, part := range parts {
			if strings.HasPrefix(part, "remarks=") {
				parts[i] = "remarks=" + encodedLabel
				replaced = true
				break
			}
		}
		if !replaced {
			parts = append(parts, "remarks="+encodedLabel)
		}
		body = main + "/?" + strings.Join(parts, "&")
	}

	out := strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(body)), "=")
	return "ssr://" + out, true
}
