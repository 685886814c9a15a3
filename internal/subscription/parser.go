// Package subscription implements proxy-link parsing, feed decoding, and
// label rewriting for the five supported link formats.
package subscription

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mybrohigh/Xpert/internal/model"
)

// Link is the parsed reachability identity of one proxy link. Credentials
// stay inside Raw; only what probing and naming need is extracted.
type Link struct {
	Raw      string
	Protocol string
	Server   string
	Port     int
	Remarks  string
	TLS      bool
}

// tlsPorts are ports that imply a TLS endpoint regardless of link params.
var tlsPorts = map[int]bool{
	443:  true,
	8443: true,
	2053: true,
	2083: true,
	2087: true,
	2096: true,
}

// tlsMarkers are raw-link substrings that imply a TLS endpoint.
var tlsMarkers = []string{
	"security=tls",
	"security=reality",
	"tls=1",
	"type=grpc",
	"sni=",
	"alpn=",
}

// ParseLink parses one proxy link. It dispatches on the URL scheme prefix
// and returns false on any malformed input; it never panics on bad links.
func ParseLink(raw string) (Link, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Link{}, false
	}

	var (
		link Link
		ok   bool
	)
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "vmess://"):
		link, ok = parseVmessURI(line)
	case strings.HasPrefix(lower, "vless://"):
		link, ok = parseAddrURI(line, model.ProtocolVless)
	case strings.HasPrefix(lower, "trojan://"):
		link, ok = parseAddrURI(line, model.ProtocolTrojan)
	case strings.HasPrefix(lower, "ss://"):
		link, ok = parseSSURI(line)
	case strings.HasPrefix(lower, "ssr://"):
		link, ok = parseSSRURI(line)
	default:
		return Link{}, false
	}
	if !ok {
		return Link{}, false
	}

	link.Raw = line
	if link.Remarks == "" {
		link.Remarks = fallbackRemarks(link.Protocol, link.Server)
	}
	if !link.TLS {
		link.TLS = detectTLS(line, link.Protocol, link.Port)
	}
	return link, true
}

// HasKnownScheme reports whether the line starts with a supported link scheme.
func HasKnownScheme(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	for _, proto := range []string{"vless", "vmess", "trojan", "ss", "ssr"} {
		if strings.HasPrefix(lower, proto+"://") {
			return true
		}
	}
	return false
}

// detectTLS applies the shared TLS heuristics: trojan always, well-known TLS
// ports, and marker substrings anywhere in the raw link.
func detectTLS(raw, protocol string, port int) bool {
	if protocol == model.ProtocolTrojan {
		return true
	}
	if tlsPorts[port] {
		return true
	}
	lower := strings.ToLower(raw)
	for _, marker := range tlsMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// fallbackRemarks builds the label used when a link carries none.
func fallbackRemarks(protocol, server string) string {
	s := server
	if len(s) > 15 {
		s = s[:15]
	}
	return fmt.Sprintf("%s-%s", strings.ToUpper(protocol), s)
}

// parseAddrURI handles vless:// and trojan:// links, which share plain URI
// syntax: host from authority, port defaulting to 443, label from fragment.
func parseAddrURI(uri, protocol string) (Link, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return Link{}, false
	}
	server := strings.TrimSpace(u.Hostname())
	if server == "" {
		return Link{}, false
	}
	port := uriPortOrDefault(u, 443)
	if port == 0 {
		return Link{}, false
	}
	return Link{
		Protocol: protocol,
		Server:   server,
		Port:     port,
		Remarks:  decodeTag(u.Fragment),
	}, true
}

type vmessPayload struct {
	Add  string          `json:"add"`
	Port json.RawMessage `json:"port"`
	PS   string          `json:"ps"`
	TLS  json.RawMessage `json:"tls"`
	SCY  string          `json:"scy"`
	SNI  string          `json:"sni"`
	ALPN string          `json:"alpn"`
	FP   string          `json:"fp"`
	PBK  string          `json:"pbk"`
}

func parseVmessURI(uri string) (Link, bool) {
	payload := strings.TrimSpace(uri[len("vmess://"):])
	if payload == "" {
		return Link{}, false
	}
	decoded, ok := decodeBase64Relaxed(payload)
	if !ok || !utf8.Valid(decoded) {
		return Link{}, false
	}

	var v vmessPayload
	if err := json.Unmarshal(decoded, &v); err != nil {
		return Link{}, false
	}
	server := strings.TrimSpace(v.Add)
	if server == "" {
		return Link{}, false
	}
	port := 443
	if p, ok := jsonRawToPort(v.Port); ok {
		port = p
	}

	return Link{
		Protocol: model.ProtocolVmess,
		Server:   server,
		Port:     port,
		Remarks:  strings.TrimSpace(v.PS),
		TLS:      vmessIndicatesTLS(v),
	}, true
}

// vmessIndicatesTLS checks the vmess JSON body for TLS hints: an explicit
// tls/scy value or the presence of any TLS-only parameter.
func vmessIndicatesTLS(v vmessPayload) bool {
	tlsValue := strings.ToLower(strings.Trim(strings.TrimSpace(string(v.TLS)), `"`))
	switch tlsValue {
	case "tls", "reality", "1", "true":
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v.SCY)) {
	case "tls", "reality":
		return true
	}
	for _, field := range []string{v.SNI, v.ALPN, v.FP, v.PBK} {
		if strings.TrimSpace(field) != "" {
			return true
		}
	}
	return false
}

func parseSSURI(uri string) (Link, bool) {
	raw := strings.TrimSpace(uri[len("ss://"):])
	if raw == "" {
		return Link{}, false
	}

	beforeFragment, fragment, _ := strings.Cut(raw, "#")
	tag := decodeTag(fragment)
	beforeQuery, _, _ := strings.Cut(beforeFragment, "?")

	// URI form: opaque userinfo, plain host:port after '@'.
	if at := strings.LastIndex(beforeQuery, "@"); at > 0 && at < len(beforeQuery)-1 {
		server, port, ok := parseHostPort(beforeQuery[at+1:])
		if !ok {
			return Link{}, false
		}
		return Link{Protocol: model.ProtocolShadowsocks, Server: server, Port: port, Remarks: tag}, true
	}

	// Legacy form: the whole body is base64(method:password@host:port).
	decoded, ok := decodeBase64Relaxed(beforeQuery)
	if !ok || !utf8.Valid(decoded) {
		return Link{}, false
	}
	text := string(decoded)
	at := strings.LastIndex(text, "@")
	if at <= 0 || at >= len(text)-1 {
		return Link{}, false
	}
	server, port, ok := parseHostPort(text[at+1:])
	if !ok {
		return Link{}, false
	}
	return Link{Protocol: model.ProtocolShadowsocks, Server: server, Port: port, Remarks: tag}, true
}

func parseSSRURI(uri string) (Link, bool) {
	payload := strings.TrimSpace(uri[len("ssr://"):])
	if payload == "" {
		return Link{}, false
	}
	decoded, ok := decodeBase64Relaxed(payload)
	if !ok || !utf8.Valid(decoded) {
		return Link{}, false
	}

	body := string(decoded)
	main, params, _ := strings.Cut(body, "/?")
	parts := strings.Split(main, ":")
	if len(parts) < 2 {
		return Link{}, false
	}
	server := strings.TrimSpace(parts[0])
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || server == "" || port < 1 || port > 65535 {
		return Link{}, false
	}

	return Link{
		Protocol: model.ProtocolSSR,
		Server:   server,
		Port:     port,
		Remarks:  ssrRemarks(params),
	}, true
}

// ssrRemarks extracts the base64url remarks parameter from the SSR tail.
func ssrRemarks(params string) string {
	if params == "" {
		return ""
	}
	values, err := url.ParseQuery(params)
	if err != nil {
		return ""
	}
	encoded := strings.TrimSpace(values.Get("remarks"))
	if encoded == "" {
		return ""
	}
	decoded, ok := decodeBase64Relaxed(encoded)
	if !ok || !utf8.Valid(decoded) {
		return ""
	}
	return strings.TrimSpace(string(decoded))
}

// --- shared low-level helpers ---

// decodeBase64Relaxed right-pads to a multiple of four and accepts both the
// standard and the urlsafe alphabet.
func decodeBase64Relaxed(input string) ([]byte, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, false
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	return nil, false
}

func parseHostPort(hostport string) (string, int, bool) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", 0, false
	}

	if host, port, err := net.SplitHostPort(hostport); err == nil {
		parsedPort, parseErr := strconv.Atoi(strings.TrimSpace(port))
		if parseErr != nil || parsedPort < 1 || parsedPort > 65535 {
			return "", 0, false
		}
		host = strings.TrimSpace(strings.Trim(host, "[]"))
		if host == "" {
			return "", 0, false
		}
		return host, parsedPort, true
	}

	idx := strings.LastIndex(hostport, ":")
	if idx <= 0 || idx >= len(hostport)-1 {
		return "", 0, false
	}
	host := strings.TrimSpace(strings.Trim(hostport[:idx], "[]"))
	if host == "" {
		return "", 0, false
	}
	parsedPort, err := strconv.Atoi(strings.TrimSpace(hostport[idx+1:]))
	if err != nil || parsedPort < 1 || parsedPort > 65535 {
		return "", 0, false
	}
	return host, parsedPort, true
}

func decodeTag(fragment string) string {
	if fragment == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(fragment)
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(decoded)
}

func uriPortOrDefault(u *url.URL, fallback int) int {
	port := strings.TrimSpace(u.Port())
	if port == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(port)
	if err != nil || parsed < 1 || parsed > 65535 {
		return 0
	}
	return parsed
}

// jsonRawToPort accepts both numeric and string ports in vmess JSON.
func jsonRawToPort(raw json.RawMessage) (int, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, false
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
