package policy

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client address for IP limiting. Precedence:
// X-Real-IP, first X-Forwarded-For entry, transport peer.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var (
	deviceIDHeaders = []string{"x-device-id", "x-hwid", "x-install-id", "x-app-instance-id"}
	deviceIDParams  = []string{"v2box_id", "v2box_hwid", "device_id", "hwid"}
)

// DeviceID extracts the V2Box device identifier from a request. Headers
// win over query parameters; some V2Box builds only send the latter.
func DeviceID(r *http.Request) string {
	for _, key := range deviceIDHeaders {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return v
		}
	}
	query := r.URL.Query()
	for _, key := range deviceIDParams {
		if v := strings.TrimSpace(query.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// HWID extracts the X-HWID header value.
func HWID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-HWID"))
}
