package api

import (
	"net"
	"net/http"
	"time"

	"github.com/mybrohigh/Xpert/internal/geoip"
)

// HandleGeoIPStatus returns a handler for GET /xpert/geoip/status.
func HandleGeoIPStatus(svc *geoip.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			WriteJSON(w, http.StatusOK, map[string]any{"enabled": false})
			return
		}
		resp := map[string]any{"enabled": true}
		if t := svc.LastUpdated(); !t.IsZero() {
			resp["last_updated"] = t.UTC().Format(time.RFC3339)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleGeoIPLookup returns a handler for GET /xpert/geoip/lookup.
func HandleGeoIPLookup(svc *geoip.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("ip")
		if raw == "" {
			invalidArgument(w, "ip: query parameter is required")
			return
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			invalidArgument(w, "ip: not a valid IP address")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"ip":      raw,
			"country": svc.Country(ip),
		})
	}
}

// HandleGeoIPUpdate returns a handler for POST /xpert/geoip/update.
func HandleGeoIPUpdate(svc *geoip.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeNotFound(w, "geoip is not configured")
			return
		}
		if err := svc.UpdateNow(); err != nil {
			writeUpstream(w, "geoip update failed: "+err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"last_updated": svc.LastUpdated().UTC().Format(time.RFC3339),
		})
	}
}
