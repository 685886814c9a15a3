package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mybrohigh/Xpert/internal/auditlog"
	"github.com/mybrohigh/Xpert/internal/cryptolink"
	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/policy"
	"github.com/mybrohigh/Xpert/internal/token"
)

// HandleCryptoLink returns a handler for POST /xpert/crypto-link. When a
// hwid or hwid_limit is supplied, the matching policy is installed for the
// wrapped link's subscriber before the link is sent off for signing.
func HandleCryptoLink(client *cryptolink.Client, policies *policy.Store, tokens *token.Resolver, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL       string `json:"url"`
			HWID      string `json:"hwid,omitempty"`
			HWIDLimit int    `json:"hwid_limit,omitempty"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			invalidArgument(w, "url: is required")
			return
		}
		if req.HWIDLimit != 0 && (req.HWIDLimit < policy.MinHWIDPool || req.HWIDLimit > policy.MaxHWIDPool) {
			invalidArgument(w, fmt.Sprintf("hwid_limit: must be in [%d,%d]", policy.MinHWIDPool, policy.MaxHWIDPool))
			return
		}

		username := subscriberFromURL(r, tokens, req.URL)
		if username != "" {
			if req.HWID != "" {
				if err := policies.SetRequiredHWID(username, req.HWID); err != nil {
					writeStoreError(w, err)
					return
				}
			}
			if req.HWIDLimit != 0 {
				if err := policies.SetHWIDLimit(username, req.HWIDLimit); err != nil {
					writeStoreError(w, err)
					return
				}
			}
		}

		encrypted, err := client.Encrypt(r.Context(), req.URL, req.HWID)
		if err != nil {
			var upstream *cryptolink.UpstreamError
			if errors.As(err, &upstream) {
				writeUpstream(w, err.Error())
				return
			}
			writeInternal(w, err)
			return
		}

		emitAudit(audit, r, model.ActionCryptoEncrypt, "subscription", username, req.URL)
		WriteJSON(w, http.StatusOK, map[string]any{
			"encrypted_url": encrypted,
		})
	}
}

// HandleHWIDReset returns a handler for POST /xpert/hwid/reset.
func HandleHWIDReset(policies *policy.Store, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" {
			invalidArgument(w, "username: is required")
			return
		}
		if err := policies.ResetHWID(req.Username); err != nil {
			writeStoreError(w, err)
			return
		}
		emitAudit(audit, r, model.ActionHWIDReset, "user", req.Username, "")
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleHWIDStatus returns a handler for GET /xpert/hwid/{username}.
func HandleHWIDStatus(policies *policy.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := requireUsernamePathParam(w, r, "username")
		if !ok {
			return
		}
		p, found := policies.Get(username)
		if !found {
			WriteJSON(w, http.StatusOK, map[string]any{
				"username": username,
				"locked":   false,
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"username":        username,
			"locked":          p.RequiredHWID != "" || p.MaxUniqueHWID > 0,
			"required_hwid":   p.RequiredHWID,
			"max_unique_hwid": p.MaxUniqueHWID,
			"seen_hwids":      p.SeenHWIDs,
		})
	}
}

// HandleSetDeviceID returns a handler for POST /xpert/device-id. An empty
// device_id clears the lock.
func HandleSetDeviceID(policies *policy.Store, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			DeviceID string `json:"device_id"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" {
			invalidArgument(w, "username: is required")
			return
		}
		if err := policies.SetV2BoxDeviceID(req.Username, req.DeviceID); err != nil {
			writeStoreError(w, err)
			return
		}
		action := "device_id.set"
		if policy.NormalizeHWID(req.DeviceID) == "" {
			action = "device_id.clear"
		}
		emitAudit(audit, r, action, "user", req.Username, "")
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleClearDeviceID returns a handler for DELETE /xpert/device-id/{username}.
func HandleClearDeviceID(policies *policy.Store, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := requireUsernamePathParam(w, r, "username")
		if !ok {
			return
		}
		if err := policies.SetV2BoxDeviceID(username, ""); err != nil {
			writeStoreError(w, err)
			return
		}
		emitAudit(audit, r, "device_id.clear", "user", username, "")
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleGetIPLimit returns a handler for GET /xpert/ip-limit. With a
// username query it reports that user's effective limit, otherwise the
// default.
func HandleGetIPLimit(policies *policy.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.URL.Query().Get("username"))
		if username == "" {
			WriteJSON(w, http.StatusOK, map[string]any{
				"default_limit": policies.IPLimit(""),
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"username": username,
			"limit":    policies.IPLimit(username),
		})
	}
}

// HandleSetIPLimit returns a handler for POST /xpert/ip-limit. A zero
// limit reverts the user to the default.
func HandleSetIPLimit(policies *policy.Store, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Limit    int    `json:"limit"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" {
			invalidArgument(w, "username: is required")
			return
		}
		if err := policies.SetIPLimit(req.Username, req.Limit); err != nil {
			writeStoreError(w, err)
			return
		}
		emitAudit(audit, r, model.ActionIPLimitSet, "user", req.Username, fmt.Sprintf("limit=%d", req.Limit))
		WriteJSON(w, http.StatusOK, map[string]any{
			"username": req.Username,
			"limit":    policies.IPLimit(req.Username),
		})
	}
}

// HandleClearIPLimit returns a handler for DELETE /xpert/ip-limit/{username}.
func HandleClearIPLimit(policies *policy.Store, audit *auditlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := requireUsernamePathParam(w, r, "username")
		if !ok {
			return
		}
		if err := policies.SetIPLimit(username, 0); err != nil {
			writeStoreError(w, err)
			return
		}
		emitAudit(audit, r, model.ActionIPLimitSet, "user", username, "limit=default")
		w.WriteHeader(http.StatusNoContent)
	}
}

// subscriberFromURL maps a wrapped subscription URL back to the username
// its token resolves to. Anonymous or unrecognized tokens yield "".
func subscriberFromURL(r *http.Request, tokens *token.Resolver, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	// The token is the path segment after /sub, tolerating a trailing
	// variant segment like /direct.
	for i, seg := range segments {
		if seg == "sub" && i+1 < len(segments) {
			username, anonymous := tokens.Resolve(r.Context(), segments[i+1])
			if anonymous {
				return ""
			}
			return username
		}
	}
	return ""
}
