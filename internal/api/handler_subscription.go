package api

import (
	"fmt"
	"net/http"

	"github.com/mybrohigh/Xpert/internal/policy"
	"github.com/mybrohigh/Xpert/internal/store"
	"github.com/mybrohigh/Xpert/internal/subscription"
	"github.com/mybrohigh/Xpert/internal/token"
	"github.com/mybrohigh/Xpert/internal/traffic"
)

const userinfoWindowDays = 30

// SubscriptionDeps bundles everything the public feed endpoints touch.
// Traffic may be nil in tests; the userinfo header then reports zeros.
type SubscriptionDeps struct {
	Snapshot *store.SnapshotStore
	Direct   *store.DirectConfigStore
	Policies *policy.Store
	Tokens   *token.Resolver
	Traffic  *traffic.Repo

	// PublicBaseURL, when set, is advertised to clients as the base of
	// the traffic webhook.
	PublicBaseURL string
}

// HandleSubscription returns a handler for GET /sub/{token}: the full
// feed, aggregated configs first, then direct ones.
func HandleSubscription(deps SubscriptionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveFeed(w, r, deps, "Xpert", func() []string {
			return subscription.FeedLines(deps.Snapshot.All(), deps.Direct.List())
		})
	}
}

// HandleSubscriptionDirect returns a handler for GET /sub/{token}/direct:
// only the hand-curated direct list.
func HandleSubscriptionDirect(deps SubscriptionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveFeed(w, r, deps, "Xpert Direct", func() []string {
			return subscription.FeedLines(nil, deps.Direct.List())
		})
	}
}

// serveFeed runs the shared token/policy/format pipeline and writes the
// feed body. Policy gates apply only to recognized subscribers; anonymous
// requests get the feed without per-user enforcement or usage reporting.
func serveFeed(w http.ResponseWriter, r *http.Request, deps SubscriptionDeps, title string, lines func() []string) {
	rawToken := r.PathValue("token")

	format, ok := subscription.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		invalidArgument(w, "format: must be universal or base64")
		return
	}

	username, anonymous := deps.Tokens.Resolve(r.Context(), rawToken)
	if !anonymous {
		if !deps.Policies.CheckHWID(username, policy.HWID(r)) {
			writeForbidden(w, "device is not authorized for this subscription")
			return
		}
		if !deps.Policies.CheckDeviceID(username, policy.DeviceID(r)) {
			writeForbidden(w, "device is not authorized for this subscription")
			return
		}
		if !deps.Policies.CheckIP(username, policy.ClientIP(r)) {
			writeForbidden(w, "too many addresses are using this subscription")
			return
		}
	}

	body := subscription.BuildFeed(lines(), format)

	userToken := rawToken
	if anonymous {
		userToken = "anonymous"
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Profile-Update-Interval", "1")
	h.Set("Profile-Title", subscription.ProfileTitle(title))
	h.Set("Subscription-Userinfo", userinfoHeader(r, deps, username, anonymous))
	if deps.PublicBaseURL != "" {
		h.Set("Traffic-Webhook", deps.PublicBaseURL+"/api/xpert/traffic-webhook")
	}
	h.Set("User-Token", userToken)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// userinfoHeader renders the Subscription-Userinfo value clients use for
// their usage gauge. Recorded totals only distinguish upload from
// download at the webhook, so the split is reported half and half.
func userinfoHeader(r *http.Request, deps SubscriptionDeps, username string, anonymous bool) string {
	var totalBytes int64
	if !anonymous && deps.Traffic != nil {
		if stats, err := deps.Traffic.UserStats(r.Context(), username, userinfoWindowDays); err == nil {
			totalBytes = int64(stats.TotalGBUsed * (1 << 30))
		}
	}
	half := totalBytes / 2
	return fmt.Sprintf("upload=%d; download=%d; total=%d; expire=0", half, half, totalBytes)
}
