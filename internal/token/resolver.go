// Package token resolves subscription tokens to usernames. The token is
// an opaque string taken from the URL path; whatever identity backend the
// deployment uses (a panel API, a static mapping) plugs in as the lookup
// function, and results are cached so per-request resolution stays cheap.
package token

import (
	"context"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// MinLength is the shortest token treated as a real identity. Anything
// shorter resolves as anonymous.
const MinLength = 8

// LookupFunc maps a token to a username. Returning an empty username or
// an error means the backend does not know the token.
type LookupFunc func(ctx context.Context, token string) (string, error)

// Resolver caches token-to-username lookups.
type Resolver struct {
	lookup LookupFunc
	cache  *xsync.Map[string, string]
}

// NewResolver creates a resolver around the given lookup. A nil lookup
// falls back to identity mapping, so a standalone deployment still gets
// stable per-token accounting.
func NewResolver(lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = func(_ context.Context, token string) (string, error) {
			return token, nil
		}
	}
	return &Resolver{
		lookup: lookup,
		cache:  xsync.NewMap[string, string](),
	}
}

// Resolve returns the username behind a token. Tokens shorter than
// MinLength are anonymous and never hit the backend. A failed or empty
// lookup also resolves as anonymous; failures are not cached, so a
// backend blip does not pin a token to anonymous.
func (r *Resolver) Resolve(ctx context.Context, token string) (username string, anonymous bool) {
	token = strings.TrimSpace(token)
	if len(token) < MinLength {
		return "", true
	}
	if cached, ok := r.cache.Load(token); ok {
		return cached, false
	}
	username, err := r.lookup(ctx, token)
	if err != nil || username == "" {
		return "", true
	}
	r.cache.Store(token, username)
	return username, false
}

// Invalidate drops one token from the cache, for when the backend
// reassigns it.
func (r *Resolver) Invalidate(token string) {
	r.cache.Delete(strings.TrimSpace(token))
}
