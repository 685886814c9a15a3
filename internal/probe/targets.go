package probe

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter"
)

const (
	// overlayTTL bounds how long a target probe result is reused before
	// the target is probed again.
	overlayTTL = 30 * time.Second

	// overlayTimeout is tighter than the endpoint probe timeout so a dead
	// target list cannot dominate a tick.
	overlayTimeout = 2 * time.Second

	overlayPort          = 443
	overlayMaxTargets    = 256
	overlayEndpointShare = 0.7
	overlayTargetsShare  = 0.3
)

// TargetOverlay blends endpoint latencies with TLS probes against a set of
// operator-chosen reference IPs. The blend penalizes endpoints that look
// fast locally but sit behind a congested route to the networks users
// actually reach.
type TargetOverlay struct {
	// Probe checks one target host over TLS:443. Injectable for testing.
	Probe func(ctx context.Context, host string) Result

	mu      sync.RWMutex
	targets []string
	cache   otter.Cache[string, Result]
}

// NewTargetOverlay creates an overlay over the given targets. Probing is
// lazy; an empty target list disables the blend entirely.
func NewTargetOverlay(targets []string) *TargetOverlay {
	cache, err := otter.MustBuilder[string, Result](overlayMaxTargets).
		Cost(func(_ string, _ Result) uint32 { return 1 }).
		WithTTL(overlayTTL).
		Build()
	if err != nil {
		panic("probe: failed to create target overlay cache: " + err.Error())
	}

	prober := NewProber(overlayTimeout)
	o := &TargetOverlay{
		Probe: func(ctx context.Context, host string) Result {
			return prober.ProbeTLS(ctx, host, overlayPort)
		},
		cache: cache,
	}
	o.SetTargets(targets)
	return o
}

// SetTargets replaces the target list and invalidates all cached probe
// results.
func (o *TargetOverlay) SetTargets(targets []string) {
	cleaned := make([]string, 0, len(targets))
	for _, t := range targets {
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}

	o.mu.Lock()
	o.targets = cleaned
	o.mu.Unlock()
	o.cache.Clear()
}

// Targets returns a copy of the current target list.
func (o *TargetOverlay) Targets() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, len(o.targets))
	copy(out, o.targets)
	return out
}

// Average probes every target (reusing cached results inside the TTL) and
// returns the mean latency over the targets that answered. ok is false when
// no target answered or the list is empty.
func (o *TargetOverlay) Average(ctx context.Context) (avgMS float64, ok bool) {
	targets := o.Targets()
	if len(targets) == 0 {
		return 0, false
	}

	var sum float64
	var n int
	for _, target := range targets {
		res, found := o.cache.Get(target)
		if !found {
			res = o.Probe(ctx, target)
			o.cache.Set(target, res)
		}
		if res.OK {
			sum += res.PingMS
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Blend mixes an endpoint probe result with the target overlay average.
// The blend applies only when both the endpoint probe and at least one
// target probe succeeded; otherwise the endpoint result passes through
// unchanged.
func (o *TargetOverlay) Blend(ctx context.Context, endpoint Result) Result {
	if o == nil || !endpoint.OK {
		return endpoint
	}
	avg, ok := o.Average(ctx)
	if !ok {
		return endpoint
	}
	mixed := endpoint.PingMS*overlayEndpointShare + avg*overlayTargetsShare
	if mixed < 1 {
		mixed = 1
	}
	return Result{OK: true, PingMS: mixed}
}
