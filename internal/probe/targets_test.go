package probe

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestOverlayAverageCachesWithinTTL(t *testing.T) {
	var calls atomic.Int64
	o := NewTargetOverlay([]string{"10.0.0.1", "10.0.0.2"})
	o.Probe = func(ctx context.Context, host string) Result {
		calls.Add(1)
		if host == "10.0.0.1" {
			return Result{OK: true, PingMS: 100}
		}
		return Result{OK: true, PingMS: 200}
	}

	avg, ok := o.Average(context.Background())
	if !ok || avg != 150 {
		t.Fatalf("Average = %v, %v; want 150, true", avg, ok)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}

	// Second call inside the TTL reuses cached results.
	if _, ok := o.Average(context.Background()); !ok {
		t.Fatal("cached average must still be available")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d after cached read, want 2", calls.Load())
	}
}

func TestOverlayBlend(t *testing.T) {
	o := NewTargetOverlay([]string{"t1"})
	o.Probe = func(ctx context.Context, host string) Result {
		return Result{OK: true, PingMS: 100}
	}

	res := o.Blend(context.Background(), Result{OK: true, PingMS: 50})
	want := 50*0.7 + 100*0.3
	if !res.OK || res.PingMS != want {
		t.Errorf("Blend = %+v, want PingMS %v", res, want)
	}
}

func TestOverlayBlendSkipsOnEndpointFailure(t *testing.T) {
	o := NewTargetOverlay([]string{"t1"})
	o.Probe = func(ctx context.Context, host string) Result {
		t.Error("overlay must not probe when the endpoint already failed")
		return Result{}
	}

	in := Result{OK: false, PingMS: 999}
	if out := o.Blend(context.Background(), in); out != in {
		t.Errorf("failed endpoint must pass through unchanged: %+v", out)
	}
}

func TestOverlayBlendSkipsWhenAllTargetsDown(t *testing.T) {
	o := NewTargetOverlay([]string{"t1", "t2"})
	o.Probe = func(ctx context.Context, host string) Result {
		return Result{OK: false, PingMS: 999}
	}

	in := Result{OK: true, PingMS: 42}
	if out := o.Blend(context.Background(), in); out != in {
		t.Errorf("endpoint must pass through when no target answers: %+v", out)
	}
}

func TestOverlayNoTargets(t *testing.T) {
	o := NewTargetOverlay(nil)
	if _, ok := o.Average(context.Background()); ok {
		t.Error("empty target list must report no average")
	}
	in := Result{OK: true, PingMS: 7}
	if out := o.Blend(context.Background(), in); out != in {
		t.Errorf("blend with no targets must pass through: %+v", out)
	}
}

func TestOverlaySetTargetsResetsCache(t *testing.T) {
	var calls atomic.Int64
	o := NewTargetOverlay([]string{"t1"})
	o.Probe = func(ctx context.Context, host string) Result {
		calls.Add(1)
		return Result{OK: true, PingMS: 10}
	}

	o.Average(context.Background())
	o.SetTargets([]string{"t1"})
	o.Average(context.Background())
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (replace must invalidate cache)", calls.Load())
	}

	if got := o.Targets(); len(got) != 1 || got[0] != "t1" {
		t.Errorf("Targets = %v", got)
	}
}
