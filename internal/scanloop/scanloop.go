// Package scanloop drives the periodic refresh of subscription sources.
// Jitter between rounds keeps many instances from hammering the same
// upstream URLs in lockstep.
package scanloop

import (
	"math/rand/v2"
	"time"
)

// Run calls fn once per round until stopCh is closed. Each round waits
// minInterval plus a random slice of [0, jitterRange) before firing.
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		wait := minInterval
		if jitterRange > 0 {
			wait += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(wait)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
