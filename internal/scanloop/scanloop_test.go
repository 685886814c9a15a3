package scanloop

import (
	"testing"
	"time"
)

func TestRunFiresAndStops(t *testing.T) {
	fired := make(chan struct{}, 8)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		Run(stop, time.Millisecond, 0, func() { fired <- struct{}{} })
		close(done)
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh callback never fired")
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after close")
	}
}

func TestRunGuardsBadIntervals(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	// Non-positive interval and negative jitter must not panic.
	Run(stop, 0, -time.Second, func() {})
}
