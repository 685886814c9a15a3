package probe

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/mybrohigh/Xpert/internal/model"
)

const (
	icmpCount         = 2
	icmpPacketTimeout = 2 * time.Second
)

// CheckPing measures ICMP round trip to a host: average latency in
// milliseconds, jitter (max minus min), and packet loss percent. ICMP is a
// diagnostic overlay on top of the TCP/TLS probes; any failure reports the
// unreachable sentinel with full loss instead of an error.
func CheckPing(ctx context.Context, host string) (avgMS, jitterMS, loss float64) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return model.PingFailed, 0, 100
	}
	pinger.Count = icmpCount
	// Each packet gets its own budget; a slow first reply must not starve
	// the second.
	pinger.Timeout = icmpCount * icmpPacketTimeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return model.PingFailed, 0, 100
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return model.PingFailed, 0, 100
	}

	avg := clampMS(stats.AvgRtt)
	jitter := float64(stats.MaxRtt-stats.MinRtt) / float64(time.Millisecond)
	return avg, jitter, stats.PacketLoss
}
