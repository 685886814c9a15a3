// Package probe measures endpoint reachability for aggregated and direct
// configs. An endpoint is probed either with a bare TCP connect or with a
// full TLS handshake, depending on what the link advertises.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mybrohigh/Xpert/internal/model"
)

// DefaultTimeout bounds a single endpoint probe.
const DefaultTimeout = 2500 * time.Millisecond

// Result is the outcome of one endpoint probe. On failure PingMS carries a
// sentinel (model.PingFailed or model.PingTLSReset) rather than a latency.
type Result struct {
	OK     bool
	PingMS float64
}

// Prober runs TCP and TLS reachability checks.
type Prober struct {
	Timeout time.Duration

	// DialContext is injectable for testing. Defaults to a plain net.Dialer.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewProber creates a Prober with the given per-probe timeout.
func NewProber(timeout time.Duration) *Prober {
	return &Prober{Timeout: timeout}
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultTimeout
}

func (p *Prober) dial(ctx context.Context, addr string) (net.Conn, error) {
	if p.DialContext != nil {
		return p.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// ProbeEndpoint checks reachability of host:port, with a TLS handshake when
// useTLS is set and a bare TCP connect otherwise.
func (p *Prober) ProbeEndpoint(ctx context.Context, host string, port int, useTLS bool) Result {
	if useTLS {
		return p.ProbeTLS(ctx, host, port)
	}
	return p.ProbeTCP(ctx, host, port)
}

// ProbeTCP measures a TCP connect to host:port.
func (p *Prober) ProbeTCP(ctx context.Context, host string, port int) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	start := time.Now()
	conn, err := p.dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Result{OK: false, PingMS: model.PingFailed}
	}
	elapsed := time.Since(start)
	conn.Close()

	return Result{OK: true, PingMS: clampMS(elapsed)}
}

// ProbeTLS measures a TCP connect plus TLS handshake to host:port. SNI is
// the target host and certificate verification is off; the probe cares
// about the handshake completing, not about trust.
//
// A handshake cut short by the peer (EOF mid-handshake) reports
// model.PingTLSReset so callers can tell a filtered endpoint from a dead
// one.
func (p *Prober) ProbeTLS(ctx context.Context, host string, port int) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	start := time.Now()
	conn, err := p.dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Result{OK: false, PingMS: model.PingFailed}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if isHandshakeReset(err) {
			return Result{OK: false, PingMS: model.PingTLSReset}
		}
		return Result{OK: false, PingMS: model.PingFailed}
	}
	elapsed := time.Since(start)
	tlsConn.Close()

	return Result{OK: true, PingMS: clampMS(elapsed)}
}

func isHandshakeReset(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "eof")
}

// clampMS converts a measured duration to milliseconds, floored at 1 so a
// successful probe never reports zero.
func clampMS(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}
