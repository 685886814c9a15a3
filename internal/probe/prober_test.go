package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mybrohigh/Xpert/internal/model"
)

func splitAddr(t *testing.T, addr net.Addr) (string, int) {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		t.Fatalf("not a TCP addr: %v", addr)
	}
	return tcp.IP.String(), tcp.Port
}

func TestProbeTCPSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, port := splitAddr(t, ln.Addr())
	res := NewProber(time.Second).ProbeTCP(context.Background(), host, port)
	if !res.OK {
		t.Fatalf("probe failed: %+v", res)
	}
	if res.PingMS < 1 {
		t.Errorf("PingMS = %v, must be clamped to at least 1", res.PingMS)
	}
}

func TestProbeTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, port := splitAddr(t, ln.Addr())
	ln.Close()

	res := NewProber(time.Second).ProbeTCP(context.Background(), host, port)
	if res.OK {
		t.Fatal("probe to closed port must fail")
	}
	if res.PingMS != model.PingFailed {
		t.Errorf("PingMS = %v, want %v", res.PingMS, float64(model.PingFailed))
	}
}

func TestProbeTLSSuccess(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	host, port := splitAddr(t, srv.Listener.Addr())
	res := NewProber(2 * time.Second).ProbeTLS(context.Background(), host, port)
	if !res.OK {
		t.Fatalf("TLS probe against self-signed server must succeed (verify is off): %+v", res)
	}
	if res.PingMS < 1 {
		t.Errorf("PingMS = %v, must be clamped to at least 1", res.PingMS)
	}
}

func TestProbeTLSResetSentinel(t *testing.T) {
	// Accept the TCP connection and close it before any TLS exchange. The
	// client sees EOF mid-handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, port := splitAddr(t, ln.Addr())
	res := NewProber(2 * time.Second).ProbeTLS(context.Background(), host, port)
	if res.OK {
		t.Fatal("handshake against immediate-close listener must fail")
	}
	if res.PingMS != model.PingTLSReset {
		t.Errorf("PingMS = %v, want TLS reset sentinel %v", res.PingMS, float64(model.PingTLSReset))
	}
}

func TestProbeEndpointDispatch(t *testing.T) {
	var dialed int
	p := &Prober{
		Timeout: time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialed++
			client, server := net.Pipe()
			go func() {
				server.Close()
			}()
			return client, nil
		},
	}

	res := p.ProbeEndpoint(context.Background(), "h", 80, false)
	if !res.OK || dialed != 1 {
		t.Errorf("TCP dispatch: res=%+v dialed=%d", res, dialed)
	}

	// TLS dispatch over a dead pipe ends in a failure sentinel, never a
	// latency value.
	res = p.ProbeEndpoint(context.Background(), "h", 443, true)
	if res.OK || dialed != 2 {
		t.Errorf("TLS dispatch: res=%+v dialed=%d", res, dialed)
	}
	if res.PingMS != model.PingFailed && res.PingMS != model.PingTLSReset {
		t.Errorf("PingMS = %v, want a failure sentinel", res.PingMS)
	}
}

func TestClampMS(t *testing.T) {
	if got := clampMS(10 * time.Microsecond); got != 1 {
		t.Errorf("clampMS(10us) = %v, want 1", got)
	}
	if got := clampMS(250 * time.Millisecond); got != 250 {
		t.Errorf("clampMS(250ms) = %v, want 250", got)
	}
}
