package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/die-net/meshredir/internal/dialer"
	"github.com/die-net/meshredir/internal/origdst"
	"github.com/die-net/meshredir/internal/testutil"
)

type resolverFunc func(c *net.TCPConn) (netip.AddrPort, error)

func (f resolverFunc) OriginalDst(c *net.TCPConn) (netip.AddrPort, error) { return f(c) }

func fixedOrigin(ap netip.AddrPort) origdst.Resolver {
	return resolverFunc(func(*net.TCPConn) (netip.AddrPort, error) { return ap, nil })
}

func addrPort(a net.Addr) netip.AddrPort {
	ap := a.(*net.TCPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

type testServer struct {
	ln   net.Listener
	logs *observer.ObservedLogs
	errc chan error
}

func startServer(t *testing.T, ctx context.Context, cfg Config) *testServer {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	cfg.Log = zap.New(core).Sugar()
	if cfg.Dialer == nil {
		cfg.Dialer = dialer.NewRedirectDialer(dialer.Config{Log: cfg.Log})
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	ts := &testServer{ln: ln, logs: logs, errc: make(chan error, 1)}
	srv := NewServer(ctx, cfg)
	go func() { ts.errc <- srv.Serve(ln) }()
	return ts
}

func (ts *testServer) dial(t *testing.T) *net.TCPConn {
	t.Helper()

	c, err := net.DialTCP("tcp4", nil, ts.ln.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(10 * time.Second))
	return c
}

// waitLog waits until a message with prefix has been logged n times.
func (ts *testServer) waitLog(t *testing.T, prefix string, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := 0
		for _, e := range ts.logs.All() {
			if strings.HasPrefix(e.Message, prefix) {
				got++
			}
		}
		if got >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q log lines; have %v", n, prefix, messages(ts.logs))
}

func messages(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		out = append(out, e.Message)
	}
	return out
}

func TestServerEcho(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	ts := startServer(t, ctx, Config{Resolver: fixedOrigin(addrPort(echoLn.Addr())), LogOrigin: true})

	c := ts.dial(t)
	testutil.AssertEcho(t, c, c, []byte("hello\n"))
	if err := c.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	if rest, err := io.ReadAll(c); err != nil || len(rest) != 0 {
		t.Fatalf("after half-close got %q, %v", rest, err)
	}

	ts.waitLog(t, "connection closed", 1)

	want := []string{
		"accept new connection, peer[" + c.LocalAddr().String() + "]->local[" + c.RemoteAddr().String() + "]",
		"origin dst addr: " + addrPort(echoLn.Addr()).String(),
		"bind to: 127.0.0.1:0 success",
		"connected to upstream, local[127.0.0.1:",
		"connection closed",
	}
	got := messages(ts.logs.FilterLevelExact(zap.InfoLevel))
	if len(got) != len(want) {
		t.Fatalf("got log lines %q", got)
	}
	for i := range want {
		if !strings.HasPrefix(got[i], want[i]) {
			t.Fatalf("line %d: got %q want prefix %q", i, got[i], want[i])
		}
	}

	var states []string
	dialLine := "start connect to upstream: " + addrPort(echoLn.Addr()).String() + ", from " + c.LocalAddr().String()
	dialLogged := false
	for _, e := range ts.logs.FilterLevelExact(zap.DebugLevel).All() {
		if e.Message == dialLine {
			if len(states) == 0 || states[len(states)-1] != "dialing" {
				t.Fatalf("%q logged after states %q", dialLine, states)
			}
			dialLogged = true
			continue
		}
		if !strings.HasPrefix(e.Message, "connection ") {
			continue
		}
		if _, st, ok := strings.Cut(e.Message, ": "); ok && !strings.Contains(st, "bytes") {
			states = append(states, st)
		}
	}
	if got, want := strings.Join(states, ","), "resolved,dialing,spliced,closed"; got != want {
		t.Fatalf("state transitions %q want %q", got, want)
	}
	if !dialLogged {
		t.Fatalf("missing debug line %q", dialLine)
	}
}

func TestServerUpstreamRefusedThenServes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closedLn, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	refused := addrPort(closedLn.Addr())
	_ = closedLn.Close()

	echoLn := testutil.StartEchoTCPServer(t, ctx)

	var n atomic.Int32
	resolver := resolverFunc(func(*net.TCPConn) (netip.AddrPort, error) {
		if n.Add(1) == 1 {
			return refused, nil
		}
		return addrPort(echoLn.Addr()), nil
	})
	ts := startServer(t, ctx, Config{Resolver: resolver})

	// The failed connection's downstream is closed by the proxy.
	first := ts.dial(t)
	if b, err := io.ReadAll(first); err != nil || len(b) != 0 {
		t.Fatalf("first connection: got %q, %v; want clean EOF", b, err)
	}
	ts.waitLog(t, "connection closed with error: dialing: connect", 1)

	second := ts.dial(t)
	testutil.AssertEcho(t, second, second, []byte("still serving"))
}

func TestServerResolveError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolver := resolverFunc(func(*net.TCPConn) (netip.AddrPort, error) {
		return netip.AddrPort{}, origdst.ErrNotRedirected
	})
	ts := startServer(t, ctx, Config{Resolver: resolver})

	c := ts.dial(t)
	if _, err := io.ReadAll(c); err != nil {
		t.Fatal(err)
	}
	ts.waitLog(t, "connection closed with error: accepted: connection was not redirected", 1)
}

// The client half-closes, the upstream answers after EOF, and the answer
// still reaches the client.
func TestServerHalfClose(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	upLn, wait := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		req, err := io.ReadAll(c)
		if err != nil {
			return
		}
		_, _ = c.Write(append([]byte("echo:"), req...))
		_ = c.(*net.TCPConn).CloseWrite()
	})
	defer wait()

	ts := startServer(t, ctx, Config{Resolver: fixedOrigin(addrPort(upLn.Addr()))})

	c := ts.dial(t)
	if _, err := c.Write([]byte("buffered")); err != nil {
		t.Fatal(err)
	}
	if err := c.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	resp, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "echo:buffered" {
		t.Fatalf("got %q", resp)
	}
	ts.waitLog(t, "connection closed", 1)
}

func TestServerHold(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts := startServer(t, ctx, Config{Hold: true})

	c := ts.dial(t)
	if _, err := c.Write(testutil.Payload(64 << 10)); err != nil {
		t.Fatal(err)
	}

	// Nothing is sent back while the connection is held.
	_ = c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var one [1]byte
	_, err := c.Read(one[:])
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("read while held: %v, want timeout", err)
	}

	_ = c.Close()
	ts.waitLog(t, "connection closed", 1)
	for _, m := range messages(ts.logs) {
		if strings.HasPrefix(m, "connected to upstream") || strings.HasPrefix(m, "origin dst addr") {
			t.Fatalf("hold mode dialed upstream: %q", m)
		}
	}
}

func TestServeAcceptError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts := startServer(t, ctx, Config{Hold: true})
	_ = ts.ln.Close()

	select {
	case err := <-ts.errc:
		if !errors.Is(err, net.ErrClosed) {
			t.Fatalf("err=%v want net.ErrClosed", err)
		}
	case <-ctx.Done():
		t.Fatal("Serve did not return after listener close")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	want := []string{"accepted", "resolved", "dialing", "spliced", "closed"}
	for i, w := range want {
		if got := State(i).String(); got != w {
			t.Fatalf("State(%d)=%q want %q", i, got, w)
		}
	}
	if got := State(9).String(); got != "State(9)" {
		t.Fatalf("got %q", got)
	}
}
