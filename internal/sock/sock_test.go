package sock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubResolver maps hostnames to fixed candidate lists.
type stubResolver struct {
	hosts map[string][]netip.AddrPort
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, host string, port int) ([]netip.AddrPort, error) {
	if s.err != nil {
		return nil, s.err
	}
	cands, ok := s.hosts[host]
	if !ok {
		return nil, &ResolutionError{Host: host, Err: errors.New("no such host")}
	}
	// Candidates carry their own ports; the port argument is already encoded.
	out := make([]netip.AddrPort, len(cands))
	copy(out, cands)
	return out, nil
}

func listenLoopback(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port that was just released, so connecting to
// it is refused.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func loopbackCandidate(port int) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(port))
}

func TestConnect_FallsBackToSecondCandidate(t *testing.T) {
	_, livePort := listenLoopback(t)
	dead := closedPort(t)

	res := &stubResolver{hosts: map[string][]netip.AddrPort{
		"backend.test": {loopbackCandidate(dead), loopbackCandidate(livePort)},
	}}
	l := New(res, "", "", quietLogger())

	conn, err := l.Connect(context.Background(), "backend.test", livePort, "")
	if err != nil {
		t.Fatalf("want success via second candidate, got %v", err)
	}
	defer func() { _ = conn.Close() }()

	if got := conn.RemoteAddr().(*net.TCPAddr).Port; got != livePort {
		t.Fatalf("want connection to port %d, got %d", livePort, got)
	}
}

func TestConnect_AllCandidatesExhausted(t *testing.T) {
	d1, d2 := closedPort(t), closedPort(t)
	res := &stubResolver{hosts: map[string][]netip.AddrPort{
		"backend.test": {loopbackCandidate(d1), loopbackCandidate(d2)},
	}}
	l := New(res, "", "", quietLogger())

	_, err := l.Connect(context.Background(), "backend.test", d1, "")
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("want *ConnectError, got %v", err)
	}
	if cerr.Host != "backend.test" {
		t.Fatalf("want host in error, got %q", cerr.Host)
	}
}

func TestConnect_ResolutionErrorPropagates(t *testing.T) {
	res := &stubResolver{hosts: map[string][]netip.AddrPort{}}
	l := New(res, "", "", quietLogger())

	_, err := l.Connect(context.Background(), "nowhere.test", 80, "")
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("want *ResolutionError, got %v", err)
	}
}

func TestConnect_WithLocalBind(t *testing.T) {
	_, livePort := listenLoopback(t)
	res := &stubResolver{hosts: map[string][]netip.AddrPort{
		"backend.test": {loopbackCandidate(livePort)},
		"127.0.0.1":    {loopbackCandidate(0)},
	}}
	l := New(res, "", "", quietLogger())

	conn, err := l.Connect(context.Background(), "backend.test", livePort, "127.0.0.1")
	if err != nil {
		t.Fatalf("want success with local bind, got %v", err)
	}
	defer func() { _ = conn.Close() }()

	if got := conn.LocalAddr().(*net.TCPAddr).IP.String(); got != "127.0.0.1" {
		t.Fatalf("want local address 127.0.0.1, got %q", got)
	}
}

func TestListen_ServesAndReportsBusyPort(t *testing.T) {
	l := New(nil, "", "127.0.0.1", quietLogger())

	ln, err := l.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port

	// The listener accepts connections.
	go func() {
		conn, aerr := ln.Accept()
		if aerr == nil {
			_ = conn.Close()
		}
	}()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial to our listener: %v", err)
	}
	_ = conn.Close()

	// A second listener on the same port fails at bind time.
	_, err = l.Listen(port)
	var berr *BindError
	if !errors.As(err, &berr) {
		t.Fatalf("want *BindError for busy port, got %v", err)
	}
}

func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, _ := listenLoopback(t)
	done := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(done)
			return
		}
		done <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	server, ok := <-done
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

func TestBlockingModeToggles(t *testing.T) {
	client, _ := tcpPair(t)
	tc := client.(*net.TCPConn)

	if err := SetNonBlocking(tc); err != nil {
		t.Fatalf("SetNonBlocking: %v", err)
	}
	if err := SetBlocking(tc); err != nil {
		t.Fatalf("SetBlocking: %v", err)
	}
}

func TestLocalAddress(t *testing.T) {
	client, _ := tcpPair(t)

	ip, err := LocalAddress(client)
	if err != nil {
		t.Fatal(err)
	}
	if ip != "127.0.0.1" {
		t.Fatalf("want 127.0.0.1, got %q", ip)
	}
}

func TestPeerInfo_SentinelWhenReverseLookupFails(t *testing.T) {
	_, server := tcpPair(t)

	l := New(nil, "", "", quietLogger())
	l.lookupAddr = func(ctx context.Context, addr string) ([]string, error) {
		return nil, errors.New("reverse lookup unavailable")
	}

	ip, hostname, err := l.PeerInfo(context.Background(), server)
	if err != nil {
		t.Fatalf("numeric address must still be reported: %v", err)
	}
	if ip != "127.0.0.1" {
		t.Fatalf("want peer ip 127.0.0.1, got %q", ip)
	}
	if hostname != UnknownHost {
		t.Fatalf("want sentinel %q, got %q", UnknownHost, hostname)
	}
}

func TestPeerInfo_UsesReverseName(t *testing.T) {
	_, server := tcpPair(t)

	l := New(nil, "", "", quietLogger())
	l.lookupAddr = func(ctx context.Context, addr string) ([]string, error) {
		return []string{"client.example.com."}, nil
	}

	ip, hostname, err := l.PeerInfo(context.Background(), server)
	if err != nil {
		t.Fatal(err)
	}
	if ip == "" {
		t.Fatal("want a numeric peer address")
	}
	if hostname != "client.example.com" {
		t.Fatalf("want trimmed hostname, got %q", hostname)
	}
}
