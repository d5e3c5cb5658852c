package sock

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// UnknownHost is the hostname reported when reverse DNS for a peer fails.
const UnknownHost = "[unknown]"

// Layer opens outbound and inbound sockets for the gateway. A single Layer is
// shared by all connection workers; it holds only immutable configuration, so
// no locking is needed. Connect and the resolver block the calling worker
// only; deadlines come from the caller's context.
type Layer struct {
	resolver Resolver

	// bindAddress is the process-wide outbound source address ("" = none).
	bindAddress string

	// listenAddress is the inbound listen IP ("" = wildcard).
	listenAddress string

	logger *slog.Logger

	// lookupAddr performs reverse DNS; swapped out in tests.
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
}

func New(resolver Resolver, bindAddress, listenAddress string, logger *slog.Logger) *Layer {
	if resolver == nil {
		resolver = NewResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		resolver:      resolver,
		bindAddress:   bindAddress,
		listenAddress: listenAddress,
		logger:        logger,
		lookupAddr:    net.DefaultResolver.LookupAddr,
	}
}

// Connect opens a TCP connection to host:port, trying resolved candidates in
// order and returning the first that succeeds. localBind, when non-empty,
// overrides the process-wide bind address as the outbound source; a candidate
// whose source bind cannot be resolved is skipped, not fatal. Only after every
// candidate has failed does Connect return a *ConnectError.
func (l *Layer) Connect(ctx context.Context, host string, port int, localBind string) (net.Conn, error) {
	cands, err := l.resolver.Resolve(ctx, host, port)
	if err != nil {
		l.logger.Error("connect: could not retrieve info for host", "host", host, "error", err)
		return nil, err
	}

	bind := localBind
	if bind == "" {
		bind = l.bindAddress
	}

	var lastErr error
	for _, cand := range cands {
		d := net.Dialer{}
		if bind != "" {
			laddr, berr := l.localTCPAddr(ctx, bind)
			if berr != nil {
				lastErr = berr
				continue // can't bind, so try the next candidate
			}
			d.LocalAddr = laddr
		}
		conn, derr := d.DialContext(ctx, "tcp", cand.String())
		if derr != nil {
			lastErr = derr
			continue
		}
		return conn, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate endpoints")
	}
	cerr := &ConnectError{Host: host, Port: port, Err: lastErr}
	l.logger.Error("connect: could not establish a connection", "host", host, "port", port, "error", lastErr)
	return nil, cerr
}

// localTCPAddr resolves the configured source address to a local TCP address.
// The local port is not important.
func (l *Layer) localTCPAddr(ctx context.Context, addr string) (*net.TCPAddr, error) {
	cands, err := l.resolver.Resolve(ctx, addr, 0)
	if err != nil {
		return nil, &BindError{Address: addr, Err: err}
	}
	if len(cands) == 0 {
		return nil, &BindError{Address: addr, Err: errors.New("no addresses")}
	}
	return net.TCPAddrFromAddrPort(cands[0]), nil
}

// Listen creates the IPv4 serving socket on the configured listen address
// (the wildcard address when unset), with SO_REUSEADDR set before bind. The
// accept backlog is the kernel default used by the runtime. Both bind and
// listen failures are fatal to startup and are not retried.
func (l *Layer) Listen(port int) (net.Listener, error) {
	host := l.listenAddress
	if host == "" {
		host = "0.0.0.0"
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp4", address)
	if err != nil {
		// The runtime performs bind and listen inside one call; classify
		// address-level failures as bind errors, the rest as listen errors.
		if errors.Is(err, unix.EADDRINUSE) || errors.Is(err, unix.EADDRNOTAVAIL) || errors.Is(err, unix.EACCES) {
			l.logger.Error("unable to bind listening socket", "address", address, "error", err)
			return nil, &BindError{Address: address, Err: err}
		}
		l.logger.Error("unable to start listening socket", "address", address, "error", err)
		return nil, &ListenError{Address: address, Err: err}
	}
	return ln, nil
}

// SetNonBlocking puts the connection's descriptor into non-blocking mode.
func SetNonBlocking(conn syscall.Conn) error { return setNonblock(conn, true) }

// SetBlocking puts the connection's descriptor into blocking mode.
func SetBlocking(conn syscall.Conn) error { return setNonblock(conn, false) }

func setNonblock(conn syscall.Conn, nonblocking bool) error {
	rc, err := conn.SyscallConn()
	if err != nil {
		return &ModeError{Err: err}
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetNonblock(int(fd), nonblocking)
	}); err != nil {
		return &ModeError{Err: err}
	}
	if serr != nil {
		return &ModeError{Err: serr}
	}
	return nil
}

// LocalAddress returns the socket's own bound IP as a numeric string.
func LocalAddress(conn net.Conn) (string, error) {
	addr := conn.LocalAddr()
	if addr == nil {
		return "", &AddressError{Err: errors.New("no local address")}
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", &AddressError{Err: err}
	}
	return host, nil
}

// PeerInfo returns the remote peer's numeric IP and its reverse-DNS hostname.
// The hostname defaults to UnknownHost before any lookup is attempted and
// keeps that value when the lookup fails; only a missing numeric address is
// an error, and the hostname outcome never affects the address result.
func (l *Layer) PeerInfo(ctx context.Context, conn net.Conn) (ip, hostname string, err error) {
	hostname = UnknownHost

	addr := conn.RemoteAddr()
	if addr == nil {
		return "", hostname, &AddressError{Err: errors.New("no remote address")}
	}
	ip, _, err = net.SplitHostPort(addr.String())
	if err != nil {
		return "", hostname, &AddressError{Err: err}
	}

	if names, lerr := l.lookupAddr(ctx, ip); lerr == nil && len(names) > 0 {
		hostname = strings.TrimSuffix(names[0], ".")
	}
	return ip, hostname, nil
}
