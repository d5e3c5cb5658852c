package gateway

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fabian4/revproxy-homebrew-go/internal/sock"
)

// newTransport builds the upstream round-tripper. Every outbound dial goes
// through the socket layer, so candidate fallback and source-address binding
// apply to all upstream connections.
func newTransport(sl *sock.Layer) *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, err
			}
			return sl.Connect(ctx, host, port, "")
		},
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
