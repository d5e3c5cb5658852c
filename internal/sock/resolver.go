package sock

import (
	"context"
	"net"
	"net/netip"
)

// Resolver produces an ordered sequence of candidate endpoints for a host and
// port. Resolution is protocol-independent: IPv4 and IPv6 candidates come back
// transparently in resolver order, and callers consume them first to last.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) ([]netip.AddrPort, error)
}

type netResolver struct {
	r *net.Resolver
}

// NewResolver returns a Resolver backed by the system resolver.
func NewResolver() Resolver {
	return &netResolver{r: net.DefaultResolver}
}

func (nr *netResolver) Resolve(ctx context.Context, host string, port int) ([]netip.AddrPort, error) {
	addrs, err := nr.r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &ResolutionError{Host: host, Err: err}
	}
	out := make([]netip.AddrPort, 0, len(addrs))
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		out = append(out, netip.AddrPortFrom(ip.Unmap(), uint16(port)))
	}
	return out, nil
}
