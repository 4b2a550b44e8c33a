// Package resolver turns a request's host and scheme into the ordered list
// of candidate remote addresses the transport fails over across.
package resolver

import (
	"context"
	"net"
	"net/netip"

	"github.com/pkg/errors"
)

// DefaultPort returns the default port for an http or https URL scheme.
func DefaultPort(scheme string) (port uint16, ok bool) {
	switch scheme {
	case "http":
		return 80, true
	case "https":
		return 443, true
	}
	return 0, false
}

// Resolver resolves a hostname to an ordered, non-empty list of candidate
// addresses. Order matters: the transport tries candidates front to back.
type Resolver interface {
	Resolve(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error)
}

// Net resolves through the standard library resolver (the system DNS
// configuration). Literal IP addresses skip the lookup.
type Net struct {
	// R overrides the resolver used for lookups. Nil means
	// net.DefaultResolver.
	R *net.Resolver
}

func (n *Net) Resolve(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(ip.Unmap(), port)}, nil
	}

	r := n.R
	if r == nil {
		r = net.DefaultResolver
	}
	ips, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", host)
	}
	addrs := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, netip.AddrPortFrom(ip.Unmap(), port))
	}
	return addrs, nil
}
