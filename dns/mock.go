package dns

import (
	"context"
	"net"
	"slices"
	"strings"
)

// MockResolver is a Resolver for tests. Names are matched case-insensitively
// with or without the trailing dot.
type MockResolver struct {
	// PTR maps an IP address string to its PTR names.
	PTR map[string][]string

	// IP maps a host name to its addresses.
	IP map[string][]string

	// Fail lists queries that return ErrDNSServFail, as "ptr 192.0.2.1" or
	// "ip mail.example.com".
	Fail []string
}

var _ Resolver = MockResolver{}

func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if slices.Contains(r.Fail, "ptr "+ip.String()) {
		return nil, ErrDNSServFail
	}
	names := r.PTR[ip.String()]
	if len(names) == 0 {
		return nil, ErrDNSNotFound
	}
	return names, nil
}

func (r MockResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	host = trimDot(host)
	if slices.Contains(r.Fail, "ip "+host) {
		return nil, ErrDNSServFail
	}
	var ips []net.IP
	for name, addrs := range r.IP {
		if trimDot(name) != host {
			continue
		}
		for _, a := range addrs {
			if ip := net.ParseIP(a); ip != nil {
				ips = append(ips, ip)
			}
		}
	}
	if len(ips) == 0 {
		return nil, ErrDNSNotFound
	}
	return ips, nil
}

func trimDot(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
