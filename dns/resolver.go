package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, the servers from /etc/resolv.conf are used, falling back to
	// public DNS.
	Nameservers []string

	// Timeout is the timeout for individual DNS queries. Default is 5 seconds.
	Timeout time.Duration

	// Retries is the number of extra rounds over all nameservers. Default is 1.
	Retries int
}

// DNSResolver implements Resolver with github.com/miekg/dns.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver creates a DNSResolver.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 1
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = systemNameservers()
	}
	return &DNSResolver{
		config: config,
		client: &mdns.Client{Timeout: config.Timeout},
	}
}

func systemNameservers() []string {
	cc, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cc.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return servers
}

// Config returns the resolver configuration after defaults were applied.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}

// query sends one question, trying every nameserver in turn.
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for range r.config.Retries + 1 {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					lastErr = ErrDNSTimeout
				} else {
					lastErr = fmt.Errorf("dns: query to %s failed: %w", server, err)
				}
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError:
				return nil, ErrDNSNotFound
			case mdns.RcodeServerFailure:
				lastErr = ErrDNSServFail
			case mdns.RcodeRefused:
				lastErr = ErrDNSRefused
			default:
				lastErr = fmt.Errorf("dns: unexpected rcode %s", mdns.RcodeToString[resp.Rcode])
			}
		}
	}
	if lastErr == nil {
		lastErr = ErrDNSServFail
	}
	return nil, lastErr
}

// LookupAddr performs a PTR lookup for ip.
func (r *DNSResolver) LookupAddr(ctx context.Context, ip net.IP) ([]string, error) {
	if ip == nil {
		return nil, errors.New("dns: nil IP address")
	}
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return nil, fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}

	resp, err := r.query(ctx, arpa, mdns.TypePTR)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*mdns.PTR); ok {
			names = append(names, ptr.Ptr)
		}
	}
	if len(names) == 0 {
		return nil, ErrDNSNotFound
	}
	return names, nil
}

// LookupIP queries A and AAAA records of host. A failure of one family is
// only reported when the other produced no addresses.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	var lastErr error
	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		resp, err := r.query(ctx, host, qtype)
		if err != nil {
			if !IsNotFound(err) {
				lastErr = err
			}
			continue
		}
		for _, rr := range resp.Answer {
			switch rr := rr.(type) {
			case *mdns.A:
				ips = append(ips, rr.A)
			case *mdns.AAAA:
				ips = append(ips, rr.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrDNSNotFound
	}
	return ips, nil
}
