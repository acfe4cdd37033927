// Package dns resolves client hostnames for SMTP sessions. It performs
// forward-confirmed reverse DNS (FCrDNS): a PTR name is only trusted when it
// resolves back to the connecting address.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/synqronlabs/wren/utils"
)

var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSTimeout  = errors.New("dns: query timeout")
	ErrDNSRefused  = errors.New("dns: query refused")
)

// IsNotFound reports whether err means the name has no such records.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err is a SERVFAIL answer.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the query later might succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err) || errors.Is(err, ErrDNSRefused)
}

// Resolver is the subset of DNS the SMTP server needs.
type Resolver interface {
	// LookupAddr returns the PTR names of ip, fully qualified.
	LookupAddr(ctx context.Context, ip net.IP) ([]string, error)

	// LookupIP returns the A and AAAA addresses of host.
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// ReverseLookup returns the first PTR name of addr that resolves back to the
// same IP, without its trailing dot. ErrDNSNotFound is returned when no name
// is confirmed.
func ReverseLookup(ctx context.Context, r Resolver, addr net.Addr) (string, error) {
	if addr == nil {
		return "", errors.New("dns: address is nil")
	}
	ip, err := utils.GetIPFromAddr(addr)
	if err != nil {
		return "", err
	}

	names, err := r.LookupAddr(ctx, ip)
	if err != nil {
		return "", fmt.Errorf("reverse lookup of %s: %w", ip, err)
	}

	var lastErr error
	for _, name := range names {
		ips, err := r.LookupIP(ctx, name)
		if err != nil {
			lastErr = err
			continue
		}
		for _, fwd := range ips {
			if fwd.Equal(ip) {
				return strings.TrimSuffix(name, "."), nil
			}
		}
	}
	if lastErr != nil && !IsNotFound(lastErr) {
		return "", fmt.Errorf("forward confirmation for %s: %w", ip, lastErr)
	}
	return "", fmt.Errorf("no forward-confirmed PTR for %s: %w", ip, ErrDNSNotFound)
}
