// Package utils holds small helpers shared by the engine and its drivers.
package utils

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// GetIPFromAddr extracts the IP of a network address. Unknown address types
// are parsed from their "host:port" or bare host string form.
func GetIPFromAddr(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, errors.New("address is nil")
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, nil
	case *net.UDPAddr:
		return a.IP, nil
	case *net.IPAddr:
		return a.IP, nil
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
	}
	return net.IP(ip.Unmap().AsSlice()), nil
}

// ContainsNonASCII reports whether s has any byte above 127.
func ContainsNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// GenerateID returns a new ULID. IDs sort by creation time, which keeps
// log lines and stored messages in arrival order.
func GenerateID() string {
	return ulid.Make().String()
}
