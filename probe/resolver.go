package probe

import (
	"context"
	"net"
	"strings"
)

type Resolver interface {
	// LookupIPAddr resolves a host to its IP addresses.
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NewResolver returns a resolver querying nameserver, or the system
// resolver if nameserver is empty.
func NewResolver(nameserver string) *net.Resolver {
	if nameserver == "" {
		return net.DefaultResolver
	}

	if _, _, err := net.SplitHostPort(nameserver); err != nil && !strings.HasSuffix(nameserver, ":53") {
		nameserver = net.JoinHostPort(strings.Trim(nameserver, "[]"), "53")
	}
	dialer := func(ctx context.Context, network, address string) (net.Conn, error) {
		d := net.Dialer{}

		return d.DialContext(ctx, "udp", nameserver)
	}

	return &net.Resolver{PreferGo: true, Dial: dialer}
}
