package probe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type ipVersion uint8

const (
	ipv4 ipVersion = 4
	ipv6 ipVersion = 6
)

func (ipv ipVersion) String() string {
	return fmt.Sprintf("%d", ipv)
}

func getIPVersion(addr net.IPAddr) ipVersion {
	if addr.IP.To4() == nil {
		return ipv6
	}

	return ipv4
}

// target caches the resolved addresses of a single host.
type target struct {
	host      string
	addresses []net.IPAddr
	resolved  time.Time
	resolver  Resolver
	mutex     sync.Mutex
}

// address returns the address to probe, resolving the host again once the
// cached result is older than refresh. A refresh of 0 resolves only once.
func (t *target) address(ctx context.Context, refresh time.Duration) (*net.IPAddr, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	stale := len(t.addresses) == 0 || (refresh > 0 && time.Since(t.resolved) >= refresh)
	if stale {
		if err := t.resolve(ctx); err != nil {
			if len(t.addresses) == 0 {
				return nil, err
			}
			log.Warnf("could not refresh dns of %s, keeping %s: %v", t.host, t.nameForIP(t.addresses[0]), err)
		}
	}

	addr := t.addresses[0]
	return &addr, nil
}

// resolve needs to be called with t.mutex held.
func (t *target) resolve(ctx context.Context) error {
	if ip := net.ParseIP(t.host); ip != nil {
		t.addresses = []net.IPAddr{{IP: ip}}
		t.resolved = time.Now()
		return nil
	}

	addrs, err := t.resolver.LookupIPAddr(ctx, t.host)
	if err != nil {
		return fmt.Errorf("error resolving target: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("error resolving target: no addresses for %s", t.host)
	}

	if !sameAddresses(addrs, t.addresses) {
		log.Infof("resolved target %s to %s", t.host, t.nameForIP(addrs[0]))
	}
	t.addresses = addrs
	t.resolved = time.Now()

	return nil
}

func (t *target) nameForIP(addr net.IPAddr) string {
	return fmt.Sprintf("%s %s %s", t.host, addr.IP, getIPVersion(addr))
}

func sameAddresses(a, b []net.IPAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !isIPInSlice(x.IP, b) {
			return false
		}
	}

	return true
}

func isIPInSlice(ip net.IP, slice []net.IPAddr) bool {
	for _, x := range slice {
		if x.IP.Equal(ip) {
			return true
		}
	}

	return false
}

// targetCache hands out one target entry per host.
type targetCache struct {
	resolver Resolver
	refresh  time.Duration
	targets  map[string]*target
	mtx      sync.Mutex
}

func newTargetCache(resolver Resolver, refresh time.Duration) *targetCache {
	return &targetCache{
		resolver: resolver,
		refresh:  refresh,
		targets:  make(map[string]*target),
	}
}

func (c *targetCache) address(ctx context.Context, host string) (*net.IPAddr, error) {
	c.mtx.Lock()
	t, found := c.targets[host]
	if !found {
		t = &target{host: host, resolver: c.resolver}
		c.targets[host] = t
	}
	c.mtx.Unlock()

	return t.address(ctx, c.refresh)
}
