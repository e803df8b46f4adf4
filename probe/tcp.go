package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/latency_lab/engine"
)

// DefaultTCPPort is used for targets given without a port.
const DefaultTCPPort = 443

// TCPProber measures the time needed to establish a TCP connection. It needs
// no raw socket privileges.
type TCPProber struct {
	port   int
	dialer net.Dialer
}

// NewTCP creates a connect time prober.
func NewTCP(cfg Config) *TCPProber {
	p := &TCPProber{port: cfg.TCPPort}
	if p.port <= 0 {
		p.port = DefaultTCPPort
	}
	if r, ok := cfg.Resolver.(*net.Resolver); ok {
		p.dialer.Resolver = r
	}

	return p
}

// Probe implements engine.Prober.
func (p *TCPProber) Probe(ctx context.Context, target string, timeout time.Duration) engine.Sample {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address(target))
	rtt := time.Since(start)
	if err != nil {
		log.Debugf("probe of %s failed: %v", target, err)
		return engine.Failed(target, start)
	}
	conn.Close()

	return sampleFromRTT(target, start, rtt, nil, timeout)
}

// address appends the default port unless target already carries one.
func (p *TCPProber) address(target string) string {
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}

	return net.JoinHostPort(target, strconv.Itoa(p.port))
}

// Close implements Prober.
func (p *TCPProber) Close() error {
	return nil
}
