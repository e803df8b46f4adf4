package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/digineo/go-ping"
	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/latency_lab/engine"
)

// The following are used to keep track of the last used ping ID field value,
// and to pick a new one.  Each new ping ID is incremented by PINGID_INCR,
// which is a large relatively-prime value chosen to distribute the ID values
// as evenly as possible over the entire space in a deterministic manner.
const PINGID_INCR = 29479

// The first value chosen will always end up being the PID.
var lastPingId = uint32(os.Getpid() - PINGID_INCR)

// newPingId returns a new ID value which won't overlap with any recent
// previous values. The first 1024 values are avoided since the kernel and
// the `ping` command tend to pick low IDs.
func newPingId() uint16 {
	for {
		if id := uint16(atomic.AddUint32(&lastPingId, PINGID_INCR)); id >= 1024 {
			return id
		}
	}
}

// ICMPProber sends one ICMP echo request per probe over a shared raw socket.
type ICMPProber struct {
	pinger  *ping.Pinger
	targets *targetCache
}

// NewICMP opens the ICMP sockets for all available address families.
func NewICMP(cfg Config) (*ICMPProber, error) {
	var bind4, bind6 string
	if ln, err := net.Listen("tcp4", "127.0.0.1:0"); err == nil {
		// ipv4 enabled
		ln.Close()
		bind4 = "0.0.0.0"
	}
	if ln, err := net.Listen("tcp6", "[::1]:0"); err == nil {
		// ipv6 enabled
		ln.Close()
		bind6 = "::"
	}

	pinger, err := ping.New(bind4, bind6)
	if err != nil {
		return nil, fmt.Errorf("cannot open icmp sockets: %w", err)
	}
	// Set a distinct ICMP identifier field for each pinger
	pinger.Id = newPingId()

	if cfg.PayloadSize > 0 && pinger.PayloadSize() != cfg.PayloadSize {
		pinger.SetPayloadSize(cfg.PayloadSize)
	}
	log.Infof("Created icmp prober (payload=%d, id=%d)", pinger.PayloadSize(), pinger.Id)

	return &ICMPProber{
		pinger:  pinger,
		targets: newTargetCache(cfg.Resolver, cfg.DNSRefresh),
	}, nil
}

// Probe implements engine.Prober.
func (p *ICMPProber) Probe(ctx context.Context, target string, timeout time.Duration) engine.Sample {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr, err := p.targets.address(ctx, target)
	if err != nil {
		log.Debugf("probe of %s failed: %v", target, err)
		return engine.Failed(target, start)
	}

	rtt, err := p.pinger.PingContext(ctx, addr)
	if err != nil {
		log.Debugf("probe of %s (%s) failed: %v", target, addr, err)
	}

	return sampleFromRTT(target, start, rtt, err, timeout)
}

// RotateID switches to a new ICMP identifier.
func (p *ICMPProber) RotateID() {
	p.pinger.Id = newPingId()
	log.Debugf("Setting new ping ID of %d", p.pinger.Id)
}

// Close releases the ICMP sockets.
func (p *ICMPProber) Close() error {
	p.pinger.Close()
	return nil
}
