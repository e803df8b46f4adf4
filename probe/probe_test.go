package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleFromRTT(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	timeout := 50 * time.Millisecond

	tests := []struct {
		name    string
		rtt     time.Duration
		err     error
		success bool
		latency float64
	}{
		{"success", 12500 * time.Microsecond, nil, true, 12.5},
		{"zero", 0, nil, true, 0},
		{"just below timeout", timeout - time.Microsecond, nil, true, 49.999},
		{"exactly timeout", timeout, nil, false, 0},
		{"above timeout", timeout + time.Millisecond, nil, false, 0},
		{"error", time.Millisecond, errors.New("i/o timeout"), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleFromRTT("a", start, tt.rtt, tt.err, timeout)
			require.NoError(t, s.Validate())
			assert.Equal(t, tt.success, s.Success)
			assert.Equal(t, start.UnixMilli(), s.TimestampMs)
			if tt.success {
				assert.InDelta(t, tt.latency, *s.LatencyMs, 1e-9)
			}
		})
	}
}

func TestNewUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: "snmp"})
	assert.Error(t, err)
}

func TestTCPProberReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p, err := New(Config{Mode: ModeTCP})
	require.NoError(t, err)
	defer p.Close()

	s := p.Probe(context.Background(), ln.Addr().String(), time.Second)
	assert.True(t, s.Success)
	assert.GreaterOrEqual(t, *s.LatencyMs, 0.0)
}

func TestTCPProberRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := NewTCP(Config{})
	s := p.Probe(context.Background(), addr, time.Second)
	assert.False(t, s.Success)
	assert.Nil(t, s.LatencyMs)
}

func TestTCPProberCancelled(t *testing.T) {
	p := NewTCP(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := p.Probe(ctx, "192.0.2.1:80", time.Second)
	assert.False(t, s.Success)
}

func TestTCPProberAddress(t *testing.T) {
	p := NewTCP(Config{TCPPort: 8080})

	assert.Equal(t, "example.org:8080", p.address("example.org"))
	assert.Equal(t, "example.org:22", p.address("example.org:22"))
	assert.Equal(t, "[::1]:8080", p.address("::1"))
	assert.Equal(t, "[::1]:22", p.address("[::1]:22"))
}

func TestNewResolver(t *testing.T) {
	assert.Same(t, net.DefaultResolver, NewResolver(""))

	r := NewResolver("1.1.1.1")
	assert.True(t, r.PreferGo)
	assert.NotNil(t, r.Dial)
}
