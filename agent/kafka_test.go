package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/czerwonk/latency_lab/engine"
)

type fakeReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func newTestEngine() *engine.Engine {
	p := engine.ProberFunc(func(ctx context.Context, target string, timeout time.Duration) engine.Sample {
		return engine.Failed(target, time.Now())
	})
	return engine.New(engine.Options{}, p, nil, nil)
}

func TestConsumerIngestsBatches(t *testing.T) {
	e := newTestEngine()
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`[{"timestamp_ms": 1000, "target": "a", "latency_ms": 3}, {"timestamp_ms": 2000, "target": "a"}]`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`[{"timestamp_ms": 3000, "target": "b", "latency_ms": 4, "success": false}]`)},
	}}
	c := &Consumer{reader: r, ingester: e}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return e.Stats().SamplesRejected == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, e.Snapshot("a").Samples)
	assert.Equal(t, 0, e.Snapshot("b").Samples)
	assert.True(t, r.closed)
}

func TestHandleInvalidJSON(t *testing.T) {
	c := &Consumer{reader: &fakeReader{}, ingester: newTestEngine()}

	_, err := c.handle(context.Background(), kafka.Message{Value: []byte(`{`)})
	assert.Error(t, err)
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(Config{}, newTestEngine())
	assert.Error(t, err)
}
