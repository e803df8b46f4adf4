package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/czerwonk/latency_lab/engine"
	"github.com/czerwonk/latency_lab/store"
)

func newTestServer(t *testing.T, opts Options) (*Server, *engine.Engine) {
	t.Helper()

	p := engine.ProberFunc(func(ctx context.Context, target string, timeout time.Duration) engine.Sample {
		return engine.Succeeded(target, time.Now(), 5)
	})
	e := engine.New(engine.Options{WindowSize: 10, Targets: []string{"8.8.8.8"}}, p, store.NewMemory(0), nil)

	return New(e, opts), e
}

func do(s http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestIngest(t *testing.T) {
	s, e := newTestServer(t, Options{})

	body := `[
		{"timestamp_ms": 1700000000000, "target": "1.1.1.1", "latency_ms": 12.5},
		{"timestamp_ms": 1700000001000, "target": "1.1.1.1", "latency_ms": null},
		{"timestamp_ms": 1700000002000, "target": "1.1.1.1", "success": true},
		{"timestamp_ms": 1700000003000, "target": ""}
	]`
	rec := do(s, http.MethodPost, "/v1/metrics", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		OK         bool               `json:"ok"`
		Accepted   int                `json:"accepted"`
		Rejected   int                `json:"rejected"`
		Rejections []engine.Rejection `json:"rejections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, 2, res.Rejections[0].Index)

	st := e.Snapshot("1.1.1.1")
	assert.Equal(t, 2, st.Samples)
	assert.EqualValues(t, 50, st.LossPct)
}

func TestIngestMalformedBody(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(s, http.MethodPost, "/v1/metrics", `{"target": "a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRateLimited(t *testing.T) {
	s, _ := newTestServer(t, Options{IngestRate: 0.001, IngestBurst: 1})

	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/metrics", `[]`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodPost, "/v1/metrics", `[]`).Code)
}

func TestTargets(t *testing.T) {
	s, e := newTestServer(t, Options{})
	require.NoError(t, e.Ingest(context.Background(), engine.Failed("9.9.9.9", time.Now())))

	rec := do(s, http.MethodGet, "/v1/targets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var targets []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	assert.Equal(t, []string{"8.8.8.8", "9.9.9.9"}, targets)

	rec = do(s, http.MethodGet, "/v1/targets", "", "HX-Request", "true")
	assert.Contains(t, rec.Body.String(), `<span class="pill">9.9.9.9</span>`)
}

func TestTargetRegistration(t *testing.T) {
	s, e := newTestServer(t, Options{})

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPut, "/v1/targets/example.org", "").Code)
	assert.Equal(t, []string{"8.8.8.8", "example.org"}, e.Registered())

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/v1/targets/8.8.8.8", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/v1/targets/8.8.8.8", "").Code)
	assert.Equal(t, []string{"example.org"}, e.Registered())
}

func TestSeriesAndStats(t *testing.T) {
	s, e := newTestServer(t, Options{})
	for i := 0; i < 3; i++ {
		_, err := e.RunRound(context.Background())
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	rec := do(s, http.MethodGet, "/v1/series?window=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view engine.SeriesView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []int{0, 1}, view.Labels)
	require.Len(t, view.Series, 1)
	assert.Equal(t, "8.8.8.8", view.Series[0].Target)
	assert.Len(t, view.Series[0].Values, 2)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/v1/series?window=x", "").Code)

	rec = do(s, http.MethodGet, "/v1/stats/8.8.8.8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st engine.TargetStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Samples)
	assert.EqualValues(t, 5, *st.LatestLatencyMs)

	rec = do(s, http.MethodGet, "/v1/stats", "")
	var all []engine.TargetStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestIndexAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ping_loss_percent 0\n"))
	})
	s, _ := newTestServer(t, Options{MetricsPath: "/metrics", MetricsHandler: metrics, Version: "1.0.0"})

	rec := do(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Version 1.0.0")
	assert.Contains(t, rec.Body.String(), `href="/metrics"`)

	rec = do(s, http.MethodGet, "/metrics", "")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("ping_loss_percent")))
}
