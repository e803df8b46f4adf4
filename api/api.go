// Package api exposes the ingestion and query boundaries of the engine over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/czerwonk/latency_lab/engine"
)

// maxBatchBytes bounds the size of an ingestion request body.
const maxBatchBytes = 4 << 20

// Engine is the part of the engine served over HTTP.
type Engine interface {
	IngestBatch(ctx context.Context, batch []engine.RawSample) engine.BatchResult
	Targets(ctx context.Context) []string
	Series(ctx context.Context, windowSize int) engine.SeriesView
	Snapshot(target string) engine.TargetStats
	SnapshotAll() []engine.TargetStats
	AddTarget(target string) error
	RemoveTarget(target string) bool
}

// Options configures the HTTP layer.
type Options struct {
	// MetricsPath and MetricsHandler mount an additional handler, usually the
	// prometheus exporter.
	MetricsPath    string
	MetricsHandler http.Handler

	// IngestRate limits ingestion requests per second. 0 disables the limit.
	IngestRate  float64
	IngestBurst int

	WindowSize int
	Version    string
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine  Engine
	opts    Options
	limiter *rate.Limiter
	router  *mux.Router
}

// New creates the HTTP layer.
func New(e Engine, opts Options) *Server {
	if opts.WindowSize < 1 {
		opts.WindowSize = engine.DefaultWindowSize
	}

	s := &Server{
		engine: e,
		opts:   opts,
		router: mux.NewRouter(),
	}
	if opts.IngestRate > 0 {
		burst := opts.IngestBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.IngestRate), burst)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/metrics", s.ingest).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/targets", s.targets).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/targets/{target}", s.addTarget).Methods(http.MethodPut)
	s.router.HandleFunc("/v1/targets/{target}", s.removeTarget).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/series", s.series).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/stats", s.stats).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/stats/{target}", s.targetStats).Methods(http.MethodGet)

	if s.opts.MetricsHandler != nil && s.opts.MetricsPath != "" {
		s.router.Handle(s.opts.MetricsPath, s.opts.MetricsHandler)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ingestResponse struct {
	OK bool `json:"ok"`
	engine.BatchResult
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "ingestion rate exceeded")
		return
	}

	var batch []engine.RawSample
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err := dec.Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch: "+err.Error())
		return
	}

	res := s.engine.IngestBatch(r.Context(), batch)
	writeJSON(w, http.StatusOK, ingestResponse{OK: res.Rejected == 0, BatchResult: res})
}

func (s *Server) targets(w http.ResponseWriter, r *http.Request) {
	targets := s.engine.Targets(r.Context())

	if strings.Contains(r.Header.Get("Accept"), "text/html") || r.Header.Get("HX-Request") != "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := pillsTemplate.Execute(w, targets); err != nil {
			log.Errorf("could not render targets: %v", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) addTarget(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	if err := s.engine.AddTarget(target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeTarget(w http.ResponseWriter, r *http.Request) {
	if !s.engine.RemoveTarget(mux.Vars(r)["target"]) {
		writeError(w, http.StatusNotFound, "unknown target")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) series(w http.ResponseWriter, r *http.Request) {
	size := s.opts.WindowSize
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "window must be a positive integer")
			return
		}
		size = n
	}

	writeJSON(w, http.StatusOK, s.engine.Series(r.Context(), size))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SnapshotAll())
}

func (s *Server) targetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot(mux.Vars(r)["target"]))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("could not write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
