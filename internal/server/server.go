// Package server exposes the aggregator over HTTP: spot queries, derived
// views, filters, propagation, and the health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/filter"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/propagation"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// SpotQuerier serves direct spot queries and the source catalogue.
type SpotQuerier interface {
	Fetch(ctx context.Context, id string) (source.Batch, error)
	Sources() []source.Info
	Valid(id string) bool
}

// Poller is the poll loop as seen by the API.
type Poller interface {
	Ready() bool
	CheckReadiness(ctx context.Context) error
	Source() string
	SetSource(id string) error
}

// SpotReader returns the store contents.
type SpotReader interface {
	Snapshot() []spot.Spot
}

// Predictor computes propagation for a path.
type Predictor interface {
	Predict(ctx context.Context, from, to geo.LatLon) (propagation.Result, error)
}

// Deps wires the server to the rest of the process.
type Deps struct {
	Sources    SpotQuerier
	Poller     Poller
	Store      SpotReader
	Filters    *filter.Holder
	FilterFile string // persisted on every PUT /api/filters when set
	Predictor  Predictor
	Websocket  http.Handler
	Gatherer   prometheus.Gatherer
}

// Server is the HTTP API.
type Server struct {
	httpServer *http.Server
	deps       Deps
	log        logrus.FieldLogger

	mu          sync.RWMutex
	destination *geo.LatLon
}

// NewServer creates the server and registers every route.
func NewServer(addr string, deps Deps, log logrus.FieldLogger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		deps: deps,
		log:  log,
	}

	mux.HandleFunc("GET /api/spots", s.handleSpots)
	mux.HandleFunc("GET /api/sources", s.handleSources)
	mux.HandleFunc("GET /api/source", s.handleGetSource)
	mux.HandleFunc("PUT /api/source", s.handlePutSource)
	mux.HandleFunc("GET /api/propagation", s.handlePropagation)
	mux.HandleFunc("GET /api/views/list", s.handleListView)
	mux.HandleFunc("GET /api/views/paths", s.handlePathView)
	mux.HandleFunc("GET /api/filters", s.handleGetFilters)
	mux.HandleFunc("PUT /api/filters", s.handlePutFilters)
	mux.HandleFunc("GET /api/destination", s.handleGetDestination)
	mux.HandleFunc("PUT /api/destination", s.handlePutDestination)
	if deps.Websocket != nil {
		mux.Handle("GET /ws", deps.Websocket)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("http server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// Destination returns the last destination set, if any.
func (s *Server) Destination() (geo.LatLon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destination == nil {
		return geo.LatLon{}, false
	}
	return *s.destination, true
}

// SetDestination records the point propagation queries default to.
func (s *Server) SetDestination(p geo.LatLon) error {
	if !p.Valid() {
		return propagation.ErrInvalidLocation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destination = &p
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Poller.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decodeBody reads a small JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadBody, err)
	}
	return nil
}

var errBadBody = errors.New("invalid request body")
