package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/internal/observability"
	"github.com/kubeadapt/gpumon/internal/store"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// ReadinessChecker reports whether the pipeline is ready to serve data.
type ReadinessChecker interface {
	IsReady() bool
}

// SnapshotProvider builds a point-in-time snapshot of the pipeline.
type SnapshotProvider interface {
	BuildSnapshot(ctx context.Context) *model.Snapshot
}

// LatestErrorReader exposes the most-recent-error slot.
type LatestErrorReader interface {
	LatestError() (string, bool)
}

// StoreReader is the read side of the correlation store used by the debug
// views.
type StoreReader interface {
	ItemCounts() map[string]int
	LastUpdatedTimes() map[string]int64
	DeviceIndices() []uint32
	ChartSeries(idx uint32, metric store.Metric) []store.Point
	RecentValues(idx uint32, n int, metric store.Metric) []uint32
	EnrichedProcesses() []model.EnrichedProcess
	Topology() (model.DeviceTopology, bool)
}

// Deps are the collaborators the server reads from. Errors and LatestError
// may be nil.
type Deps struct {
	Metrics     *observability.Metrics
	Readiness   ReadinessChecker
	Snapshots   SnapshotProvider
	Store       StoreReader
	Errors      *errors.ErrorCollector
	LatestError LatestErrorReader
}

// Server exposes health, readiness, metrics, and the JSON debug views.
type Server struct {
	httpServer *http.Server
	deps       Deps
	listener   net.Listener
}

// NewServer creates a new health server on the given port.
// Pass port=0 to let the OS pick a free port (useful for tests).
// When enablePprof is true, the pprof handlers are registered.
func NewServer(port int, deps Deps, enablePprof bool) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /debug/snapshot", s.handleDebugSnapshot)
	mux.HandleFunc("GET /debug/devices", s.handleDebugDevices)
	mux.HandleFunc("GET /debug/devices/{index}/series", s.handleDebugSeries)
	mux.HandleFunc("GET /debug/processes", s.handleDebugProcesses)
	mux.HandleFunc("GET /debug/topology", s.handleDebugTopology)
	mux.HandleFunc("GET /debug/store", s.handleDebugStore)
	mux.HandleFunc("GET /debug/errors", s.handleDebugErrors)

	if enablePprof {
		// pprof handlers, only enabled when GPUMON_DEBUG_ENDPOINTS=true
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Addr returns the listen address. After Start it holds the actual port.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	s.listener = ln
	// Update Addr to the actual address (important when port=0).
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := s.deps.Readiness.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, status, map[string]bool{"ready": ready})
}

func (s *Server) handleDebugSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.deps.Snapshots.BuildSnapshot(r.Context()))
}

func (s *Server) handleDebugDevices(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Snapshots.BuildSnapshot(r.Context())
	s.writeJSON(w, r, http.StatusOK, snap.Devices)
}

type seriesResponse struct {
	Device uint32        `json:"device"`
	Metric string        `json:"metric"`
	Points []store.Point `json:"points,omitempty"`
	Values []uint32      `json:"values,omitempty"`
}

// handleDebugSeries serves ?metric=<name> as chart points, or as the last n
// raw values when ?n is given.
func (s *Server) handleDebugSeries(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseUint(r.PathValue("index"), 10, 32)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid device index %q", r.PathValue("index"))
		return
	}

	name := r.URL.Query().Get("metric")
	if name == "" {
		name = "sm"
	}
	metric, ok := store.MetricByName(name)
	if !ok {
		s.writeError(w, r, http.StatusBadRequest, "unknown metric %q, want one of %s", name, strings.Join(store.MetricNames(), ", "))
		return
	}

	if !s.hasDevice(uint32(idx)) {
		s.writeError(w, r, http.StatusNotFound, "no samples for device %d", idx)
		return
	}

	resp := seriesResponse{Device: uint32(idx), Metric: name}
	if nStr := r.URL.Query().Get("n"); nStr != "" {
		n, err := strconv.Atoi(nStr)
		if err != nil || n < 1 {
			s.writeError(w, r, http.StatusBadRequest, "invalid n %q", nStr)
			return
		}
		resp.Values = s.deps.Store.RecentValues(uint32(idx), n, metric)
	} else {
		resp.Points = s.deps.Store.ChartSeries(uint32(idx), metric)
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) hasDevice(idx uint32) bool {
	for _, i := range s.deps.Store.DeviceIndices() {
		if i == idx {
			return true
		}
	}
	return false
}

func (s *Server) handleDebugProcesses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.deps.Store.EnrichedProcesses())
}

func (s *Server) handleDebugTopology(w http.ResponseWriter, r *http.Request) {
	topo, ok := s.deps.Store.Topology()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, r, http.StatusOK, topo)
}

func (s *Server) handleDebugStore(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"items":        s.deps.Store.ItemCounts(),
		"last_updated": s.deps.Store.LastUpdatedTimes(),
	})
}

type errorsResponse struct {
	Latest string                 `json:"latest,omitempty"`
	Active []errors.PipelineError `json:"active"`
}

func (s *Server) handleDebugErrors(w http.ResponseWriter, r *http.Request) {
	resp := errorsResponse{Active: []errors.PipelineError{}}
	if s.deps.LatestError != nil {
		resp.Latest, _ = s.deps.LatestError.LatestError()
	}
	if s.deps.Errors != nil {
		resp.Active = s.deps.Errors.GetActiveErrors()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, format string, args ...any) {
	s.writeJSON(w, r, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// writeJSON encodes v, compressing with zstd when the client accepts it.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Add("Vary", "Accept-Encoding")

	if !acceptsZstd(r.Header.Get("Accept-Encoding")) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
		return
	}

	meter := newCompressionMeter(w)
	zw, err := zstd.NewWriter(meter.wireWriter(), zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		slog.Warn("zstd encoder unavailable, sending uncompressed", "error", err)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
		return
	}

	w.Header().Set("Content-Encoding", "zstd")
	w.WriteHeader(status)

	encodeErr := json.NewEncoder(meter.rawWriter(zw)).Encode(v)
	closeErr := zw.Close()
	if encodeErr != nil || closeErr != nil {
		slog.Debug("compressed response failed", "path", r.URL.Path, "encode_error", encodeErr, "close_error", closeErr)
		return
	}
	meter.record(s.deps.Metrics)
}

// acceptsZstd reports whether an Accept-Encoding header lists zstd with a
// non-zero quality.
func acceptsZstd(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "zstd") {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		f, err := strconv.ParseFloat(q, 64)
		return err == nil && f > 0
	}
	return false
}
