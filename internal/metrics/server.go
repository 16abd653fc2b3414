package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"molder/internal/logger"
	"molder/internal/types"
)

// SnapshotSource provides the current controller telemetry.
type SnapshotSource interface {
	Snapshot() types.Telemetry
}

type status struct {
	types.Telemetry
	Timer       float64  `json:"timer"`
	Temperature *float64 `json:"temperature"`
}

// Server serves /metrics and /status.
type Server struct {
	http   *http.Server
	logger *logger.Logger
}

func NewServer(listen string, exporter *Exporter, source SnapshotSource, l *logger.Logger) *Server {
	s := &Server{logger: l.WithTag("http")}
	s.http = &http.Server{
		Addr:              listen,
		Handler:           NewRouter(exporter, source),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func NewRouter(exporter *Exporter, source SnapshotSource) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(exporter.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/status", statusHandler(source)).Methods("GET")
	return r
}

func statusHandler(source SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := source.Snapshot()
		resp := status{Telemetry: t, Timer: t.CycleTimer.Seconds()}
		if t.TemperatureAvailable() {
			v := t.Temperature
			resp.Temperature = &v
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Serving metrics on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Metrics server failed: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
