// Package api serves job status and live orchestrator events over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
	"go.uber.org/zap"
)

// Store is the job store surface the API reads and writes
type Store interface {
	ListJobs(ctx context.Context, opts jobstore.ListOptions) ([]*domain.Job, error)
	GetJob(ctx context.Context, id int64) (*domain.Job, error)
	AddJob(ctx context.Context, nj jobstore.NewJob) (*domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// Server is the HTTP API server
type Server struct {
	store    Store
	devices  device.Manager
	hub      *events.Hub
	addr     string
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer creates a new API server. devices and hub may be nil.
func NewServer(store Store, devices device.Manager, hub *events.Hub, addr string, log *zap.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	s := &Server{
		store:   store,
		devices: devices,
		hub:     hub,
		addr:    addr,
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/jobs", s.jobsHandler())
	s.mux.HandleFunc("/api/jobs/", s.getJobHandler())
	s.mux.HandleFunc("/api/devices", s.listDevicesHandler())
	s.mux.HandleFunc("/api/events", s.recentEventsHandler())
	s.mux.HandleFunc("/api/events/stream", s.sseHandler())
	s.mux.HandleFunc("/api/events/ws", s.wsHandler())
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("api listening", zap.String("addr", s.addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
