// Package dashboard serves a read-only JSON status API for the bot.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/journal"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"github.com/eddiefleurent/nifty_basket/internal/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// StatusSource exposes the live engine figures the dashboard reads.
type StatusSource interface {
	State() *models.EngineStateMachine
	Monitoring() models.MonitoringState
	CycleID() string
}

// StreamSource exposes the streaming client state.
type StreamSource interface {
	State() stream.ConnectionState
	Subscriptions() []string
}

// Server hosts the status API.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	engine    StatusSource
	stream    StreamSource
	journal   *journal.Journal
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config holds dashboard settings.
type Config struct {
	Port      int
	AuthToken string
}

// NewServer creates the dashboard. stream and jnl may be nil when those
// components are disabled.
func NewServer(cfg Config, engine StatusSource, streamSrc StreamSource, jnl *journal.Journal, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		stream:    streamSrc,
		journal:   jnl,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/journal", s.handleJournal)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, health)
}

type statusResponse struct {
	CycleID         string    `json:"cycle_id"`
	State           string    `json:"state"`
	StateDesc       string    `json:"state_description"`
	Since           time.Time `json:"since"`
	Active          bool      `json:"active"`
	DeployedCapital float64   `json:"deployed_capital"`
	EntryTime       time.Time `json:"entry_time,omitempty"`
	ExitReason      string    `json:"exit_reason"`
	StreamState     string    `json:"stream_state,omitempty"`
	Subscriptions   []string  `json:"subscriptions,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sm := s.engine.State()
	mon := s.engine.Monitoring()

	resp := statusResponse{
		CycleID:         s.engine.CycleID(),
		State:           string(sm.Current()),
		StateDesc:       sm.Description(),
		Since:           sm.TransitionTime(),
		Active:          mon.Active,
		DeployedCapital: mon.DeployedCapital,
		EntryTime:       mon.EntryTime,
		ExitReason:      string(mon.ExitReason),
	}
	if s.stream != nil {
		resp.StreamState = s.stream.State().String()
		resp.Subscriptions = s.stream.Subscriptions()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleJournal(w http.ResponseWriter, _ *http.Request) {
	if s.journal == nil {
		s.writeJSON(w, []journal.CycleRecord{})
		return
	}
	s.writeJSON(w, s.journal.Cycles())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
