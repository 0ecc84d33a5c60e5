package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/audit"
	"github.com/duckgate/duckgate/internal/config"
	"github.com/duckgate/duckgate/internal/events"
	"github.com/duckgate/duckgate/internal/guardrail"
	"github.com/duckgate/duckgate/internal/logger"
	"github.com/duckgate/duckgate/internal/pii"
)

// Version is the gateway version reported by /info and User-Agent.
const Version = "0.1.0"

// statusPublishPeriod is how often the gateway broadcasts a system status
// event to connected dashboard clients.
const statusPublishPeriod = 30 * time.Second

// Deps carries the already-constructed collaborators the server wires up.
// Audit may be nil when persistence is disabled.
type Deps struct {
	Pipeline *guardrail.Pipeline
	Redactor *pii.Redactor
	Hub      *events.Hub
	Audit    *audit.Sink
}

// Server is the HTTP gateway: guard endpoints for agent-driven round trips,
// transparent proxy routes for the configured backends, and the
// operational surface.
type Server struct {
	cfg      *config.Config
	logger   *logger.Logger
	pipeline *guardrail.Pipeline
	redactor *pii.Redactor
	hub      *events.Hub
	audit    *audit.Sink
	registry *Registry
	router   *mux.Router
	server   *http.Server

	startTime     time.Time
	totalRequests atomic.Int64
	totalBlocks   atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates the gateway server.
func New(cfg *config.Config, deps Deps, log *logger.Logger) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("broker requires a pipeline")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("broker requires an event hub")
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:       cfg,
		logger:    log.WithComponent("broker"),
		pipeline:  deps.Pipeline,
		redactor:  deps.Redactor,
		hub:       deps.Hub,
		audit:     deps.Audit,
		registry:  NewRegistry(0),
		router:    mux.NewRouter(),
		startTime: time.Now(),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.cfg.Events.Enabled {
		path := s.cfg.Events.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.hub.HandleWebSocket).Methods("GET")
	}

	if s.audit != nil {
		s.router.HandleFunc("/v1/audit/{request_id}", s.handleAuditRecent).Methods("GET")
	}

	guard := s.router.PathPrefix("/v1/guard").Subrouter()
	guard.Use(s.loggingMiddleware)
	guard.HandleFunc("/request", s.handleGuardRequest).Methods("POST")
	guard.HandleFunc("/response", s.handleGuardResponse).Methods("POST")
	guard.HandleFunc("/tool/input", s.handleGuardToolInput).Methods("POST")
	guard.HandleFunc("/tool/output", s.handleGuardToolOutput).Methods("POST")

	upstreams := []struct {
		prefix   string
		target   string
		provider string
	}{
		{"/openai", s.cfg.Upstream.OpenAI, "openai"},
		{"/anthropic", s.cfg.Upstream.Anthropic, "anthropic"},
		{"/ollama", s.cfg.Upstream.Ollama, "ollama"},
	}
	for _, u := range upstreams {
		if u.target == "" {
			continue
		}
		sub := s.router.PathPrefix(u.prefix).Subrouter()
		sub.Use(s.loggingMiddleware)
		sub.PathPrefix("/").HandlerFunc(s.handleUpstream(u.prefix, u.target, u.provider))
	}
}

// Start runs the event hub, the registry sweeper, and the HTTP listener.
// It blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info("Starting duckgate broker",
		zap.Int("port", s.cfg.Server.Port),
		zap.String("upstream_openai", s.cfg.Upstream.OpenAI),
		zap.String("upstream_anthropic", s.cfg.Upstream.Anthropic),
		zap.String("upstream_ollama", s.cfg.Upstream.Ollama),
	)

	go s.hub.Run()
	s.registry.StartSweeper(s.baseCtx)
	s.startStatusPublisher(s.baseCtx)

	return s.server.ListenAndServe()
}

// Stop drains the HTTP server and stops the background loops.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping duckgate broker")
	s.cancel()
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type infoResponse struct {
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	Uptime          string         `json:"uptime"`
	TotalRequests   int64          `json:"total_requests"`
	TotalBlocks     int64          `json:"total_blocks"`
	ActiveRules     int            `json:"active_rules"`
	InFlight        int            `json:"in_flight_requests"`
	ModulesPerPhase map[string]int `json:"modules_per_phase"`
	EventClients    int64          `json:"event_clients"`
}

// startStatusPublisher broadcasts gateway status periodically so dashboard
// clients see liveness and counters without polling /info.
func (s *Server) startStatusPublisher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(statusPublishPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.publishStatus()
			}
		}
	}()
}

func (s *Server) publishStatus() {
	ruleCount := 0
	if s.redactor != nil {
		ruleCount = s.redactor.RuleCount()
	}

	s.hub.Publish(events.Event{
		Type: events.EventTypeSystem,
		Data: events.SystemEvent{
			Status:           "healthy",
			Uptime:           time.Since(s.startTime).Round(time.Second).String(),
			TotalRequests:    s.totalRequests.Load(),
			TotalBlocks:      s.totalBlocks.Load(),
			ActiveRules:      ruleCount,
			ConnectedClients: int(s.hub.GetStats().ActiveConnections),
		},
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	perPhase := make(map[string]int, len(guardrail.AllPhases))
	for _, phase := range guardrail.AllPhases {
		perPhase[string(phase)] = s.pipeline.ModuleCount(phase)
	}

	ruleCount := 0
	if s.redactor != nil {
		ruleCount = s.redactor.RuleCount()
	}

	s.writeJSON(w, http.StatusOK, infoResponse{
		Name:            "duckgate",
		Version:         Version,
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		TotalRequests:   s.totalRequests.Load(),
		TotalBlocks:     s.totalBlocks.Load(),
		ActiveRules:     ruleCount,
		InFlight:        s.registry.Len(),
		ModulesPerPhase: perPhase,
		EventClients:    s.hub.GetStats().ActiveConnections,
	})
}
