// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/orchestrator"
	"github.com/atlas-desktop/trading-backend/internal/telemetry"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Server is the HTTP/WebSocket API server fronting the decision
// orchestrator: propose, analyze, quick, validate, reward, bandit.stats,
// bandit.logs, plus /metrics and /health.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	orchestrator *orchestrator.Orchestrator
	metrics      *telemetry.Metrics
	hub          *Hub
}

// NewServer creates a new API server.
func NewServer(logger *zap.Logger, config *types.ServerConfig, orch *orchestrator.Orchestrator, metrics *telemetry.Metrics) *Server {
	server := &Server{
		logger:       logger,
		config:       config,
		router:       mux.NewRouter(),
		orchestrator: orch,
		metrics:      metrics,
		hub:          NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // allow all origins for development
			},
		},
	}

	go server.hub.Run()
	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes per spec.md §4.5/§7's endpoint
// contracts.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/propose", s.handlePropose).Methods("POST")
	s.router.HandleFunc("/api/v1/analyze/{ticker}", s.handleAnalyze).Methods("GET")
	s.router.HandleFunc("/api/v1/quick/{ticker}", s.handleQuick).Methods("GET")
	s.router.HandleFunc("/api/v1/validate", s.handleValidate).Methods("POST")
	s.router.HandleFunc("/api/v1/reward", s.handleReward).Methods("POST")
	s.router.HandleFunc("/api/v1/bandit/stats", s.handleBanditStats).Methods("GET")
	s.router.HandleFunc("/api/v1/bandit/logs", s.handleBanditLogs).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Handler returns the server's CORS-wrapped HTTP handler, for tests that
// drive the router via httptest.NewServer without binding a real port.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := s.Handler()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.metrics.Degraded() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"time":   time.Now().Unix(),
	})
}

// handlePropose handles POST /api/v1/propose.
func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req types.DecisionRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, errs.New(errs.Validation, "malformed request body: "+err.Error()))
		return
	}

	resp, err := s.orchestrator.Propose(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.BroadcastDecision(resp)
	writeJSON(w, http.StatusOK, resp)
}

// handleAnalyze handles GET /api/v1/analyze/{ticker}.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	resp, err := s.orchestrator.Analyze(r.Context(), ticker)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.BroadcastDecision(resp)
	writeJSON(w, http.StatusOK, resp)
}

// handleQuick handles GET /api/v1/quick/{ticker}.
func (s *Server) handleQuick(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	resp, err := s.orchestrator.Quick(r.Context(), ticker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleValidate handles POST /api/v1/validate.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.ValidatePayload
	if err := decodeStrict(r, &payload); err != nil {
		writeError(w, errs.New(errs.Validation, "malformed request body: "+err.Error()))
		return
	}

	verdict, err := s.orchestrator.Validate(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.BroadcastVerdict(verdict)
	writeJSON(w, http.StatusOK, verdict)
}

// handleReward handles POST /api/v1/reward.
func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.RewardPayload
	if err := decodeStrict(r, &payload); err != nil {
		writeError(w, errs.New(errs.Validation, "malformed request body: "+err.Error()))
		return
	}

	result, err := s.orchestrator.Reward(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.BroadcastReward(payload.DecisionID, result)
	writeJSON(w, http.StatusOK, result)
}

// handleBanditStats handles GET /api/v1/bandit/stats.
func (s *Server) handleBanditStats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orchestrator.BanditStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBanditLogs handles GET /api/v1/bandit/logs?limit=N.
func (s *Server) handleBanditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	rows, err := s.orchestrator.BanditLogs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": rows})
}

// handleWebSocket handles WebSocket connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	s.logger.Info("websocket client connected", zap.String("id", client.id))

	go client.WritePump()
	go client.ReadPump()
}

// decodeStrict decodes a JSON request body, rejecting unknown fields per
// spec.md §7's strict-schema boundary.
func decodeStrict(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError translates an errs.Kind (or an unclassified error, treated
// as Internal) to the HTTP status and body spec.md §7 requires.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := errs.As(err)
	if !ok {
		kind = errs.Internal
	}

	body := map[string]interface{}{
		"error": err.Error(),
		"kind":  kind,
	}
	if e, ok := err.(*errs.E); ok && e.DecisionID != "" {
		body["decision_id"] = e.DecisionID
	}

	writeJSON(w, errs.HTTPStatus(kind), body)
}
