// Teleclerk HTTP surface: the inbound push endpoint, health/status, and a
// WebSocket stream of pipeline events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/delivery"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/update"
	"github.com/teleclerk/teleclerk/pkg/logger"
	"github.com/teleclerk/teleclerk/pkg/pipeline"
	"github.com/teleclerk/teleclerk/pkg/telegram"
)

// Server is the HTTP API server.
type Server struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	manager      *delivery.Manager
	wsHub        *WSHub
	bus          domain.EventBus
	startTime    time.Time
	server       *http.Server
}

// NewServer creates the API server. The hub must be wired to the event bus
// by the caller (see cmd/teleclerk).
func NewServer(cfg *config.Config, orch *pipeline.Orchestrator, mgr *delivery.Manager, hub *WSHub, bus domain.EventBus) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orch,
		manager:      mgr,
		wsHub:        hub,
		bus:          bus,
		startTime:    time.Now(),
	}
}

// Start begins listening on the configured host:port. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook/telegram", s.handleWebhook)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/ws", s.wsHub.handleUpgrade)

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           authMiddleware(s.cfg.Gateway.APIKey, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.InfoCF("api", "HTTP server listening", map[string]interface{}{"addr": addr})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Inbound push endpoint
// ---------------------------------------------------------------------------

// handleWebhook accepts one platform update. The response is 200 as soon as
// the payload parses: processing is asynchronous and best-effort from the
// platform's perspective, and the platform retries on anything else.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if secret := s.cfg.Telegram.WebhookSecret; secret != "" {
		if r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != secret {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "bad secret token"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	u, err := telegram.ParseWebhookPayload(body)
	if errors.Is(err, telegram.ErrUnsupportedUpdate) {
		// Well-formed but nothing to ingest (sticker, edit, photo). Still
		// 200, or the platform keeps redelivering it.
		logger.DebugC("api", "Skipping unsupported webhook update")
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed update"})
		return
	}

	go s.process(u)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) process(u update.InboundUpdate) {
	if err := s.orchestrator.Process(context.Background(), u); err != nil {
		logger.ErrorCF("api", "Webhook update processing failed", map[string]interface{}{
			"update_id": u.UpdateID,
			"error":     err.Error(),
		})
	}
}

// ---------------------------------------------------------------------------
// Health and status
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"delivery_mode": s.manager.State().String(),
		"dedup_size":    s.orchestrator.DedupSize(),
		"uptime_sec":    int(time.Since(s.startTime).Seconds()),
		"ws_clients":    s.wsHub.ClientCount(),
	}
	if counter, ok := s.bus.(interface{ HandlerCount() int }); ok {
		status["bus_handlers"] = counter.HandlerCount()
	}
	writeJSON(w, http.StatusOK, status)
}

// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("api", "Response encode failed", map[string]interface{}{"error": err.Error()})
	}
}
