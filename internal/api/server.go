// Package api exposes the trading engine over HTTP: a JSON API for order
// entry and inspection, a websocket stream of audit events, and Prometheus
// metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradesim/internal/domain"
	"tradesim/internal/engine"
)

// Server hosts the HTTP API in front of one engine.
type Server struct {
	engine *engine.Engine
	hub    *Hub
	log    *slog.Logger
	http   *http.Server
}

// NewServer wires the API around the engine. The hub may be nil when no
// event streaming is wanted.
func NewServer(addr string, eng *engine.Engine, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{engine: eng, hub: hub, log: log}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// routes registers all API routes.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("POST /api/brackets", s.handleCreateBracket)
	mux.HandleFunc("POST /api/oco", s.handleCreateOCO)
	mux.HandleFunc("POST /api/orders/{id}/trigger", s.handleTriggerOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("POST /api/panic", s.handlePanic)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("POST /api/tick", s.handleTick)

	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /api/brackets", s.handleListBrackets)
	mux.HandleFunc("GET /api/positions", s.handleListPositions)
	mux.HandleFunc("GET /api/fills", s.handleListFills)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/performance", s.handlePerformance)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.hub != nil {
		mux.HandleFunc("GET /api/events", s.hub.HandleWebSocket)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// ListenAndServe starts the listener and blocks until the context is
// cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the full handler, for tests.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.routes())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors onto HTTP statuses: policy rejections
// carry their violation codes at 422, malformed requests 400, unknown orders
// 404, execution faults 502.
func writeEngineError(w http.ResponseWriter, err error) {
	var pve *domain.PolicyViolationError
	if errors.As(err, &pve) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "policy rejected trade",
			"violations": pve.Violations,
			"result":     pve.Result,
		})
		return
	}
	if errors.Is(err, domain.ErrInvalidParameters) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, domain.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, domain.ErrGuardrail) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	var exec *domain.ExecutionError
	if errors.As(err, &exec) {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":    exec.Error(),
			"order_id": exec.OrderID,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err))
}
