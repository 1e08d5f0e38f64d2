package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"order-chatbot/internal/auth"
	"order-chatbot/internal/config"
	"order-chatbot/internal/convo"
	"order-chatbot/internal/dmc"
	"order-chatbot/internal/metrics"
	"order-chatbot/internal/repo"
)

const maxMessageBody = 64 << 10

// Responder answers one operator message.
type Responder interface {
	Respond(ctx context.Context, in convo.Inbound) (string, error)
}

// ReleaseHistory lists recorded release attempts.
type ReleaseHistory interface {
	ListReleases(ctx context.Context, orderID string) ([]repo.ReleaseRecord, error)
}

// Server exposes the HTTP chat channel and the operational endpoints.
type Server struct {
	responder  Responder
	releases   ReleaseHistory
	metrics    *metrics.Metrics
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// MessageResponse is the body returned by POST /v1/messages.
type MessageResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// ReleaseEntry is one audit row returned by GET /v1/releases.
type ReleaseEntry struct {
	RequestID string  `json:"request_id"`
	OrderID   string  `json:"order_id"`
	Plant     string  `json:"plant"`
	Quantity  float64 `json:"quantity"`
	Outcome   string  `json:"outcome"`
	Error     string  `json:"error,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// New builds the server. responder may be nil when the HTTP channel is not
// enabled; /v1/messages then answers 404.
func New(addr string, responder Responder, releases ReleaseHistory, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		responder: responder,
		releases:  releases,
		metrics:   m,
		startTime: time.Now(),
		logger:    logger.With("component", "http"),
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /v1/releases", s.releasesHandler)
	if s.responder != nil {
		mux.HandleFunc("POST /v1/messages", s.messageHandler)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

// messageHandler accepts {"text": "...", "sender": "..."}; the fields may
// also be wrapped in a "data" object.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Error: "unreadable body"})
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("http_decode").Inc()
		}
		writeJSON(w, http.StatusBadRequest, MessageResponse{Error: "body must be a JSON object"})
		return
	}

	flat := flattenPayload(payload)
	text := strings.TrimSpace(firstString(flat, "text", "message", "body"))
	if text == "" {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Error: "text is required"})
		return
	}
	sender := firstString(flat, "sender", "from", "operator")
	if sender == "" {
		sender = r.RemoteAddr
	}

	reply, err := s.responder.Respond(r.Context(), convo.Inbound{
		Channel: config.ChannelHTTP,
		Sender:  sender,
		Text:    text,
	})
	resp := MessageResponse{Reply: reply}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, statusFor(err), resp)
}

func (s *Server) releasesHandler(w http.ResponseWriter, r *http.Request) {
	if s.releases == nil {
		http.NotFound(w, r)
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("order"))
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order is required"})
		return
	}
	records, err := s.releases.ListReleases(r.Context(), orderID)
	if err != nil {
		s.logger.Error("list releases failed", "order", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load releases"})
		return
	}
	out := make([]ReleaseEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, ReleaseEntry{
			RequestID: rec.RequestID,
			OrderID:   rec.OrderID,
			Plant:     rec.Plant,
			Quantity:  rec.Quantity,
			Outcome:   rec.Outcome,
			Error:     rec.Error,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": orderID, "releases": out})
}

// statusFor maps a handling error to the HTTP status of the reply.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, auth.ErrAuth):
		return http.StatusServiceUnavailable
	case errors.Is(err, dmc.ErrRemoteCall):
		return http.StatusBadGateway
	case errors.Is(err, convo.ErrParse):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func flattenPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	flat := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		flat[k] = v
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return flat
	}
	for k, v := range data {
		if _, exists := flat[k]; !exists {
			flat[k] = v
		}
	}
	return flat
}

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
