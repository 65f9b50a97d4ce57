// Package api provides HTTP handlers for ZapRelay endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zaprelay/zaprelay/internal/models"
	"github.com/zaprelay/zaprelay/internal/webhook"
)

// webhookHandler handles inbound gateway deliveries (POST /webhook).
//
// The upstream platform expects a fast acknowledgment, so the handler only
// validates the signature and the JSON shape, answers 200 {received:true},
// and runs the pipeline on its own goroutine. The pipeline outcome never
// reaches this HTTP response.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing webhook delivery", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if s.secret != "" {
		provided := r.Header.Get(SignatureHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.secret)) != 1 {
			slog.Warn("Server.webhookHandler: invalid webhook signature")
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	msg, err := webhook.Normalize(raw)
	if err != nil {
		slog.Warn("Server.webhookHandler: malformed webhook body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Acknowledge before processing; the gateway retries on slow answers.
	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})

	go func() {
		outcome := s.pipeline.Process(context.Background(), msg)
		slog.Debug("Server.webhookHandler: pipeline finished",
			"outcome_id", outcome.ID, "processed", outcome.Processed, "delivered", outcome.Delivered)
	}()
}

// healthHandler provides a health check endpoint for monitoring (GET /health).
// It reports the simulation interlock and AI backend configuration validity.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":             "healthy",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"simulation_mode":    s.simulationMode,
		"backend_configured": s.backendConfigured,
		"conversations":      s.st.Count(),
	}
	if !s.backendConfigured {
		healthData["status"] = "degraded"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
