// Package api provides the conversation debug surface for ZapRelay endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zaprelay/zaprelay/internal/models"
)

// conversationsHandler routes /conversations and /conversations/{sender}.
// These endpoints are pure reads and deletes over the registry; they never
// touch a running pipeline.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("conversationsHandler invoked", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/conversations")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")

	if len(segments) == 0 || segments[0] == "" {
		// /conversations
		switch r.Method {
		case http.MethodGet:
			s.listConversationsHandler(w, r)
		default:
			w.Header().Set("Allow", "GET")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	sender := segments[0]
	if len(segments) == 1 {
		// /conversations/{sender}
		switch r.Method {
		case http.MethodGet:
			s.getConversationHandler(w, r, sender)
		case http.MethodDelete:
			s.deleteConversationHandler(w, r, sender)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversations endpoint"))
}

// listConversationsHandler handles GET /conversations
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	conversations := s.st.SnapshotAll()
	slog.Info("listConversationsHandler returning conversations", "count", len(conversations))
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// getConversationHandler handles GET /conversations/{sender}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, sender string) {
	state, err := s.st.Snapshot(sender)
	if err != nil {
		slog.Warn("getConversationHandler conversation not found", "sender", sender)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// deleteConversationHandler handles DELETE /conversations/{sender}
func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request, sender string) {
	if err := s.st.Delete(sender); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		slog.Error("deleteConversationHandler failed", "error", err, "sender", sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete conversation"))
		return
	}
	slog.Info("deleteConversationHandler conversation removed", "sender", sender)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}
