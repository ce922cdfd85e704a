// Package api provides HTTP handlers for CampusRelay endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// chatwootWebhook is the intake payload posted by the Chatwoot automation.
type chatwootWebhook struct {
	Mensaje        string `json:"mensaje"`
	AccountID      int64  `json:"account_id"`
	ConversationID int64  `json:"conversation_id"`
	Telefono       string `json:"telefono"`
}

// chatwootWebhookHandler accepts an incoming student message and enqueues it
// into the debounce queue. The HTTP response never waits for processing: the
// reply travels back over the messaging channel once the batch fires.
func (s *Server) chatwootWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatwootWebhookHandler: processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatwootWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload chatwootWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.chatwootWebhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Chatwoot fires webhooks for many event types; only ones carrying a
	// message body are conversations we answer.
	if strings.TrimSpace(payload.Mensaje) == "" {
		slog.Debug("Server.chatwootWebhookHandler: empty message, ignoring event")
		writeJSONResponse(w, http.StatusOK, models.Ignored("Event carries no message"))
		return
	}
	if payload.Telefono == "" && payload.ConversationID == 0 {
		slog.Warn("Server.chatwootWebhookHandler: no session identifier in payload")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: telefono or conversation_id"))
		return
	}

	sessionID := payload.Telefono
	channelRef := payload.Telefono
	if sessionID == "" {
		sessionID = fmt.Sprintf("chatwoot:%d/%d", payload.AccountID, payload.ConversationID)
		channelRef = sessionID
	}

	s.sessions.Get(sessionID)
	s.sessions.SetChannelRef(sessionID, channelRef)
	s.queue.Enqueue(sessionID, payload.Mensaje)

	slog.Info("Server.chatwootWebhookHandler: message enqueued", "session", sessionID, "account", payload.AccountID, "conversation", payload.ConversationID)
	writeJSONResponse(w, http.StatusAccepted, models.Queued("Message queued for processing"))
}

// healthHandler reports liveness and which optional collaborators are wired.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":           "ok",
		"genai_configured": s.genaiSet,
		"store_configured": s.st != nil,
	}))
}

// sessionsHandler reports session statistics, cleaning expired sessions first.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	removed := s.sessions.CleanupExpired()
	if removed > 0 {
		slog.Debug("Server.sessionsHandler: cleaned expired sessions", "removed", removed)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.sessions.Stats()))
}

// sessionDetailHandler clears a single session by id.
func (s *Server) sessionDetailHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing session id"))
		return
	}
	s.sessions.Delete(id)
	slog.Info("Server.sessionDetailHandler: session cleared", "session", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session cleared", nil))
}
