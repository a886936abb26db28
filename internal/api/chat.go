package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ops"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/orchestrator"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/session"
)

// maxChatBody caps the request body. Chat messages are short; anything
// larger is abuse or a mistake.
const maxChatBody = 64 << 10

// Conversationalist handles one conversational turn.
type Conversationalist interface {
	HandleTurn(ctx context.Context, sessionID, message string) (*orchestrator.TurnResult, error)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply      string       `json:"reply"`
	Operations []ops.Result `json:"operations,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req chatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge,
				"request_too_large", "request body exceeds limit", s.logger)
			return
		}
		WriteError(w, http.StatusBadRequest,
			"invalid_request", "request body must be valid JSON", s.logger)
		return
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		WriteError(w, http.StatusBadRequest,
			"invalid_request", "session_id is required", s.logger)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, http.StatusBadRequest,
			"invalid_request", "message is required", s.logger)
		return
	}

	result, err := s.orch.HandleTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, session.ErrEmptyID) {
			WriteError(w, http.StatusBadRequest,
				"invalid_request", "session_id is required", s.logger)
			return
		}
		s.logger.Error("handling chat turn",
			"error", err,
			"session_id", req.SessionID,
			"request_id", RequestID(r.Context()),
		)
		WriteError(w, http.StatusInternalServerError,
			"internal_error", "failed to process the message", s.logger)
		return
	}

	WriteJSON(w, http.StatusOK, chatResponse{
		Reply:      result.Reply,
		Operations: result.Operations,
	}, s.logger)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(w, http.StatusBadRequest,
			"invalid_request", "session id is required", s.logger)
		return
	}
	if err := s.sessions.Delete(id); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), s.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id}, s.logger)
}
