package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

type sessionState interface {
	State(ctx context.Context, sessionID string) (entity.GameState, error)
	Discard(ctx context.Context, sessionID string) error
}

type StateHandler struct {
	logger   *slog.Logger
	sessions sessionState
}

func NewStateHandler(logger *slog.Logger, sessions sessionState) *StateHandler {
	return &StateHandler{
		logger:   logger.With("component", "rest", "handler", "state"),
		sessions: sessions,
	}
}

func (that *StateHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{id}/state", that.GetState)
	r.Delete("/sessions/{id}/state", that.DeleteState)
}

// GetState returns the current state of a session.
func (that *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "GetState")

	sessionID := chi.URLParam(r, "id")

	state, err := that.sessions.State(r.Context(), sessionID)
	switch {
	case errors.Is(err, apperror.ErrSessionNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, apperror.ErrNotLeader):
		http.Error(w, "state is not available on this instance", http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Error("could not get session state", "sessionID", sessionID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(state); err != nil {
		log.Error("could not write state", "error", err)
	}
}

// DeleteState drops the recorded state of a session that is not running.
func (that *StateHandler) DeleteState(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "DeleteState")

	sessionID := chi.URLParam(r, "id")

	err := that.sessions.Discard(r.Context(), sessionID)
	switch {
	case errors.Is(err, apperror.ErrSessionNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, apperror.ErrSessionRunning):
		http.Error(w, "session is running", http.StatusConflict)
		return
	case err != nil:
		log.Error("could not discard session state", "sessionID", sessionID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
