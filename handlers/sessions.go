package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"focushive/presence-service/models"
	"focushive/presence-service/services"
)

type SessionHandler struct {
	tracker *services.FocusSessionTracker
	logger  *log.Logger
}

func NewSessionHandler(tracker *services.FocusSessionTracker, logger *log.Logger) *SessionHandler {
	return &SessionHandler{
		tracker: tracker,
		logger:  logger,
	}
}

type startSessionRequest struct {
	HiveID          string `json:"hive_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

type sessionRequest struct {
	SessionID        string `json:"session_id"`
	DistractionCount int    `json:"distraction_count"`
	FocusRating      int    `json:"focus_rating"`
}

func (sh *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	session, err := sh.tracker.Start(r.Context(), userID, req.HiveID, req.DurationMinutes)
	if err != nil {
		writeError(w, sh.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (sh *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	sh.mutate(w, r, sh.tracker.Pause)
}

func (sh *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sh.mutate(w, r, sh.tracker.Resume)
}

func (sh *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sh.mutate(w, r, sh.tracker.Cancel)
}

func (sh *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	inputs := models.ProductivityInputs{
		DistractionCount: req.DistractionCount,
		FocusRating:      req.FocusRating,
	}
	session, err := sh.tracker.Complete(r.Context(), userID, req.SessionID, inputs)
	if err != nil {
		writeError(w, sh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (sh *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	session, err := sh.tracker.GetActiveSession(r.Context(), userID)
	if err != nil {
		writeError(w, sh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (sh *SessionHandler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, sessionID string) (*models.FocusSession, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	session, err := op(r.Context(), userID, req.SessionID)
	if err != nil {
		writeError(w, sh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
