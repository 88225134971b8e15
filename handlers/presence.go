package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"focushive/presence-service/errs"
	"focushive/presence-service/middleware"
	"focushive/presence-service/models"
	"focushive/presence-service/services"
)

type PresenceHandler struct {
	service *services.PresenceService
	logger  *log.Logger
}

func NewPresenceHandler(service *services.PresenceService, logger *log.Logger) *PresenceHandler {
	return &PresenceHandler{
		service: service,
		logger:  logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Printf("internal error: %v", err)
		http.Error(w, "Internal server error", status)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Missing caller identity", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

type hiveRequest struct {
	HiveID string `json:"hive_id"`
}

func (ph *PresenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var update models.PresenceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	presence, err := ph.service.UpdatePresence(r.Context(), userID, update)
	if err != nil {
		writeError(w, ph.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, presence)
}

func (ph *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := ph.service.RecordHeartbeat(r.Context(), userID); err != nil {
		writeError(w, ph.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (ph *PresenceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id parameter is required", http.StatusBadRequest)
		return
	}

	presence, err := ph.service.GetPresence(r.Context(), userID)
	if err != nil {
		writeError(w, ph.logger, err)
		return
	}
	if presence == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "online": false})
		return
	}
	writeJSON(w, http.StatusOK, presence)
}

func (ph *PresenceHandler) Offline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := ph.service.MarkUserOffline(r.Context(), userID); err != nil {
		writeError(w, ph.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (ph *PresenceHandler) JoinHive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req hiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HiveID == "" {
		http.Error(w, "hive_id is required", http.StatusBadRequest)
		return
	}

	info, err := ph.service.JoinHive(r.Context(), req.HiveID, userID)
	if err != nil {
		writeError(w, ph.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (ph *PresenceHandler) LeaveHive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req hiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HiveID == "" {
		http.Error(w, "hive_id is required", http.StatusBadRequest)
		return
	}

	if err := ph.service.LeaveHive(r.Context(), req.HiveID, userID); err != nil {
		writeError(w, ph.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (ph *PresenceHandler) GetHiveUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hiveID := r.URL.Query().Get("hive_id")
	if hiveID == "" {
		http.Error(w, "hive_id parameter is required", http.StatusBadRequest)
		return
	}

	users, err := ph.service.GetHiveUsers(r.Context(), hiveID)
	if err != nil {
		writeError(w, ph.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hive_id": hiveID,
		"count":   len(users),
		"users":   users,
	})
}

func (ph *PresenceHandler) GetHivesPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query().Get("hive_ids")
	if raw == "" {
		http.Error(w, "hive_ids parameter is required", http.StatusBadRequest)
		return
	}
	hiveIDs := strings.Split(raw, ",")

	infos, err := ph.service.GetHivesPresenceInfo(r.Context(), hiveIDs)
	if err != nil {
		writeError(w, ph.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}
