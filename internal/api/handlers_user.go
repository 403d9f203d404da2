package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/scheduler"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500

	defaultNotificationLimit = 20
	maxNotificationLimit     = 50
)

// fetchSettingsRequest is the body of PUT /api/users/{userId}/fetch-settings
type fetchSettingsRequest struct {
	Enabled *bool `json:"enabled"`
}

// AlertsResponse is returned by GET /api/users/{userId}/alerts
type AlertsResponse struct {
	UserID string          `json:"userId"`
	Alerts []*models.Alert `json:"alerts"`
	Count  int             `json:"count"`
}

// handleListAlerts handles GET /api/users/{userId}/alerts
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	limit, err := parseLimit(r, defaultAlertLimit, maxAlertLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	alerts, err := s.alerts.ListByUser(r.Context(), userID, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}

	respondJSON(w, http.StatusOK, AlertsResponse{UserID: userID, Alerts: alerts, Count: len(alerts)})
}

// handleGeneratePlan handles POST /api/users/{userId}/performance-plan
func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("performance plans"))
		return
	}

	plan, err := s.plans.GeneratePlan(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, plan)
}

// handleLatestPlan handles GET /api/users/{userId}/performance-plan
func (s *Server) handleLatestPlan(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("performance plans"))
		return
	}

	userID := mux.Vars(r)["userId"]
	plan, err := s.plans.LatestPlan(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if plan == nil {
		respondServiceError(w, r, apperrors.NewNotFoundError("performance plan", userID))
		return
	}

	respondJSON(w, http.StatusOK, plan)
}

// parseLimit reads the optional limit query parameter
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > max {
		return 0, apperrors.NewInvalidParameterError("limit", fmt.Sprintf("must be between 1 and %d", max))
	}
	return limit, nil
}

// handleListNotifications handles GET /api/users/{userId}/notifications
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("notifications"))
		return
	}

	userID := mux.Vars(r)["userId"]
	limit, err := parseLimit(r, defaultNotificationLimit, maxNotificationLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	notifications, err := s.notifier.Recent(r.Context(), userID, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":        userID,
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// handleUpdateFetchSettings handles PUT /api/users/{userId}/fetch-settings.
// Disabling also stops the user's scheduled job.
func (s *Server) handleUpdateFetchSettings(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req fetchSettingsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if req.Enabled == nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("enabled", "is required"))
		return
	}

	if err := s.users.SetFetchEnabled(r.Context(), userID, *req.Enabled); err != nil {
		respondServiceError(w, r, err)
		return
	}

	jobStopped := false
	if !*req.Enabled {
		jobStopped = s.scheduler.StopScheduledJob(scheduler.UserJobID(userID))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":       userID,
		"fetchEnabled": *req.Enabled,
		"jobStopped":   jobStopped,
	})
}
