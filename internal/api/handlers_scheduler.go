package api

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/scheduler"
)

// scheduleRequest is the optional body of the schedule endpoints
type scheduleRequest struct {
	Interval string `json:"interval"`
}

// batchFetchRequest is the optional body of POST /api/scheduler/fetch/all
type batchFetchRequest struct {
	BatchSize   int   `json:"batchSize"`
	SkipUsers   int   `json:"skipUsers"`
	ProcessData *bool `json:"processData"`
}

// JobsResponse lists the live scheduled jobs
type JobsResponse struct {
	ActiveJobs map[string]string        `json:"activeJobs"`
	Jobs       []scheduler.ScheduledJob `json:"jobs"`
}

// ScheduleResponse is returned when a job is installed
type ScheduleResponse struct {
	JobID    string `json:"jobId"`
	Interval string `json:"interval,omitempty"`
	Status   string `json:"status"`
}

// handleSchedulerStatus handles GET /api/scheduler/status
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.Status())
}

// handleSchedulerMetrics handles GET /api/scheduler/metrics
func (s *Server) handleSchedulerMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.scheduler.FetchStats()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"fetches": stats,
		"issues":  stats.Check(),
	})
}

// handleListJobs handles GET /api/scheduler/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, JobsResponse{
		ActiveJobs: s.scheduler.GetActiveJobs(),
		Jobs:       s.scheduler.ListJobs(),
	})
}

// handleScheduleAllUsers handles POST /api/scheduler/jobs/all
func (s *Server) handleScheduleAllUsers(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	jobID, err := s.scheduler.ScheduleAllUsersFetch(req.Interval)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, ScheduleResponse{JobID: jobID, Interval: req.Interval, Status: "active"})
}

// handleScheduleUser handles POST /api/scheduler/jobs/users/{userId}
func (s *Server) handleScheduleUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req scheduleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if user == nil {
		respondServiceError(w, r, apperrors.NewNotFoundError("user", userID))
		return
	}
	if !user.TerraConnected || user.TerraID() == "" {
		respondServiceError(w, r, apperrors.NewUserNotConnectedError(userID))
		return
	}

	jobID, err := s.scheduler.ScheduleUserFetch(user.ID, user.TerraID(), req.Interval, user.ReferenceID())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, ScheduleResponse{JobID: jobID, Interval: req.Interval, Status: "active"})
}

// handleStopJob handles DELETE /api/scheduler/jobs/{jobId}
func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	if !s.scheduler.StopScheduledJob(jobID) {
		respondServiceError(w, r, apperrors.NewNotFoundError("job", jobID))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":   jobID,
		"stopped": true,
	})
}

// handleFetchAllUsers handles POST /api/scheduler/fetch/all
func (s *Server) handleFetchAllUsers(w http.ResponseWriter, r *http.Request) {
	var req batchFetchRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if req.BatchSize < 0 {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("batchSize", "must not be negative"))
		return
	}
	if req.SkipUsers < 0 {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("skipUsers", "must not be negative"))
		return
	}

	processData := true
	if req.ProcessData != nil {
		processData = *req.ProcessData
	}

	summary, err := s.scheduler.FetchDataForAllUsers(r.Context(), scheduler.BatchOptions{
		BatchSize:   req.BatchSize,
		SkipUsers:   req.SkipUsers,
		ProcessData: processData,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleManualFetch handles POST /api/scheduler/fetch/users/{userId}
func (s *Server) handleManualFetch(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	result, err := s.scheduler.ManualFetchForUser(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
