package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/api/shared"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/platform/logger"
	"github.com/presetlab/enhancer/internal/store"
	"github.com/presetlab/enhancer/internal/task"
)

// EnhancementService is the part of the task manager the handlers use.
type EnhancementService interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*task.SubmitResult, error)
	GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*domain.EnhancementTask, error)
	GetUserTasks(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.EnhancementTask, error)
}

// EnhancementHandler handles /api/enhancements requests.
type EnhancementHandler struct {
	service EnhancementService
	logger  *slog.Logger
}

// NewEnhancementHandler creates a new EnhancementHandler.
func NewEnhancementHandler(service EnhancementService, logger *slog.Logger) *EnhancementHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for EnhancementHandler")
	}

	return &EnhancementHandler{
		service: service,
		logger:  logger.With(slog.String("component", "enhancement_handler")),
	}
}

// CreateEnhancement handles POST /api/enhancements. The task is processed
// asynchronously, so a successful submission answers 202 with the task id.
func (h *EnhancementHandler) CreateEnhancement(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	var req CreateEnhancementRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	result, err := h.service.Submit(r.Context(), task.SubmitRequest{
		UserID:          userID,
		InputImageURL:   req.InputImageURL,
		EnhancementType: req.EnhancementType,
		Prompt:          req.Prompt,
		Strength:        req.Strength,
		MoodboardID:     req.MoodboardID,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit enhancement")
		return
	}

	log.Debug("enhancement accepted", slog.String("task_id", result.TaskID.String()))
	w.Header().Set("Location", "/api/enhancements/"+result.TaskID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, EnhancementAcceptedResponse{
		TaskID: result.TaskID,
		Status: string(result.Status),
	})
}

// pollRetryAfter is the Retry-After hint, in seconds, sent while a task is
// still pending or processing.
const pollRetryAfter = "2"

// GetEnhancement handles GET /api/enhancements/{id}. Tasks owned by other
// users are reported as missing.
func (h *EnhancementHandler) GetEnhancement(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get enhancement")
		return
	}
	if t == nil || t.UserID != userID {
		if t != nil {
			log.Warn("task requested by non-owner", slog.String("task_id", taskID.String()))
		}
		HandleAPIError(w, r, store.ErrTaskNotFound, "")
		return
	}

	if !t.Status.IsTerminal() {
		w.Header().Set("Retry-After", pollRetryAfter)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, enhancementToResponse(t))
}

// ListEnhancements handles GET /api/enhancements?limit=n, newest first.
func (h *EnhancementHandler) ListEnhancements(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	limit, err := getQueryLimit(r, "limit")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.service.GetUserTasks(r.Context(), userID, limit)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		HandleAPIError(w, r, err, "Failed to list enhancements")
		return
	}

	resp := EnhancementListResponse{Tasks: make([]EnhancementResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, enhancementToResponse(t))
	}
	resp.Count = len(resp.Tasks)

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
