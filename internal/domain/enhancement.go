package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of an enhancement task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether a task in status s may move to next.
// Transitions are monotonic: pending -> processing -> completed|failed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// EnhancementType selects the provider model and default prompt.
type EnhancementType string

// Known enhancement types
const (
	EnhancementTypeEnhance           EnhancementType = "enhance"
	EnhancementTypeUpscale           EnhancementType = "upscale"
	EnhancementTypeStyleTransfer     EnhancementType = "style-transfer"
	EnhancementTypeBackgroundRemoval EnhancementType = "background-removal"
	EnhancementTypeLighting          EnhancementType = "lighting"
)

// DefaultEnhancementType is used whenever a caller sends a type the
// pipeline does not recognise.
const DefaultEnhancementType = EnhancementTypeEnhance

// DefaultStrength is applied when a submission omits strength.
const DefaultStrength = 0.8

// NormalizeEnhancementType maps free-form input onto a supported type.
// Unknown values fall back to DefaultEnhancementType.
func NormalizeEnhancementType(raw string) EnhancementType {
	switch t := EnhancementType(strings.ToLower(strings.TrimSpace(raw))); t {
	case EnhancementTypeEnhance,
		EnhancementTypeUpscale,
		EnhancementTypeStyleTransfer,
		EnhancementTypeBackgroundRemoval,
		EnhancementTypeLighting:
		return t
	default:
		return DefaultEnhancementType
	}
}

// Validation errors for EnhancementTask
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskUserID    = errors.New("task user ID cannot be empty")
	ErrEmptyInputImageURL = errors.New("input image URL cannot be empty")
	ErrInvalidStrength    = errors.New("strength must be greater than 0 and at most 1")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrResultURLMismatch  = errors.New("result URL must be set if and only if the task is completed")
	ErrErrorMsgMismatch   = errors.New("error message must be set if and only if the task failed")
)

// EnhancementTask is one AI image-enhancement job. A task is created pending
// with one credit reserved, and ends either completed with a result URL or
// failed with an error message and the credit refunded.
type EnhancementTask struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	MoodboardID     *uuid.UUID      `json:"moodboard_id,omitempty"`
	InputImageURL   string          `json:"input_image_url"`
	EnhancementType EnhancementType `json:"enhancement_type"`
	Prompt          string          `json:"prompt"`
	Strength        float64         `json:"strength"`
	Status          TaskStatus      `json:"status"`
	Provider        string          `json:"provider"`
	APITaskID       *string         `json:"api_task_id,omitempty"`
	ResultURL       string          `json:"result_url,omitempty"`
	CostUSD         float64         `json:"cost_usd"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewEnhancementTask creates a pending task with a fresh ID.
// A zero strength is replaced by DefaultStrength.
func NewEnhancementTask(
	userID uuid.UUID,
	moodboardID *uuid.UUID,
	inputImageURL string,
	enhancementType EnhancementType,
	prompt string,
	strength float64,
	provider string,
	costUSD float64,
) (*EnhancementTask, error) {
	if strength == 0 {
		strength = DefaultStrength
	}

	now := time.Now().UTC()
	task := &EnhancementTask{
		ID:              uuid.New(),
		UserID:          userID,
		MoodboardID:     moodboardID,
		InputImageURL:   strings.TrimSpace(inputImageURL),
		EnhancementType: enhancementType,
		Prompt:          prompt,
		Strength:        strength,
		Status:          TaskStatusPending,
		Provider:        provider,
		CostUSD:         costUSD,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks field-level rules and the status-dependent invariants on
// ResultURL and ErrorMessage.
func (t *EnhancementTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.UserID == uuid.Nil {
		return ErrEmptyTaskUserID
	}
	if t.InputImageURL == "" {
		return ErrEmptyInputImageURL
	}
	if t.Strength <= 0 || t.Strength > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidStrength, t.Strength)
	}

	switch t.Status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}

	if (t.ResultURL != "") != (t.Status == TaskStatusCompleted) {
		return ErrResultURLMismatch
	}
	if (t.ErrorMessage != "") != (t.Status == TaskStatusFailed) {
		return ErrErrorMsgMismatch
	}

	return nil
}
