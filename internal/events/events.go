package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
)

// Event types
const (
	TypeEnhancementCompleted = "enhancement.completed"
	TypeEnhancementFailed    = "enhancement.failed"
)

// TaskEvent describes a task reaching a terminal state.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	TaskID          uuid.UUID              `json:"task_id"`
	UserID          uuid.UUID              `json:"user_id"`
	MoodboardID     *uuid.UUID             `json:"moodboard_id,omitempty"`
	Status          domain.TaskStatus      `json:"status"`
	EnhancementType domain.EnhancementType `json:"enhancement_type"`
	Provider        string                 `json:"provider"`
	ResultURL       string                 `json:"result_url,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	CostUSD         float64                `json:"cost_usd"`

	// OccurredAt is when the terminal transition was persisted
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskEvent builds the event for a task in a terminal state. The event
// type follows the task status.
func NewTaskEvent(task *domain.EnhancementTask) *TaskEvent {
	eventType := TypeEnhancementCompleted
	if task.Status == domain.TaskStatusFailed {
		eventType = TypeEnhancementFailed
	}

	return &TaskEvent{
		ID:              uuid.New(),
		Type:            eventType,
		TaskID:          task.ID,
		UserID:          task.UserID,
		MoodboardID:     task.MoodboardID,
		Status:          task.Status,
		EnhancementType: task.EnhancementType,
		Provider:        task.Provider,
		ResultURL:       task.ResultURL,
		ErrorMessage:    task.ErrorMessage,
		CostUSD:         task.CostUSD,
		OccurredAt:      time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the task manager to publish events without knowing the handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}
