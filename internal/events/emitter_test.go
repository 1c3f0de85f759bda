package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	handled []*TaskEvent
	err     error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *TaskEvent) error {
	h.handled = append(h.handled, event)
	return h.err
}

func sampleTask(status domain.TaskStatus) *domain.EnhancementTask {
	task := &domain.EnhancementTask{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		InputImageURL:   "https://img.example.com/in.png",
		EnhancementType: domain.EnhancementTypeUpscale,
		Strength:        0.8,
		Status:          status,
		Provider:        "nanobanana",
		CostUSD:         0.08,
	}
	switch status {
	case domain.TaskStatusCompleted:
		task.ResultURL = "https://cdn/x.png"
	case domain.TaskStatusFailed:
		task.ErrorMessage = "timeout"
	}
	return task
}

func TestNewTaskEvent(t *testing.T) {
	completed := NewTaskEvent(sampleTask(domain.TaskStatusCompleted))
	assert.Equal(t, TypeEnhancementCompleted, completed.Type)
	assert.Equal(t, "https://cdn/x.png", completed.ResultURL)
	assert.NotEqual(t, uuid.Nil, completed.ID)
	assert.False(t, completed.OccurredAt.IsZero())

	failed := NewTaskEvent(sampleTask(domain.TaskStatusFailed))
	assert.Equal(t, TypeEnhancementFailed, failed.Type)
	assert.Equal(t, "timeout", failed.ErrorMessage)
	assert.Empty(t, failed.ResultURL)
}

func TestInMemoryEventEmitter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		assert.NoError(t, emitter.EmitEvent(context.Background(), NewTaskEvent(sampleTask(domain.TaskStatusCompleted))))
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		h1, h2 := &recordingHandler{}, &recordingHandler{}
		emitter.RegisterHandler(h1)
		emitter.RegisterHandler(h2)

		event := NewTaskEvent(sampleTask(domain.TaskStatusCompleted))
		require.NoError(t, emitter.EmitEvent(context.Background(), event))

		require.Len(t, h1.handled, 1)
		require.Len(t, h2.handled, 1)
		assert.Same(t, event, h1.handled[0])
	})

	t.Run("failing handler does not stop the others", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		failing := &recordingHandler{err: errors.New("broker down")}
		ok := &recordingHandler{}
		emitter.RegisterHandler(failing)
		emitter.RegisterHandler(ok)

		err := emitter.EmitEvent(context.Background(), NewTaskEvent(sampleTask(domain.TaskStatusFailed)))
		assert.EqualError(t, err, "broker down")
		assert.Len(t, ok.handled, 1)
	})

	t.Run("handler func", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		var got string
		emitter.RegisterHandler(HandlerFunc(func(_ context.Context, e *TaskEvent) error {
			got = e.Type
			return nil
		}))

		require.NoError(t, emitter.EmitEvent(context.Background(), NewTaskEvent(sampleTask(domain.TaskStatusFailed))))
		assert.Equal(t, TypeEnhancementFailed, got)
	})
}
