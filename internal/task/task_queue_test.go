package task

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func TestNewTaskQueue(t *testing.T) {
	queue := NewTaskQueue(10, setupTestLogger())

	assert.NotNil(t, queue)
	assert.Equal(t, 10, cap(queue.tasks))
	assert.False(t, queue.closed)
	assert.Zero(t, queue.Len())
}

func TestEnqueue(t *testing.T) {
	queue := NewTaskQueue(2, setupTestLogger())

	assert.NoError(t, queue.Enqueue(uuid.New()))
	assert.NoError(t, queue.Enqueue(uuid.New()))
	assert.Equal(t, 2, queue.Len())

	// Queue full
	third := uuid.New()
	err := queue.Enqueue(third)
	assert.ErrorIs(t, err, ErrQueueFull)

	// Dequeue one item to make space
	<-queue.tasks

	assert.NoError(t, queue.Enqueue(third))
}

func TestClose(t *testing.T) {
	queue := NewTaskQueue(10, setupTestLogger())

	id := uuid.New()
	assert.NoError(t, queue.Enqueue(id))

	queue.Close()
	assert.True(t, queue.closed)

	// Closing twice is a no-op
	queue.Close()

	assert.ErrorIs(t, queue.Enqueue(uuid.New()), ErrQueueClosed)

	// Buffered ids can still be read
	assert.Equal(t, id, <-queue.GetChannel())

	select {
	case _, ok := <-queue.GetChannel():
		assert.False(t, ok, "Channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timed out waiting for closed channel read")
	}
}

func TestConcurrentEnqueueAndClose(t *testing.T) {
	queue := NewTaskQueue(100, setupTestLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := queue.Enqueue(uuid.New())
			if err != nil {
				assert.ErrorIs(t, err, ErrQueueClosed)
			}
		}()
	}
	queue.Close()
	wg.Wait()

	count := 0
	for range queue.GetChannel() {
		count++
	}
	assert.LessOrEqual(t, count, 50)
}
