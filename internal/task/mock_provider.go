package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/provider"
)

// MockProvider is a provider.Client for tests. EnhanceFn decides the
// outcome; calls are counted per task.
type MockProvider struct {
	ProviderName string
	EnhanceFn    func(ctx context.Context, req provider.Request) (*provider.Result, error)

	mutex sync.Mutex
	calls map[uuid.UUID]int
}

var _ provider.Client = (*MockProvider)(nil)

// NewMockProvider returns a provider named name that succeeds with a fixed
// result unless EnhanceFn is replaced.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		EnhanceFn: func(context.Context, provider.Request) (*provider.Result, error) {
			return &provider.Result{EnhancedURL: "https://cdn.example.com/out.png"}, nil
		},
		calls: make(map[uuid.UUID]int),
	}
}

// Name implements provider.Client.
func (p *MockProvider) Name() string {
	return p.ProviderName
}

// EnhanceImage implements provider.Client.
func (p *MockProvider) EnhanceImage(ctx context.Context, req provider.Request) (*provider.Result, error) {
	p.mutex.Lock()
	p.calls[req.TaskID]++
	p.mutex.Unlock()
	return p.EnhanceFn(ctx, req)
}

// Calls returns how often taskID was sent to the provider.
func (p *MockProvider) Calls(taskID uuid.UUID) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.calls[taskID]
}

// TotalCalls returns the number of provider calls made.
func (p *MockProvider) TotalCalls() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}
