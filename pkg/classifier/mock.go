package classifier

import (
	"context"
	"image"
	"sync"
)

// Mock implements Engine for testing.
type Mock struct {
	// InitFunc is called when Init is invoked.
	InitFunc func(ctx context.Context) error

	// ClassifyFunc is called when Classify is invoked. When nil, Result is returned.
	ClassifyFunc func(ctx context.Context, img image.Image) (string, error)

	// Result is the default classification.
	Result string

	mu       sync.Mutex
	inits    int
	calls    int
	resets   int
	closed   bool
	lastSeen image.Image
}

// NewMock creates a Mock that always answers result.
func NewMock(result string) *Mock {
	return &Mock{Result: result}
}

// Init implements Engine.
func (m *Mock) Init(ctx context.Context) error {
	m.mu.Lock()
	m.inits++
	fn := m.InitFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// Classify implements Engine.
func (m *Mock) Classify(ctx context.Context, img image.Image) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastSeen = img
	fn := m.ClassifyFunc
	result := m.Result
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, img)
	}
	return result, nil
}

// Close implements Engine.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reset implements Resetter.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

// SetResult changes the default classification.
func (m *Mock) SetResult(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Result = result
}

// InitCount returns how many times Init was called.
func (m *Mock) InitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}

// CallCount returns how many times Classify was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ResetCount returns how many times Reset was called.
func (m *Mock) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LastImage returns the image passed to the latest Classify call.
func (m *Mock) LastImage() image.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}
