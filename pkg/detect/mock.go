package detect

import (
	"context"
	"sync"

	"github.com/rescuedyne/go-rover/pkg/frame"
)

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked. If nil, Detect returns
	// a zero Result.
	DetectFunc func(ctx context.Context, f frame.Frame) (Result, error)

	mu    sync.Mutex
	calls int
}

// Detect implements Detector.
func (m *Mock) Detect(ctx context.Context, f frame.Frame) (Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, f)
	}
	return Result{}, nil
}

// Calls returns how many times Detect was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Detector = (*Mock)(nil)
