package analyze

import (
	"context"
	"sync"

	"github.com/rescuedyne/go-rover/pkg/segment"
)

// Mock implements Analyzer for testing.
type Mock struct {
	// AnalyzeFunc is called when Analyze is invoked. If nil, Analyze
	// returns a zero Assessment.
	AnalyzeFunc func(ctx context.Context, seg *segment.Segment) (Assessment, error)

	mu    sync.Mutex
	calls int
}

// Analyze implements Analyzer.
func (m *Mock) Analyze(ctx context.Context, seg *segment.Segment) (Assessment, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, seg)
	}
	return Assessment{}, nil
}

// Calls returns how many times Analyze was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Analyzer = (*Mock)(nil)
