package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rescuedyne/go-rover/pkg/frame"
)

type fakeFrames struct {
	mu sync.Mutex
	f  frame.Frame
	ok bool
}

func (s *fakeFrames) Latest() (frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f, s.ok
}

func (s *fakeFrames) set(f frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f, s.ok = f, true
}

type resultSink struct {
	mu      sync.Mutex
	results []Result
}

func (r *resultSink) handle(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultSink) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

func TestLoop_SkipsTicksWithoutFrames(t *testing.T) {
	frames := &fakeFrames{}
	det := &Mock{}
	sink := &resultSink{}

	l := NewLoop(5*time.Millisecond, 50*time.Millisecond, frames, det, sink.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	if det.Calls() != 0 {
		t.Errorf("Expected no detector calls without frames, got %d", det.Calls())
	}
	if len(sink.snapshot()) != 0 {
		t.Error("Expected no results without frames")
	}
}

func TestLoop_DeliversResultsInTickOrder(t *testing.T) {
	frames := &fakeFrames{}
	frames.set(frame.Frame{Seq: 1, Data: []byte("jpeg"), Timestamp: time.Now()})

	conf := 0.0
	var mu sync.Mutex
	det := &Mock{DetectFunc: func(ctx context.Context, f frame.Frame) (Result, error) {
		mu.Lock()
		conf += 0.1
		c := conf
		mu.Unlock()
		return Result{TargetPresent: true, Confidence: c, Timestamp: f.Timestamp}, nil
	}}
	sink := &resultSink{}

	l := NewLoop(5*time.Millisecond, 50*time.Millisecond, frames, det, sink.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	results := sink.snapshot()
	if len(results) < 2 {
		t.Fatalf("Expected multiple results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Confidence <= results[i-1].Confidence {
			t.Fatalf("Results out of tick order at %d: %v then %v",
				i, results[i-1].Confidence, results[i].Confidence)
		}
	}
}

func TestLoop_DetectorErrorBecomesTargetAbsent(t *testing.T) {
	ts := time.Now()
	frames := &fakeFrames{}
	frames.set(frame.Frame{Seq: 7, Data: []byte("jpeg"), Timestamp: ts})

	det := &Mock{DetectFunc: func(ctx context.Context, f frame.Frame) (Result, error) {
		return Result{}, errors.New("detector unreachable")
	}}
	sink := &resultSink{}

	l := NewLoop(5*time.Millisecond, 50*time.Millisecond, frames, det, sink.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	results := sink.snapshot()
	if len(results) == 0 {
		t.Fatal("Expected absent results despite detector errors")
	}
	for _, r := range results {
		if r.TargetPresent {
			t.Error("Expected target absent on detector failure")
		}
		if !r.Timestamp.Equal(ts) {
			t.Error("Expected absent result to carry frame timestamp")
		}
	}

	_, failures := l.Stats()
	if failures == 0 {
		t.Error("Expected failures to be counted")
	}
}

func TestLoop_DetectorTimeoutDoesNotStallLoop(t *testing.T) {
	frames := &fakeFrames{}
	frames.set(frame.Frame{Seq: 1, Data: []byte("jpeg"), Timestamp: time.Now()})

	det := &Mock{DetectFunc: func(ctx context.Context, f frame.Frame) (Result, error) {
		<-ctx.Done() // hang until the per-call deadline fires
		return Result{}, ctx.Err()
	}}
	sink := &resultSink{}

	l := NewLoop(5*time.Millisecond, 10*time.Millisecond, frames, det, sink.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Loop did not return after context cancellation")
	}

	if len(sink.snapshot()) == 0 {
		t.Error("Expected absent results from timed-out ticks")
	}
}
