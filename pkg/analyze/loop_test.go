package analyze

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rescuedyne/go-rover/pkg/segment"
)

type fakeSegments struct {
	mu   sync.Mutex
	segs []*segment.Segment
}

func (s *fakeSegments) TakeLatest() (*segment.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segs) == 0 {
		return nil, false
	}
	seg := s.segs[0]
	s.segs = s.segs[1:]
	return seg, true
}

func (s *fakeSegments) add(seg *segment.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segs = append(s.segs, seg)
}

func TestLoop_SkipsTicksWithoutSegments(t *testing.T) {
	segs := &fakeSegments{}
	an := &Mock{}

	var handled int
	l := NewLoop(5*time.Millisecond, 50*time.Millisecond, segs, an,
		func(Assessment) { handled++ })

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	if an.Calls() != 0 {
		t.Errorf("Expected no analyzer calls without segments, got %d", an.Calls())
	}
	if handled != 0 {
		t.Error("Expected no assessments handled")
	}
}

func TestLoop_DeliversAssessments(t *testing.T) {
	segs := &fakeSegments{}
	segs.add(&segment.Segment{Start: time.Now()})

	an := &Mock{AnalyzeFunc: func(ctx context.Context, seg *segment.Segment) (Assessment, error) {
		return Assessment{
			SurvivorsDetected: true,
			SurvivorCount:     1,
			RescuePriority:    PriorityCritical,
		}, nil
	}}

	var mu sync.Mutex
	var got []Assessment
	l := NewLoop(5*time.Millisecond, 50*time.Millisecond, segs, an,
		func(a Assessment) {
			mu.Lock()
			got = append(got, a)
			mu.Unlock()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("Expected exactly one assessment (one segment), got %d", len(got))
	}
	if got[0].RescuePriority != PriorityCritical {
		t.Errorf("Expected critical priority, got %v", got[0].RescuePriority)
	}
}

func TestLoop_AnalyzerFailureDoesNotHaltLoop(t *testing.T) {
	segs := &fakeSegments{}
	segs.add(&segment.Segment{})
	segs.add(&segment.Segment{})

	calls := 0
	an := &Mock{AnalyzeFunc: func(ctx context.Context, seg *segment.Segment) (Assessment, error) {
		calls++
		if calls == 1 {
			return Assessment{}, errors.New("analyzer overloaded")
		}
		return Assessment{SurvivorsDetected: true, SurvivorCount: 1, RescuePriority: PriorityLow}, nil
	}}

	var handled int
	var mu sync.Mutex
	l := NewLoop(5*time.Millisecond, 50*time.Millisecond, segs, an,
		func(Assessment) {
			mu.Lock()
			handled++
			mu.Unlock()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if handled != 1 {
		t.Errorf("Expected the loop to survive the failure and deliver 1 assessment, got %d", handled)
	}
	scans, failures, _ := l.Stats()
	if scans != 2 || failures != 1 {
		t.Errorf("Expected 2 scans / 1 failure, got %d / %d", scans, failures)
	}
}
