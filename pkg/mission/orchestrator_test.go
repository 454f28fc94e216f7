package mission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rescuedyne/go-rover/internal/config"
	"github.com/rescuedyne/go-rover/pkg/actuator"
	"github.com/rescuedyne/go-rover/pkg/analyze"
	"github.com/rescuedyne/go-rover/pkg/detect"
	"github.com/rescuedyne/go-rover/pkg/frame"
)

// fakeSource is an always-healthy frame source producing synthetic JPEG
// bytes on demand. fail flips it into a permanently stopped source.
type fakeSource struct {
	mu   sync.Mutex
	seq  uint64
	err  error
	done chan struct{}
	once sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{done: make(chan struct{})}
}

func (s *fakeSource) Start(ctx context.Context) error { return nil }

func (s *fakeSource) Latest() (frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return frame.Frame{Seq: s.seq, Data: []byte{0xff, 0xd8}, Timestamp: time.Now()}, true
}

func (s *fakeSource) Stream(name string) (<-chan frame.Frame, func()) {
	return make(chan frame.Frame), func() {}
}

func (s *fakeSource) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

func (s *fakeSource) Done() <-chan struct{} { return s.done }

func (s *fakeSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSource) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *fakeSource) Close() error { return nil }

// deadSource fails acquisition.
type deadSource struct{ fakeSource }

func (s *deadSource) Start(ctx context.Context) error { return frame.ErrCameraUnavailable }

// senderStub records sent commands and returns the configured error.
type senderStub struct {
	mu    sync.Mutex
	err   error
	cmds  []actuator.Command
	tried int
}

func (s *senderStub) Send(ctx context.Context, cmd actuator.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tried++
	if s.err != nil {
		return s.err
	}
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *senderStub) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *senderStub) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tried
}

// protocolStub counts rescue handoffs.
type protocolStub struct {
	mu    sync.Mutex
	calls []analyze.Assessment
	done  chan struct{}
}

func newProtocolStub() *protocolStub {
	return &protocolStub{done: make(chan struct{}, 4)}
}

func (p *protocolStub) Execute(ctx context.Context, a analyze.Assessment) error {
	p.mu.Lock()
	p.calls = append(p.calls, a)
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func (p *protocolStub) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MovementFrameRate = 5 * time.Millisecond
	cfg.DetectionInterval = time.Hour
	cfg.StatusInterval = time.Hour
	cfg.SegmentDuration = 100 * time.Millisecond
	cfg.DetectTimeout = 100 * time.Millisecond
	cfg.AnalyzeTimeout = 100 * time.Millisecond
	return cfg
}

func criticalAssessment() analyze.Assessment {
	return analyze.Assessment{
		SurvivorsDetected: true,
		SurvivorCount:     1,
		Description:       "one person trapped under debris",
		Survivors: []analyze.Survivor{{
			Position:   "lower left, partially covered",
			Condition:  "conscious, pinned leg",
			Urgency:    analyze.UrgencyCritical,
			Confidence: 0.93,
		}},
		RescuePriority:    analyze.PriorityCritical,
		RecommendedAction: "dispatch extraction team immediately",
		Timestamp:         time.Now(),
	}
}

func eventsOfKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestRescueTriggeredExactlyOnce(t *testing.T) {
	protocol := newProtocolStub()
	o := New(testConfig(), &fakeSource{},
		&detect.Mock{}, &analyze.Mock{}, &senderStub{}, protocol, nil)

	// Two critical assessments in a row must produce a single trigger.
	o.handleAssessment(criticalAssessment())
	o.handleAssessment(criticalAssessment())

	select {
	case <-protocol.done:
	case <-time.After(time.Second):
		t.Fatal("rescue protocol was never executed")
	}

	if got := protocol.callCount(); got != 1 {
		t.Fatalf("rescue protocol executed %d times, want 1", got)
	}
	triggers := eventsOfKind(o.Recent(), EventRescueTrigger)
	if len(triggers) != 1 {
		t.Fatalf("got %d rescue-trigger events, want exactly 1", len(triggers))
	}

	select {
	case cmd := <-o.cmds:
		if cmd.Intent != actuator.IntentHold {
			t.Fatalf("queued intent = %q, want %q", cmd.Intent, actuator.IntentHold)
		}
	default:
		t.Fatal("no hold command was queued")
	}

	snap := o.Snapshot()
	if !snap.RescueActive {
		t.Error("snapshot should report the rescue protocol active")
	}
	if !snap.Held {
		t.Error("acquisition machine should be held during rescue")
	}
}

func TestLowPriorityAssessmentDoesNotTrigger(t *testing.T) {
	protocol := newProtocolStub()
	o := New(testConfig(), &fakeSource{},
		&detect.Mock{}, &analyze.Mock{}, &senderStub{}, protocol, nil)

	a := criticalAssessment()
	a.RescuePriority = analyze.PriorityMedium
	o.handleAssessment(a)

	if got := protocol.callCount(); got != 0 {
		t.Fatalf("rescue protocol executed %d times, want 0", got)
	}
	if triggers := eventsOfKind(o.Recent(), EventRescueTrigger); len(triggers) != 0 {
		t.Fatalf("got %d rescue-trigger events, want 0", len(triggers))
	}
	snap := o.Snapshot()
	if snap.RescueActive {
		t.Error("medium priority must not activate the rescue protocol")
	}
	if snap.LastAssessment == nil {
		t.Error("assessment should still be recorded on the mission state")
	}
}

func TestUnreachableActuatorDegradesMissionOnly(t *testing.T) {
	sender := &senderStub{err: actuator.ErrUnreachable}
	detector := &detect.Mock{DetectFunc: func(ctx context.Context, f frame.Frame) (detect.Result, error) {
		return detect.Result{
			TargetPresent: true,
			X:             0.5, Y: 0.5,
			Confidence: 0.9,
			Centered:   true,
			Timestamp:  f.Timestamp,
		}, nil
	}}

	o := New(testConfig(), &fakeSource{},
		detector, &analyze.Mock{}, sender, newProtocolStub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()

	// Wait until command sends have failed, then confirm the fast loop is
	// still ticking past the failure.
	deadline := time.After(2 * time.Second)
	for sender.attempts() == 0 {
		select {
		case <-deadline:
			t.Fatal("no command dispatch was ever attempted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	ticksWhenFailed, _ := o.fastLoop.Stats()
	time.Sleep(50 * time.Millisecond)
	ticksAfter, _ := o.fastLoop.Stats()

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if ticksAfter <= ticksWhenFailed {
		t.Errorf("positional loop stalled after actuator failure: %d -> %d",
			ticksWhenFailed, ticksAfter)
	}
	snap := o.Snapshot()
	if !snap.ActuatorDegraded {
		t.Error("mission should be marked actuator-degraded")
	}
	if snap.CommandsFailed == 0 {
		t.Error("failed command count should be nonzero")
	}
	if snap.CommandsSent != 0 {
		t.Errorf("CommandsSent = %d, want 0 with an unreachable controller", snap.CommandsSent)
	}
	if degraded := eventsOfKind(o.Recent(), EventDegraded); len(degraded) != 1 {
		t.Errorf("got %d degraded events, want 1 per transition", len(degraded))
	}
	if shutdown := eventsOfKind(o.Recent(), EventShutdown); len(shutdown) != 1 {
		t.Errorf("got %d shutdown events, want exactly 1", len(shutdown))
	}
}

func TestActuatorRecoveryClearsDegraded(t *testing.T) {
	sender := &senderStub{err: errors.New("connection refused")}
	o := New(testConfig(), &fakeSource{},
		&detect.Mock{}, &analyze.Mock{}, sender, newProtocolStub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.dispatch(ctx)

	o.enqueue(actuator.New(actuator.IntentRotate))
	waitFor(t, func() bool { return o.Snapshot().ActuatorDegraded })

	sender.setErr(nil)
	o.enqueue(actuator.New(actuator.IntentStop))
	waitFor(t, func() bool { return !o.Snapshot().ActuatorDegraded })

	snap := o.Snapshot()
	if snap.CommandsSent != 1 || snap.CommandsFailed != 1 {
		t.Errorf("sent=%d failed=%d, want 1 and 1",
			snap.CommandsSent, snap.CommandsFailed)
	}
}

func TestRunFailsWhenCameraUnavailable(t *testing.T) {
	o := New(testConfig(), &deadSource{},
		&detect.Mock{}, &analyze.Mock{}, &senderStub{}, newProtocolStub(), nil)

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when the camera cannot be acquired")
	}
	if !errors.Is(err, frame.ErrCameraUnavailable) {
		t.Fatalf("error = %v, want wrapped ErrCameraUnavailable", err)
	}
}

func TestRunAbortsWhenFrameSourceDies(t *testing.T) {
	source := newFakeSource()
	o := New(testConfig(), source,
		&detect.Mock{}, &analyze.Mock{}, &senderStub{}, newProtocolStub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()

	// Let the loops spin up, then kill the source mid-mission.
	waitFor(t, func() bool {
		ticks, _ := o.fastLoop.Stats()
		return ticks > 0
	})
	cause := errors.New("device unplugged")
	source.fail(cause)

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("Run should fail when the frame source dies mid-mission")
		}
		if !errors.Is(err, cause) {
			t.Fatalf("error = %v, want wrapped %v", err, cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the frame source died")
	}

	if degraded := eventsOfKind(o.Recent(), EventDegraded); len(degraded) == 0 {
		t.Error("source loss should publish a degraded event")
	}
	if shutdown := eventsOfKind(o.Recent(), EventShutdown); len(shutdown) != 1 {
		t.Errorf("got %d shutdown events, want exactly 1", len(shutdown))
	}
	if !o.Snapshot().CaptureDegraded {
		t.Error("snapshot should report capture degraded")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
