package segment

import (
	"testing"
	"time"

	"github.com/rescuedyne/go-rover/pkg/frame"
)

// feed pushes n frames at the given interval starting from base, with
// consecutive sequence numbers starting at seq.
func feed(r *Recorder, base time.Time, seq uint64, n int, interval time.Duration) {
	for i := 0; i < n; i++ {
		r.ingest(frame.Frame{
			Seq:       seq + uint64(i),
			Data:      []byte{byte(i)},
			Timestamp: base.Add(time.Duration(i) * interval),
		})
	}
}

func TestRecorder_SealsAtConfiguredDuration(t *testing.T) {
	r := NewRecorder(5 * time.Second)
	base := time.Now()

	// 10 FPS for 6 seconds: the frame at +5s seals the segment.
	feed(r, base, 1, 61, 100*time.Millisecond)

	s, ok := r.TakeLatest()
	if !ok {
		t.Fatal("Expected a sealed segment")
	}

	// Sealed span must be the configured duration within one frame interval.
	if s.Duration() < 4900*time.Millisecond || s.Duration() > 5100*time.Millisecond {
		t.Errorf("Expected ~5s segment, got %v", s.Duration())
	}
	if len(s.Frames) != 50 {
		t.Errorf("Expected 50 frames at 10 FPS, got %d", len(s.Frames))
	}
	if s.Degraded {
		t.Error("Expected contiguous segment to not be degraded")
	}
}

func TestRecorder_RestartsImmediatelyAfterSealing(t *testing.T) {
	r := NewRecorder(1 * time.Second)
	base := time.Now()

	// 25 frames at 100ms covers two full segments and starts a third.
	feed(r, base, 1, 25, 100*time.Millisecond)

	if r.open == nil {
		t.Fatal("Expected accumulation to restart after sealing")
	}
	sealed, _ := r.Stats()
	if sealed != 2 {
		t.Errorf("Expected 2 sealed segments, got %d", sealed)
	}
}

func TestRecorder_LatestWinsReplacesUnconsumed(t *testing.T) {
	r := NewRecorder(1 * time.Second)
	base := time.Now()

	// Seal two segments without consuming the first.
	feed(r, base, 1, 25, 100*time.Millisecond)

	sealed, discarded := r.Stats()
	if sealed != 2 {
		t.Fatalf("Expected 2 sealed segments, got %d", sealed)
	}
	if discarded != 1 {
		t.Errorf("Expected 1 discarded segment, got %d", discarded)
	}

	s, ok := r.TakeLatest()
	if !ok {
		t.Fatal("Expected a segment in the slot")
	}
	// The slot must hold the fresher segment (starts at +1s).
	if !s.Start.After(base.Add(900 * time.Millisecond)) {
		t.Errorf("Expected the newer segment, got start offset %v", s.Start.Sub(base))
	}

	if _, ok := r.TakeLatest(); ok {
		t.Error("Expected slot to be empty after take")
	}
}

func TestRecorder_SequenceGapMarksDegraded(t *testing.T) {
	r := NewRecorder(1 * time.Second)
	base := time.Now()

	feed(r, base, 1, 5, 100*time.Millisecond)
	// Skip sequence numbers 6..9: the capture side dropped frames.
	feed(r, base.Add(500*time.Millisecond), 10, 7, 100*time.Millisecond)

	s, ok := r.TakeLatest()
	if !ok {
		t.Fatal("Expected a sealed segment")
	}
	if !s.Degraded {
		t.Error("Expected sequence gap to mark the segment degraded")
	}
}
