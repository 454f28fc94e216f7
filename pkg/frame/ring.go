package frame

import "sync"

// ring is a fixed-capacity frame buffer. When full, a push overwrites the
// oldest frame. Bounded memory takes priority over completeness here; the
// stream path serves consumers that need every frame.
type ring struct {
	mu     sync.Mutex
	frames []Frame
	head   int // next write position
	count  int
}

func newRing(capacity int) *ring {
	return &ring{frames: make([]Frame, capacity)}
}

func (r *ring) push(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames[r.head] = f
	r.head = (r.head + 1) % len(r.frames)
	if r.count < len(r.frames) {
		r.count++
	}
}

// latest returns the most recently pushed frame, if any.
func (r *ring) latest() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Frame{}, false
	}
	idx := (r.head - 1 + len(r.frames)) % len(r.frames)
	return r.frames[idx], true
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
