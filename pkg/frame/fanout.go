package frame

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescuedyne/go-rover/internal/log"
)

// subscriber is one stream consumer. Its channel is buffered; when the
// buffer is full the frame is dropped for this subscriber only and the drop
// is counted, so a slow consumer can never stall capture.
type subscriber struct {
	name    string
	ch      chan Frame
	dropped atomic.Uint64
}

// fanout holds the shared publication machinery used by both camera
// sources: the latest-frame ring plus the stream subscribers.
type fanout struct {
	ring *ring

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	err  error

	seq      atomic.Uint64
	degraded atomic.Bool
	failOnce sync.Once
	done     chan struct{}
	logger   *slog.Logger
}

func newFanout(bufferSize int, component string) *fanout {
	return &fanout{
		ring:   newRing(bufferSize),
		subs:   make(map[*subscriber]struct{}),
		done:   make(chan struct{}),
		logger: log.Component(component),
	}
}

// publish stamps and distributes one captured frame. Never blocks.
func (f *fanout) publish(data []byte, ts time.Time) {
	fr := Frame{
		Seq:       f.seq.Add(1),
		Data:      data,
		Timestamp: ts,
	}
	f.ring.push(fr)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs {
		select {
		case sub.ch <- fr:
		default:
			n := sub.dropped.Add(1)
			f.degraded.Store(true)
			if n == 1 || n%100 == 0 {
				f.logger.Warn("stream subscriber falling behind",
					"subscriber", sub.name, "dropped", n, "seq", fr.Seq)
			}
		}
	}
}

// Latest returns the most recent frame without blocking.
func (f *fanout) Latest() (Frame, bool) {
	return f.ring.latest()
}

// Stream subscribes a named consumer. The channel buffer is twice the ring
// capacity so a consumer that keeps up sees every frame.
func (f *fanout) Stream(name string) (<-chan Frame, func()) {
	sub := &subscriber{
		name: name,
		ch:   make(chan Frame, 2*len(f.ring.frames)),
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[sub]; ok {
			delete(f.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Degraded reports whether any subscriber has dropped frames or capture
// has stopped.
func (f *fanout) Degraded() bool {
	return f.degraded.Load()
}

// fail records a terminal capture failure: Done is closed, stream
// subscribers are detached, and Latest keeps serving only what was
// already buffered. Safe to call more than once; the first call wins.
func (f *fanout) fail(err error) {
	f.failOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		f.degraded.Store(true)
		f.logger.Error("frame capture stopped permanently", "error", err)
		f.closeSubscribers()
		close(f.done)
	})
}

// Done is closed when capture has permanently stopped after a successful
// start. A clean Close does not count as a failure.
func (f *fanout) Done() <-chan struct{} {
	return f.done
}

// Err reports why capture stopped, if it has.
func (f *fanout) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// closeSubscribers detaches and closes every stream channel.
func (f *fanout) closeSubscribers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.ch)
	}
}
