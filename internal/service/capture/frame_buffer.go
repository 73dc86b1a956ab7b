package capture

import (
	"sync"

	"trafficcounter/internal/model"
)

// FrameBuffer is a single-slot mailbox holding the latest frame of one
// source. Publishing never blocks and overwrites an unconsumed frame.
type FrameBuffer struct {
	mu        sync.Mutex
	latest    *model.Frame
	pending   bool
	published uint64
	dropped   uint64
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Publish stores f as the latest frame. It reports whether a frame that was
// never taken got overwritten.
func (b *FrameBuffer) Publish(f *model.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := b.pending
	if dropped {
		b.dropped++
	}
	b.latest = f
	b.pending = true
	b.published++
	return dropped
}

// Latest returns the most recent frame without consuming it.
func (b *FrameBuffer) Latest() (*model.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.latest != nil
}

// Take returns the pending frame and marks it consumed. The frame stays
// available through Latest.
func (b *FrameBuffer) Take() (*model.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.pending {
		return nil, false
	}
	b.pending = false
	return b.latest, true
}

// Pending reports whether a frame is waiting to be taken.
func (b *FrameBuffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Stats returns the published and dropped counters.
func (b *FrameBuffer) Stats() (published, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published, b.dropped
}
