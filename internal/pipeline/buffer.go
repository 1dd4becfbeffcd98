package pipeline

import (
	"sync"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
)

// SlidingBuffer accumulates accepted readings per device until a window of
// size readings is complete.
type SlidingBuffer struct {
	mu      sync.Mutex
	size    int
	windows map[string][]domain.RawReading
}

func NewSlidingBuffer(size int) *SlidingBuffer {
	if size <= 0 {
		size = 1
	}
	return &SlidingBuffer{size: size, windows: make(map[string][]domain.RawReading)}
}

// Push appends r to its device's window. When the window reaches capacity it
// is detached and returned with ready=true, and the device starts a fresh
// window. Each completed window is returned to exactly one caller.
func (b *SlidingBuffer) Push(r domain.RawReading) ([]domain.RawReading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.windows[r.DeviceID]
	if w == nil {
		w = make([]domain.RawReading, 0, b.size)
	}
	w = append(w, r)
	if len(w) < b.size {
		b.windows[r.DeviceID] = w
		return nil, false
	}
	delete(b.windows, r.DeviceID)
	return w, true
}

// Len returns the number of buffered readings for deviceID.
func (b *SlidingBuffer) Len(deviceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows[deviceID])
}
