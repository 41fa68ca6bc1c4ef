package store

import (
	"sync"

	"github.com/kubeadapt/gpumon/pkg/model"
)

// DeviceHistory is a fixed-capacity ring buffer of timestamped samples for
// one device. Pushing into a full history evicts the oldest sample, so Len
// never exceeds Cap.
type DeviceHistory struct {
	mu    sync.RWMutex
	buf   []model.TimestampedSample
	start int // index of the oldest sample
	n     int
}

// NewDeviceHistory creates an empty history holding at most capacity samples.
// A capacity below 1 is treated as 1.
func NewDeviceHistory(capacity int) *DeviceHistory {
	return &DeviceHistory{buf: make([]model.TimestampedSample, max(capacity, 1))}
}

// Push appends s, evicting the oldest sample when full.
func (h *DeviceHistory) Push(s model.TimestampedSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained samples.
func (h *DeviceHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Cap returns the fixed capacity.
func (h *DeviceHistory) Cap() int { return len(h.buf) }

// Latest returns the newest sample.
func (h *DeviceHistory) Latest() (model.TimestampedSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return model.TimestampedSample{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

// Oldest returns the oldest retained sample.
func (h *DeviceHistory) Oldest() (model.TimestampedSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return model.TimestampedSample{}, false
	}
	return h.buf[h.start], true
}

// Samples returns a copy of all retained samples, oldest first.
func (h *DeviceHistory) Samples() []model.TimestampedSample {
	return h.Recent(-1)
}

// Recent returns a copy of the newest n samples, oldest first. A negative n
// returns everything.
func (h *DeviceHistory) Recent(n int) []model.TimestampedSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n < 0 || n > h.n {
		n = h.n
	}
	out := make([]model.TimestampedSample, n)
	first := h.start + h.n - n
	for i := range out {
		out[i] = h.buf[(first+i)%len(h.buf)]
	}
	return out
}
