package errors

import "sync"

// LatestError holds the single most recent consumer-visible error message.
// A newer error overwrites an older one; a fresh device sample clears it.
type LatestError struct {
	mu  sync.RWMutex
	msg string
}

// Set replaces the current message.
func (l *LatestError) Set(msg string) {
	l.mu.Lock()
	l.msg = msg
	l.mu.Unlock()
}

// Clear empties the slot.
func (l *LatestError) Clear() {
	l.Set("")
}

// Get returns the current message and whether one is set.
func (l *LatestError) Get() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.msg, l.msg != ""
}
