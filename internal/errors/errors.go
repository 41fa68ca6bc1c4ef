package errors

import (
	"sort"
	"sync"
	"time"
)

// Code represents a typed pipeline error code.
type Code string

// Pipeline error codes.
const (
	// ErrSourceExited: a streaming nvidia-smi source reached end of stream.
	ErrSourceExited Code = "SOURCE_EXITED"
	// ErrSourceReadFailed: reading a streaming source's stdout failed.
	ErrSourceReadFailed Code = "SOURCE_READ_FAILED"
	// ErrSpawnFailed: an external command could not be started.
	ErrSpawnFailed Code = "SPAWN_FAILED"
	// ErrTopologyQueryFailed: the start-up `nvidia-smi topo -m` query failed.
	ErrTopologyQueryFailed Code = "TOPOLOGY_QUERY_FAILED"
	// ErrQueryFailed: a periodic one-shot query failed. These never reach the
	// latest-error slot.
	ErrQueryFailed Code = "QUERY_FAILED"
)

// DefaultTTL is how long an error stays active without being re-reported.
const DefaultTTL = 5 * time.Minute

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// PipelineError is a typed error raised by one pipeline component.
// Occurrences is filled in by the ErrorCollector and counts reports of the
// same code and component since the entry was first seen.
type PipelineError struct {
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	Component   string `json:"component"`
	Timestamp   int64  `json:"timestamp"`
	Occurrences int    `json:"occurrences,omitempty"`
	Err         error  `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

type entryKey struct {
	code      Code
	component string
}

type entry struct {
	err        PipelineError
	lastReport time.Time
}

// ErrorCollector keeps the active pipeline errors, one per code and
// component. A newer report replaces the message of an older one and bumps
// its occurrence count. Entries expire once they go TTL without a report.
type ErrorCollector struct {
	mu      sync.Mutex
	clock   Clock
	ttl     time.Duration
	entries map[entryKey]*entry
}

// NewErrorCollector creates an ErrorCollector with the default TTL.
func NewErrorCollector(clock Clock) *ErrorCollector {
	return NewErrorCollectorWithTTL(clock, DefaultTTL)
}

// NewErrorCollectorWithTTL creates an ErrorCollector whose entries expire
// after ttl.
func NewErrorCollectorWithTTL(clock Clock, ttl time.Duration) *ErrorCollector {
	return &ErrorCollector{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[entryKey]*entry),
	}
}

// Report stores or refreshes an error.
func (ec *ErrorCollector) Report(err PipelineError) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	if err.Timestamp == 0 {
		err.Timestamp = now.UnixMilli()
	}
	k := entryKey{err.Code, err.Component}
	if e, ok := ec.entries[k]; ok && now.Sub(e.lastReport) <= ec.ttl {
		err.Occurrences = e.err.Occurrences + 1
		e.err = err
		e.lastReport = now
		return
	}
	err.Occurrences = 1
	ec.entries[k] = &entry{err: err, lastReport: now}
}

// GetActiveErrors returns the unexpired errors, oldest timestamp first.
func (ec *ErrorCollector) GetActiveErrors() []PipelineError {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.pruneLocked()
	result := make([]PipelineError, 0, len(ec.entries))
	for _, e := range ec.entries {
		result = append(result, e.err)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].Component < result[j].Component
	})
	return result
}

// GetActiveErrorCodes returns the deduplicated, sorted codes of the
// unexpired errors.
func (ec *ErrorCollector) GetActiveErrorCodes() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.pruneLocked()
	seen := make(map[Code]struct{}, len(ec.entries))
	codes := make([]string, 0, len(ec.entries))
	for k := range ec.entries {
		if _, ok := seen[k.code]; !ok {
			seen[k.code] = struct{}{}
			codes = append(codes, string(k.code))
		}
	}
	sort.Strings(codes)
	return codes
}

// ActiveFor returns the unexpired error of a component with the given code.
func (ec *ErrorCollector) ActiveFor(code Code, component string) (PipelineError, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	e, ok := ec.entries[entryKey{code, component}]
	if !ok || ec.clock.Now().Sub(e.lastReport) > ec.ttl {
		return PipelineError{}, false
	}
	return e.err, true
}

// Clear removes all tracked errors.
func (ec *ErrorCollector) Clear() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries = make(map[entryKey]*entry)
}

func (ec *ErrorCollector) pruneLocked() {
	now := ec.clock.Now()
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > ec.ttl {
			delete(ec.entries, k)
		}
	}
}
