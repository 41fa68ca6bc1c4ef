package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockClock is a controllable clock for testing auto-expiry.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{now: t}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func TestPipelineError_Implements_Error(t *testing.T) {
	cause := fmt.Errorf("exec: \"nvidia-smi\": executable file not found in $PATH")
	pe := PipelineError{
		Code:      ErrSpawnFailed,
		Message:   "failed to start dmon",
		Component: "dmon",
		Timestamp: time.Now().UnixMilli(),
		Err:       cause,
	}

	var err error = &pe
	if err.Error() != "failed to start dmon" {
		t.Fatalf("expected Error() = %q, got %q", "failed to start dmon", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}

	var target *PipelineError
	if !stderrors.As(fmt.Errorf("supervisor: %w", err), &target) || target.Code != ErrSpawnFailed {
		t.Fatal("expected errors.As to recover the PipelineError")
	}
}

func TestErrorCollector_Report(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(PipelineError{
		Code:      ErrSourceExited,
		Message:   "dmon exited",
		Component: "dmon",
		Timestamp: clk.Now().UnixMilli(),
	})

	active := ec.GetActiveErrors()
	if len(active) != 1 {
		t.Fatalf("expected 1 active error, got %d", len(active))
	}
	if active[0].Code != ErrSourceExited {
		t.Fatalf("expected code %s, got %s", ErrSourceExited, active[0].Code)
	}
}

func TestErrorCollector_AutoExpiry(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(PipelineError{
		Code:      ErrQueryFailed,
		Message:   "query-gpu failed",
		Component: "device-info",
		Timestamp: clk.Now().UnixMilli(),
	})

	// Advance 6 minutes, beyond the 5-minute TTL.
	clk.Advance(6 * time.Minute)

	active := ec.GetActiveErrors()
	if len(active) != 0 {
		t.Fatalf("expected 0 active errors after expiry, got %d", len(active))
	}
}

func TestErrorCollector_RefreshPreventsExpiry(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	pe := PipelineError{
		Code:      ErrQueryFailed,
		Message:   "ps failed",
		Component: "compute-apps",
		Timestamp: clk.Now().UnixMilli(),
	}
	ec.Report(pe)

	clk.Advance(3 * time.Minute)
	pe.Timestamp = clk.Now().UnixMilli()
	ec.Report(pe)

	// 6 minutes from the first report but only 3 from the last.
	clk.Advance(3 * time.Minute)

	active := ec.GetActiveErrors()
	if len(active) != 1 {
		t.Fatalf("expected 1 active error (refreshed), got %d", len(active))
	}
}

func TestErrorCollector_ActiveErrorsOldestFirst(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(PipelineError{Code: ErrTopologyQueryFailed, Message: "topo", Component: "topology", Timestamp: 2000})
	ec.Report(PipelineError{Code: ErrSourceExited, Message: "pmon exited", Component: "pmon", Timestamp: 1000})

	active := ec.GetActiveErrors()
	if len(active) != 2 {
		t.Fatalf("expected 2 active errors, got %d", len(active))
	}
	if active[0].Component != "pmon" || active[1].Component != "topology" {
		t.Fatalf("unexpected order: %+v", active)
	}
}

func TestErrorCollector_ThreadSafe(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ec.Report(PipelineError{
				Code:      Code(fmt.Sprintf("ERR_%d", idx%5)),
				Message:   fmt.Sprintf("error %d", idx),
				Component: fmt.Sprintf("comp_%d", idx%3),
				Timestamp: clk.Now().UnixMilli(),
			})
			_ = ec.GetActiveErrors()
			_ = ec.GetActiveErrorCodes()
		}(i)
	}
	wg.Wait()

	active := ec.GetActiveErrors()
	if len(active) == 0 {
		t.Fatal("expected some active errors after concurrent writes")
	}
}

func TestErrorCollector_GetActiveErrorCodes(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(PipelineError{Code: ErrSourceExited, Message: "dmon exited", Component: "dmon", Timestamp: clk.Now().UnixMilli()})
	ec.Report(PipelineError{Code: ErrSpawnFailed, Message: "spawn", Component: "pmon", Timestamp: clk.Now().UnixMilli()})
	ec.Report(PipelineError{Code: ErrTopologyQueryFailed, Message: "topo", Component: "topology", Timestamp: clk.Now().UnixMilli()})

	// Same code, different component: still one code.
	ec.Report(PipelineError{Code: ErrSourceExited, Message: "pmon exited", Component: "pmon", Timestamp: clk.Now().UnixMilli()})

	codes := ec.GetActiveErrorCodes()
	want := []string{string(ErrSourceExited), string(ErrSpawnFailed), string(ErrTopologyQueryFailed)}
	if fmt.Sprint(codes) != fmt.Sprint(want) {
		t.Fatalf("expected codes %v, got %v", want, codes)
	}
}

func TestErrorCollector_Clear(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(PipelineError{Code: ErrQueryFailed, Message: "q", Component: "device-info", Timestamp: clk.Now().UnixMilli()})
	ec.Report(PipelineError{Code: ErrSourceReadFailed, Message: "read", Component: "dmon", Timestamp: clk.Now().UnixMilli()})

	ec.Clear()

	if len(ec.GetActiveErrors()) != 0 {
		t.Fatal("expected 0 errors after Clear()")
	}
	if len(ec.GetActiveErrorCodes()) != 0 {
		t.Fatal("expected 0 error codes after Clear()")
	}
}

func TestLatestError(t *testing.T) {
	var l LatestError

	if _, ok := l.Get(); ok {
		t.Fatal("expected empty slot initially")
	}

	l.Set("dmon exited")
	l.Set("pmon exited")
	if msg, ok := l.Get(); !ok || msg != "pmon exited" {
		t.Fatalf("expected newest error to win, got %q (%v)", msg, ok)
	}

	l.Clear()
	if msg, ok := l.Get(); ok {
		t.Fatalf("expected cleared slot, got %q", msg)
	}
}

func TestErrorCollector_CountsOccurrences(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	for i := 0; i < 3; i++ {
		ec.Report(PipelineError{Code: ErrQueryFailed, Message: fmt.Sprintf("attempt %d", i), Component: "query"})
		clk.Advance(2 * time.Second)
	}

	got, ok := ec.ActiveFor(ErrQueryFailed, "query")
	if !ok {
		t.Fatal("expected an active query error")
	}
	if got.Occurrences != 3 {
		t.Fatalf("expected 3 occurrences, got %d", got.Occurrences)
	}
	if got.Message != "attempt 2" {
		t.Fatalf("expected newest message to win, got %q", got.Message)
	}
}

func TestErrorCollector_OccurrencesResetAfterExpiry(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollectorWithTTL(clk, time.Minute)

	ec.Report(PipelineError{Code: ErrSourceExited, Message: "dmon exited", Component: "dmon"})
	ec.Report(PipelineError{Code: ErrSourceExited, Message: "dmon exited", Component: "dmon"})
	clk.Advance(2 * time.Minute)

	if _, ok := ec.ActiveFor(ErrSourceExited, "dmon"); ok {
		t.Fatal("expected entry to expire after the custom TTL")
	}

	ec.Report(PipelineError{Code: ErrSourceExited, Message: "dmon exited", Component: "dmon"})
	got, _ := ec.ActiveFor(ErrSourceExited, "dmon")
	if got.Occurrences != 1 {
		t.Fatalf("expected count to restart at 1, got %d", got.Occurrences)
	}
}

func TestErrorCollector_StampsMissingTimestamp(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ec := NewErrorCollector(newMockClock(start))

	ec.Report(PipelineError{Code: ErrSpawnFailed, Message: "spawn", Component: "pmon"})

	got, ok := ec.ActiveFor(ErrSpawnFailed, "pmon")
	if !ok || got.Timestamp != start.UnixMilli() {
		t.Fatalf("expected timestamp %d, got %d (%v)", start.UnixMilli(), got.Timestamp, ok)
	}
}
