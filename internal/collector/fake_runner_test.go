package collector

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRunner serves canned outputs keyed by the first argument.
type fakeRunner struct {
	mu sync.Mutex

	outputs   map[string]string
	outputErr map[string]error

	streams   map[string]string
	streamErr map[string]error
	readErr   map[string]error
	// blocking streams never reach EOF until their context is canceled.
	blocking map[string]bool

	calls [][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs:   map[string]string{},
		outputErr: map[string]error{},
		streams:   map[string]string{},
		streamErr: map[string]error{},
		readErr:   map[string]error{},
		blocking:  map[string]bool{},
	}
}

func commandKey(args []string) string {
	if len(args) == 0 {
		return ""
	}
	k, _, _ := strings.Cut(args[0], "=")
	return k
}

// exitStatusError stands in for *exec.ExitError.
type exitStatusError int

func (e exitStatusError) Error() string { return "exit status " + strconv.Itoa(int(e)) }
func (e exitStatusError) ExitCode() int { return int(e) }

func (f *fakeRunner) record(name string, args []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	return commandKey(args)
}

func (f *fakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := f.record(name, args)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.outputErr[key]; err != nil {
		return []byte(f.outputs[key]), err
	}
	out, ok := f.outputs[key]
	if !ok {
		return nil, errors.New("no canned output for " + key)
	}
	return []byte(out), nil
}

func (f *fakeRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	key := f.record(name, args)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.streamErr[key]; err != nil {
		return nil, nil, err
	}

	var r io.Reader = strings.NewReader(f.streams[key])
	if err := f.readErr[key]; err != nil {
		r = io.MultiReader(r, &errReader{err: err})
	}
	if f.blocking[key] {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.Copy(pw, r)
			<-ctx.Done()
			_ = pw.Close()
		}()
		return pr, func() error { return nil }, nil
	}
	return io.NopCloser(r), func() error { return nil }, nil
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }

// receive waits for the next message or fails the test.
func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// expectQuiet asserts that nothing arrives on ch for a short while.
func expectQuiet(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if ok {
			require.Failf(t, "unexpected message", "%#v", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
