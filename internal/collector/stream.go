package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kubeadapt/gpumon/internal/collector/smi"
	"github.com/kubeadapt/gpumon/internal/errors"
)

// maxLineBytes caps a single streamed line. pmon command names are the only
// unbounded column.
const maxLineBytes = 1 << 20

// LineParser turns one streamed line into a message, or reports "not data".
type LineParser func(line string) (Message, bool)

// ParseDmonLine adapts smi.ParseDeviceSample to a LineParser.
func ParseDmonLine(line string) (Message, bool) {
	s, ok := smi.ParseDeviceSample(line)
	if !ok {
		return nil, false
	}
	return DeviceSampleMsg{Sample: s}, true
}

// ParsePmonLine adapts smi.ParseProcessSample to a LineParser.
func ParsePmonLine(line string) (Message, bool) {
	s, ok := smi.ParseProcessSample(line)
	if !ok {
		return nil, false
	}
	return ProcessSampleMsg{Sample: s}, true
}

// StreamSource runs one long-lived command (nvidia-smi dmon or pmon), parses
// each stdout line and forwards records in output order. It is never
// restarted: end of stream yields exactly one ExitedMsg, a read failure
// exactly one ErrorMsg, and a spawn failure exactly one ErrorMsg. It
// implements the Collector interface.
type StreamSource struct {
	name   string
	runner Runner
	bin    string
	args   []string
	parse  LineParser
	out    Sender
	hooks  Hooks

	started  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	syncOnce sync.Once
	synced   chan struct{}

	records atomic.Uint64
	skipLog rate.Sometimes
}

// NewStreamSource creates a StreamSource that runs `bin args...`.
func NewStreamSource(name string, runner Runner, bin string, args []string, parse LineParser, out Sender, hooks Hooks) *StreamSource {
	return &StreamSource{
		name:    name,
		runner:  runner,
		bin:     bin,
		args:    args,
		parse:   parse,
		out:     out,
		hooks:   hooks,
		done:    make(chan struct{}),
		synced:  make(chan struct{}),
		skipLog: rate.Sometimes{Interval: time.Minute},
	}
}

// Name returns the source name.
func (s *StreamSource) Name() string { return s.name }

// Start spawns the command. A spawn failure is returned and also delivered
// once as an ErrorMsg so the consumer can surface it.
func (s *StreamSource) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.started.Store(true)

	stdout, wait, err := s.runner.Stream(ctx, s.bin, s.args...)
	if err != nil {
		go func() {
			defer close(s.done)
			defer s.markSynced()
			s.out.Send(ctx, ErrorMsg{
				Source: s.name,
				Reason: fmt.Sprintf("%s: %v", s.name, err),
				Code:   errors.ErrSpawnFailed,
			})
		}()
		return err
	}

	slog.Info("stream source started", "source", s.name, "command", s.bin, "args", s.args)
	go s.run(ctx, &lineStream{rc: stdout, wait: wait})
	return nil
}

// WaitForSync blocks until the first record arrives, the source terminates,
// or ctx is canceled.
func (s *StreamSource) WaitForSync(ctx context.Context) error {
	select {
	case <-s.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop kills the subprocess and waits for the reader goroutine to exit.
// No ExitedMsg is produced for a stop.
func (s *StreamSource) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Records returns how many data records have been forwarded.
func (s *StreamSource) Records() uint64 { return s.records.Load() }

func (s *StreamSource) markSynced() {
	s.syncOnce.Do(func() { close(s.synced) })
}

func (s *StreamSource) run(ctx context.Context, ls *lineStream) {
	defer close(s.done)
	defer s.markSynced()

	scanner := bufio.NewScanner(ls.rc)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		msg, ok := s.parse(line)
		if !ok {
			s.hooks.lineSkipped(s.name)
			s.skipLog.Do(func() {
				slog.Debug("stream source skipped non-data line", "source", s.name, "line", line)
			})
			continue
		}
		s.records.Add(1)
		s.markSynced()
		if !s.out.Send(ctx, msg) {
			// Receiver gone; the subprocess is killed through ctx.
			ls.close()
			return
		}
	}
	readErr := scanner.Err()
	ls.close()

	if ctx.Err() != nil {
		return
	}

	if readErr != nil {
		slog.Warn("stream source read failed", "source", s.name, "error", readErr)
		s.out.Send(ctx, ErrorMsg{
			Source: s.name,
			Reason: fmt.Sprintf("%s: %v", s.name, readErr),
			Code:   errors.ErrSourceReadFailed,
		})
		return
	}

	slog.Warn("stream source exited", "source", s.name, "records", s.records.Load())
	s.out.Send(ctx, ExitedMsg{Source: s.name})
}

// lineStream pairs a subprocess's stdout with its reaper.
type lineStream struct {
	rc   io.ReadCloser
	wait func() error
}

func (ls *lineStream) close() {
	_ = ls.rc.Close()
	if ls.wait != nil {
		if err := ls.wait(); err != nil {
			slog.Debug("stream subprocess wait", "error", err)
		}
	}
}
