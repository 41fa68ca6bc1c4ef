package collector

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kubeadapt/gpumon/internal/collector/smi"
	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// Options configures a Supervisor.
type Options struct {
	SMIPath         string
	PSPath          string
	QueryInterval   time.Duration
	ChannelCapacity int
	ProcessStats    bool
	Hooks           Hooks
}

// Supervisor owns every telemetry source and the bounded channel they share.
// Start runs the start-up queries and launches the sources; Messages is the
// single receive side; Stop kills everything.
type Supervisor struct {
	runner   Runner
	opts     Options
	ch       chan Message
	registry *Registry

	mu       sync.RWMutex
	topology model.DeviceTopology
	topoOK   bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSupervisor creates a Supervisor. Sources are not started until Start.
func NewSupervisor(runner Runner, opts Options) *Supervisor {
	if opts.ChannelCapacity < 1 {
		opts.ChannelCapacity = 1
	}
	return &Supervisor{
		runner:   runner,
		opts:     opts,
		ch:       make(chan Message, opts.ChannelCapacity),
		registry: NewRegistry(),
	}
}

// Messages returns the receive side of the merged channel. It is closed by
// Stop after every producer has exited.
func (s *Supervisor) Messages() <-chan Message { return s.ch }

// Topology returns the start-up topology and whether the query succeeded.
func (s *Supervisor) Topology() (model.DeviceTopology, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topology, s.topoOK
}

// Sources returns the registered sources.
func (s *Supervisor) Sources() []Collector { return s.registry.Collectors() }

// Start queries the topology once and the device info once, then spawns the
// dmon and pmon streams and the periodic query source. A topology failure is
// delivered as one ErrorMsg. A streaming source that cannot be spawned is
// delivered as one ErrorMsg while the rest keep running; Start only fails when
// no source could be started.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	out := NewSender(s.ch)

	seed, err := s.seed(ctx)
	if err != nil {
		return err
	}
	seeded := false
	for _, msg := range seed {
		if _, ok := msg.(DeviceInfoMsg); ok {
			seeded = true
		}
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, msg := range seed {
			if !out.Send(ctx, msg) {
				return
			}
		}
	}()

	for _, src := range []Collector{
		NewStreamSource(SourceDmon, s.runner, s.opts.SMIPath, dmonArgs(), ParseDmonLine, out, s.opts.Hooks),
		NewStreamSource(SourcePmon, s.runner, s.opts.SMIPath, pmonArgs(), ParsePmonLine, out, s.opts.Hooks),
		NewQuerySource(s.runner, QueryOptions{
			SMIPath:      s.opts.SMIPath,
			PSPath:       s.opts.PSPath,
			Interval:     s.opts.QueryInterval,
			ProcessStats: s.opts.ProcessStats,

			// The seed's device info stands in for the first cycle's.
			DeviceInfoSeeded: seeded,
		}, out, s.opts.Hooks),
	} {
		if err := s.registry.Register(src); err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}
	}

	if err := s.registry.StartAll(ctx); err != nil {
		var partial *PartialStartError
		if stderrors.As(err, &partial) {
			slog.Warn("some sources failed to start", "failed", partial.Failed, "total", partial.Total)
			return nil
		}
		return fmt.Errorf("start sources: %w", err)
	}
	return nil
}

// seed runs the start-up queries concurrently and returns the messages they
// produce. Query failures become messages, never errors.
func (s *Supervisor) seed(ctx context.Context) ([]Message, error) {
	var (
		topoMsg Message
		infoMsg Message
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.runner.Output(gctx, s.opts.SMIPath, topologyArgs()...)
		if err != nil {
			slog.Warn("topology query failed", "error", err)
			topoMsg = ErrorMsg{
				Source: SourceTopology,
				Reason: fmt.Sprintf("Topology: %v", err),
				Code:   errors.ErrTopologyQueryFailed,
			}
			return nil
		}
		topo := smi.ParseTopology(string(out))
		s.mu.Lock()
		s.topology, s.topoOK = topo, true
		s.mu.Unlock()
		slog.Info("topology discovered", "devices", topo.DeviceCount)
		return nil
	})
	g.Go(func() error {
		out, err := s.runner.Output(gctx, s.opts.SMIPath, deviceInfoArgs()...)
		if err != nil {
			slog.Debug("initial device info query failed", "error", err)
			s.opts.Hooks.queryFailed(QueryDeviceInfo, err)
			return nil
		}
		infoMsg = DeviceInfoMsg{Infos: smi.ParseDeviceInfoOutput(string(out))}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("start-up queries: %w", err)
	}

	var msgs []Message
	for _, m := range []Message{topoMsg, infoMsg} {
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// WaitForSync waits until every source delivered its first data or ctx expires.
func (s *Supervisor) WaitForSync(ctx context.Context) error {
	return s.registry.WaitForSync(ctx)
}

// Stop cancels every source, kills the subprocesses and closes the channel.
// Safe to call multiple times and before Start.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.registry.StopAll()
		s.wg.Wait()
		close(s.ch)
	})
}
