package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubeadapt/gpumon/internal/collector/smi"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// QuerySource runs the one-shot nvidia-smi and ps queries on a fixed interval.
// Each cycle queries device info, then the compute-app list, then ps for the
// de-duplicated compute-app pids. Query failures are swallowed: the cycle
// step is skipped and no message is produced. It implements the Collector
// interface.
type QuerySource struct {
	runner       Runner
	smiPath      string
	psPath       string
	processStats bool
	interval     time.Duration
	out          Sender
	hooks        Hooks

	// skipDeviceInfo is read and cleared by the first cycle only.
	skipDeviceInfo bool

	started  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	syncOnce sync.Once
	synced   chan struct{}

	cycles atomic.Uint64
}

// QueryOptions configures a QuerySource.
type QueryOptions struct {
	SMIPath      string
	PSPath       string
	Interval     time.Duration
	ProcessStats bool

	// DeviceInfoSeeded drops the device-info query from the first cycle,
	// for when the caller has just delivered that result itself.
	DeviceInfoSeeded bool
}

// NewQuerySource creates a QuerySource.
func NewQuerySource(runner Runner, opts QueryOptions, out Sender, hooks Hooks) *QuerySource {
	return &QuerySource{
		runner:       runner,
		smiPath:      opts.SMIPath,
		psPath:       opts.PSPath,
		processStats: opts.ProcessStats,
		interval:     opts.Interval,
		out:          out,
		hooks:        hooks,
		done:         make(chan struct{}),
		synced:       make(chan struct{}),

		skipDeviceInfo: opts.DeviceInfoSeeded,
	}
}

// Name returns the source name.
func (q *QuerySource) Name() string { return SourceQuery }

// Start launches the polling goroutine. The first cycle runs immediately.
func (q *QuerySource) Start(ctx context.Context) error {
	ctx, q.cancel = context.WithCancel(ctx)
	q.started.Store(true)
	go q.run(ctx)
	return nil
}

// WaitForSync blocks until the first cycle completes or ctx is canceled.
func (q *QuerySource) WaitForSync(ctx context.Context) error {
	select {
	case <-q.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the source to stop and waits for the goroutine to exit.
func (q *QuerySource) Stop() {
	if !q.started.Load() {
		return
	}
	q.stopOnce.Do(func() {
		q.cancel()
		<-q.done
	})
}

// Cycles returns the number of completed cycles.
func (q *QuerySource) Cycles() uint64 { return q.cycles.Load() }

func (q *QuerySource) run(ctx context.Context) {
	defer close(q.done)
	defer q.syncOnce.Do(func() { close(q.synced) })

	if !q.cycle(ctx) {
		return
	}
	q.syncOnce.Do(func() { close(q.synced) })

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !q.cycle(ctx) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// cycle runs one round of queries. It returns false once the receiver is gone.
func (q *QuerySource) cycle(ctx context.Context) bool {
	defer q.cycles.Add(1)

	if q.skipDeviceInfo {
		q.skipDeviceInfo = false
	} else if infos, ok := q.queryDeviceInfo(ctx); ok {
		if !q.out.Send(ctx, DeviceInfoMsg{Infos: infos}) {
			return false
		}
	}

	apps, ok := q.queryComputeApps(ctx)
	if !ok {
		return ctx.Err() == nil
	}
	if !q.out.Send(ctx, ComputeAppsMsg{Apps: apps}) {
		return false
	}

	if !q.processStats {
		return true
	}
	if infos, ok := q.queryProcessInfo(ctx, smi.UniquePIDs(apps)); ok {
		if !q.out.Send(ctx, ProcessSystemInfoMsg{Infos: infos}) {
			return false
		}
	}
	return true
}

func (q *QuerySource) queryDeviceInfo(ctx context.Context) ([]model.DeviceInfo, bool) {
	out, ok := q.output(ctx, QueryDeviceInfo, nil, q.smiPath, deviceInfoArgs()...)
	if !ok {
		return nil, false
	}
	return smi.ParseDeviceInfoOutput(string(out)), true
}

func (q *QuerySource) queryComputeApps(ctx context.Context) ([]model.ComputeApp, bool) {
	out, ok := q.output(ctx, QueryComputeApps, nil, q.smiPath, computeAppsArgs()...)
	if !ok {
		return nil, false
	}
	return smi.ParseComputeAppsOutput(string(out)), true
}

func (q *QuerySource) queryProcessInfo(ctx context.Context, pids []uint32) ([]model.ProcessSystemInfo, bool) {
	if len(pids) == 0 {
		return []model.ProcessSystemInfo{}, true
	}
	out, ok := q.output(ctx, QueryProcessInfo, psNoMatch, q.psPath, smi.PSArgs(pids)...)
	if !ok {
		return nil, false
	}
	return smi.ParseProcessSystemInfoOutput(string(out)), true
}

// psNoMatch reports ps exiting with status 1, which procps does when none of
// the listed pids exist. Its stdout is still a valid listing.
func psNoMatch(err error) bool {
	var exit interface{ ExitCode() int }
	return errors.As(err, &exit) && exit.ExitCode() == 1
}

// output runs one query. An error for which tolerate returns true still
// counts as a successful run of whatever the command printed.
func (q *QuerySource) output(ctx context.Context, query string, tolerate func(error) bool, bin string, args ...string) ([]byte, bool) {
	start := time.Now()
	out, err := q.runner.Output(ctx, bin, args...)
	if err != nil && ctx.Err() == nil && tolerate != nil && tolerate(err) {
		slog.Debug("query exited non-zero, keeping its output", "query", query, "error", err)
		err = nil
	}
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("query failed", "query", query, "error", err)
			q.hooks.queryFailed(query, err)
		}
		return nil, false
	}
	q.hooks.queryDone(query, time.Since(start))
	return out, true
}
