package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/kubeadapt/gpumon/internal/collector"
	"github.com/kubeadapt/gpumon/internal/config"
	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/internal/observability"
	"github.com/kubeadapt/gpumon/internal/snapshot"
	"github.com/kubeadapt/gpumon/internal/store"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// streamingSources are the long-lived sources whose termination degrades the
// pipeline.
var streamingSources = []string{collector.SourceDmon, collector.SourcePmon}

// Source produces the merged message stream. *collector.Supervisor
// implements it.
type Source interface {
	Start(ctx context.Context) error
	Messages() <-chan collector.Message
	Topology() (model.DeviceTopology, bool)
	// Stop is called even when Start failed.
	Stop()
}

// Agent is the single consumer of the message stream. It is the only writer
// of the store and owns the most-recent-error slot and the pipeline state.
type Agent struct {
	config         *config.Config
	source         Source
	store          *store.Store
	builder        *snapshot.Builder
	stateMachine   *StateMachine
	errorCollector *errors.ErrorCollector
	metrics        *observability.Metrics

	latestError errors.LatestError
	ready       atomic.Bool

	// terminated is only touched by the Run goroutine.
	terminated map[string]bool
}

// NewAgent creates an Agent with all required dependencies.
func NewAgent(
	cfg *config.Config,
	source Source,
	st *store.Store,
	builder *snapshot.Builder,
	stateMachine *StateMachine,
	errCollector *errors.ErrorCollector,
	metrics *observability.Metrics,
) *Agent {
	return &Agent{
		config:         cfg,
		source:         source,
		store:          st,
		builder:        builder,
		stateMachine:   stateMachine,
		errorCollector: errCollector,
		metrics:        metrics,
		terminated:     make(map[string]bool),
	}
}

// IsReady reports whether the first device sample or device-info batch has
// been applied and the pipeline has not stopped. Implements
// health.ReadinessChecker.
func (a *Agent) IsReady() bool {
	return a.ready.Load() && a.stateMachine.State() != StateStopped
}

// LatestError returns the most recent consumer-visible error, if any.
func (a *Agent) LatestError() (string, bool) {
	return a.latestError.Get()
}

// PipelineHealth reports the state and the latest-error slot.
func (a *Agent) PipelineHealth() model.PipelineHealth {
	msg, _ := a.latestError.Get()
	return model.PipelineHealth{
		State:       string(a.stateMachine.State()),
		StateReason: a.stateMachine.StateReason(),
		LatestError: msg,
	}
}

// BuildSnapshot returns a fresh snapshot of the store stamped with the
// current pipeline health. Implements health.SnapshotProvider.
func (a *Agent) BuildSnapshot(ctx context.Context) *model.Snapshot {
	return a.builder.Build(ctx, a.PipelineHealth())
}

// Run starts the source, records the start-up topology, and applies messages
// until the context is canceled or the stream closes.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateStarting, "starting sources")

	defer a.source.Stop()
	if err := a.source.Start(ctx); err != nil {
		a.setState(StateStopped, "start failed")
		return fmt.Errorf("failed to start sources: %w", err)
	}

	if topo, ok := a.source.Topology(); ok {
		a.store.SetTopology(topo)
		slog.Info("device topology recorded", "devices", topo.DeviceCount)
	}

	a.setState(StateRunning, "sources started")

	var summary <-chan time.Time
	if a.config.SummaryInterval > 0 {
		ticker := time.NewTicker(a.config.SummaryInterval)
		defer ticker.Stop()
		summary = ticker.C
	}

	msgs := a.source.Messages()
	for {
		select {
		case <-ctx.Done():
			a.setState(StateStopped, "shutdown")
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				a.setState(StateStopped, "message stream closed")
				return nil
			}
			a.handle(msg, len(msgs))
		case <-summary:
			a.logSummary(ctx)
		}
	}
}

func (a *Agent) handle(msg collector.Message, depth int) {
	a.store.Apply(msg)

	if a.metrics != nil {
		a.metrics.MessagesTotal.WithLabelValues(messageKind(msg)).Inc()
		a.metrics.ChannelDepth.Set(float64(depth))
	}

	switch m := msg.(type) {
	case collector.DeviceSampleMsg:
		a.latestError.Clear()
		a.ready.Store(true)
		a.recordDeviceSample(m.Sample)

	case collector.DeviceInfoMsg:
		a.ready.Store(true)
		if a.metrics != nil {
			a.metrics.RecordDeviceInfo(m.Infos)
		}

	case collector.ComputeAppsMsg, collector.ProcessSystemInfoMsg:
		if a.metrics != nil {
			a.metrics.RecordProcesses(a.store.EnrichedProcesses())
		}

	case collector.ErrorMsg:
		slog.Warn("source error", "source", m.Source, "code", m.Code, "reason", m.Reason)
		a.latestError.Set(m.Reason)
		a.report(m.Code, m.Source, m.Reason)
		if isStreaming(m.Source) {
			a.sourceTerminated(m.Source, "error")
		}

	case collector.ExitedMsg:
		reason := m.Source + " exited"
		slog.Warn("streaming source exited", "source", m.Source)
		a.latestError.Set(reason)
		a.report(errors.ErrSourceExited, m.Source, reason)
		a.sourceTerminated(m.Source, "exited")
	}

	a.recordStoreItems()
}

func (a *Agent) recordDeviceSample(s model.DeviceSample) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordDeviceSample(s)
	a.metrics.SamplesTotal.Inc()
	if h, ok := a.store.History(s.Index); ok {
		a.metrics.HistoryLength.WithLabelValues(strconv.FormatUint(uint64(s.Index), 10)).Set(float64(h.Len()))
	}
}

func (a *Agent) recordStoreItems() {
	if a.metrics == nil {
		return
	}
	for resource, n := range a.store.ItemCounts() {
		a.metrics.StoreItems.WithLabelValues(resource).Set(float64(n))
	}
}

func (a *Agent) report(code errors.Code, component, message string) {
	if a.errorCollector == nil {
		return
	}
	a.errorCollector.Report(errors.PipelineError{
		Code:      code,
		Message:   message,
		Component: component,
		Timestamp: time.Now().UnixMilli(),
	})
}

// sourceTerminated records the end of a streaming source. Sources are never
// restarted, so each one is counted once.
func (a *Agent) sourceTerminated(source, reason string) {
	if a.terminated[source] {
		return
	}
	a.terminated[source] = true

	if a.metrics != nil {
		a.metrics.SourceExitsTotal.WithLabelValues(source, reason).Inc()
	}

	if len(a.terminated) == len(streamingSources) {
		a.setState(StateDegraded, "all streaming sources terminated")
		return
	}
	a.setState(StateDegraded, source+" terminated")
}

func (a *Agent) setState(state PipelineState, reason string) {
	prev := a.stateMachine.State()
	if !a.stateMachine.TransitionTo(state, reason) {
		return
	}
	if prev != state {
		slog.Info("pipeline state changed", "from", prev, "to", state, "reason", reason)
	}

	if a.metrics == nil {
		return
	}
	for _, s := range AllStates {
		v := 0.0
		if s == state {
			v = 1
		}
		a.metrics.PipelineState.WithLabelValues(string(s)).Set(v)
	}
}

func (a *Agent) logSummary(ctx context.Context) {
	snap := a.BuildSnapshot(ctx)
	attrs := append([]any{
		"state", snap.Health.State,
		"uptime", time.Duration(snap.UptimeSeconds * float64(time.Second)).Round(time.Second),
		"samples", snap.TotalSamples,
	}, snapshot.LogAttrs(snap.Summary)...)
	if snap.Health.LatestError != "" {
		attrs = append(attrs, "latest_error", snap.Health.LatestError)
	}
	if len(snap.Health.StaleCollections) > 0 {
		attrs = append(attrs, "stale", snap.Health.StaleCollections)
	}
	slog.Info("pipeline summary", attrs...)
}

func isStreaming(source string) bool {
	for _, s := range streamingSources {
		if s == source {
			return true
		}
	}
	return false
}

// messageKind is the metric label for a message.
func messageKind(msg collector.Message) string {
	switch msg.(type) {
	case collector.DeviceSampleMsg:
		return "device_sample"
	case collector.ProcessSampleMsg:
		return "process_sample"
	case collector.DeviceInfoMsg:
		return "device_info"
	case collector.ComputeAppsMsg:
		return "compute_apps"
	case collector.ProcessSystemInfoMsg:
		return "process_system_info"
	case collector.ErrorMsg:
		return "error"
	case collector.ExitedMsg:
		return "exited"
	}
	return "unknown"
}
