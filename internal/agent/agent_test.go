package agent

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeadapt/gpumon/internal/collector"
	"github.com/kubeadapt/gpumon/internal/config"
	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/internal/observability"
	"github.com/kubeadapt/gpumon/internal/snapshot"
	"github.com/kubeadapt/gpumon/internal/store"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// --- fake source ---

type fakeSource struct {
	ch       chan collector.Message
	topo     *model.DeviceTopology
	startErr error

	started atomic.Bool
	stopped atomic.Int32
}

func newFakeSource(msgs ...collector.Message) *fakeSource {
	ch := make(chan collector.Message, len(msgs)+1)
	for _, m := range msgs {
		ch <- m
	}
	return &fakeSource{ch: ch}
}

func (f *fakeSource) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeSource) Messages() <-chan collector.Message { return f.ch }

func (f *fakeSource) Topology() (model.DeviceTopology, bool) {
	if f.topo == nil {
		return model.DeviceTopology{}, false
	}
	return *f.topo, true
}

func (f *fakeSource) Stop() { f.stopped.Add(1) }

// --- test helpers ---

type testAgent struct {
	*Agent
	store   *store.Store
	errors  *errors.ErrorCollector
	metrics *observability.Metrics
}

func newTestAgent(t *testing.T, src Source) *testAgent {
	t.Helper()

	cfg := &config.Config{SessionID: "test", QueryInterval: time.Hour}
	clk := errors.RealClock{}
	st := store.New(10, clk)
	ec := errors.NewErrorCollector(clk)
	m := observability.NewMetrics()
	builder := snapshot.NewBuilder(st, cfg, m, ec, clk)

	return &testAgent{
		Agent:   NewAgent(cfg, src, st, builder, NewStateMachine(clk), ec, m),
		store:   st,
		errors:  ec,
		metrics: m,
	}
}

// drain runs the agent until the fake source's channel is exhausted.
func drain(t *testing.T, ta *testAgent, src *fakeSource) {
	t.Helper()
	close(src.ch)

	done := make(chan error, 1)
	go func() { done <- ta.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	pb := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).(prometheus.Metric).Write(pb))
	return pb.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	pb := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).(prometheus.Metric).Write(pb))
	return pb.GetGauge().GetValue()
}

func u32(v uint32) *uint32 { return &v }

// --- tests ---

func TestAgent_AppliesMessagesToStore(t *testing.T) {
	src := newFakeSource(
		collector.DeviceInfoMsg{Infos: []model.DeviceInfo{{Index: 0, UUID: "GPU-a"}}},
		collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 0, SMUtil: u32(42)}},
		collector.ComputeAppsMsg{Apps: []model.ComputeApp{{PID: 7, Name: "/usr/bin/python3", DeviceUUID: "GPU-a", UsedMemoryMiB: 512}}},
	)
	src.topo = &model.DeviceTopology{DeviceCount: 1}
	ta := newTestAgent(t, src)

	drain(t, ta, src)

	assert.True(t, src.started.Load())
	assert.Equal(t, int32(1), src.stopped.Load(), "source is stopped when Run returns")

	latest, ok := ta.store.Latest(0)
	require.True(t, ok)
	assert.Equal(t, u32(42), latest.SMUtil)

	topo, ok := ta.store.Topology()
	require.True(t, ok)
	assert.Equal(t, 1, topo.DeviceCount)

	procs := ta.store.EnrichedProcesses()
	require.Len(t, procs, 1)
	assert.Equal(t, "python3", procs[0].Command)
}

func TestAgent_LatestErrorSlot(t *testing.T) {
	src := newFakeSource(
		collector.ErrorMsg{Source: collector.SourceTopology, Reason: "Topology: exit status 9", Code: errors.ErrTopologyQueryFailed},
	)
	ta := newTestAgent(t, src)
	drain(t, ta, src)

	msg, ok := ta.LatestError()
	require.True(t, ok)
	assert.Equal(t, "Topology: exit status 9", msg)
}

func TestAgent_DeviceSampleClearsLatestError(t *testing.T) {
	src := newFakeSource(
		collector.ErrorMsg{Source: collector.SourceTopology, Reason: "Topology: boom", Code: errors.ErrTopologyQueryFailed},
		collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 0}},
	)
	ta := newTestAgent(t, src)
	drain(t, ta, src)

	_, ok := ta.LatestError()
	assert.False(t, ok)
	// The collector keeps the history even though the slot is clear.
	assert.Equal(t, []string{"TOPOLOGY_QUERY_FAILED"}, ta.errors.GetActiveErrorCodes())
}

func TestAgent_NewerErrorOverwritesOlder(t *testing.T) {
	src := newFakeSource(
		collector.ErrorMsg{Source: collector.SourceDmon, Reason: "dmon: read failed", Code: errors.ErrSourceReadFailed},
		collector.ExitedMsg{Source: collector.SourcePmon},
	)
	ta := newTestAgent(t, src)
	drain(t, ta, src)

	msg, _ := ta.LatestError()
	assert.Equal(t, "pmon exited", msg)
}

func TestAgent_StreamTerminationDegrades(t *testing.T) {
	src := newFakeSource(
		collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 0}},
		collector.ExitedMsg{Source: collector.SourceDmon},
	)
	ta := newTestAgent(t, src)

	// Observe the state before the stream closes.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ta.Run(ctx) }()

	require.Eventually(t, func() bool {
		return ta.stateMachine.State() == StateDegraded
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "dmon terminated", ta.stateMachine.StateReason())
	assert.True(t, ta.IsReady(), "a degraded pipeline still serves data")

	health := ta.PipelineHealth()
	assert.Equal(t, "degraded", health.State)
	assert.Equal(t, "dmon exited", health.LatestError)

	cancel()
	err := <-done
	assert.True(t, stderrors.Is(err, context.Canceled))
	assert.Equal(t, StateStopped, ta.stateMachine.State())
	assert.False(t, ta.IsReady())
}

func TestAgent_AllStreamsTerminated(t *testing.T) {
	src := newFakeSource(
		collector.ExitedMsg{Source: collector.SourceDmon},
		collector.ErrorMsg{Source: collector.SourcePmon, Reason: "pmon: spawn failed", Code: errors.ErrSpawnFailed},
		// A second terminal message for the same source is not counted again.
		collector.ExitedMsg{Source: collector.SourceDmon},
	)
	ta := newTestAgent(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ta.Run(ctx) }()

	require.Eventually(t, func() bool {
		return ta.stateMachine.StateReason() == "all streaming sources terminated"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateDegraded, ta.stateMachine.State())

	cancel()
	<-done

	assert.Equal(t, float64(1), counterValue(t, ta.metrics.SourceExitsTotal, "dmon", "exited"))
	assert.Equal(t, float64(1), counterValue(t, ta.metrics.SourceExitsTotal, "pmon", "error"))
	assert.Equal(t, []string{"SOURCE_EXITED", "SPAWN_FAILED"}, ta.errors.GetActiveErrorCodes())
}

func TestAgent_TopologyErrorDoesNotDegrade(t *testing.T) {
	src := newFakeSource(
		collector.ErrorMsg{Source: collector.SourceTopology, Reason: "Topology: boom", Code: errors.ErrTopologyQueryFailed},
	)
	ta := newTestAgent(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ta.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := ta.LatestError()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, ta.stateMachine.State())

	cancel()
	<-done
}

func TestAgent_Readiness(t *testing.T) {
	t.Run("not ready before data", func(t *testing.T) {
		src := newFakeSource(collector.ProcessSampleMsg{Sample: model.ProcessSample{PID: 1}})
		ta := newTestAgent(t, src)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- ta.Run(ctx) }()

		require.Eventually(t, func() bool {
			return ta.stateMachine.State() == StateRunning
		}, 2*time.Second, 5*time.Millisecond)
		assert.False(t, ta.IsReady())

		cancel()
		<-done
	})

	t.Run("ready after device info", func(t *testing.T) {
		src := newFakeSource(collector.DeviceInfoMsg{Infos: []model.DeviceInfo{{Index: 0}}})
		ta := newTestAgent(t, src)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- ta.Run(ctx) }()

		require.Eventually(t, ta.IsReady, 2*time.Second, 5*time.Millisecond)

		cancel()
		<-done
	})
}

func TestAgent_StartFailure(t *testing.T) {
	src := newFakeSource()
	src.startErr = stderrors.New("no sources")
	ta := newTestAgent(t, src)

	err := ta.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sources")
	assert.Equal(t, StateStopped, ta.stateMachine.State())
	assert.Equal(t, int32(1), src.stopped.Load(), "a failed start is still stopped")
}

func TestAgent_StreamClosedStops(t *testing.T) {
	src := newFakeSource()
	ta := newTestAgent(t, src)

	drain(t, ta, src)

	assert.Equal(t, StateStopped, ta.stateMachine.State())
	assert.Equal(t, "message stream closed", ta.stateMachine.StateReason())
	assert.Equal(t, float64(1), gaugeValue(t, ta.metrics.PipelineState, "stopped"))
	assert.Equal(t, float64(0), gaugeValue(t, ta.metrics.PipelineState, "running"))
}

func TestAgent_Metrics(t *testing.T) {
	src := newFakeSource(
		collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 3, PowerW: u32(69)}},
		collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 3, PowerW: u32(70)}},
		collector.DeviceInfoMsg{Infos: []model.DeviceInfo{{Index: 3, UUID: "GPU-c", MemoryTotalMiB: 1024}}},
		collector.ComputeAppsMsg{Apps: []model.ComputeApp{{PID: 9, Name: "x", DeviceUUID: "GPU-c", UsedMemoryMiB: 64}}},
	)
	ta := newTestAgent(t, src)
	drain(t, ta, src)

	assert.Equal(t, float64(2), counterValue(t, ta.metrics.MessagesTotal, "device_sample"))
	assert.Equal(t, float64(1), counterValue(t, ta.metrics.MessagesTotal, "compute_apps"))
	assert.Equal(t, float64(70), gaugeValue(t, ta.metrics.DevicePowerWatts, "3"))
	assert.Equal(t, float64(2), gaugeValue(t, ta.metrics.HistoryLength, "3"))
	assert.Equal(t, float64(1024), gaugeValue(t, ta.metrics.DeviceMemoryTotalMiB, "3"))
	assert.Equal(t, float64(64), gaugeValue(t, ta.metrics.ProcessVRAMMiB, "3", "9", "x"))
	assert.Equal(t, float64(1), gaugeValue(t, ta.metrics.StoreItems, "compute_apps"))

	pb := &dto.Metric{}
	require.NoError(t, ta.metrics.SamplesTotal.Write(pb))
	assert.Equal(t, float64(2), pb.GetCounter().GetValue())
}

func TestAgent_BuildSnapshotCarriesHealth(t *testing.T) {
	src := newFakeSource(
		collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 0, SMUtil: u32(10)}},
		collector.ExitedMsg{Source: collector.SourcePmon},
	)
	ta := newTestAgent(t, src)
	drain(t, ta, src)

	snap := ta.BuildSnapshot(context.Background())
	require.Len(t, snap.Devices, 1)
	assert.Equal(t, "stopped", snap.Health.State)
	assert.Equal(t, "pmon exited", snap.Health.LatestError)
	assert.Equal(t, []string{"SOURCE_EXITED"}, snap.Health.ActiveErrors)
}

func TestAgent_SummaryTickDoesNotDisturbIngestion(t *testing.T) {
	src := newFakeSource(collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 0}})
	ta := newTestAgent(t, src)
	ta.config.SummaryInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ta.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	src.ch <- collector.DeviceSampleMsg{Sample: model.DeviceSample{Index: 0}}

	require.Eventually(t, func() bool {
		return ta.store.TotalSamples() == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestMessageKind(t *testing.T) {
	assert.Equal(t, "device_sample", messageKind(collector.DeviceSampleMsg{}))
	assert.Equal(t, "process_sample", messageKind(collector.ProcessSampleMsg{}))
	assert.Equal(t, "device_info", messageKind(collector.DeviceInfoMsg{}))
	assert.Equal(t, "compute_apps", messageKind(collector.ComputeAppsMsg{}))
	assert.Equal(t, "process_system_info", messageKind(collector.ProcessSystemInfoMsg{}))
	assert.Equal(t, "error", messageKind(collector.ErrorMsg{}))
	assert.Equal(t, "exited", messageKind(collector.ExitedMsg{}))
}
