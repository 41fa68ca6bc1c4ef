package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kubeadapt/gpumon/pkg/model"
)

func u32(v uint32) *uint32 { return &v }

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	pb := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return pb.GetGauge().GetValue()
}

func seriesCount(t *testing.T, m *Metrics, family string) int {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == family {
			return len(f.GetMetric())
		}
	}
	return 0
}

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}

	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry, should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()

	// Touch every vec so it shows up in Gather.
	m.MessagesTotal.WithLabelValues("device_sample").Inc()
	m.LinesSkippedTotal.WithLabelValues("dmon").Inc()
	m.SourceExitsTotal.WithLabelValues("pmon", "exited").Inc()
	m.QueryDuration.WithLabelValues("ps").Observe(0.01)
	m.QueryFailuresTotal.WithLabelValues("ps").Inc()
	m.StoreItems.WithLabelValues("devices").Set(1)
	m.HistoryLength.WithLabelValues("0").Set(1)
	m.EnricherDuration.WithLabelValues("device").Observe(0.001)
	m.PipelineState.WithLabelValues("running").Set(1)
	m.RecordDeviceSample(model.DeviceSample{Index: 0, PowerW: u32(1), GPUTempC: u32(1), SMUtil: u32(1), GPUClockMHz: u32(1)})
	m.RecordDeviceInfo([]model.DeviceInfo{{Index: 0}})
	m.RecordProcesses([]model.EnrichedProcess{{PID: 1}})

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) < 20 {
		t.Fatalf("expected at least 20 families, got %d", len(families))
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "gpumon_") {
			t.Errorf("metric %q does not start with gpumon_ prefix", f.GetName())
		}
	}
}

func TestNewMetrics_CounterIncrement(t *testing.T) {
	m := NewMetrics()

	m.SamplesTotal.Inc()
	pb := &dto.Metric{}
	if err := m.SamplesTotal.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("SamplesTotal = %v, want 1", got)
	}

	m.MessagesTotal.WithLabelValues("device_sample").Inc()
	m.MessagesTotal.WithLabelValues("device_sample").Inc()
	m.MessagesTotal.WithLabelValues("error").Inc()

	pb = &dto.Metric{}
	if err := m.MessagesTotal.WithLabelValues("device_sample").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("MessagesTotal(device_sample) = %v, want 2", got)
	}
}

func TestNewMetrics_HistogramObserve(t *testing.T) {
	m := NewMetrics()

	m.SnapshotBuildDuration.Observe(0.5)
	m.SnapshotBuildDuration.Observe(1.5)

	pb := &dto.Metric{}
	if err := m.SnapshotBuildDuration.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("SnapshotBuildDuration sample count = %v, want 2", got)
	}

	m.QueryDuration.WithLabelValues("device-info").Observe(0.2)
	pb = &dto.Metric{}
	if err := m.QueryDuration.WithLabelValues("device-info").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("QueryDuration(device-info) sample count = %v, want 1", got)
	}
}

func TestRecordDeviceSample(t *testing.T) {
	m := NewMetrics()

	m.RecordDeviceSample(model.DeviceSample{
		Index:       1,
		PowerW:      u32(69),
		GPUTempC:    u32(38),
		MemTempC:    u32(40),
		SMUtil:      u32(100),
		GPUClockMHz: u32(1531),
	})

	if got := gaugeValue(t, m.DevicePowerWatts, "1"); got != 69 {
		t.Errorf("power = %v, want 69", got)
	}
	if got := gaugeValue(t, m.DeviceTemperature, "1", "memory"); got != 40 {
		t.Errorf("mem temp = %v, want 40", got)
	}
	if got := gaugeValue(t, m.DeviceUtilization, "1", "sm"); got != 100 {
		t.Errorf("sm util = %v, want 100", got)
	}
	if got := gaugeValue(t, m.DeviceClockMHz, "1", "graphics"); got != 1531 {
		t.Errorf("gpu clock = %v, want 1531", got)
	}
	if n := seriesCount(t, m, "gpumon_device_temperature_celsius"); n != 2 {
		t.Fatalf("expected 2 temperature series, got %d", n)
	}

	// The memory sensor stops reporting: its series goes away instead of reading 0.
	m.RecordDeviceSample(model.DeviceSample{Index: 1, GPUTempC: u32(39)})
	if n := seriesCount(t, m, "gpumon_device_temperature_celsius"); n != 1 {
		t.Fatalf("expected 1 temperature series after absent reading, got %d", n)
	}
	if n := seriesCount(t, m, "gpumon_device_power_watts"); n != 0 {
		t.Fatalf("expected power series removed, got %d", n)
	}
}

func TestRecordDeviceInfo(t *testing.T) {
	m := NewMetrics()

	m.RecordDeviceInfo([]model.DeviceInfo{
		{Index: 0, MemoryUsedMiB: 1024, MemoryTotalMiB: 81920},
		{Index: 1, MemoryUsedMiB: 0, MemoryTotalMiB: 81920},
	})

	if got := gaugeValue(t, m.DeviceMemoryUsedMiB, "0"); got != 1024 {
		t.Errorf("used = %v, want 1024", got)
	}
	if got := gaugeValue(t, m.DeviceMemoryTotalMiB, "1"); got != 81920 {
		t.Errorf("total = %v, want 81920", got)
	}
}

func TestRecordProcesses(t *testing.T) {
	m := NewMetrics()

	m.RecordProcesses([]model.EnrichedProcess{
		{PID: 100, Command: "python3", Device: model.DeviceRef{Index: 1, Resolved: true}, VRAMMiB: 512},
		{PID: 200, Command: "trainer", VRAMMiB: 64},
	})

	if got := gaugeValue(t, m.ProcessVRAMMiB, "1", "100", "python3"); got != 512 {
		t.Errorf("vram(100) = %v, want 512", got)
	}
	if got := gaugeValue(t, m.ProcessVRAMMiB, "unknown", "200", "trainer"); got != 64 {
		t.Errorf("vram(200) = %v, want 64", got)
	}

	// A later call replaces the set: exited processes disappear.
	m.RecordProcesses([]model.EnrichedProcess{
		{PID: 100, Command: "python3", Device: model.DeviceRef{Index: 1, Resolved: true}, VRAMMiB: 1024},
	})
	if n := seriesCount(t, m, "gpumon_process_vram_mib"); n != 1 {
		t.Fatalf("expected 1 process series, got %d", n)
	}
	if got := gaugeValue(t, m.ProcessVRAMMiB, "1", "100", "python3"); got != 1024 {
		t.Errorf("vram(100) = %v, want 1024", got)
	}
}

func TestNewMetrics_NoDuplicateRegistrationPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("creating Metrics twice panicked: %v", r)
		}
	}()

	_ = NewMetrics()
	_ = NewMetrics()
}
