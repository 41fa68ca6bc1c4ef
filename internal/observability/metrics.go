package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/gpumon/pkg/model"
)

// Metrics holds all Prometheus metrics, both pipeline self-monitoring and the
// per-device gauges mirrored from the latest samples.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Ingestion metrics
	MessagesTotal     *prometheus.CounterVec
	LinesSkippedTotal *prometheus.CounterVec
	SourceExitsTotal  *prometheus.CounterVec
	ChannelDepth      prometheus.Gauge

	// One-shot query metrics
	QueryDuration      *prometheus.HistogramVec
	QueryFailuresTotal *prometheus.CounterVec

	// Store metrics
	StoreItems    *prometheus.GaugeVec
	SamplesTotal  prometheus.Counter
	HistoryLength *prometheus.GaugeVec

	// Enrichment metrics
	EnricherDuration *prometheus.HistogramVec

	// Snapshot metrics
	SnapshotBuildDuration prometheus.Histogram

	// State metrics
	PipelineState *prometheus.GaugeVec

	// Runtime metrics
	MemoryUsageRatio prometheus.Gauge

	// Compression metrics
	CompressionRatio    prometheus.Gauge
	CompressionDuration prometheus.Histogram

	// Device gauges
	DevicePowerWatts     *prometheus.GaugeVec
	DeviceTemperature    *prometheus.GaugeVec
	DeviceUtilization    *prometheus.GaugeVec
	DeviceClockMHz       *prometheus.GaugeVec
	DeviceMemoryUsedMiB  *prometheus.GaugeVec
	DeviceMemoryTotalMiB *prometheus.GaugeVec
	ProcessVRAMMiB       *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	queryBuckets := []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5}

	m := &Metrics{
		Registry: reg,

		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumon_messages_total",
			Help: "Total number of pipeline messages applied, by kind.",
		}, []string{"kind"}),
		LinesSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumon_lines_skipped_total",
			Help: "Total number of streamed lines that were not data records.",
		}, []string{"source"}),
		SourceExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumon_source_terminations_total",
			Help: "Total number of streaming source terminations.",
		}, []string{"source", "reason"}),
		ChannelDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpumon_channel_depth",
			Help: "Messages waiting in the merged channel.",
		}),

		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpumon_query_duration_seconds",
			Help:    "Duration of successful one-shot queries in seconds.",
			Buckets: queryBuckets,
		}, []string{"query"}),
		QueryFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumon_query_failures_total",
			Help: "Total number of failed one-shot queries.",
		}, []string{"query"}),

		StoreItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_store_items",
			Help: "Current number of items in the store.",
		}, []string{"resource"}),
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpumon_device_samples_total",
			Help: "Total number of device samples recorded.",
		}),
		HistoryLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_history_length",
			Help: "Samples currently retained per device.",
		}, []string{"device"}),

		EnricherDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpumon_enricher_duration_seconds",
			Help:    "Duration of enricher operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"enricher"}),

		SnapshotBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpumon_snapshot_build_duration_seconds",
			Help:    "Duration of snapshot build operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		PipelineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_state",
			Help: "Current pipeline state (1 = active, 0 = inactive).",
		}, []string{"state"}),

		MemoryUsageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpumon_memory_usage_ratio",
			Help: "Process memory in use relative to GOMEMLIMIT (0 when no limit is set).",
		}),

		CompressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpumon_compression_ratio",
			Help: "Compression ratio of the last compressed debug response (compressed/original).",
		}),
		CompressionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpumon_compression_duration_seconds",
			Help:    "Duration of compression operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		DevicePowerWatts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_device_power_watts",
			Help: "Latest device power draw in watts.",
		}, []string{"device"}),
		DeviceTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_device_temperature_celsius",
			Help: "Latest device temperature in degrees Celsius.",
		}, []string{"device", "sensor"}),
		DeviceUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_device_utilization_percent",
			Help: "Latest device engine utilization in percent.",
		}, []string{"device", "engine"}),
		DeviceClockMHz: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_device_clock_mhz",
			Help: "Latest device clock in MHz.",
		}, []string{"device", "clock"}),
		DeviceMemoryUsedMiB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_device_memory_used_mib",
			Help: "Device memory in use in MiB.",
		}, []string{"device"}),
		DeviceMemoryTotalMiB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_device_memory_total_mib",
			Help: "Device memory capacity in MiB.",
		}, []string{"device"}),
		ProcessVRAMMiB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumon_process_vram_mib",
			Help: "Device memory allocated per compute process in MiB.",
		}, []string{"device", "pid", "command"}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.MessagesTotal,
		m.LinesSkippedTotal,
		m.SourceExitsTotal,
		m.ChannelDepth,
		m.QueryDuration,
		m.QueryFailuresTotal,
		m.StoreItems,
		m.SamplesTotal,
		m.HistoryLength,
		m.EnricherDuration,
		m.SnapshotBuildDuration,
		m.PipelineState,
		m.MemoryUsageRatio,
		m.CompressionRatio,
		m.CompressionDuration,
		m.DevicePowerWatts,
		m.DeviceTemperature,
		m.DeviceUtilization,
		m.DeviceClockMHz,
		m.DeviceMemoryUsedMiB,
		m.DeviceMemoryTotalMiB,
		m.ProcessVRAMMiB,
	)

	return m
}

// RecordDeviceSample mirrors a device sample into the device gauges. Absent
// fields remove the corresponding series instead of reporting zero.
func (m *Metrics) RecordDeviceSample(s model.DeviceSample) {
	dev := strconv.FormatUint(uint64(s.Index), 10)

	setOrDelete(m.DevicePowerWatts, s.PowerW, dev)
	setOrDelete(m.DeviceTemperature, s.GPUTempC, dev, "gpu")
	setOrDelete(m.DeviceTemperature, s.MemTempC, dev, "memory")
	setOrDelete(m.DeviceUtilization, s.SMUtil, dev, "sm")
	setOrDelete(m.DeviceUtilization, s.MemUtil, dev, "memory")
	setOrDelete(m.DeviceUtilization, s.EncUtil, dev, "encoder")
	setOrDelete(m.DeviceUtilization, s.DecUtil, dev, "decoder")
	setOrDelete(m.DeviceUtilization, s.JPGUtil, dev, "jpeg")
	setOrDelete(m.DeviceUtilization, s.OFAUtil, dev, "ofa")
	setOrDelete(m.DeviceClockMHz, s.MemClockMHz, dev, "memory")
	setOrDelete(m.DeviceClockMHz, s.GPUClockMHz, dev, "graphics")
}

// RecordDeviceInfo mirrors the memory totals of a device-info batch.
func (m *Metrics) RecordDeviceInfo(infos []model.DeviceInfo) {
	for _, info := range infos {
		dev := strconv.FormatUint(uint64(info.Index), 10)
		m.DeviceMemoryUsedMiB.WithLabelValues(dev).Set(float64(info.MemoryUsedMiB))
		m.DeviceMemoryTotalMiB.WithLabelValues(dev).Set(float64(info.MemoryTotalMiB))
	}
}

// RecordProcesses replaces the per-process VRAM series with rows. Rows whose
// device could not be resolved are reported under device "unknown".
func (m *Metrics) RecordProcesses(rows []model.EnrichedProcess) {
	m.ProcessVRAMMiB.Reset()
	for _, p := range rows {
		dev := "unknown"
		if p.Device.Resolved {
			dev = strconv.FormatUint(uint64(p.Device.Index), 10)
		}
		m.ProcessVRAMMiB.WithLabelValues(dev, strconv.FormatUint(uint64(p.PID), 10), p.Command).Add(float64(p.VRAMMiB))
	}
}

func setOrDelete(vec *prometheus.GaugeVec, v *uint32, labels ...string) {
	if v == nil {
		vec.DeleteLabelValues(labels...)
		return
	}
	vec.WithLabelValues(labels...).Set(float64(*v))
}
