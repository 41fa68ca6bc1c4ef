package store

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/kubeadapt/gpumon/internal/collector"
	"github.com/kubeadapt/gpumon/internal/enrichment"
	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// ProcessStaleAfter is how long a process-monitor entry survives without a
// refresh.
const ProcessStaleAfter = 5 * time.Second

// Point is one chart sample: X is the sample age in seconds as a negative
// number (most recent closest to zero), Y the metric value.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type processEntry struct {
	sample   model.ProcessSample
	lastSeen time.Time
}

// Store is the correlation store for one session. Apply is called by a single
// writer; every query is safe to call concurrently with it. Each collection
// has its own lock, so readers of one collection never wait on writes to
// another.
type Store struct {
	clock     errors.Clock
	capacity  int
	startTime time.Time
	pipeline  *enrichment.Pipeline

	histories   *TypedStore[uint32, *DeviceHistory]
	processes   *TypedStore[enrichment.ProcessKey, processEntry]
	deviceInfo  *TypedStore[uint32, model.DeviceInfo]
	systemInfo  *TypedStore[uint32, model.ProcessSystemInfo]
	computeApps atomic.Pointer[[]model.ComputeApp]
	topology    atomic.Pointer[model.DeviceTopology]

	totalSamples atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithPipeline sets the pipeline used by EnrichedProcesses.
func WithPipeline(p *enrichment.Pipeline) Option {
	return func(s *Store) { s.pipeline = p }
}

// New creates an empty Store keeping up to capacity samples per device.
func New(capacity int, clock errors.Clock, opts ...Option) *Store {
	s := &Store{
		clock:      clock,
		capacity:   max(capacity, 1),
		startTime:  clock.Now(),
		histories:  NewTypedStore[uint32, *DeviceHistory](),
		processes:  NewTypedStore[enrichment.ProcessKey, processEntry](),
		deviceInfo: NewTypedStore[uint32, model.DeviceInfo](),
		systemInfo: NewTypedStore[uint32, model.ProcessSystemInfo](),
	}
	for _, o := range opts {
		o(s)
	}
	if s.pipeline == nil {
		s.pipeline = enrichment.NewDefaultPipeline(nil)
	}
	empty := []model.ComputeApp{}
	s.computeApps.Store(&empty)
	return s
}

// Apply mutates the store with one message. Error and exit messages carry no
// store state and are ignored here.
func (s *Store) Apply(msg collector.Message) {
	switch m := msg.(type) {
	case collector.DeviceSampleMsg:
		s.AddDeviceSample(m.Sample)
	case collector.ProcessSampleMsg:
		s.AddProcessSample(m.Sample)
	case collector.DeviceInfoMsg:
		s.MergeDeviceInfo(m.Infos)
	case collector.ComputeAppsMsg:
		s.ReplaceComputeApps(m.Apps)
	case collector.ProcessSystemInfoMsg:
		s.ReplaceSystemInfo(m.Infos)
	}
}

// AddDeviceSample pushes a sample into its device history, creating the
// history on first sight of the index.
func (s *Store) AddDeviceSample(sample model.DeviceSample) {
	h := s.histories.GetOrCreate(sample.Index, func() *DeviceHistory {
		return NewDeviceHistory(s.capacity)
	})
	h.Push(model.TimestampedSample{Sample: sample, Timestamp: s.clock.Now()})
	s.histories.touch()
	s.totalSamples.Add(1)
}

// AddProcessSample upserts by (device, pid) and then drops every entry that
// has not been refreshed within ProcessStaleAfter.
func (s *Store) AddProcessSample(sample model.ProcessSample) {
	now := s.clock.Now()
	s.processes.Set(enrichment.ProcessKey{Device: sample.DeviceIndex, PID: sample.PID}, processEntry{
		sample:   sample,
		lastSeen: now,
	})
	s.processes.DeleteFunc(func(_ enrichment.ProcessKey, e processEntry) bool {
		return isStale(now, e.lastSeen)
	})
}

// MergeDeviceInfo overwrites the info of every device in infos and leaves
// other devices untouched.
func (s *Store) MergeDeviceInfo(infos []model.DeviceInfo) {
	for _, info := range infos {
		s.deviceInfo.Set(info.Index, info)
	}
}

// ReplaceComputeApps replaces the whole compute-app list.
func (s *Store) ReplaceComputeApps(apps []model.ComputeApp) {
	cp := make([]model.ComputeApp, len(apps))
	copy(cp, apps)
	s.computeApps.Store(&cp)
}

// ReplaceSystemInfo replaces the whole ps map.
func (s *Store) ReplaceSystemInfo(infos []model.ProcessSystemInfo) {
	m := make(map[uint32]model.ProcessSystemInfo, len(infos))
	for _, info := range infos {
		m[info.PID] = info
	}
	s.systemInfo.Replace(m)
}

// SetTopology records the start-up topology.
func (s *Store) SetTopology(t model.DeviceTopology) {
	s.topology.Store(&t)
}

// DeviceIndices returns every device index with at least one sample,
// ascending.
func (s *Store) DeviceIndices() []uint32 {
	out := s.histories.Keys()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// History returns the history of a device.
func (s *Store) History(idx uint32) (*DeviceHistory, bool) {
	return s.histories.Get(idx)
}

// Latest returns the newest sample of a device.
func (s *Store) Latest(idx uint32) (model.DeviceSample, bool) {
	h, ok := s.histories.Get(idx)
	if !ok {
		return model.DeviceSample{}, false
	}
	ts, ok := h.Latest()
	return ts.Sample, ok
}

// RecentValues returns the metric over the newest n samples of a device,
// oldest first. Samples where the metric is absent are skipped, so fewer
// than n values may come back.
func (s *Store) RecentValues(idx uint32, n int, metric Metric) []uint32 {
	h, ok := s.histories.Get(idx)
	if !ok || n <= 0 {
		return nil
	}
	recent := h.Recent(n)
	out := make([]uint32, 0, len(recent))
	for _, ts := range recent {
		if v := metric(ts.Sample); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// ChartSeries pairs every retained sample of a device with its age, oldest
// first, skipping samples where the metric is absent.
func (s *Store) ChartSeries(idx uint32, metric Metric) []Point {
	h, ok := s.histories.Get(idx)
	if !ok {
		return nil
	}
	now := s.clock.Now()
	samples := h.Samples()
	out := make([]Point, 0, len(samples))
	for _, ts := range samples {
		v := metric(ts.Sample)
		if v == nil {
			continue
		}
		out = append(out, Point{X: -now.Sub(ts.Timestamp).Seconds(), Y: float64(*v)})
	}
	return out
}

// TotalSamples returns how many device samples were ever applied.
func (s *Store) TotalSamples() uint64 { return s.totalSamples.Load() }

// StartTime returns when the store was created.
func (s *Store) StartTime() time.Time { return s.startTime }

// Uptime returns the time since the store was created.
func (s *Store) Uptime() time.Duration { return s.clock.Now().Sub(s.startTime) }

// EnrichedProcesses joins the current compute apps with device info, fresh
// process-monitor entries and ps stats.
func (s *Store) EnrichedProcesses() []model.EnrichedProcess {
	apps := *s.computeApps.Load()

	now := s.clock.Now()
	samples := make(map[enrichment.ProcessKey]model.ProcessSample)
	for k, e := range s.processes.Snapshot() {
		if !isStale(now, e.lastSeen) {
			samples[k] = e.sample
		}
	}

	return s.pipeline.Join(&enrichment.Sources{
		ComputeApps:    apps,
		DeviceInfo:     s.deviceInfo.Snapshot(),
		ProcessSamples: samples,
		SystemInfo:     s.systemInfo.Snapshot(),
	})
}

// Processes returns the fresh process-monitor samples sorted by device, then
// pid.
func (s *Store) Processes() []model.ProcessSample {
	now := s.clock.Now()
	var out []model.ProcessSample
	for _, e := range s.processes.Values() {
		if !isStale(now, e.lastSeen) {
			out = append(out, e.sample)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceIndex != out[j].DeviceIndex {
			return out[i].DeviceIndex < out[j].DeviceIndex
		}
		return out[i].PID < out[j].PID
	})
	return out
}

// ComputeApps returns a copy of the current compute-app list.
func (s *Store) ComputeApps() []model.ComputeApp {
	apps := *s.computeApps.Load()
	out := make([]model.ComputeApp, len(apps))
	copy(out, apps)
	return out
}

// SystemInfo returns the ps stats of a pid.
func (s *Store) SystemInfo(pid uint32) (model.ProcessSystemInfo, bool) {
	return s.systemInfo.Get(pid)
}

// DeviceInfo returns the static info of a device.
func (s *Store) DeviceInfo(idx uint32) (model.DeviceInfo, bool) {
	return s.deviceInfo.Get(idx)
}

// AllDeviceInfo returns every device's info sorted by index.
func (s *Store) AllDeviceInfo() []model.DeviceInfo {
	infos := s.deviceInfo.Values()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos
}

// Topology returns the start-up topology, if it was recorded.
func (s *Store) Topology() (model.DeviceTopology, bool) {
	t := s.topology.Load()
	if t == nil {
		return model.DeviceTopology{}, false
	}
	return *t, true
}

// ItemCounts returns the number of items in each collection.
// Implements part of health.StoreReader.
func (s *Store) ItemCounts() map[string]int {
	apps := len(*s.computeApps.Load())
	return map[string]int{
		"devices":      s.histories.Len(),
		"processes":    s.processes.Len(),
		"device_info":  s.deviceInfo.Len(),
		"compute_apps": apps,
		"system_info":  s.systemInfo.Len(),
	}
}

// LastUpdatedTimes returns the UnixMilli timestamp of the last update for each
// collection.
func (s *Store) LastUpdatedTimes() map[string]int64 {
	return map[string]int64{
		"devices":     s.histories.LastUpdated(),
		"processes":   s.processes.LastUpdated(),
		"device_info": s.deviceInfo.LastUpdated(),
		"system_info": s.systemInfo.LastUpdated(),
	}
}

func isStale(now, lastSeen time.Time) bool {
	return now.Sub(lastSeen) >= ProcessStaleAfter
}
