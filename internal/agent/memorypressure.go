package agent

import (
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MemStatsProvider abstracts runtime.MemStats reading for testability.
type MemStatsProvider interface {
	ReadMemStats(m *runtime.MemStats)
}

type runtimeMemStatsProvider struct{}

func (runtimeMemStatsProvider) ReadMemStats(m *runtime.MemStats) {
	runtime.ReadMemStats(m)
}

// MonitorOption configures a MemoryPressureMonitor.
type MonitorOption func(*MemoryPressureMonitor)

// WithUsageGauge publishes every sampled usage ratio to g.
func WithUsageGauge(g prometheus.Gauge) MonitorOption {
	return func(m *MemoryPressureMonitor) { m.gauge = g }
}

// WithCooldown suppresses the callback for d after it fired. Ticks during
// the cooldown still sample and publish the ratio.
func WithCooldown(d time.Duration) MonitorOption {
	return func(m *MemoryPressureMonitor) { m.cooldown = d }
}

// MemoryPressureMonitor samples process memory against GOMEMLIMIT (set from
// the cgroup limit by automemlimit) and calls back with the usage ratio when
// it exceeds threshold.
type MemoryPressureMonitor struct {
	threshold float64
	callback  func(ratio float64)
	interval  time.Duration
	cooldown  time.Duration
	provider  MemStatsProvider
	gauge     prometheus.Gauge

	lastFired time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMemoryPressureMonitor creates a monitor polling every interval. A nil
// provider reads the real runtime stats.
func NewMemoryPressureMonitor(threshold float64, callback func(ratio float64), interval time.Duration, provider MemStatsProvider, opts ...MonitorOption) *MemoryPressureMonitor {
	if provider == nil {
		provider = runtimeMemStatsProvider{}
	}
	m := &MemoryPressureMonitor{
		threshold: threshold,
		callback:  callback,
		interval:  interval,
		provider:  provider,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins polling in a background goroutine.
func (m *MemoryPressureMonitor) Start() {
	if m.started.CompareAndSwap(false, true) {
		go m.run()
	}
}

func (m *MemoryPressureMonitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.tick(now)
		}
	}
}

func (m *MemoryPressureMonitor) tick(now time.Time) {
	ratio, over := m.check()
	if m.gauge != nil {
		m.gauge.Set(ratio)
	}
	if !over {
		return
	}
	if m.cooldown > 0 && !m.lastFired.IsZero() && now.Sub(m.lastFired) < m.cooldown {
		slog.Debug("memory pressure persists, callback cooling down", "usage_ratio", ratio)
		return
	}
	slog.Warn("memory pressure detected", "usage_ratio", ratio, "threshold", m.threshold)
	m.lastFired = now
	m.callback(ratio)
}

// check returns usage over GOMEMLIMIT and whether it exceeds the threshold.
// The ratio is 0 when no limit is set.
func (m *MemoryPressureMonitor) check() (float64, bool) {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0, false
	}

	var stats runtime.MemStats
	m.provider.ReadMemStats(&stats)

	ratio := float64(stats.Sys-stats.HeapReleased) / float64(limit)
	return ratio, ratio > m.threshold
}

// Stop halts polling and waits for the goroutine to exit. It may be called
// more than once, and before Start.
func (m *MemoryPressureMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	if m.started.Load() {
		<-m.doneCh
	}
}
