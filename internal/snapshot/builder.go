package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kubeadapt/gpumon/internal/config"
	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/internal/observability"
	"github.com/kubeadapt/gpumon/internal/store"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// staleFactor is how many query intervals a collection may go without an
// update before it is reported stale.
const staleFactor = 3

// Builder reads the correlation store and returns a complete point-in-time
// Snapshot.
type Builder struct {
	store          *store.Store
	config         *config.Config
	metrics        *observability.Metrics
	errorCollector *errors.ErrorCollector
	clock          errors.Clock
}

// NewBuilder creates a Builder with all required dependencies.
func NewBuilder(
	st *store.Store,
	cfg *config.Config,
	metrics *observability.Metrics,
	errCollector *errors.ErrorCollector,
	clock errors.Clock,
) *Builder {
	return &Builder{
		store:          st,
		config:         cfg,
		metrics:        metrics,
		errorCollector: errCollector,
		clock:          clock,
	}
}

// Build reads the store, computes the summary, and stamps the snapshot with
// the given pipeline health plus the collector's active error codes.
func (b *Builder) Build(_ context.Context, health model.PipelineHealth) *model.Snapshot {
	start := time.Now()
	now := b.clock.Now()

	snap := &model.Snapshot{
		SnapshotID:    uuid.New().String(),
		SessionID:     b.config.SessionID,
		Timestamp:     now.UnixMilli(),
		StartedAt:     b.store.StartTime().UnixMilli(),
		UptimeSeconds: b.store.Uptime().Seconds(),
		TotalSamples:  b.store.TotalSamples(),
	}

	// Devices and the process join read independent collections.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); snap.Devices = b.deviceViews() }()
	go func() { defer wg.Done(); snap.Processes = b.store.EnrichedProcesses() }()
	wg.Wait()

	if topo, ok := b.store.Topology(); ok {
		snap.Topology = &topo
	}

	snap.Summary = ComputeSummary(snap)

	snap.Health = health
	if b.errorCollector != nil {
		snap.Health.ActiveErrors = b.errorCollector.GetActiveErrorCodes()
	}
	snap.Health.StaleCollections = b.staleCollections(time.Now())

	if b.metrics != nil {
		b.metrics.SnapshotBuildDuration.Observe(time.Since(start).Seconds())
	}

	return snap
}

// deviceViews merges every device seen by dmon or the device-info query,
// sorted by index.
func (b *Builder) deviceViews() []model.DeviceView {
	views := make(map[uint32]*model.DeviceView)
	view := func(idx uint32) *model.DeviceView {
		v, ok := views[idx]
		if !ok {
			v = &model.DeviceView{Index: idx}
			views[idx] = v
		}
		return v
	}

	for _, idx := range b.store.DeviceIndices() {
		v := view(idx)
		if latest, ok := b.store.Latest(idx); ok {
			v.Latest = &latest
		}
		if h, ok := b.store.History(idx); ok {
			v.HistoryLength = h.Len()
		}
	}
	for _, info := range b.store.AllDeviceInfo() {
		view(info.Index).Info = &info
	}

	out := make([]model.DeviceView, 0, len(views))
	for _, v := range views {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// staleCollections lists non-empty collections whose last update is older
// than staleFactor query intervals. Update times are wall-clock.
func (b *Builder) staleCollections(now time.Time) []string {
	threshold := staleFactor * b.config.QueryInterval
	if threshold <= 0 {
		return nil
	}

	counts := b.store.ItemCounts()
	var stale []string
	for collection, lastUpdated := range b.store.LastUpdatedTimes() {
		// pmon only reports devices that run processes, so silence there
		// is normal.
		if collection == "processes" || counts[collection] == 0 {
			continue
		}
		if now.Sub(time.UnixMilli(lastUpdated)) > threshold {
			stale = append(stale, collection)
		}
	}
	sort.Strings(stale)
	return stale
}
