package enrichment

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kubeadapt/gpumon/internal/observability"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// Enricher fills in part of every EnrichedProcess row from the sources.
type Enricher interface {
	Name() string
	Enrich(rows []model.EnrichedProcess, src *Sources) error
}

// Pipeline joins the compute-app list with the other process sources by
// running a sequence of enrichers over one row per compute app.
type Pipeline struct {
	enrichers []Enricher
	metrics   *observability.Metrics
}

// NewPipeline creates a pipeline that runs the given enrichers in order.
// metrics may be nil.
func NewPipeline(metrics *observability.Metrics, enrichers ...Enricher) *Pipeline {
	return &Pipeline{
		enrichers: enrichers,
		metrics:   metrics,
	}
}

// NewDefaultPipeline returns the standard join: resolve the device, then
// attach process-monitor and OS process stats.
func NewDefaultPipeline(metrics *observability.Metrics) *Pipeline {
	return NewPipeline(metrics,
		NewDeviceResolver(),
		NewProcessMonitorEnricher(),
		NewSystemInfoEnricher(),
	)
}

// Join builds one row per compute app, runs every enricher in order and
// returns the rows sorted by device index ascending, then VRAM descending.
// If an enricher fails it logs a warning and continues with the rest.
func (p *Pipeline) Join(src *Sources) []model.EnrichedProcess {
	rows := make([]model.EnrichedProcess, len(src.ComputeApps))
	for i, app := range src.ComputeApps {
		rows[i] = model.EnrichedProcess{
			PID:     app.PID,
			Command: commandName(app.Name),
			VRAMMiB: app.UsedMemoryMiB,
		}
	}

	for _, e := range p.enrichers {
		start := time.Now()
		if err := e.Enrich(rows, src); err != nil {
			slog.Warn("enricher failed", "enricher", e.Name(), "error", err)
		}
		if p.metrics != nil {
			p.metrics.EnricherDuration.WithLabelValues(e.Name()).Observe(time.Since(start).Seconds())
		}
	}

	SortProcesses(rows)
	return rows
}

// SortProcesses orders rows by device index ascending, then VRAM descending.
// Unresolved rows sort after every resolved device.
func SortProcesses(rows []model.EnrichedProcess) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Device, rows[j].Device
		if a.Resolved != b.Resolved {
			return a.Resolved
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return rows[i].VRAMMiB > rows[j].VRAMMiB
	})
}

// commandName returns the last path element of a process name.
func commandName(name string) string {
	return name[strings.LastIndexByte(name, '/')+1:]
}
