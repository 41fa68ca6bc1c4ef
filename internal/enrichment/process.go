package enrichment

import "github.com/kubeadapt/gpumon/pkg/model"

// kibPerMiB converts ps RSS (KiB) to MB as displayed.
const kibPerMiB = 1024

// DeviceResolver resolves each compute app's device UUID to a device index
// using the current device info. Apps whose UUID is not known stay unresolved
// rather than being attributed to some device.
type DeviceResolver struct{}

// NewDeviceResolver creates a DeviceResolver.
func NewDeviceResolver() *DeviceResolver { return &DeviceResolver{} }

// Name returns the enricher name.
func (d *DeviceResolver) Name() string { return "device" }

// Enrich sets Device on every row.
func (d *DeviceResolver) Enrich(rows []model.EnrichedProcess, src *Sources) error {
	byUUID := src.uuidIndex()
	for i := range rows {
		idx, ok := byUUID[src.ComputeApps[i].DeviceUUID]
		rows[i].Device = model.DeviceRef{Index: idx, Resolved: ok}
	}
	return nil
}

// ProcessMonitorEnricher attaches the instantaneous SM utilization from the
// process-monitor entry with the same (device, pid).
type ProcessMonitorEnricher struct{}

// NewProcessMonitorEnricher creates a ProcessMonitorEnricher.
func NewProcessMonitorEnricher() *ProcessMonitorEnricher { return &ProcessMonitorEnricher{} }

// Name returns the enricher name.
func (p *ProcessMonitorEnricher) Name() string { return "pmon" }

// Enrich sets SMUtil on resolved rows.
func (p *ProcessMonitorEnricher) Enrich(rows []model.EnrichedProcess, src *Sources) error {
	for i := range rows {
		if !rows[i].Device.Resolved {
			continue
		}
		sample, ok := src.ProcessSamples[ProcessKey{Device: rows[i].Device.Index, PID: rows[i].PID}]
		if !ok {
			continue
		}
		rows[i].SMUtil = sample.SMUtil
	}
	return nil
}

// SystemInfoEnricher attaches ps CPU, RSS and elapsed time by pid.
type SystemInfoEnricher struct{}

// NewSystemInfoEnricher creates a SystemInfoEnricher.
func NewSystemInfoEnricher() *SystemInfoEnricher { return &SystemInfoEnricher{} }

// Name returns the enricher name.
func (s *SystemInfoEnricher) Name() string { return "ps" }

// Enrich sets CPUPercent, RSSMB and Elapsed where ps reported the pid.
func (s *SystemInfoEnricher) Enrich(rows []model.EnrichedProcess, src *Sources) error {
	for i := range rows {
		info, ok := src.SystemInfo[rows[i].PID]
		if !ok {
			continue
		}
		cpu := info.CPUPercent
		rss := info.RSSKB / kibPerMiB
		rows[i].CPUPercent = &cpu
		rows[i].RSSMB = &rss
		rows[i].Elapsed = info.Elapsed
	}
	return nil
}
