package model

// Snapshot is a point-in-time read of the correlation store, built on demand
// for the debug endpoints and the periodic log summary.
type Snapshot struct {
	SnapshotID string `json:"snapshot_id"`
	SessionID  string `json:"session_id"`
	Timestamp  int64  `json:"timestamp"`

	StartedAt     int64   `json:"started_at"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	TotalSamples  uint64  `json:"total_samples"`

	Devices   []DeviceView      `json:"devices"`
	Processes []EnrichedProcess `json:"processes"`
	Topology  *DeviceTopology   `json:"topology,omitempty"`

	Summary Summary        `json:"summary"`
	Health  PipelineHealth `json:"health"`
}

// DeviceView combines the latest dmon sample of a device with its static info.
// Either side may be missing early in a session.
type DeviceView struct {
	Index         uint32        `json:"index"`
	Latest        *DeviceSample `json:"latest,omitempty"`
	Info          *DeviceInfo   `json:"info,omitempty"`
	HistoryLength int           `json:"history_length"`
}

// Summary holds totals computed across devices and processes.
type Summary struct {
	DeviceCount         int      `json:"device_count"`
	ProcessCount        int      `json:"process_count"`
	UnresolvedProcesses int      `json:"unresolved_processes"`
	TotalPowerW         *uint64  `json:"total_power_w,omitempty"`
	AvgSMUtilPercent    *float64 `json:"avg_sm_util_percent,omitempty"`
	MaxGPUTempC         *uint32  `json:"max_gpu_temp_c,omitempty"`
	TotalMemoryUsedMiB  uint64   `json:"total_memory_used_mib"`
	TotalMemoryTotalMiB uint64   `json:"total_memory_total_mib"`
	TotalProcessVRAMMiB uint64   `json:"total_process_vram_mib"`
}

// PipelineHealth reports the pipeline's lifecycle state and error slot.
type PipelineHealth struct {
	State        string   `json:"state"`
	StateReason  string   `json:"state_reason,omitempty"`
	LatestError  string   `json:"latest_error,omitempty"`
	ActiveErrors []string `json:"active_errors,omitempty"`

	// StaleCollections names store collections that stopped receiving
	// updates while the pipeline is running.
	StaleCollections []string `json:"stale_collections,omitempty"`
}
