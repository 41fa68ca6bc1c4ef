package model

// ProcessType tags a pmon row as compute or graphics.
type ProcessType string

// Process types reported by `nvidia-smi pmon`.
const (
	ProcessCompute  ProcessType = "C"
	ProcessGraphics ProcessType = "G"
)

// ProcessSample is one (device, pid) row from `nvidia-smi pmon`. Rows stop
// arriving when a process leaves the device, so holders must age them out.
type ProcessSample struct {
	DeviceIndex uint32      `json:"device_index"`
	PID         uint32      `json:"pid"`
	Type        ProcessType `json:"type"`
	SMUtil      *uint32     `json:"sm_util,omitempty"`
	MemUtil     *uint32     `json:"mem_util,omitempty"`
	EncUtil     *uint32     `json:"enc_util,omitempty"`
	DecUtil     *uint32     `json:"dec_util,omitempty"`
	Command     string      `json:"command"`
}

// ComputeApp is one (pid, device UUID) row from `nvidia-smi --query-compute-apps`.
type ComputeApp struct {
	PID           uint32 `json:"pid"`
	Name          string `json:"name"`
	DeviceUUID    string `json:"device_uuid"`
	UsedMemoryMiB uint64 `json:"used_memory_mib"`
}

// ProcessSystemInfo is one pid row of OS-level stats from `ps`.
type ProcessSystemInfo struct {
	PID        uint32  `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSKB      uint64  `json:"rss_kb"`
	Elapsed    string  `json:"elapsed"`
	Command    string  `json:"command,omitempty"`
}

// DeviceRef identifies the device an EnrichedProcess runs on. Resolved is
// false when the process's device UUID did not match any known device yet;
// Index is then 0 and must not be read as a real device.
type DeviceRef struct {
	Index    uint32 `json:"index"`
	Resolved bool   `json:"resolved"`
}

// EnrichedProcess joins a ComputeApp with the matching pmon sample and ps row.
// Fields from a source with no match stay nil/empty.
type EnrichedProcess struct {
	PID        uint32    `json:"pid"`
	Command    string    `json:"command"`
	Device     DeviceRef `json:"device"`
	VRAMMiB    uint64    `json:"vram_mib"`
	SMUtil     *uint32   `json:"sm_util,omitempty"`
	CPUPercent *float64  `json:"cpu_percent,omitempty"`
	RSSMB      *uint64   `json:"rss_mb,omitempty"`
	Elapsed    string    `json:"elapsed,omitempty"`
}
