package enrichment

import "github.com/kubeadapt/gpumon/pkg/model"

// ProcessKey identifies a process-monitor entry.
type ProcessKey struct {
	Device uint32
	PID    uint32
}

// Sources is the read-only input of a join. The maps are owned by the caller
// and must not be modified while a join runs.
type Sources struct {
	ComputeApps    []model.ComputeApp
	DeviceInfo     map[uint32]model.DeviceInfo
	ProcessSamples map[ProcessKey]model.ProcessSample
	SystemInfo     map[uint32]model.ProcessSystemInfo
}

// uuidIndex maps device UUIDs to indices from the current device info.
func (s *Sources) uuidIndex() map[string]uint32 {
	m := make(map[string]uint32, len(s.DeviceInfo))
	for idx, info := range s.DeviceInfo {
		m[info.UUID] = idx
	}
	return m
}
