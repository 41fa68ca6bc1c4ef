package smi

import (
	"strings"

	"github.com/kubeadapt/gpumon/pkg/model"
)

// DeviceInfoFields is the --query-gpu field list. The column order here is the
// order ParseDeviceInfo expects.
var DeviceInfoFields = []string{
	"name",
	"uuid",
	"driver_version",
	"memory.total",
	"memory.used",
	"memory.free",
	"power.limit",
	"power.draw",
	"temperature.gpu",
	"temperature.gpu.tlimit",
	"pcie.link.gen.current",
	"pcie.link.gen.max",
	"pcie.link.width.current",
	"pcie.link.width.max",
	"fan.speed",
	"pstate",
}

// ComputeAppFields is the --query-compute-apps field list.
var ComputeAppFields = []string{"pid", "process_name", "gpu_uuid", "used_memory"}

const (
	computeAppHeaderPrefix = "pid"
	unitMiB                = "MiB"
)

// ParseDeviceInfo parses one row of
// `nvidia-smi --query-gpu=<DeviceInfoFields> --format=csv,noheader,nounits`.
// nvidia-smi prints one row per device in index order, so the caller supplies
// the index from the row position.
func ParseDeviceInfo(line string, index uint32) (model.DeviceInfo, bool) {
	if strings.TrimSpace(line) == "" {
		return model.DeviceInfo{}, false
	}
	parts := splitCSV(line)
	if len(parts) < len(DeviceInfoFields) {
		return model.DeviceInfo{}, false
	}

	return model.DeviceInfo{
		Index:             index,
		Name:              parts[0],
		UUID:              parts[1],
		DriverVersion:     parts[2],
		MemoryTotalMiB:    uint64OrZero(stripUnit(parts[3], unitMiB)),
		MemoryUsedMiB:     uint64OrZero(stripUnit(parts[4], unitMiB)),
		MemoryFreeMiB:     uint64OrZero(stripUnit(parts[5], unitMiB)),
		PowerLimitW:       optionalFloat64(stripUnit(parts[6], "W")),
		PowerDrawW:        optionalFloat64(stripUnit(parts[7], "W")),
		TemperatureC:      optionalUint32(parts[8]),
		TemperatureLimitC: optionalUint32(parts[9]),
		PCIeGenCurrent:    optionalUint32(parts[10]),
		PCIeGenMax:        optionalUint32(parts[11]),
		PCIeWidthCurrent:  optionalUint32(parts[12]),
		PCIeWidthMax:      optionalUint32(parts[13]),
		FanSpeedPercent:   optionalUint32(stripUnit(parts[14], "%")),
		PState:            parts[15],
	}, true
}

// ParseDeviceInfoOutput parses the complete --query-gpu output. Row position
// supplies the device index, so unparseable rows still consume an index.
func ParseDeviceInfoOutput(output string) []model.DeviceInfo {
	var infos []model.DeviceInfo
	for i, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if info, ok := ParseDeviceInfo(line, uint32(i)); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// ParseComputeApp parses one row of
// `nvidia-smi --query-compute-apps=pid,process_name,gpu_uuid,used_memory --format=csv`.
// The used_memory cell may carry a "MiB" suffix; "[N/A]" counts as zero.
func ParseComputeApp(line string) (model.ComputeApp, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, computeAppHeaderPrefix) {
		return model.ComputeApp{}, false
	}

	parts := splitCSV(line)
	if len(parts) < len(ComputeAppFields) {
		return model.ComputeApp{}, false
	}

	pid, ok := requiredUint32(parts[0])
	if !ok {
		return model.ComputeApp{}, false
	}

	return model.ComputeApp{
		PID:           pid,
		Name:          parts[1],
		DeviceUUID:    parts[2],
		UsedMemoryMiB: uint64OrZero(stripUnit(parts[3], unitMiB)),
	}, true
}

// ParseComputeAppsOutput parses the complete --query-compute-apps output,
// skipping the header row.
func ParseComputeAppsOutput(output string) []model.ComputeApp {
	var apps []model.ComputeApp
	for _, line := range strings.Split(output, "\n") {
		if app, ok := ParseComputeApp(line); ok {
			apps = append(apps, app)
		}
	}
	return apps
}

// UniquePIDs returns the distinct pids of apps in first-seen order.
func UniquePIDs(apps []model.ComputeApp) []uint32 {
	seen := make(map[uint32]struct{}, len(apps))
	pids := make([]uint32, 0, len(apps))
	for _, a := range apps {
		if _, ok := seen[a.PID]; ok {
			continue
		}
		seen[a.PID] = struct{}{}
		pids = append(pids, a.PID)
	}
	return pids
}
