package model

import "time"

// DeviceSample holds one device's instantaneous metrics from `nvidia-smi dmon`.
// Every metric is optional: nil means the sensor is unsupported or was reported
// as "-", which is distinct from a reading of zero.
type DeviceSample struct {
	Index       uint32  `json:"index"`
	PowerW      *uint32 `json:"power_w,omitempty"`
	GPUTempC    *uint32 `json:"gpu_temp_c,omitempty"`
	MemTempC    *uint32 `json:"mem_temp_c,omitempty"`
	SMUtil      *uint32 `json:"sm_util,omitempty"`
	MemUtil     *uint32 `json:"mem_util,omitempty"`
	EncUtil     *uint32 `json:"enc_util,omitempty"`
	DecUtil     *uint32 `json:"dec_util,omitempty"`
	JPGUtil     *uint32 `json:"jpg_util,omitempty"`
	OFAUtil     *uint32 `json:"ofa_util,omitempty"`
	MemClockMHz *uint32 `json:"mem_clock_mhz,omitempty"`
	GPUClockMHz *uint32 `json:"gpu_clock_mhz,omitempty"`
}

// TimestampedSample is a DeviceSample tagged with its arrival time.
type TimestampedSample struct {
	Sample    DeviceSample `json:"sample"`
	Timestamp time.Time    `json:"timestamp"`
}

// DeviceInfo holds static and slow-changing attributes from `nvidia-smi --query-gpu`.
// The index comes from the row position in the query output.
type DeviceInfo struct {
	Index          uint32 `json:"index"`
	Name           string `json:"name"`
	UUID           string `json:"uuid"`
	DriverVersion  string `json:"driver_version"`
	MemoryTotalMiB uint64 `json:"memory_total_mib"`
	MemoryUsedMiB  uint64 `json:"memory_used_mib"`
	MemoryFreeMiB  uint64 `json:"memory_free_mib"`

	PowerLimitW       *float64 `json:"power_limit_w,omitempty"`
	PowerDrawW        *float64 `json:"power_draw_w,omitempty"`
	TemperatureC      *uint32  `json:"temperature_c,omitempty"`
	TemperatureLimitC *uint32  `json:"temperature_limit_c,omitempty"`

	PCIeGenCurrent   *uint32 `json:"pcie_gen_current,omitempty"`
	PCIeGenMax       *uint32 `json:"pcie_gen_max,omitempty"`
	PCIeWidthCurrent *uint32 `json:"pcie_width_current,omitempty"`
	PCIeWidthMax     *uint32 `json:"pcie_width_max,omitempty"`

	FanSpeedPercent *uint32 `json:"fan_speed_percent,omitempty"`
	PState          string  `json:"pstate"`
}

// MemoryUsedPercent returns used/total memory as a percentage, or 0 when the
// total is unknown.
func (d DeviceInfo) MemoryUsedPercent() float64 {
	if d.MemoryTotalMiB == 0 {
		return 0
	}
	return float64(d.MemoryUsedMiB) / float64(d.MemoryTotalMiB) * 100
}
