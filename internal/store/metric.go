package store

import (
	"sort"

	"github.com/kubeadapt/gpumon/pkg/model"
)

// Metric selects one field of a device sample. A nil result means the field
// was absent in that sample.
type Metric func(model.DeviceSample) *uint32

// Named metric selectors.
var (
	MetricPower       Metric = func(s model.DeviceSample) *uint32 { return s.PowerW }
	MetricGPUTemp     Metric = func(s model.DeviceSample) *uint32 { return s.GPUTempC }
	MetricMemTemp     Metric = func(s model.DeviceSample) *uint32 { return s.MemTempC }
	MetricSMUtil      Metric = func(s model.DeviceSample) *uint32 { return s.SMUtil }
	MetricMemUtil     Metric = func(s model.DeviceSample) *uint32 { return s.MemUtil }
	MetricEncUtil     Metric = func(s model.DeviceSample) *uint32 { return s.EncUtil }
	MetricDecUtil     Metric = func(s model.DeviceSample) *uint32 { return s.DecUtil }
	MetricJPGUtil     Metric = func(s model.DeviceSample) *uint32 { return s.JPGUtil }
	MetricOFAUtil     Metric = func(s model.DeviceSample) *uint32 { return s.OFAUtil }
	MetricMemClockMHz Metric = func(s model.DeviceSample) *uint32 { return s.MemClockMHz }
	MetricGPUClockMHz Metric = func(s model.DeviceSample) *uint32 { return s.GPUClockMHz }
)

var metricsByName = map[string]Metric{
	"power":     MetricPower,
	"gpu_temp":  MetricGPUTemp,
	"mem_temp":  MetricMemTemp,
	"sm":        MetricSMUtil,
	"mem":       MetricMemUtil,
	"enc":       MetricEncUtil,
	"dec":       MetricDecUtil,
	"jpg":       MetricJPGUtil,
	"ofa":       MetricOFAUtil,
	"mem_clock": MetricMemClockMHz,
	"gpu_clock": MetricGPUClockMHz,
}

// MetricByName looks up a selector by its short name ("sm", "power", ...).
func MetricByName(name string) (Metric, bool) {
	m, ok := metricsByName[name]
	return m, ok
}

// MetricNames returns every selector name in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(metricsByName))
	for n := range metricsByName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
