package snapshot

import "github.com/kubeadapt/gpumon/pkg/model"

// ComputeSummary calculates device and process totals from a snapshot.
// Aggregates over optional readings only count devices that report them and
// stay nil when none does.
func ComputeSummary(snapshot *model.Snapshot) model.Summary {
	s := model.Summary{
		DeviceCount:  len(snapshot.Devices),
		ProcessCount: len(snapshot.Processes),
	}

	var (
		powerSum   uint64
		hasPower   bool
		smSum      float64
		smCount    int
		maxTemp    uint32
		hasMaxTemp bool
	)
	for i := range snapshot.Devices {
		d := &snapshot.Devices[i]

		if d.Info != nil {
			s.TotalMemoryUsedMiB += d.Info.MemoryUsedMiB
			s.TotalMemoryTotalMiB += d.Info.MemoryTotalMiB
		}

		if d.Latest == nil {
			continue
		}
		if d.Latest.PowerW != nil {
			powerSum += uint64(*d.Latest.PowerW)
			hasPower = true
		}
		if d.Latest.SMUtil != nil {
			smSum += float64(*d.Latest.SMUtil)
			smCount++
		}
		if d.Latest.GPUTempC != nil && (!hasMaxTemp || *d.Latest.GPUTempC > maxTemp) {
			maxTemp = *d.Latest.GPUTempC
			hasMaxTemp = true
		}
	}

	if hasPower {
		s.TotalPowerW = &powerSum
	}
	if smCount > 0 {
		avg := smSum / float64(smCount)
		s.AvgSMUtilPercent = &avg
	}
	if hasMaxTemp {
		s.MaxGPUTempC = &maxTemp
	}

	for i := range snapshot.Processes {
		p := &snapshot.Processes[i]
		s.TotalProcessVRAMMiB += p.VRAMMiB
		if !p.Device.Resolved {
			s.UnresolvedProcesses++
		}
	}

	return s
}

// LogAttrs flattens a summary into slog key/value pairs for the periodic
// summary line.
func LogAttrs(s model.Summary) []any {
	attrs := []any{
		"devices", s.DeviceCount,
		"processes", s.ProcessCount,
		"unresolved_processes", s.UnresolvedProcesses,
		"memory_used_mib", s.TotalMemoryUsedMiB,
		"memory_total_mib", s.TotalMemoryTotalMiB,
		"process_vram_mib", s.TotalProcessVRAMMiB,
	}
	if s.TotalPowerW != nil {
		attrs = append(attrs, "power_w", *s.TotalPowerW)
	}
	if s.AvgSMUtilPercent != nil {
		attrs = append(attrs, "avg_sm_util", *s.AvgSMUtilPercent)
	}
	if s.MaxGPUTempC != nil {
		attrs = append(attrs, "max_gpu_temp_c", *s.MaxGPUTempC)
	}
	return attrs
}
