package smi

import (
	"strings"

	"github.com/kubeadapt/gpumon/pkg/model"
)

const (
	// dmonFields is the number of columns `nvidia-smi dmon` prints per row:
	//
	//	# gpu    pwr  gtemp  mtemp     sm    mem    enc    dec    jpg    ofa   mclk   pclk
	//	# Idx      W      C      C      %      %      %      %      %      %    MHz    MHz
	//	    0     69     13      -    100     30      0      0      -      -   3615   1531
	dmonFields = 12

	// pmonFields is the minimum number of columns of a `nvidia-smi pmon` row.
	// The command column starts at pmonCommandField and may contain spaces:
	//
	//	# gpu    pid   type     sm    mem    enc    dec    jpg    ofa    command
	//	# Idx      #    C/G      %      %      %      %      %      %    name
	//	    1  27581     C     99     14      -      -      -      -    python
	pmonFields       = 10
	pmonCommandField = 9
)

// ParseDeviceSample parses one line of `nvidia-smi dmon` output. Extra
// trailing columns emitted by newer drivers are ignored.
func ParseDeviceSample(line string) (model.DeviceSample, bool) {
	line = strings.TrimSpace(line)
	if isHeader(line) {
		return model.DeviceSample{}, false
	}

	parts := strings.Fields(line)
	if len(parts) < dmonFields {
		return model.DeviceSample{}, false
	}

	idx, ok := requiredUint32(parts[0])
	if !ok {
		return model.DeviceSample{}, false
	}

	return model.DeviceSample{
		Index:       idx,
		PowerW:      optionalUint32(parts[1]),
		GPUTempC:    optionalUint32(parts[2]),
		MemTempC:    optionalUint32(parts[3]),
		SMUtil:      optionalUint32(parts[4]),
		MemUtil:     optionalUint32(parts[5]),
		EncUtil:     optionalUint32(parts[6]),
		DecUtil:     optionalUint32(parts[7]),
		JPGUtil:     optionalUint32(parts[8]),
		OFAUtil:     optionalUint32(parts[9]),
		MemClockMHz: optionalUint32(parts[10]),
		GPUClockMHz: optionalUint32(parts[11]),
	}, true
}

// ParseProcessSample parses one line of `nvidia-smi pmon` output. The jpg and
// ofa columns are skipped; everything from the command column onward is
// re-joined with single spaces.
func ParseProcessSample(line string) (model.ProcessSample, bool) {
	line = strings.TrimSpace(line)
	if isHeader(line) {
		return model.ProcessSample{}, false
	}

	parts := strings.Fields(line)
	if len(parts) < pmonFields {
		return model.ProcessSample{}, false
	}

	idx, ok := requiredUint32(parts[0])
	if !ok {
		return model.ProcessSample{}, false
	}
	pid, ok := requiredUint32(parts[1])
	if !ok {
		return model.ProcessSample{}, false
	}

	return model.ProcessSample{
		DeviceIndex: idx,
		PID:         pid,
		Type:        model.ProcessType(parts[2]),
		SMUtil:      optionalUint32(parts[3]),
		MemUtil:     optionalUint32(parts[4]),
		EncUtil:     optionalUint32(parts[5]),
		DecUtil:     optionalUint32(parts[6]),
		Command:     strings.Join(parts[pmonCommandField:], " "),
	}, true
}
