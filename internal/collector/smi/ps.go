package smi

import (
	"strconv"
	"strings"

	"github.com/kubeadapt/gpumon/pkg/model"
)

// PSColumns is the -o column list passed to ps. The args column is last so
// that it can contain spaces.
const PSColumns = "pid,pcpu,rss,etime,args"

const psMinFields = 4

// PSArgs returns the ps arguments that report PSColumns for exactly pids,
// without a header row.
func PSArgs(pids []uint32) []string {
	ids := make([]string, len(pids))
	for i, p := range pids {
		ids[i] = strconv.FormatUint(uint64(p), 10)
	}
	return []string{"-p", strings.Join(ids, ","), "-o", PSColumns, "--no-headers"}
}

// ParseProcessSystemInfo parses one line of `ps -o pid,pcpu,rss,etime,args`.
// A malformed CPU or RSS cell defaults to zero rather than dropping the row.
func ParseProcessSystemInfo(line string) (model.ProcessSystemInfo, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return model.ProcessSystemInfo{}, false
	}

	parts := strings.Fields(line)
	if len(parts) < psMinFields {
		return model.ProcessSystemInfo{}, false
	}

	pid, ok := requiredUint32(parts[0])
	if !ok {
		return model.ProcessSystemInfo{}, false
	}

	cpu, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		cpu = 0
	}

	return model.ProcessSystemInfo{
		PID:        pid,
		CPUPercent: cpu,
		RSSKB:      uint64OrZero(parts[2]),
		Elapsed:    parts[3],
		Command:    strings.Join(parts[psMinFields:], " "),
	}, true
}

// ParseProcessSystemInfoOutput parses the complete ps output.
func ParseProcessSystemInfoOutput(output string) []model.ProcessSystemInfo {
	var infos []model.ProcessSystemInfo
	for _, line := range strings.Split(output, "\n") {
		if info, ok := ParseProcessSystemInfo(line); ok {
			infos = append(infos, info)
		}
	}
	return infos
}
