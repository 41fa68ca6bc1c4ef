package collector

import (
	"strings"

	"github.com/kubeadapt/gpumon/internal/collector/smi"
)

// Source names. They appear in ErrorMsg/ExitedMsg, logs and metric labels.
const (
	SourceDmon     = "dmon"
	SourcePmon     = "pmon"
	SourceQuery    = "query"
	SourceTopology = "topology"
)

// Query names used for per-query hooks and logs.
const (
	QueryDeviceInfo  = "device-info"
	QueryComputeApps = "compute-apps"
	QueryProcessInfo = "ps"
)

func dmonArgs() []string { return []string{"dmon"} }

func pmonArgs() []string { return []string{"pmon"} }

func topologyArgs() []string { return []string{"topo", "-m"} }

func deviceInfoArgs() []string {
	return []string{
		"--query-gpu=" + strings.Join(smi.DeviceInfoFields, ","),
		"--format=csv,noheader,nounits",
	}
}

func computeAppsArgs() []string {
	return []string{
		"--query-compute-apps=" + strings.Join(smi.ComputeAppFields, ","),
		"--format=csv",
	}
}
