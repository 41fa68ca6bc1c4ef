package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kubeadapt/gpumon/internal/collector"
)

// LookPathFunc resolves an executable name the way exec.LookPath does.
type LookPathFunc func(file string) (string, error)

// Capabilities describes the host tools detected at startup.
// Results are computed once and cached for the pipeline's lifetime.
type Capabilities struct {
	SMIPath      string   // resolved nvidia-smi executable
	PSPath       string   // resolved ps executable, empty when not found
	ProcessStats bool     // ps is available for per-process CPU/RSS stats
	Devices      []Device // devices listed by `nvidia-smi -L`, empty when the listing failed
}

// Device is one line of `nvidia-smi -L`.
type Device struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	UUID  string `json:"uuid"`
}

// Detect resolves the tools the pipeline shells out to. A missing nvidia-smi
// is fatal; a missing ps only disables process stats. The device listing is
// informational and its failure is logged, not returned.
func Detect(ctx context.Context, lookPath LookPathFunc, runner collector.Runner, smiPath, psPath string) (*Capabilities, error) {
	resolved, err := lookPath(smiPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: %s not found: %w", smiPath, err)
	}
	caps := &Capabilities{SMIPath: resolved}

	if psPath != "" {
		if p, err := lookPath(psPath); err == nil {
			caps.PSPath = p
			caps.ProcessStats = true
		} else {
			slog.Warn("ps not found, process stats disabled", "path", psPath, "error", err)
		}
	}

	out, err := runner.Output(ctx, caps.SMIPath, "-L")
	if err != nil {
		slog.Warn("device listing failed", "error", err)
		return caps, nil
	}
	caps.Devices = ParseDeviceList(string(out))

	return caps, nil
}

// ParseDeviceList parses `nvidia-smi -L` output, e.g.
//
//	GPU 0: NVIDIA A100-SXM4-80GB (UUID: GPU-6a5ae5f2-...)
//
// MIG lines and anything else not starting with "GPU " are skipped.
func ParseDeviceList(output string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "GPU ")
		if !ok {
			continue
		}
		idxStr, rest, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
			continue
		}

		d := Device{Index: idx, Name: strings.TrimSpace(rest)}
		if open := strings.LastIndex(rest, "(UUID:"); open >= 0 {
			d.Name = strings.TrimSpace(rest[:open])
			d.UUID = strings.TrimSpace(strings.TrimSuffix(rest[open+len("(UUID:"):], ")"))
		}
		devices = append(devices, d)
	}
	return devices
}
