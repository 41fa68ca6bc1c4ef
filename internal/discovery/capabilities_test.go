package discovery

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceList = `GPU 0: NVIDIA A100-SXM4-80GB (UUID: GPU-6a5ae5f2-1111-2222-3333-444444444444)
GPU 1: NVIDIA A100-SXM4-80GB (UUID: GPU-7b6bf6a3-1111-2222-3333-444444444444)
  MIG 1g.10gb     Device  0: (UUID: MIG-0c1d2e3f-aaaa-bbbb-cccc-dddddddddddd)
`

type stubRunner struct {
	out  string
	err  error
	args []string
}

func (r *stubRunner) Output(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.args = args
	return []byte(r.out), r.err
}

func (r *stubRunner) Stream(context.Context, string, ...string) (io.ReadCloser, func() error, error) {
	return nil, nil, errors.New("not implemented")
}

func lookPathFrom(found map[string]string) LookPathFunc {
	return func(file string) (string, error) {
		if p, ok := found[file]; ok {
			return p, nil
		}
		return "", errors.New("executable file not found in $PATH")
	}
}

func TestDetect_AllToolsPresent(t *testing.T) {
	runner := &stubRunner{out: deviceList}
	caps, err := Detect(context.Background(),
		lookPathFrom(map[string]string{"nvidia-smi": "/usr/bin/nvidia-smi", "ps": "/bin/ps"}),
		runner, "nvidia-smi", "ps")

	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/nvidia-smi", caps.SMIPath)
	assert.Equal(t, "/bin/ps", caps.PSPath)
	assert.True(t, caps.ProcessStats)
	assert.Equal(t, []string{"-L"}, runner.args)
	require.Len(t, caps.Devices, 2)
	assert.Equal(t, "GPU-7b6bf6a3-1111-2222-3333-444444444444", caps.Devices[1].UUID)
}

func TestDetect_MissingSMIIsFatal(t *testing.T) {
	_, err := Detect(context.Background(),
		lookPathFrom(map[string]string{"ps": "/bin/ps"}),
		&stubRunner{}, "nvidia-smi", "ps")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvidia-smi not found")
}

func TestDetect_MissingPSDisablesProcessStats(t *testing.T) {
	caps, err := Detect(context.Background(),
		lookPathFrom(map[string]string{"nvidia-smi": "/usr/bin/nvidia-smi"}),
		&stubRunner{out: deviceList}, "nvidia-smi", "ps")

	require.NoError(t, err)
	assert.False(t, caps.ProcessStats)
	assert.Empty(t, caps.PSPath)
}

func TestDetect_EmptyPSPath(t *testing.T) {
	caps, err := Detect(context.Background(),
		lookPathFrom(map[string]string{"nvidia-smi": "/usr/bin/nvidia-smi", "": "/bin/sh"}),
		&stubRunner{}, "nvidia-smi", "")

	require.NoError(t, err)
	assert.False(t, caps.ProcessStats)
}

func TestDetect_ListingFailureIsNotFatal(t *testing.T) {
	caps, err := Detect(context.Background(),
		lookPathFrom(map[string]string{"nvidia-smi": "/usr/bin/nvidia-smi", "ps": "/bin/ps"}),
		&stubRunner{err: errors.New("NVIDIA-SMI has failed because it couldn't communicate with the NVIDIA driver")},
		"nvidia-smi", "ps")

	require.NoError(t, err)
	assert.Empty(t, caps.Devices)
	assert.True(t, caps.ProcessStats)
}

func TestParseDeviceList(t *testing.T) {
	devices := ParseDeviceList(deviceList)

	require.Len(t, devices, 2)
	assert.Equal(t, Device{
		Index: 0,
		Name:  "NVIDIA A100-SXM4-80GB",
		UUID:  "GPU-6a5ae5f2-1111-2222-3333-444444444444",
	}, devices[0])
	assert.Equal(t, 1, devices[1].Index)
}

func TestParseDeviceList_Malformed(t *testing.T) {
	assert.Empty(t, ParseDeviceList(""))
	assert.Empty(t, ParseDeviceList("No devices were found\n"))
	assert.Empty(t, ParseDeviceList("GPU x: broken\nGPU 3 no colon\n"))

	devices := ParseDeviceList("GPU 2: Tesla T4\n")
	require.Len(t, devices, 1)
	assert.Equal(t, "Tesla T4", devices[0].Name)
	assert.Empty(t, devices[0].UUID)
}
