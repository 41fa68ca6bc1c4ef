package smi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcessSystemInfo(t *testing.T) {
	info, ok := ParseProcessSystemInfo("  27581 12.5 204800     01:02:03 python train.py --epochs 3")
	require.True(t, ok)
	assert.Equal(t, uint32(27581), info.PID)
	assert.InDelta(t, 12.5, info.CPUPercent, 0.001)
	assert.Equal(t, uint64(204800), info.RSSKB)
	assert.Equal(t, "01:02:03", info.Elapsed)
	assert.Equal(t, "python train.py --epochs 3", info.Command)

	info, ok = ParseProcessSystemInfo("100 bad bad 00:10")
	require.True(t, ok, "malformed optional cells default to zero")
	assert.Zero(t, info.CPUPercent)
	assert.Zero(t, info.RSSKB)

	_, ok = ParseProcessSystemInfo("")
	assert.False(t, ok)
	_, ok = ParseProcessSystemInfo("100 1.0 2048")
	assert.False(t, ok)
	_, ok = ParseProcessSystemInfo("PID %CPU RSS ELAPSED")
	assert.False(t, ok)
}

func TestParseProcessSystemInfoOutput(t *testing.T) {
	out := "  100  3.5 204800 00:10:00 /usr/bin/python\n  200  0.0   1024    05:00 sleep 100\n"
	infos := ParseProcessSystemInfoOutput(out)
	require.Len(t, infos, 2)
	assert.Equal(t, uint32(100), infos[0].PID)
	assert.Equal(t, uint32(200), infos[1].PID)
}

func TestPSArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-p", "100,200,300", "-o", "pid,pcpu,rss,etime,args", "--no-headers"},
		PSArgs([]uint32{100, 200, 300}),
	)
}
