package health

import (
	"io"
	"time"

	"github.com/kubeadapt/gpumon/internal/observability"
)

// byteCounter passes writes through to w and counts the bytes w accepted.
type byteCounter struct {
	w io.Writer
	n int64
}

func (c *byteCounter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// compressionMeter measures one zstd-encoded debug response: the JSON bytes
// handed to the encoder and the encoded bytes that reached the client. A
// meter belongs to a single request and is not safe for concurrent use.
type compressionMeter struct {
	start time.Time
	raw   byteCounter
	wire  byteCounter
}

// newCompressionMeter starts measuring a response written to client.
func newCompressionMeter(client io.Writer) *compressionMeter {
	return &compressionMeter{
		start: time.Now(),
		wire:  byteCounter{w: client},
	}
}

// wireWriter is where the encoder writes its output.
func (m *compressionMeter) wireWriter() io.Writer { return &m.wire }

// rawWriter wraps the encoder so the uncompressed JSON is counted.
func (m *compressionMeter) rawWriter(enc io.Writer) io.Writer {
	m.raw.w = enc
	return &m.raw
}

// ratio is encoded over raw size. It is false until some JSON was encoded.
func (m *compressionMeter) ratio() (float64, bool) {
	if m.raw.n == 0 {
		return 0, false
	}
	return float64(m.wire.n) / float64(m.raw.n), true
}

// record publishes the elapsed time and the ratio. A nil metrics is ignored.
func (m *compressionMeter) record(metrics *observability.Metrics) {
	if metrics == nil {
		return
	}
	metrics.CompressionDuration.Observe(time.Since(m.start).Seconds())
	if r, ok := m.ratio(); ok {
		metrics.CompressionRatio.Set(r)
	}
}
