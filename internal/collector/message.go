package collector

import (
	"context"

	"github.com/kubeadapt/gpumon/internal/errors"
	"github.com/kubeadapt/gpumon/pkg/model"
)

// Message is the closed set of values producers deliver to the consumer over
// the bounded channel. Only types in this package implement it.
type Message interface {
	isMessage()
}

// DeviceSampleMsg carries one parsed dmon record.
type DeviceSampleMsg struct {
	Sample model.DeviceSample
}

// ProcessSampleMsg carries one parsed pmon record.
type ProcessSampleMsg struct {
	Sample model.ProcessSample
}

// DeviceInfoMsg carries one --query-gpu batch, one entry per device.
type DeviceInfoMsg struct {
	Infos []model.DeviceInfo
}

// ComputeAppsMsg carries the complete current compute-app list.
type ComputeAppsMsg struct {
	Apps []model.ComputeApp
}

// ProcessSystemInfoMsg carries ps stats for the current compute-app pids.
type ProcessSystemInfoMsg struct {
	Infos []model.ProcessSystemInfo
}

// ErrorMsg reports a source failure the consumer should surface.
type ErrorMsg struct {
	Source string
	Reason string
	Code   errors.Code
}

// ExitedMsg reports that a streaming source reached end of stream.
type ExitedMsg struct {
	Source string
}

func (DeviceSampleMsg) isMessage()      {}
func (ProcessSampleMsg) isMessage()     {}
func (DeviceInfoMsg) isMessage()        {}
func (ComputeAppsMsg) isMessage()       {}
func (ProcessSystemInfoMsg) isMessage() {}
func (ErrorMsg) isMessage()             {}
func (ExitedMsg) isMessage()            {}

// Sender is the producer side of the bounded message channel. Send blocks
// while the channel is full.
type Sender struct {
	ch chan<- Message
}

// NewSender wraps ch.
func NewSender(ch chan<- Message) Sender {
	return Sender{ch: ch}
}

// Send delivers msg. It returns false once ctx is done, which producers treat
// as "the receiver is gone" and stop.
func (s Sender) Send(ctx context.Context, msg Message) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case s.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
