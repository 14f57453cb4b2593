// Package source implements the Source component (spec.md §4.3): it owns
// one digitizer (or an Emulator standing in for one), runs a read loop
// against the device's blocking I/O and a decode loop that turns raw
// buffers into published EventBatches.
package source

import (
	"time"

	"github.com/usnistgov/delila/decode"
)

// DeviceInfo mirrors the read-only identity fields a real digitizer
// reports, per spec.md §6's device handle contract.
type DeviceInfo struct {
	Model        string
	Serial       string
	Firmware     string
	NumChannels  int
}

// Outcome classifies a single ReadData call beyond a plain error: a
// digitizer can legitimately report "nothing arrived in time" or
// "operator asked me to stop" without that being a fault.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTimeout
	OutcomeStop
)

// ReadResult is what one ReadData call against a Digitizer produces.
type ReadResult struct {
	Buf     decode.RawBuffer
	Outcome Outcome
}

// Digitizer is the vendor driver contract spec.md §6 treats as an opaque
// external collaborator: open/configure/read/close plus a path-addressed
// parameter tree for get/set and a command channel for arm/start/stop.
type Digitizer interface {
	Open(url string) error
	GetDeviceInfo() (DeviceInfo, error)
	SetValue(path, value string) error
	GetValue(path string) (string, error)
	SendCommand(cmd string) error
	ConfigureEndpoint() error
	ReadData(timeout time.Duration) (ReadResult, error)
	Close() error
}
