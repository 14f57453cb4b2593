package source

import "time"

// VendorHandle is the device handle contract spec.md §6 describes for
// the CAEN vendor driver. The vendor library itself is explicitly out of
// scope (spec.md §1): this interface is the seam a real cgo binding
// plugs into, so HardwareSource and the rest of the pipeline never need
// to know the driver exists.
type VendorHandle interface {
	Open(url string) error
	GetDeviceInfo() (DeviceInfo, error)
	SetValue(path, value string) error
	GetValue(path string) (string, error)
	SendCommand(cmd string) error
	ConfigureEndpoint() error
	ReadData(timeout time.Duration) (ReadResult, error)
	Close() error
}

// HardwareSource adapts a VendorHandle to the Digitizer interface. It
// adds nothing beyond the pass-through: its only job is to be the named
// production implementation Source is constructed with when
// config.toml's digitizer_url is set, as opposed to source.Emulator.
type HardwareSource struct {
	handle VendorHandle
}

// NewHardwareSource wraps an already-constructed VendorHandle.
func NewHardwareSource(handle VendorHandle) *HardwareSource {
	return &HardwareSource{handle: handle}
}

func (h *HardwareSource) Open(url string) error                       { return h.handle.Open(url) }
func (h *HardwareSource) GetDeviceInfo() (DeviceInfo, error)          { return h.handle.GetDeviceInfo() }
func (h *HardwareSource) SetValue(path, value string) error           { return h.handle.SetValue(path, value) }
func (h *HardwareSource) GetValue(path string) (string, error)        { return h.handle.GetValue(path) }
func (h *HardwareSource) SendCommand(cmd string) error                { return h.handle.SendCommand(cmd) }
func (h *HardwareSource) ConfigureEndpoint() error                    { return h.handle.ConfigureEndpoint() }
func (h *HardwareSource) ReadData(timeout time.Duration) (ReadResult, error) {
	return h.handle.ReadData(timeout)
}
func (h *HardwareSource) Close() error { return h.handle.Close() }

var _ Digitizer = (*HardwareSource)(nil)
