// Package endian provides an explicit byte-order abstraction for the wire
// decoders.
//
// PSD2 (CAEN VX2730) packs 64-bit words big-endian; PSD1 (CAEN DT5730) packs
// 32-bit words little-endian. Both decoders select their byte order
// explicitly via the engine returned here and never infer it from the host's
// native order — reading raw bytes into a host-native integer and masking
// against the documented bit layout only happens to give correct results on
// a little-endian host. GetBigEndianEngine/GetLittleEndianEngine exist so
// that choice is made once, at the call site that knows which wire format it
// is reading.
package endian

import "encoding/binary"

// EndianEngine combines ByteOrder and AppendByteOrder from encoding/binary
// into a single interface, so decoders can both read fixed-width words and
// encoders can append them without allocating an intermediate buffer.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// GetLittleEndianEngine returns the engine PSD1 (DT5730) decodes with.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the engine PSD2 (VX2730) decodes with.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}
