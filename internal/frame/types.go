package frame

import "github.com/agsys-edge/libellium-ingest/internal/registry"

// Encoding is the transport encoding a frame type byte declares.
type Encoding string

const (
	Binary Encoding = "Binary"
	ASCII  Encoding = "ASCII"
)

// FrameKind is the closed set of Libellium frame kinds.
type FrameKind string

const (
	Information FrameKind = "Information"
	TimeOut     FrameKind = "TimeOut"
	Event       FrameKind = "Event"
	Alarm       FrameKind = "Alarm"
	Service1    FrameKind = "Service1"
	Service2    FrameKind = "Service2"
	TimeSync    FrameKind = "TimeSync"
	Unknown     FrameKind = "Unknown"

	AESECBFrameV15          FrameKind = "AES_ECB_FRAME_v15"
	AES128ECBFrameV12       FrameKind = "AES128_ECB_FRAME_v12"
	AES192ECBFrameV12       FrameKind = "AES192_ECB_FRAME_v12"
	AES256ECBFrameV12       FrameKind = "AES256_ECB_FRAME_v12"
	AES128ECBEndToEndV15    FrameKind = "AES128_ECB_END_TO_END_v15"
	AES128ECBEndToEndV12    FrameKind = "AES128_ECB_END_TO_END_v12"
)

// FrameType pairs the wire encoding with the frame kind.
type FrameType struct {
	Encoding Encoding
	Kind     FrameKind
	// RawID is the header's type byte as transmitted, preserved so a
	// caller can log or tap the exact wire value even for Kind == Unknown.
	RawID uint8
}

// IsAES reports whether this frame type is one of the AES-encrypted
// variants recognized but not decrypted here.
func (t FrameType) IsAES() bool {
	switch t.Kind {
	case AESECBFrameV15, AES128ECBFrameV12, AES192ECBFrameV12, AES256ECBFrameV12,
		AES128ECBEndToEndV15, AES128ECBEndToEndV12:
		return true
	default:
		return false
	}
}

// frameTypeTable is the byte -> FrameType mapping for every known frame type.
var frameTypeTable = map[uint8]FrameType{
	0x00: {Binary, Information, 0x00},
	0x01: {Binary, TimeOut, 0x01},
	0x02: {Binary, Event, 0x02},
	0x03: {Binary, Alarm, 0x03},
	0x04: {Binary, Service1, 0x04},
	0x05: {Binary, Service2, 0x05},
	0x06: {Binary, Information, 0x06},
	0x07: {Binary, Information, 0x07},
	0x08: {Binary, Information, 0x08},
	0x60: {Binary, AESECBFrameV15, 0x60},
	0x61: {Binary, AES128ECBFrameV12, 0x61},
	0x62: {Binary, AES192ECBFrameV12, 0x62},
	0x63: {Binary, AES256ECBFrameV12, 0x63},
	0x64: {Binary, AES128ECBEndToEndV15, 0x64},
	0x65: {Binary, AES128ECBEndToEndV12, 0x65},
	0x80: {ASCII, Information, 0x80},
	0x81: {ASCII, TimeOut, 0x81},
	0x82: {ASCII, Event, 0x82},
	0x83: {ASCII, Alarm, 0x83},
	0x84: {ASCII, Service1, 0x84},
	0x85: {ASCII, Service2, 0x85},
	0x86: {ASCII, Information, 0x86},
	0x87: {ASCII, Information, 0x87},
	0x88: {ASCII, Information, 0x88},
	0x9B: {ASCII, TimeSync, 0x9B},
}

// lookupFrameType returns the registered FrameType for id, or an Unknown
// FrameType carrying the raw byte if id isn't in the table.
func lookupFrameType(id uint8) (FrameType, bool) {
	t, ok := frameTypeTable[id]
	if !ok {
		return FrameType{Encoding: Binary, Kind: Unknown, RawID: id}, false
	}
	return t, true
}

// Value holds one decoded measurement's payload. Exactly one of the typed
// fields is populated, selected by Type; this mirrors the registry's
// closed FieldType enumeration rather than using interface{}.
type Value struct {
	Type registry.FieldType

	// Scalar forms: populated when the descriptor's FieldCount == 1.
	Uint    uint64
	Int     int64
	Float   float64
	Str     string

	// Vector form: populated when the descriptor's FieldCount > 1. Every
	// element shares Type (always a fixed-width numeric type; strings
	// never appear with FieldCount > 1 in the registry).
	UintVec  []uint64
	IntVec   []int64
	FloatVec []float64
}

// Measurement is one (descriptor, decoded value) pair read from the
// payload, in the order it appeared on the wire.
type Measurement struct {
	Descriptor registry.Descriptor
	Value      Value
}

// DecodedFrame is the fully (or partially, on a soft error) decoded
// Libellium frame. It is created inside one ingest goroutine, never
// shared, and dropped after the envelope is built.
type DecodedFrame struct {
	FrameType         FrameType
	DeclaredByteCount uint8
	SerialID          uint64
	MoteID            string
	Sequence          uint8
	Measurements      []Measurement
}
