package frame

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/agsys-edge/libellium-ingest/internal/registry"
)

const (
	magicByte0 = 0x3C // '<'
	magicByte1 = 0x3D // '='
	magicByte2 = 0x3E // '>'

	separatorByte = 0x23 // '#'
	stringTerm    = 0x00

	serialIDWidth  = 8
	maxMoteIDScan  = 16
)

// cursor walks a decoded byte slice, tracking how much has been consumed.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) take(n int) ([]byte, bool) {
	if n < 0 || c.remaining() < n {
		return nil, false
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

// Decode parses a hex-encoded Libellium frame into a DecodedFrame.
//
// On a fatal error (ErrMalformedHex, ErrBadMagic, ErrMissingSeparator,
// ErrTruncatedPayload in Kind form) it returns (nil, err). On a soft
// error (KindUnknownFrameType, KindUnknownSensorID) it returns a non-nil,
// partially populated *DecodedFrame alongside the error so the caller can
// still publish whatever was read before decoding stopped.
func Decode(hexFrame string, reg *registry.Registry) (*DecodedFrame, error) {
	raw, err := hex.DecodeString(hexFrame)
	if err != nil {
		return nil, errMalformedHex(err.Error())
	}

	c := &cursor{data: raw}

	f := &DecodedFrame{}

	if err := parseHeader(c, f); err != nil {
		return nil, err
	}

	// A soft UnknownFrameType from the header is returned, but header
	// parsing continues (the type byte doesn't change how the rest of
	// the header is laid out), so payload decoding still proceeds.
	var headerSoftErr error
	if f.FrameType.Kind == Unknown {
		headerSoftErr = errUnknownFrameType(f.FrameType.RawID)
	}

	if f.FrameType.IsAES() {
		// No decryption attempted: return the header with no measurements
		// and an informational soft condition, without attempting to read
		// the payload bytes as plaintext sensor records.
		return f, errUnknownFrameType(f.FrameType.RawID)
	}

	if payloadErr := parsePayload(c, reg, f); payloadErr != nil {
		if fe, ok := payloadErr.(*Error); ok && !fe.Soft() {
			return nil, payloadErr
		}
		return f, payloadErr
	}

	return f, headerSoftErr
}

func parseHeader(c *cursor, f *DecodedFrame) error {
	magic, ok := c.take(3)
	if !ok || magic[0] != magicByte0 || magic[1] != magicByte1 || magic[2] != magicByte2 {
		var got [3]byte
		copy(got[:], magic)
		return errBadMagic(got)
	}

	typeByte, ok := c.take(1)
	if !ok {
		return errMalformedHex("truncated before frame type byte")
	}
	ft, _ := lookupFrameType(typeByte[0])
	f.FrameType = ft

	lenByte, ok := c.take(1)
	if !ok {
		return errMalformedHex("truncated before length byte")
	}
	// DeclaredByteCount is read but deliberately not used to bound any
	// subsequent read: the parser trusts end-of-input instead.
	f.DeclaredByteCount = lenByte[0]

	serialBytes, ok := c.take(serialIDWidth)
	if !ok {
		return errMalformedHex("truncated before serial id")
	}
	// Serial ID is concatenated big-endian over the 8 raw bytes, unlike
	// every other multi-byte field in the frame.
	f.SerialID = binary.BigEndian.Uint64(serialBytes)

	moteID := make([]byte, 0, maxMoteIDScan)
	found := false
	for i := 0; i < maxMoteIDScan; i++ {
		b, ok := c.take(1)
		if !ok {
			break
		}
		if b[0] == separatorByte {
			found = true
			break
		}
		moteID = append(moteID, b[0])
	}
	if !found {
		return errMissingSeparator()
	}
	f.MoteID = string(moteID)

	seqByte, ok := c.take(1)
	if !ok {
		return errMalformedHex("truncated before sequence byte")
	}
	f.Sequence = seqByte[0]

	return nil
}

func parsePayload(c *cursor, reg *registry.Registry, f *DecodedFrame) error {
	for c.remaining() > 0 {
		idByte, ok := c.take(1)
		if !ok {
			break
		}
		sensorID := idByte[0]

		desc, ok := reg.Lookup(sensorID)
		if !ok {
			return errUnknownSensorID(sensorID)
		}

		if desc.FieldType == registry.FieldString {
			str, err := readString(c, sensorID)
			if err != nil {
				return err
			}
			f.Measurements = append(f.Measurements, Measurement{
				Descriptor: desc,
				Value:      Value{Type: registry.FieldString, Str: str},
			})
			continue
		}

		v, err := readFixedWidth(c, desc)
		if err != nil {
			return err
		}
		f.Measurements = append(f.Measurements, Measurement{Descriptor: desc, Value: v})
	}
	return nil
}

func readString(c *cursor, sensorID uint8) (string, error) {
	start := c.pos
	for {
		b, ok := c.take(1)
		if !ok {
			return "", errTruncatedPayload(sensorID, 1, 0)
		}
		if b[0] == stringTerm {
			return string(c.data[start : c.pos-1]), nil
		}
	}
}

// readFixedWidth decodes desc.FieldCount fields of desc.FieldType, each
// desc.FieldWidth bytes wide, and returns them as a scalar Value (count
// == 1) or a vector Value (count > 1).
func readFixedWidth(c *cursor, desc registry.Descriptor) (Value, error) {
	need := desc.FieldCount * desc.FieldWidth
	if c.remaining() < need {
		return Value{}, errTruncatedPayload(desc.BinaryID, need, c.remaining())
	}

	if desc.FieldCount == 1 {
		b, _ := c.take(desc.FieldWidth)
		return decodeScalar(desc.FieldType, b), nil
	}

	switch desc.FieldType {
	case registry.FieldF32:
		vec := make([]float64, desc.FieldCount)
		for i := range vec {
			b, _ := c.take(desc.FieldWidth)
			vec[i] = decodeScalar(desc.FieldType, b).Float
		}
		return Value{Type: desc.FieldType, FloatVec: vec}, nil
	case registry.FieldI16, registry.FieldI32:
		vec := make([]int64, desc.FieldCount)
		for i := range vec {
			b, _ := c.take(desc.FieldWidth)
			vec[i] = decodeScalar(desc.FieldType, b).Int
		}
		return Value{Type: desc.FieldType, IntVec: vec}, nil
	default: // u8, u16, u32, u64
		vec := make([]uint64, desc.FieldCount)
		for i := range vec {
			b, _ := c.take(desc.FieldWidth)
			vec[i] = decodeScalar(desc.FieldType, b).Uint
		}
		return Value{Type: desc.FieldType, UintVec: vec}, nil
	}
}

// decodeScalar decodes a single field of the given type from exactly
// len(b) bytes (b's length is desc.FieldWidth, already validated by the
// caller). Multi-byte integers are little-endian; f32 is reconstructed
// bit-exactly by reading its 4 bytes as a little-endian IEEE-754 binary32
// bit pattern.
func decodeScalar(t registry.FieldType, b []byte) Value {
	switch t {
	case registry.FieldU8:
		return Value{Type: t, Uint: uint64(b[0])}
	case registry.FieldU16:
		return Value{Type: t, Uint: uint64(binary.LittleEndian.Uint16(b))}
	case registry.FieldU32:
		return Value{Type: t, Uint: uint64(binary.LittleEndian.Uint32(b))}
	case registry.FieldU64:
		return Value{Type: t, Uint: binary.LittleEndian.Uint64(b)}
	case registry.FieldF32:
		bits := binary.LittleEndian.Uint32(b)
		return Value{Type: t, Float: float64(math.Float32frombits(bits))}
	case registry.FieldI16:
		return Value{Type: t, Int: int64(int16(binary.LittleEndian.Uint16(b)))}
	case registry.FieldI32:
		// The registry also uses i32 for single-byte signed fields (e.g.
		// the GMT offset sensor) that the vendor table never assigns a
		// dedicated width for; decode any width up to 4 bytes as a
		// little-endian two's-complement value sign-extended from its
		// actual width, rather than restricting to exactly 2 or 4 bytes.
		var u uint32
		for i := len(b) - 1; i >= 0; i-- {
			u = u<<8 | uint32(b[i])
		}
		shift := uint(32 - 8*len(b))
		return Value{Type: t, Int: int64(int32(u<<shift) >> shift)}
	default:
		return Value{Type: t}
	}
}
