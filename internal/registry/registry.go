// Package registry holds the static table that maps a Libellium sensor's
// binary ID to the descriptor the frame decoder needs to read its payload
// record: field count, element type, width per field, and the unit/name
// used when the decoded measurement is rendered into the publish envelope.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldType is the closed set of element types a sensor's fields can use.
// The decoder switches on this rather than comparing strings scattered
// through the code.
type FieldType string

// Exhaustive field-type alphabet.
const (
	FieldU8     FieldType = "u8"
	FieldU16    FieldType = "u16"
	FieldU32    FieldType = "u32"
	FieldU64    FieldType = "u64"
	FieldI16    FieldType = "i16"
	FieldI32    FieldType = "i32"
	FieldF32    FieldType = "f32"
	FieldString FieldType = "string"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldU8, FieldU16, FieldU32, FieldU64, FieldI16, FieldI32, FieldF32, FieldString:
		return true
	default:
		return false
	}
}

// Descriptor describes how to decode and render one sensor's payload
// record. It is immutable once loaded.
type Descriptor struct {
	BinaryID         uint8     `yaml:"binary_id"`
	AsciiID          string    `yaml:"ascii_id"`
	Name             string    `yaml:"name"`
	Reference        string    `yaml:"reference"`
	FieldCount       int       `yaml:"field_count"`
	FieldType        FieldType `yaml:"field_type"`
	FieldWidth       int       `yaml:"field_width"` // ignored (0) when FieldType == FieldString
	DecimalPrecision int       `yaml:"decimal_precision"`
	Unit             string    `yaml:"unit"`
}

// file mirrors the on-disk YAML shape.
type file struct {
	Sensors []Descriptor `yaml:"sensors"`
}

// Registry is an immutable, read-only-after-load table of sensor
// descriptors keyed by binary ID. A *Registry is safe to share across
// goroutines without locking: nothing ever mutates it post-load.
type Registry struct {
	byID map[uint8]Descriptor
}

// Load reads a YAML descriptor file and builds a Registry. It fails fast
// (returns a non-nil error) if the file is missing, malformed, or contains
// a descriptor with an unrecognized field type. Loading is the only place
// that validates the shape of the table.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read descriptor file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: parse descriptor file: %w", err)
	}

	byID := make(map[uint8]Descriptor, len(f.Sensors))
	for _, d := range f.Sensors {
		if !d.FieldType.Valid() {
			return nil, fmt.Errorf("registry: sensor %d (%s): unknown field_type %q", d.BinaryID, d.AsciiID, d.FieldType)
		}
		if d.FieldCount < 1 {
			return nil, fmt.Errorf("registry: sensor %d (%s): field_count must be >= 1", d.BinaryID, d.AsciiID)
		}
		if d.FieldType != FieldString && d.FieldWidth < 1 {
			return nil, fmt.Errorf("registry: sensor %d (%s): field_width must be >= 1 for non-string types", d.BinaryID, d.AsciiID)
		}
		if _, exists := byID[d.BinaryID]; exists {
			return nil, fmt.Errorf("registry: duplicate binary_id %d", d.BinaryID)
		}
		byID[d.BinaryID] = d
	}

	return &Registry{byID: byID}, nil
}

// Lookup returns the descriptor for a binary sensor ID and whether it was
// found. A miss is not an error here: the frame decoder turns it into a
// soft KindUnknownSensorID error.
func (r *Registry) Lookup(binaryID uint8) (Descriptor, bool) {
	d, ok := r.byID[binaryID]
	return d, ok
}

// Len returns the number of descriptors loaded, mostly useful for logging
// and the `libellium-tap sensors` diagnostic command.
func (r *Registry) Len() int {
	return len(r.byID)
}

// All returns every loaded descriptor, sorted by binary ID. It allocates a
// fresh slice per call and is intended for diagnostics, not the hot path.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].BinaryID > out[j].BinaryID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
