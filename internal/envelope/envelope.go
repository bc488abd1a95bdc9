// Package envelope renders a decoded frame into the JSON structure
// published downstream. Building an envelope never fails and never
// touches the network; it is a pure function of a DecodedFrame, the
// sensor registry, static node metadata, and a timestamp.
package envelope

import (
	"strconv"
	"strings"
	"time"

	"github.com/agsys-edge/libellium-ingest/internal/frame"
	"github.com/agsys-edge/libellium-ingest/internal/registry"
)

// Metadata is the static, per-node configuration rendered into every
// envelope's metadata block. It does not change between frames.
type Metadata struct {
	Descriptor   string
	SensorName   string
	SensorModel  string
	Room         string
	Protocol     string
	Broker       string
	Topic        string
}

// Header is the JSON "metadata" object of a published envelope.
type Header struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Descriptor  string `json:"descriptor"`
	SensorName  string `json:"sensor name"`
	SensorModel string `json:"sensor model"`
	Room        string `json:"room"`
	Protocol    string `json:"protocol"`
	Broker      string `json:"broker"`
	Topic       string `json:"topic"`
}

// Envelope is the full JSON document published to the measurements topic.
type Envelope struct {
	Metadata Header            `json:"metadata"`
	Data     map[string]string `json:"data"`
}

// naUnit is rendered for measurements whose descriptor leaves unit blank.
const naUnit = "N/A"

// Build renders f's measurements into an Envelope using the descriptor
// already attached to each Measurement, meta for the static node fields,
// and now as the publish-time wall clock. reg is accepted but not consulted.
func Build(f *frame.DecodedFrame, reg *registry.Registry, meta Metadata, now time.Time) Envelope {
	data := make(map[string]string, len(f.Measurements))
	for _, m := range f.Measurements {
		data[m.Descriptor.AsciiID] = renderValue(m)
	}

	return Envelope{
		Metadata: Header{
			Date:        now.Format("2006-01-02"),
			Time:        formatTime(now),
			Descriptor:  meta.Descriptor,
			SensorName:  meta.SensorName,
			SensorModel: meta.SensorModel,
			Room:        meta.Room,
			Protocol:    meta.Protocol,
			Broker:      meta.Broker,
			Topic:       meta.Topic,
		},
		Data: data,
	}
}

// formatTime renders HH:MM:SS.m, tenths of a second, truncated rather
// than Go's usual nanosecond-precision formatting.
func formatTime(now time.Time) string {
	tenths := now.Nanosecond() / 100_000_000
	return now.Format("15:04:05") + "." + strconv.Itoa(tenths)
}

// renderValue formats one measurement as "<value> <unit>", space-joining
// vector components (e.g. GPS "<lat> <lon> degrees"). decimal_precision
// is a display hint only and is never enforced here: floats render with
// the minimal digits that round-trip exactly, never padded with zeros.
func renderValue(m frame.Measurement) string {
	unit := m.Descriptor.Unit
	if unit == "" {
		unit = naUnit
	}

	v := m.Value
	switch {
	case v.Type == registry.FieldString:
		return v.Str + " " + unit

	case len(v.FloatVec) > 0:
		parts := make([]string, len(v.FloatVec))
		for i, f := range v.FloatVec {
			parts[i] = formatFloat(f)
		}
		return strings.Join(parts, " ") + " " + unit

	case len(v.IntVec) > 0:
		parts := make([]string, len(v.IntVec))
		for i, n := range v.IntVec {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return strings.Join(parts, " ") + " " + unit

	case len(v.UintVec) > 0:
		parts := make([]string, len(v.UintVec))
		for i, n := range v.UintVec {
			parts[i] = strconv.FormatUint(n, 10)
		}
		return strings.Join(parts, " ") + " " + unit

	case v.Type == registry.FieldF32:
		return formatFloat(v.Float) + " " + unit

	case v.Type == registry.FieldI16 || v.Type == registry.FieldI32:
		return strconv.FormatInt(v.Int, 10) + " " + unit

	default:
		return strconv.FormatUint(v.Uint, 10) + " " + unit
	}
}

// formatFloat renders the shortest decimal that round-trips exactly,
// always keeping a fractional part (e.g. "48.0", not "48") so a whole
// value still reads as a float rather than an integer.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
