// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package gpmf decodes GoPro Metadata Format, a recursive, typed
// length-value stream carried in the "gpmd" MP4 sample track.
package gpmf

import (
	"encoding/binary"
	"math"

	"github.com/flightlog/telemetry/pkg/decoder"
	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/identify"
	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/model"
)

func init() {
	decoder.Register(identify.KindGpmf, &Decoder{})
}

// gpmdFormat is the stsd sample-entry fourCC that marks a GoPro metadata
// track.
var gpmdFormat = isobmff.BoxType{'g', 'p', 'm', 'd'}

// Decoder implements decoder.Decoder for GPMF (GoPro).
type Decoder struct{}

// Identify reports confidence 1 when in's demuxed container has a gpmd
// track, 0 otherwise — GPMF has no useful standalone magic of its own, it
// rides inside MP4.
func (*Decoder) Identify(in decoder.Input) float64 {
	if in.File == nil {
		return 0
	}
	for _, tr := range in.File.Tracks {
		if tr.Format == gpmdFormat {
			return 1
		}
	}
	return 0
}

// Decode reassembles and parses every gpmd track in in.File into one
// model.Track per recognized sensor group. Samples carry placeholder,
// index-based timestamps; pkg/timeline.Reconstruct fills in the real ones
// from the MP4 sample table plus any STMP tags preserved on the track.
func (*Decoder) Decode(in decoder.Input) (model.DeviceIdentity, []model.Track, error) {
	if in.File == nil {
		return model.DeviceIdentity{}, nil, telerr.Unsupported()
	}

	device := model.DeviceIdentity{Vendor: "GoPro"}
	var tracks []model.Track
	for _, tr := range in.File.Tracks {
		if tr.Format != gpmdFormat {
			continue
		}
		payload, err := tr.Payload()
		if err != nil {
			return model.DeviceIdentity{}, nil, err
		}
		tags, collected, err := decodeWithTracks(payload, tr.Timescale)
		if err != nil {
			return model.DeviceIdentity{}, nil, err
		}
		for i := range collected {
			collected[i].Tags = tags
		}
		tracks = append(tracks, collected...)

		if device.Model == "" {
			if dvnm := findString(tags, "DVNM"); dvnm != "" {
				device.Model = dvnm
			}
		}
	}

	return device, tracks, nil
}

// findString searches tags for a native id at any nesting depth and
// returns its string value, or "" if absent — used for GPMF's "DVNM"
// (device name) tag, which GoPro nests under the top-level DEVC rather
// than emitting at the stream's outermost level.
func findString(tags []model.Tag, nativeID string) string {
	for _, tg := range tags {
		if tg.NativeID == nativeID && tg.Value.Kind() == model.KindString {
			return tg.Value.AsString()
		}
		if tg.Value.Kind() == model.KindTagMap {
			if s := findString(tagsFromMap(tg.Value.AsTagMap()), nativeID); s != "" {
				return s
			}
		}
	}
	return ""
}

// tagsFromMap rebuilds a slice view of a nested tag map's values for
// findString's recursive walk. Map iteration order never affects the
// result: findString returns on the first nativeID match, and a TagMap
// holds at most one entry per native id.
func tagsFromMap(m map[string]model.Tag) []model.Tag {
	out := make([]model.Tag, 0, len(m))
	for _, tg := range m {
		out = append(out, tg)
	}
	return out
}

// trackSet accumulates per-group logical tracks in first-seen order while
// decodeLevel is still walking the record tree, so sample ordering follows
// the byte stream rather than a nested tag map's undefined iteration order
// (model.Value's KindTagMap is a Go map — re-deriving sample order from it
// after the fact would make decode output non-deterministic across runs).
type trackSet struct {
	byGroup map[model.Group]*model.Track
	order   []model.Group
}

func newTrackSet() *trackSet {
	return &trackSet{byGroup: map[model.Group]*model.Track{}}
}

func (ts *trackSet) add(tg model.Tag, timescale uint32) {
	switch tg.Group {
	case model.GroupAccelerometer, model.GroupGyroscope, model.GroupMagnetometer,
		model.GroupGPS, model.GroupCameraOrientation, model.GroupExposure:
	default:
		return
	}
	tr, ok := ts.byGroup[tg.Group]
	if !ok {
		tr = &model.Track{HandlerType: "meta", Name: tg.Name, TimescaleHz: timescale}
		ts.byGroup[tg.Group] = tr
		ts.order = append(ts.order, tg.Group)
	}
	appendSamples(tr, tg)
}

func (ts *trackSet) tracks() []model.Track {
	out := make([]model.Track, 0, len(ts.order))
	for _, g := range ts.order {
		out = append(out, *ts.byGroup[g])
	}
	return out
}

// decodeWithTracks parses buf exactly like Decode, and additionally
// collects every sample-bearing tag — whether top-level or nested under a
// DEVC/STRM group — into per-group model.Tracks in stream order.
func decodeWithTracks(buf []byte, timescale uint32) ([]model.Tag, []model.Track, error) {
	ts := newTrackSet()
	tags, _, err := decodeLevel(buf, 0, ts, timescale)
	if err != nil {
		return nil, nil, err
	}
	return tags, ts.tracks(), nil
}

// appendSamples expands tg's value — a single element or a per-sample
// vector — into consecutive model.Sample entries.
func appendSamples(tr *model.Track, tg model.Tag) {
	idx := int64(len(tr.Samples))
	if tg.Value.Kind() == model.KindVector {
		for _, elem := range tg.Value.AsVector() {
			tr.Samples = append(tr.Samples, model.Sample{
				TimestampUs: idx,
				Values:      map[model.Group]model.Value{tg.Group: elem},
			})
			idx++
		}
		return
	}
	tr.Samples = append(tr.Samples, model.Sample{
		TimestampUs: idx,
		Values:      map[model.Group]model.Value{tg.Group: tg.Value},
	})
}

// Record is one decoded GPMF entry: its four-CC key, the group it was
// mapped to, and its value. Nested ("\x00"-typed) records decode to a
// model.Value of KindTagMap holding their children, keyed by native_id —
// this reuses model.Tag directly rather than introducing a second tree
// shape just for GPMF.
type Record = model.Tag

// Decode parses buf — a GPMF stream, already reassembled across MP4
// samples by the demuxer — into the top-level tags it contains. Nested
// DEVC/STRM groups appear as KindTagMap-valued tags.
func Decode(buf []byte) ([]Record, error) {
	tags, _, err := decodeLevel(buf, 0, nil, 0)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// state carries the GPMF nested decoder's transient attributes: a pending
// SCAL/UNIT/SIUN apply only to the very next numeric record at the same
// nesting depth, then are cleared.
type state struct {
	scale []float64
	unit  string
}

// align4 rounds n up to the next multiple of 4 (GPMF payload padding).
func align4(n int) int {
	if n%4 == 0 {
		return n
	}
	return n + (4 - n%4)
}

// decodeLevel decodes one sequence of sibling records (GPMF's "InNested(depth)"
// state) and returns them plus the number of bytes consumed. ts, when
// non-nil, additionally collects every sample-bearing record (at any
// nesting depth) into its per-group model.Track in stream order.
func decodeLevel(buf []byte, depth int, ts *trackSet, timescale uint32) ([]model.Tag, int, error) {
	var tags []model.Tag
	pos := 0
	local := &state{}

	for pos+8 <= len(buf) {
		fourCC := string(buf[pos : pos+4])
		typeByte := buf[pos+4]
		structSize := int(buf[pos+5])
		count := int(binary.BigEndian.Uint16(buf[pos+6 : pos+8]))
		pos += 8

		payloadLen := structSize * count
		paddedLen := align4(payloadLen)
		if pos+paddedLen > len(buf) {
			return nil, pos, telerr.MalformedPayload("gpmf", int64(pos), "record payload runs past end of stream")
		}
		payload := buf[pos : pos+payloadLen]
		pos += paddedLen

		switch fourCC {
		case "SCAL":
			scale, err := decodeNumericSlice(payload, typeByte, structSize, count)
			if err != nil {
				return nil, pos, err
			}
			local.scale = scale
			continue
		case "UNIT", "SIUN":
			local.unit = trimNulls(string(payload))
			continue
		case "TYPE":
			// Complex-struct field format for the next '?'-typed record.
			// The TYPE record is skipped and its field format is not
			// stored; a following '?' record decodes to raw bytes
			// (KindBytes), not into its mixed-width fields.
			continue
		}

		if typeByte == 0 {
			children, consumed, err := decodeLevel(payload, depth+1, ts, timescale)
			if err != nil {
				return nil, pos, err
			}
			_ = consumed
			tagMap := make(map[string]model.Tag, len(children))
			for _, c := range children {
				tagMap[c.NativeID] = c
			}
			tags = append(tags, model.Tag{
				Group:    model.GroupCustom,
				Name:     fourCC,
				NativeID: fourCC,
				Value:    model.NewTagMap(tagMap),
			})
			local = &state{}
			continue
		}

		val, err := decodeValue(payload, typeByte, structSize, count, local.scale)
		if err != nil {
			return nil, pos, err
		}

		numeric := typeByte != 'F' && typeByte != 'G' && scalarWidth(typeByte) != 0
		unit := ""
		if numeric {
			unit = local.unit
		}
		tg := model.Tag{
			Group:    groupForFourCC(fourCC),
			Name:     fourCC,
			NativeID: fourCC,
			Value:    val,
			Unit:     unit,
		}
		tags = append(tags, tg)
		if ts != nil {
			sampleTag := tg
			if count == 1 && val.Kind() == model.KindVector {
				// A single multi-axis sample: keep its axes together.
				sampleTag.Value = model.NewVector([]model.Value{val})
			}
			ts.add(sampleTag, timescale)
		}
		if numeric {
			local = &state{}
		}
	}

	return tags, pos, nil
}

func trimNulls(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}

// scalarWidth returns the byte width of one element of typeByte's type, or
// 0 for types this decoder treats as opaque blobs.
func scalarWidth(typeByte byte) int {
	switch typeByte {
	case 'b', 'B':
		return 1
	case 's', 'S':
		return 2
	case 'l', 'L', 'f', 'F':
		return 4
	case 'j', 'J', 'd':
		return 8
	case 'G':
		return 16
	default:
		return 0
	}
}

// decodeValue decodes a GPMF record's payload into a model.Value. count is
// the number of repeating samples; structSize is the byte width of one
// sample, which may itself bundle several same-typed elements (e.g. ACCL's
// 3-axis int16 sample has structSize=6, elementWidth=2, elementsPerSample=3).
func decodeValue(payload []byte, typeByte byte, structSize, count int, scale []float64) (model.Value, error) {
	switch typeByte {
	case 'c':
		return model.NewString(trimNulls(string(payload))), nil
	case 'U':
		return model.NewTime(trimNulls(string(payload))), nil
	case 'F':
		if len(payload) < 4 {
			return model.Value{}, telerr.MalformedPayload("gpmf", 0, "FourCC value too short")
		}
		return model.NewString(string(payload[:4])), nil
	case 'G':
		return model.NewBytes(payload), nil
	case '?':
		return model.NewBytes(payload), nil
	}

	elemWidth := scalarWidth(typeByte)
	if elemWidth == 0 {
		return model.NewBytes(payload), nil
	}
	elemsPerSample := structSize / elemWidth
	if elemsPerSample == 0 {
		elemsPerSample = 1
	}

	samples := make([]model.Value, 0, count)
	off := 0
	for s := 0; s < count; s++ {
		axes := make([]model.Value, 0, elemsPerSample)
		for a := 0; a < elemsPerSample; a++ {
			if off+elemWidth > len(payload) {
				return model.Value{}, telerr.MalformedPayload("gpmf", int64(off), "truncated sample element")
			}
			v := decodeScalar(payload[off:off+elemWidth], typeByte)
			if len(scale) > 0 {
				v = model.NewFloat(asFloat(v) / scale[a%len(scale)])
			}
			axes = append(axes, v)
			off += elemWidth
		}
		if elemsPerSample == 1 {
			samples = append(samples, axes[0])
		} else {
			samples = append(samples, model.NewVector(axes))
		}
	}

	if count == 1 {
		return samples[0], nil
	}
	return model.NewVector(samples), nil
}

// decodeNumericSlice decodes a numeric-only payload (SCAL) into float64s.
func decodeNumericSlice(payload []byte, typeByte byte, structSize, count int) ([]float64, error) {
	elemWidth := scalarWidth(typeByte)
	if elemWidth == 0 {
		return nil, telerr.MalformedPayload("gpmf", 0, "SCAL record has non-numeric type")
	}
	n := len(payload) / elemWidth
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		off := i * elemWidth
		out = append(out, asFloat(decodeScalar(payload[off:off+elemWidth], typeByte)))
	}
	return out, nil
}

func decodeScalar(b []byte, typeByte byte) model.Value {
	switch typeByte {
	case 'b':
		return model.NewInt(int64(int8(b[0])))
	case 'B':
		return model.NewUint(uint64(b[0]))
	case 's':
		return model.NewInt(int64(int16(binary.BigEndian.Uint16(b))))
	case 'S':
		return model.NewUint(uint64(binary.BigEndian.Uint16(b)))
	case 'l':
		return model.NewInt(int64(int32(binary.BigEndian.Uint32(b))))
	case 'L':
		return model.NewUint(uint64(binary.BigEndian.Uint32(b)))
	case 'j':
		return model.NewInt(int64(binary.BigEndian.Uint64(b)))
	case 'J':
		return model.NewUint(binary.BigEndian.Uint64(b))
	case 'f':
		return model.NewFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(b))))
	case 'd':
		return model.NewFloat(math.Float64frombits(binary.BigEndian.Uint64(b)))
	default:
		return model.NewBytes(b)
	}
}

func asFloat(v model.Value) float64 {
	switch v.Kind() {
	case model.KindInt:
		return float64(v.AsInt())
	case model.KindUint:
		return float64(v.AsUint())
	case model.KindFloat:
		return v.AsFloat()
	default:
		return 0
	}
}

// groupForFourCC maps the well-known GoPro four-CCs onto the common
// model.Group taxonomy; anything unrecognized is Custom, so an
// unrecognized tag's native_id is still preserved rather than dropped.
func groupForFourCC(fourCC string) model.Group {
	switch fourCC {
	case "ACCL":
		return model.GroupAccelerometer
	case "GYRO":
		return model.GroupGyroscope
	case "MAGN":
		return model.GroupMagnetometer
	case "GPS5", "GPSU", "GPSF", "GPSP":
		return model.GroupGPS
	case "MTRX", "CORI", "IORI":
		return model.GroupCameraOrientation
	case "SHUT", "ISOG", "ISOE", "WBAL":
		return model.GroupExposure
	case "STMP", "TSMP":
		return model.GroupTimecode
	default:
		return model.GroupCustom
	}
}
