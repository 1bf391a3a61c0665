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

// Package sony decodes the Sony "mett"/"nrtm" non-real-time metadata
// track: a sequence of fixed-width records, each introduced by a 4-byte
// tag whose length and interpretation come from a schema table
// (schema.yaml), never from the stream itself.
package sony

import (
	"bytes"
	"encoding/binary"

	"github.com/icza/bitio"

	"github.com/flightlog/telemetry/pkg/decoder"
	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/identify"
	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/model"
)

func init() {
	decoder.Register(identify.KindSony, &Decoder{})
}

var mettFormat = isobmff.BoxType{'m', 'e', 't', 't'}

// Decoder implements decoder.Decoder for Sony's non-real-time metadata.
type Decoder struct{}

// Identify reports confidence 1 when in's demuxed container has an
// "mett"-format track; the handler is not checked. The dispatcher has
// already chosen this decoder by then, so Identify mostly confirms what
// it suspected.
func (*Decoder) Identify(in decoder.Input) float64 {
	if in.File == nil {
		return 0
	}
	for _, tr := range in.File.Tracks {
		if tr.Format == mettFormat {
			return 1
		}
	}
	return 0
}

// Decode reassembles every mett track, walks it record by record using the
// schema table, and returns one model.Track per recognized IMU group plus
// the device identity read from the lens/serial/model records.
func (*Decoder) Decode(in decoder.Input) (model.DeviceIdentity, []model.Track, error) {
	if in.File == nil {
		return model.DeviceIdentity{}, nil, telerr.Unsupported()
	}

	device := model.DeviceIdentity{Vendor: "Sony"}
	var tracks []model.Track

	for _, tr := range in.File.Tracks {
		if tr.Format != mettFormat {
			continue
		}
		payload, err := tr.Payload()
		if err != nil {
			return model.DeviceIdentity{}, nil, err
		}
		bounds := tr.SampleBoundaries()

		d := newSampleDecoder(tr.Timescale)
		for i, start := range bounds {
			end := int64(len(payload))
			if i+1 < len(bounds) {
				end = bounds[i+1]
			}
			if err := d.decodeSample(payload[start:end], &device); err != nil {
				return model.DeviceIdentity{}, nil, err
			}
		}
		tracks = append(tracks, d.tracks()...)
	}

	return device, tracks, nil
}

// sampleDecoder accumulates tags and per-group tracks across every MP4
// sample of one mett track, in stream order (same determinism concern as
// pkg/decoder/gpmf's trackSet: samples must be collected during the single
// forward scan, never re-derived from a map afterward).
type sampleDecoder struct {
	timescale uint32
	model     modelDef

	tags    []model.Tag
	byGroup map[model.Group]*model.Track
	order   []model.Group
}

func newSampleDecoder(timescale uint32) *sampleDecoder {
	m, _ := modelFor("")
	return &sampleDecoder{
		timescale: timescale,
		model:     m,
		byGroup:   map[model.Group]*model.Track{},
	}
}

func (d *sampleDecoder) trackFor(name string, group model.Group) *model.Track {
	tr, ok := d.byGroup[group]
	if !ok {
		tr = &model.Track{HandlerType: "mett", Name: name, TimescaleHz: d.timescale}
		d.byGroup[group] = tr
		d.order = append(d.order, group)
	}
	return tr
}

// tracks returns the collected per-group tracks in first-seen order, each
// with the full tag stream attached.
func (d *sampleDecoder) tracks() []model.Track {
	out := make([]model.Track, 0, len(d.order))
	for _, g := range d.order {
		tr := *d.byGroup[g]
		tr.Tags = d.tags
		out = append(out, tr)
	}
	return out
}

// decodeSample walks one MP4 sample's worth of records. Sony's quirk: the
// first few records of each sample are header fields (frame counter,
// exposure); IMU samples follow with a distinct sub-tag. Sub-sample
// timestamps are spread uniformly across the sample, same rule as GPMF
// records with no native sub-sample offset, finalized later by
// pkg/timeline.
func (d *sampleDecoder) decodeSample(buf []byte, device *model.DeviceIdentity) error {
	r := bitio.NewReader(bytes.NewReader(buf))
	index := 0

	for {
		tagBytes := make([]byte, 4)
		n := r.TryRead(tagBytes)
		if r.TryError != nil || n < 4 {
			break // clean end of sample; a partial tag is not an error here
		}
		tag := binary.BigEndian.Uint32(tagBytes)

		def, ok := byTag[tag]
		if !ok {
			return telerr.MalformedPayload("sony", 0, "unknown record tag")
		}

		body := make([]byte, def.byteLength())
		bn := r.TryRead(body)
		if r.TryError != nil || bn < len(body) {
			return telerr.MalformedPayload("sony", 0, "truncated record body")
		}

		switch def.Kind {
		case "header":
			d.tags = append(d.tags, model.Tag{
				Group:    model.GroupCustom,
				Name:     def.Name,
				NativeID: def.Name,
				Value:    model.NewBytes(body),
			})
		case "string":
			s := trimNulls(string(body))
			switch def.Name {
			case "lens_model":
				device.Lens = s
			case "serial":
				device.Serial = s
			case "device_model":
				device.Model = s
				d.model, _ = modelFor(s)
			}
			d.tags = append(d.tags, model.Tag{
				Group:    model.GroupCustom,
				Name:     def.Name,
				NativeID: def.Name,
				Value:    model.NewString(s),
			})
		case "imu":
			val, group := d.decodeIMU(def, body)
			tg := model.Tag{
				Group:    group,
				Name:     def.Name,
				NativeID: def.Name,
				Value:    val,
				Unit:     imuUnit(def.Name),
			}
			d.tags = append(d.tags, tg)
			tr := d.trackFor(def.Name, group)
			tr.Samples = append(tr.Samples, model.Sample{
				TimestampUs: int64(index),
				Values:      map[model.Group]model.Value{group: val},
			})
			index++
		}
	}
	return nil
}

func imuUnit(name string) string {
	switch name {
	case "gyro":
		return "rad/s"
	case "accel":
		return "m/s^2"
	default:
		return ""
	}
}

// decodeIMU reads def.AxisCount little-endian signed integers of
// def.ElementWidth bytes each and scales them by the active model's
// gyro/accel factor.
func (d *sampleDecoder) decodeIMU(def recordDef, body []byte) (model.Value, model.Group) {
	var group model.Group
	var scale float64
	switch def.Group {
	case "gyroscope":
		group = model.GroupGyroscope
		scale = d.model.GyroScale
	case "accelerometer":
		group = model.GroupAccelerometer
		scale = d.model.AccelScale
	default:
		group = model.GroupCustom
		scale = 1
	}

	axes := make([]model.Value, 0, def.AxisCount)
	for a := 0; a < def.AxisCount; a++ {
		off := a * def.ElementWidth
		raw := decodeLE(body[off : off+def.ElementWidth])
		axes = append(axes, model.NewFloat(float64(raw)*scale))
	}
	return model.NewVector(axes), group
}

func decodeLE(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		var u uint64
		for i := len(b) - 1; i >= 0; i-- {
			u = u<<8 | uint64(b[i])
		}
		return int64(u)
	}
}

func trimNulls(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
