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

// Package camm decodes CAMM (Camera Motion Metadata), the Google
// Street-View-originated fixed-layout telemetry track: one record per MP4
// sample, selected by a 2-byte type field, little-endian. Unlike GPMF and
// Sony, CAMM has no sample rate header and no vendor schema to look up —
// every record's layout is fixed by the format itself, so it lives in Go,
// not a data table.
package camm

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/icza/bitio"

	"github.com/flightlog/telemetry/pkg/decoder"
	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/identify"
	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/model"
)

func init() {
	decoder.Register(identify.KindCamm, &Decoder{})
}

var cammFormat = isobmff.BoxType{'c', 'a', 'm', 'm'}

// Record types, in CAMM's fixed type-field order.
const (
	typeOrientation uint16 = 1
	typeExposure    uint16 = 2
	typeGyro        uint16 = 3
	typeAccel       uint16 = 4
	typePosition    uint16 = 5
	typeGPS         uint16 = 6
)

// Decoder implements decoder.Decoder for CAMM.
type Decoder struct{}

// Identify reports confidence 1 when a camm-format track is present.
func (*Decoder) Identify(in decoder.Input) float64 {
	if in.File == nil {
		return 0
	}
	for _, tr := range in.File.Tracks {
		if tr.Format == cammFormat {
			return 1
		}
	}
	return 0
}

// Decode reassembles every camm track and decodes each MP4 sample as one
// fixed-layout record, keyed by type. Timestamps come straight from the
// MP4 sample's DTS — CAMM has no sample rate header of its own — so CAMM
// tracks are accurate from the start; pkg/timeline never needs to touch
// them.
func (*Decoder) Decode(in decoder.Input) (model.DeviceIdentity, []model.Track, error) {
	if in.File == nil {
		return model.DeviceIdentity{}, nil, telerr.Unsupported()
	}

	var tracks []model.Track
	for _, tr := range in.File.Tracks {
		if tr.Format != cammFormat {
			continue
		}
		payload, err := tr.Payload()
		if err != nil {
			return model.DeviceIdentity{}, nil, err
		}
		bounds := tr.SampleBoundaries()

		byGroup := map[model.Group]*model.Track{}
		var order []model.Group
		var tags []model.Tag

		for i, start := range bounds {
			end := int64(len(payload))
			if i+1 < len(bounds) {
				end = bounds[i+1]
			}
			dts := uint64(0)
			if i < len(tr.Samples) {
				dts = tr.Samples[i].DTS
			}
			timestampUs := int64(dts) * 1_000_000 / int64(maxUint32(tr.Timescale, 1))

			tg, group, err := decodeRecord(payload[start:end], timestampUs)
			if err != nil {
				return model.DeviceIdentity{}, nil, err
			}
			if tg == nil {
				continue
			}
			tags = append(tags, *tg)

			t, ok := byGroup[group]
			if !ok {
				t = &model.Track{
					HandlerType:        "camm",
					Name:               tg.Name,
					TimescaleHz:        tr.Timescale,
					TimestampsAccurate: true,
				}
				byGroup[group] = t
				order = append(order, group)
			}
			t.Samples = append(t.Samples, model.Sample{
				TimestampUs: timestampUs,
				Values:      map[model.Group]model.Value{group: tg.Value},
			})
		}

		for _, g := range order {
			t := *byGroup[g]
			t.Tags = tags
			tracks = append(tracks, t)
		}
	}

	return model.DeviceIdentity{}, tracks, nil
}

func maxUint32(v, min uint32) uint32 {
	if v == 0 {
		return min
	}
	return v
}

// decodeRecord decodes one CAMM sample: 2 reserved bytes, a little-endian
// uint16 type, then the type's fixed payload. Returns a nil tag for any
// type this decoder does not model rather than erroring, since a future
// CAMM revision may add types.
func decodeRecord(buf []byte, timestampUs int64) (*model.Tag, model.Group, error) {
	r := bitio.NewReader(bytes.NewReader(buf))

	head := make([]byte, 4)
	if n := readFull(r, head); n < 4 {
		return nil, 0, telerr.MalformedPayload("camm", 0, "record shorter than the 4-byte header")
	}
	typ := binary.LittleEndian.Uint16(head[2:4])

	switch typ {
	case typeOrientation:
		axes, err := readFloats(r, 4)
		if err != nil {
			return nil, 0, err
		}
		ts := timestampUs
		return &model.Tag{
			Group: model.GroupCameraOrientation, Name: "orientation", NativeID: "camm:1",
			Value: model.NewVector(axes), TimestampUs: &ts,
		}, model.GroupCameraOrientation, nil

	case typeExposure:
		axes, err := readFloats(r, 1)
		if err != nil {
			return nil, 0, err
		}
		ts := timestampUs
		return &model.Tag{
			Group: model.GroupExposure, Name: "exposure", NativeID: "camm:2",
			Value: axes[0], Unit: "s", TimestampUs: &ts,
		}, model.GroupExposure, nil

	case typeGyro:
		axes, err := readFloats(r, 3)
		if err != nil {
			return nil, 0, err
		}
		ts := timestampUs
		return &model.Tag{
			Group: model.GroupGyroscope, Name: "gyro", NativeID: "camm:3",
			Value: model.NewVector(axes), Unit: "rad/s", TimestampUs: &ts,
		}, model.GroupGyroscope, nil

	case typeAccel:
		axes, err := readFloats(r, 3)
		if err != nil {
			return nil, 0, err
		}
		ts := timestampUs
		return &model.Tag{
			Group: model.GroupAccelerometer, Name: "accel", NativeID: "camm:4",
			Value: model.NewVector(axes), Unit: "m/s^2", TimestampUs: &ts,
		}, model.GroupAccelerometer, nil

	case typePosition:
		axes, err := readDoubles(r, 3)
		if err != nil {
			return nil, 0, err
		}
		ts := timestampUs
		return &model.Tag{
			Group: model.GroupGPS, Name: "position", NativeID: "camm:5",
			Value: model.NewVector(axes), TimestampUs: &ts,
		}, model.GroupGPS, nil

	case typeGPS:
		fields, err := readDoubles(r, 4) // time, lat, lon, alt
		if err != nil {
			return nil, 0, err
		}
		ts := timestampUs
		return &model.Tag{
			Group: model.GroupGPS, Name: "gps", NativeID: "camm:6",
			Value: model.NewVector(fields), TimestampUs: &ts,
		}, model.GroupGPS, nil

	default:
		return nil, 0, nil
	}
}

func readFull(r *bitio.Reader, buf []byte) int {
	n := r.TryRead(buf)
	if r.TryError != nil {
		return n
	}
	return n
}

func readFloats(r *bitio.Reader, count int) ([]model.Value, error) {
	out := make([]model.Value, 0, count)
	buf := make([]byte, 4)
	for i := 0; i < count; i++ {
		if n := readFull(r, buf); n < 4 {
			return nil, telerr.MalformedPayload("camm", 0, "truncated float32 field")
		}
		out = append(out, model.NewFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))))
	}
	return out, nil
}

func readDoubles(r *bitio.Reader, count int) ([]model.Value, error) {
	out := make([]model.Value, 0, count)
	buf := make([]byte, 8)
	for i := 0; i < count; i++ {
		if n := readFull(r, buf); n < 8 {
			return nil, telerr.MalformedPayload("camm", 0, "truncated float64 field")
		}
		out = append(out, model.NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf))))
	}
	return out, nil
}
