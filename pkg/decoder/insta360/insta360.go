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

// Package insta360 decodes the Insta360 metadata trailer: a block of
// fixed-length IMU records appended after the end of an otherwise ordinary
// MP4, introduced by a 32-byte ASCII UUID magic somewhere in the last
// mebibyte of the file. Unlike the container-embedded decoders, this one
// never looks at the moov/trak tree — it scans the raw bytes directly.
package insta360

import (
	"bytes"

	"github.com/flightlog/telemetry/pkg/bitreader"
	"github.com/flightlog/telemetry/pkg/decoder"
	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/identify"
	"github.com/flightlog/telemetry/pkg/model"
)

func init() {
	decoder.Register(identify.KindInsta360, &Decoder{})
}

// magic is the trailer's introducer: the ASCII hex digest
// 8db42d694ccc418790edff439fe026bf, naming the UUID in little-endian form.
var magic = []byte("8db42d694ccc418790edff439fe026bf")

// searchWindow bounds how far back from EOF the magic is looked for: the
// trailer UUID is expected within the last mebibyte of the file.
const searchWindow = 1 << 20

// recordSize is one IMU record: an 8-byte little-endian microsecond
// timestamp, 3 little-endian float32 gyro axes (rad/s), 3 little-endian
// float32 accel axes (m/s^2).
const recordSize = 8 + 3*4 + 3*4

const headerSize = 8 // recordCount uint32 LE + rateHz uint32 LE

// Decoder implements decoder.Decoder for the Insta360 trailer.
type Decoder struct{}

// Identify reports confidence 1 when the magic is found within the last
// mebibyte of in.Data.
func (*Decoder) Identify(in decoder.Input) float64 {
	if findMagic(in.Data) < 0 {
		return 0
	}
	return 1
}

// Decode locates the trailer, reads its declared record count and IMU
// rate, and decodes as many complete fixed-length records as are actually
// present — a file truncated mid-record yields every record up to, but not
// including, the incomplete one, rather than an error.
func (*Decoder) Decode(in decoder.Input) (model.DeviceIdentity, []model.Track, error) {
	pos := findMagic(in.Data)
	if pos < 0 {
		return model.DeviceIdentity{}, nil, telerr.Unsupported()
	}

	rd := bitreader.New(in.Data)
	headerStart := int64(pos + len(magic))
	declaredCount, err := rd.Uint32LE(headerStart)
	if err != nil {
		return model.DeviceIdentity{}, nil, telerr.MalformedPayload("insta360", int64(pos), "trailer header runs past end of file")
	}
	rateHz, err := rd.Uint32LE(headerStart + 4)
	if err != nil {
		return model.DeviceIdentity{}, nil, telerr.MalformedPayload("insta360", int64(pos), "trailer header runs past end of file")
	}

	recordsStart := headerStart + headerSize
	available := len(in.Data) - int(recordsStart)
	if available < 0 {
		available = 0
	}
	n := available / recordSize
	if uint32(n) > declaredCount {
		n = int(declaredCount)
	}
	if uint32(n) < declaredCount {
		in.Log.Warn().Src("insta360").Msgf(
			"trailer declares %d records but only %d are complete, dropping the trailing partial one", declaredCount, n)
	}

	track := model.Track{
		HandlerType:        "insta360-trailer",
		Name:               "imu",
		SampleRateHz:       float64(rateHz),
		TimestampsAccurate: true,
	}
	var tags []model.Tag

	for i := 0; i < n; i++ {
		recStart := recordsStart + int64(i*recordSize)
		ts, gyro, accel, err := readRecord(rd, recStart)
		if err != nil {
			// A truncation check already bounded n; this would only fire on
			// an internal arithmetic mistake.
			return model.DeviceIdentity{}, nil, err
		}

		tags = append(tags,
			model.Tag{Group: model.GroupGyroscope, Name: "gyro", NativeID: "insta360:gyro", Value: model.NewVector(gyro), Unit: "rad/s", TimestampUs: &ts},
			model.Tag{Group: model.GroupAccelerometer, Name: "accel", NativeID: "insta360:accel", Value: model.NewVector(accel), Unit: "m/s^2", TimestampUs: &ts},
		)
		track.Samples = append(track.Samples, model.Sample{
			TimestampUs: ts,
			Values: map[model.Group]model.Value{
				model.GroupGyroscope:     model.NewVector(gyro),
				model.GroupAccelerometer: model.NewVector(accel),
			},
		})
	}
	track.Tags = tags

	return model.DeviceIdentity{Vendor: "Insta360"}, []model.Track{track}, nil
}

// readRecord reads one fixed-length IMU record at off through in: an
// 8-byte LE microsecond timestamp followed by 3 LE float32 gyro axes and 3
// LE float32 accel axes.
func readRecord(in *bitreader.Input, off int64) (int64, []model.Value, []model.Value, error) {
	tsU, err := in.Uint64LE(off)
	if err != nil {
		return 0, nil, nil, telerr.MalformedPayload("insta360", off, "truncated IMU record")
	}
	gyro, err := readVec3(in, off+8)
	if err != nil {
		return 0, nil, nil, telerr.MalformedPayload("insta360", off, "truncated IMU record")
	}
	accel, err := readVec3(in, off+20)
	if err != nil {
		return 0, nil, nil, telerr.MalformedPayload("insta360", off, "truncated IMU record")
	}
	return int64(tsU), gyro, accel, nil
}

func readVec3(in *bitreader.Input, off int64) ([]model.Value, error) {
	out := make([]model.Value, 3)
	for i := 0; i < 3; i++ {
		v, err := in.Float32LE(off + int64(i*4))
		if err != nil {
			return nil, err
		}
		out[i] = model.NewFloat(float64(v))
	}
	return out, nil
}

// findMagic scans the last searchWindow bytes of data for magic, returning
// its absolute offset or -1. Searching the suffix closest to EOF first
// means the trailer is found without a full-file scan.
func findMagic(data []byte) int {
	start := 0
	if len(data) > searchWindow {
		start = len(data) - searchWindow
	}
	window := data[start:]
	idx := bytes.LastIndex(window, magic)
	if idx < 0 {
		return -1
	}
	return start + idx
}
