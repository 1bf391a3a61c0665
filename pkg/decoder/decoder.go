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

// Package decoder is the shared per-format decoder contract and registry.
// Every vendor format is a variant with the same operation set (Identify,
// Decode); Kind from pkg/identify names the variant, and Register/Lookup
// below is the table the dispatcher chooses from, built up by each decoder
// subpackage registering itself on import.
package decoder

import (
	"github.com/flightlog/telemetry/pkg/identify"
	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/log"
	"github.com/flightlog/telemetry/pkg/model"
)

// Input is what a decoder reads: the whole file, plus a demuxed container
// view for MP4-embedded formats (nil for trailer/standalone formats). Log
// is a nil-safe sink; decoders report non-fatal diagnostics through it
// without checking whether a caller subscribed one.
//
// A decoder-local Dump/Pretty/Tracks options type is deliberately absent
// here: output filtering and formatting are façade-level concerns
// (TelemetryOptions) applied once to the decoded tracks, not duplicated
// per decoder.
type Input struct {
	Data     []byte
	File     *isobmff.File // nil for non-ISO-BMFF sources (e.g. Insta360)
	Filename string
	Log      *log.Logger
}

// Decoder is the operation set every per-format decoder implements.
type Decoder interface {
	// Identify reports this decoder's confidence, in [0,1], that in is a
	// file it can decode. The registry's caller already knows the
	// identify.Kind; Identify lets a decoder double check against its own
	// full payload before committing.
	Identify(in Input) float64

	// Decode parses in and returns the device identity plus the ordered
	// tracks it produced. Decoders never panic on malformed input; they
	// return a *errors.Error with KindMalformedPayload instead.
	Decode(in Input) (model.DeviceIdentity, []model.Track, error)
}

var registry = map[identify.Kind]Decoder{}

// Register associates a Decoder with the identify.Kind it handles. Called
// from each decoder subpackage's init(), so importing this package's
// subpackages for side effect is what populates the registry.
func Register(kind identify.Kind, d Decoder) {
	registry[kind] = d
}

// Lookup returns the Decoder registered for kind, or nil if this build has
// none — the dispatcher then surfaces errors.Unsupported. The error does
// not record which kind was recognized.
func Lookup(kind identify.Kind) Decoder {
	return registry[kind]
}
