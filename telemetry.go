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

// Package telemetry is the library façade: open a file, read its device
// identity, its decoded tags and its normalized IMU stream. Importing this
// package registers every bundled decoder (gpmf, sony, camm, insta360) via
// their init() functions.
package telemetry

import (
	"encoding/binary"
	"math"
	"os"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/flightlog/telemetry/pkg/decoder"
	_ "github.com/flightlog/telemetry/pkg/decoder/camm"
	_ "github.com/flightlog/telemetry/pkg/decoder/gpmf"
	_ "github.com/flightlog/telemetry/pkg/decoder/insta360"
	_ "github.com/flightlog/telemetry/pkg/decoder/sony"
	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/identify"
	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/log"
	"github.com/flightlog/telemetry/pkg/model"
	"github.com/flightlog/telemetry/pkg/normalize"
	"github.com/flightlog/telemetry/pkg/timeline"
)

// sniffLen is how much of the file identify.Identify needs up front; 8 KiB
// comfortably covers ftyp plus the first few box headers.
const sniffLen = 8 * 1024

// Options configures how a Parser is opened.
type Options struct {
	// Log receives non-fatal diagnostics (unknown model, truncated
	// trailer, skipped box). Nil is a silent no-op.
	Log *log.Logger
}

// TelemetryOptions configures Parser.Telemetry's output shape:
// human-readable formatting and group filtering.
type TelemetryOptions struct {
	// HumanReadable sets each unit-bearing tag's Description to
	// "NAME (unit)". Values, samples and matrices keep their native form;
	// nothing is pretty-printed.
	HumanReadable bool
	// IncludeGroups restricts output to these groups; nil means all.
	IncludeGroups map[model.Group]bool
}

// Parser holds one opened file's identity and decoded tracks. It is built
// once by Open and is not safe to reuse across different input bytes.
type Parser struct {
	filename string
	kind     identify.Kind
	device   model.DeviceIdentity
	tracks   []model.Track
	file     *isobmff.File // nil for non-ISO-BMFF sources
	log      *log.Logger

	normalized      []model.NormalizedSample
	normalizedDrawn bool
}

// Open inspects data's prefix (and, as a last-resort tiebreaker, filename's
// extension) to choose a decoder, demuxes an ISO-BMFF container if present,
// and runs the chosen decoder to completion. It returns errors.Unsupported
// if no decoder recognizes the input or none is registered for the
// recognized kind.
func Open(data []byte, filename string, opts Options) (*Parser, error) {
	prefix := data
	if len(prefix) > sniffLen {
		prefix = prefix[:sniffLen]
	}
	kind := identify.Identify(prefix, filename)
	kind = refineByTrailerSniff(kind, data, filename)
	if kind == identify.KindUnknown {
		return nil, telerr.Unsupported()
	}

	d := decoder.Lookup(kind)
	if d == nil {
		return nil, telerr.Unsupported()
	}

	var file *isobmff.File
	if isContainerKind(kind) {
		f, err := isobmff.Open(data, opts.Log)
		if err != nil {
			return nil, err
		}
		file = f
	}

	in := decoder.Input{Data: data, File: file, Filename: filename, Log: opts.Log}
	device, tracks, err := d.Decode(in)
	if err != nil {
		return nil, err
	}

	reconstructTimestamps(tracks, file)

	return &Parser{
		filename: filename,
		kind:     kind,
		device:   device,
		tracks:   tracks,
		file:     file,
		log:      opts.Log,
	}, nil
}

// OpenFile reads path and calls Open with its contents.
func OpenFile(path string, opts Options) (*Parser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, telerr.IO(err)
	}
	return Open(data, path, opts)
}

// refineByTrailerSniff catches the one format identify.Identify's
// prefix-only view structurally cannot: the Insta360 trailer's magic sits
// near EOF, past whatever an 8 KiB prefix covers, so a file that is
// otherwise an ordinary ISO-BMFF container (kind resolves to
// KindGenericMP4 or isn't recognized at all) gets one more look from the
// Insta360 decoder's own full-data Identify, exactly the "decoder double
// checks against its own full payload" pkg/decoder documents.
func refineByTrailerSniff(kind identify.Kind, data []byte, filename string) identify.Kind {
	if kind != identify.KindUnknown && kind != identify.KindGenericMP4 {
		return kind
	}
	insta := decoder.Lookup(identify.KindInsta360)
	if insta == nil {
		return kind
	}
	if insta.Identify(decoder.Input{Data: data, Filename: filename}) > 0 {
		return identify.KindInsta360
	}
	return kind
}

func isContainerKind(k identify.Kind) bool {
	switch k {
	case identify.KindGpmf, identify.KindSony, identify.KindCamm, identify.KindDJI, identify.KindGenericMP4:
		return true
	default:
		return false
	}
}

// reconstructTimestamps runs pkg/timeline.Reconstruct for every track
// against the MP4 sample table its handler type's track carried, when one
// exists. Trailer/standalone decoders (Insta360) already set
// TimestampsAccurate themselves, so Reconstruct is a no-op for them.
func reconstructTimestamps(tracks []model.Track, file *isobmff.File) {
	var mp4Samples []isobmff.Sample
	if file != nil {
		for _, t := range file.Tracks {
			if t.IsTelemetry() {
				mp4Samples = append(mp4Samples, t.Samples...)
			}
		}
	}
	for i := range tracks {
		timeline.Reconstruct(&tracks[i], mp4Samples)
	}
}

// Device returns the identified device.
func (p *Parser) Device() model.DeviceIdentity {
	return p.device
}

// Kind returns the format identify.Identify recognized this input as.
func (p *Parser) Kind() identify.Kind {
	return p.kind
}

// Filename returns the name Open/OpenFile was given, for diagnostics.
func (p *Parser) Filename() string {
	return p.filename
}

// Telemetry returns the decoded tracks, filtered and shaped by opts.
func (p *Parser) Telemetry(opts TelemetryOptions) []model.Track {
	out := make([]model.Track, 0, len(p.tracks))
	for _, tr := range p.tracks {
		if opts.IncludeGroups != nil && !trackMatchesGroups(tr, opts.IncludeGroups) {
			continue
		}
		if opts.HumanReadable {
			tr = humanReadable(tr)
		}
		out = append(out, tr)
	}
	return out
}

func trackMatchesGroups(tr model.Track, groups map[model.Group]bool) bool {
	for _, s := range tr.Samples {
		for g := range s.Values {
			if groups[g] {
				return true
			}
		}
	}
	for _, tg := range tr.Tags {
		if groups[tg.Group] {
			return true
		}
	}
	return false
}

// humanReadable rewrites a track's tags to carry their unit in the
// Description ("NAME (unit)") rather than changing Value's shape — Value stays the same closed sum
// type either way, "pretty" only changes presentation.
func humanReadable(tr model.Track) model.Track {
	out := tr
	out.Tags = make([]model.Tag, len(tr.Tags))
	for i, tg := range tr.Tags {
		if tg.Unit != "" {
			tg.Description = tg.Name + " (" + tg.Unit + ")"
		}
		out.Tags[i] = tg
	}
	return out
}

// NormalizedIMU returns the canonical-frame IMU stream across every
// gyroscope/accelerometer-bearing track, lazily computed on first call and
// cached: a second call returns the same slice rather than recomputing it.
func (p *Parser) NormalizedIMU() []model.NormalizedSample {
	if p.normalizedDrawn {
		return p.normalized
	}
	p.normalizedDrawn = true

	for i := range p.tracks {
		withVendor := p.tracks[i]
		if withVendor.Metadata == nil {
			withVendor.Metadata = map[string]string{}
		}
		withVendor.Metadata["vendor"] = p.device.Vendor
		withVendor.Metadata["model"] = p.device.Model
		p.tracks[i] = withVendor

		samples := normalize.Normalize(&p.tracks[i], p.log)
		p.normalized = append(p.normalized, samples...)
	}
	sort.SliceStable(p.normalized, func(i, j int) bool {
		return p.normalized[i].TimestampS < p.normalized[j].TimestampS
	})
	return p.normalized
}

// HasAccurateTimestamps reports whether every track's timestamps come from
// a payload-native or MP4-anchored source (uniform spreading within an MP4
// sample counts as anchored) rather than left as index-based placeholders —
// the AND of every track's pkg/timeline.Reconstruct result.
func (p *Parser) HasAccurateTimestamps() bool {
	for _, tr := range p.tracks {
		if !tr.TimestampsAccurate {
			return false
		}
	}
	return true
}

// Checksum hashes the ordered, serialized tag stream across every track
// with blake2b, so callers can compare decode runs byte-for-byte without
// diffing whole track slices: decoding twice should produce matching
// checksums.
func (p *Parser) Checksum() ([32]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, telerr.IO(err)
	}
	for _, tr := range p.tracks {
		writeTrack(h, tr)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func writeTrack(h interface{ Write([]byte) (int, error) }, tr model.Track) {
	_, _ = h.Write([]byte(tr.HandlerType))
	_, _ = h.Write([]byte(tr.Name))
	for _, tg := range tr.Tags {
		_, _ = h.Write([]byte(tg.NativeID))
		_, _ = h.Write([]byte(tg.Unit))
		writeValue(h, tg.Value)
	}
}

func writeValue(h interface{ Write([]byte) (int, error) }, v model.Value) {
	var buf [8]byte
	switch v.Kind() {
	case model.KindInt:
		binary.BigEndian.PutUint64(buf[:], uint64(v.AsInt()))
		_, _ = h.Write(buf[:])
	case model.KindUint:
		binary.BigEndian.PutUint64(buf[:], v.AsUint())
		_, _ = h.Write(buf[:])
	case model.KindFloat:
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.AsFloat()))
		_, _ = h.Write(buf[:])
	case model.KindBool:
		if v.AsBool() {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	case model.KindTime:
		_, _ = h.Write([]byte(v.AsTime()))
	case model.KindString:
		_, _ = h.Write([]byte(v.AsString()))
	case model.KindBytes:
		_, _ = h.Write(v.AsBytes())
	case model.KindJSON:
		_, _ = h.Write(v.AsJSON())
	case model.KindVector:
		for _, e := range v.AsVector() {
			writeValue(h, e)
		}
	case model.KindMatrix:
		for _, row := range v.AsMatrix() {
			for _, f := range row {
				binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
				_, _ = h.Write(buf[:])
			}
		}
	case model.KindTagMap:
		m := v.AsTagMap()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tg := m[k]
			_, _ = h.Write([]byte(k))
			writeValue(h, tg.Value)
		}
	}
}
