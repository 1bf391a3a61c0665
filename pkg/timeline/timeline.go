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

// Package timeline finalizes per-sample timestamps for container-embedded
// telemetry tracks. GPMF and Sony decoders emit placeholder, index-based
// TimestampUs values since they never see the MP4 sample table;
// Reconstruct replaces them with MP4-anchored values, honoring any
// payload-native sub-sample offset (GPMF STMP) the decoder preserved.
package timeline

import (
	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/model"
)

// Reconstruct finalizes track.Samples' timestamps in place using
// mp4Samples, the demuxed MP4 sample table the track's payload was
// reassembled from. It reports whether the result is known-accurate.
//
// Tracks that already carry payload-native timestamps (CAMM, the Insta360
// trailer) are left untouched — Reconstruct is a no-op and reports true
// immediately, since those formats' timestamps originate entirely from the
// payload.
//
// For container-embedded tracks, each MP4 sample anchors a block of
// track.Samples: anchor = DTS converted to microseconds using the track's
// timescale. Within a block, per-sample offset is
// i·sample_duration_us/samples_in_block, unless the decoder preserved a
// native STMP offset for that sample, in which case STMP wins verbatim.
func Reconstruct(track *model.Track, mp4Samples []isobmff.Sample) bool {
	if track.TimestampsAccurate {
		return true
	}
	if len(track.Samples) == 0 {
		return true
	}
	if len(mp4Samples) == 0 || track.TimescaleHz == 0 {
		return false
	}

	stmp := subSampleOffsetsUs(track.Tags)
	samplesPerBlock := len(track.Samples) / len(mp4Samples)
	if samplesPerBlock == 0 {
		samplesPerBlock = 1
	}

	idx := 0
	for _, s := range mp4Samples {
		if idx >= len(track.Samples) {
			break
		}
		anchorUs := int64(s.DTS) * 1_000_000 / int64(track.TimescaleHz)
		durationUs := int64(s.Duration) * 1_000_000 / int64(track.TimescaleHz)

		blockLen := samplesPerBlock
		if idx+blockLen > len(track.Samples) {
			blockLen = len(track.Samples) - idx
		}
		for j := 0; j < blockLen; j++ {
			offsetUs := int64(0)
			switch {
			case idx+j < len(stmp):
				offsetUs = stmp[idx+j]
			case blockLen > 1:
				offsetUs = int64(j) * durationUs / int64(blockLen)
			}
			track.Samples[idx+j].TimestampUs = anchorUs + offsetUs
		}
		idx += blockLen
	}

	// Uneven division between sample count and MP4 block count leaves a
	// remainder; anchor it to the last known MP4 sample rather than
	// inventing a block boundary past the end of the sample table.
	if idx < len(track.Samples) {
		last := mp4Samples[len(mp4Samples)-1]
		anchorUs := int64(last.DTS) * 1_000_000 / int64(track.TimescaleHz)
		for ; idx < len(track.Samples); idx++ {
			track.Samples[idx].TimestampUs = anchorUs
		}
	}

	track.TimestampsAccurate = true
	return true
}

// subSampleOffsetsUs collects every native "STMP" tag's value, in the
// order the top-level tag slice lists them, as the sub-sample offsets
// GPMF declares explicitly rather than leaving to uniform spreading.
// STMP sits nested under DEVC/STRM at a depth this library doesn't fix in
// advance, so each nested group is searched for at most one "STMP" key —
// map iteration order never matters here since a given TagMap holds at
// most one entry per native id.
func subSampleOffsetsUs(tags []model.Tag) []int64 {
	var out []int64
	var walk func([]model.Tag)
	walk = func(ts []model.Tag) {
		for _, tg := range ts {
			if tg.NativeID == "STMP" {
				out = append(out, asInt64(tg.Value))
				continue
			}
			if tg.Value.Kind() == model.KindTagMap {
				walkMap(tg.Value.AsTagMap())
			}
		}
	}
	var walkMap func(map[string]model.Tag)
	walkMap = func(m map[string]model.Tag) {
		if c, ok := m["STMP"]; ok {
			out = append(out, asInt64(c.Value))
		}
		for _, c := range m {
			if c.NativeID != "STMP" && c.Value.Kind() == model.KindTagMap {
				walkMap(c.Value.AsTagMap())
			}
		}
	}
	walk(tags)
	return out
}

func asInt64(v model.Value) int64 {
	switch v.Kind() {
	case model.KindInt:
		return v.AsInt()
	case model.KindUint:
		return int64(v.AsUint())
	case model.KindFloat:
		return int64(v.AsFloat())
	default:
		return 0
	}
}
