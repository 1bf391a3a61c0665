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

package isobmff

import (
	telerr "github.com/flightlog/telemetry/pkg/errors"
	telelog "github.com/flightlog/telemetry/pkg/log"
)

// Sample is one entry of a track's sample table: byte range in the file,
// decoding timestamp and duration in the track's timescale.
type Sample struct {
	Offset   int64
	Size     int64
	DTS      uint64
	Duration uint32
}

// Track is a demuxed moov track: its handler type, format fourCC, sample
// table and the track timescale.
type Track struct {
	ID          uint32
	HandlerType BoxType
	Format      BoxType
	Timescale   uint32
	Samples     []Sample

	data []byte // full file bytes, for Payload/SampleBoundaries
}

// IsTelemetry reports whether this track's handler is one this library
// looks for ("meta" or "mett"); video/audio/hint tracks are still returned
// by File.Tracks so callers can see the whole container. The bundled
// decoders pick tracks by sample format, not by handler.
func (t *Track) IsTelemetry() bool {
	return t.HandlerType == (BoxType{'m', 'e', 't', 'a'}) || t.HandlerType == (BoxType{'m', 'e', 't', 't'})
}

// Payload concatenates every sample's bytes, in presentation order, into
// one contiguous stream — vendor telemetry payloads are byte streams that
// MP4 has sliced up only for muxing convenience.
func (t *Track) Payload() ([]byte, error) {
	var out []byte
	for _, s := range t.Samples {
		if s.Offset < 0 || s.Size < 0 || s.Offset+s.Size > int64(len(t.data)) {
			return nil, telerr.MalformedContainer(s.Offset, nil)
		}
		out = append(out, t.data[s.Offset:s.Offset+s.Size]...)
	}
	return out, nil
}

// SampleBoundaries returns the byte offset, within the concatenated
// Payload(), of the start of each MP4 sample. The sony and camm decoders
// split the payload on these; gpmf decodes the concatenated stream.
func (t *Track) SampleBoundaries() []int64 {
	bounds := make([]int64, len(t.Samples))
	var acc int64
	for i, s := range t.Samples {
		bounds[i] = acc
		acc += s.Size
	}
	return bounds
}

// File is a demuxed ISO-BMFF container: the ftyp brand and every track
// found under moov. mdat is never read eagerly; Track.Payload reads
// directly from the backing buffer at each sample's file offset.
type File struct {
	MajorBrand [4]byte
	Tracks     []*Track
}

// Track returns the track with the given id, or nil.
func (f *File) Track(id uint32) *Track {
	for _, t := range f.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Open parses buf as an ISO-BMFF container: it reads ftyp, walks
// moov/trak/mdia/minf/stbl eagerly, and reconstructs each track's sample
// table. mdat's payload is never copied here; only moov is eagerly read.
// Unknown top-level and container boxes are skipped by size, never
// causing a hard error; a structurally invalid box returns a
// MalformedContainer error with its offset.
func Open(buf []byte, log *telelog.Logger) (*File, error) {
	f := &File{}
	pos := int64(0)
	for pos+8 <= int64(len(buf)) {
		size, typ, headerLen, err := readBoxHeader(buf, pos)
		if err != nil {
			return nil, telerr.MalformedContainer(pos, err)
		}
		if size < int64(headerLen) || pos+size > int64(len(buf)) {
			return nil, telerr.MalformedContainer(pos, nil)
		}
		body := buf[pos+int64(headerLen) : pos+size]

		switch typ {
		case (BoxType{'f', 't', 'y', 'p'}):
			var ftyp Ftyp
			p := 0
			if err := ftyp.Unmarshal(body, &p); err != nil {
				return nil, telerr.MalformedContainer(pos, err)
			}
			f.MajorBrand = ftyp.MajorBrand
		case (BoxType{'m', 'o', 'o', 'v'}):
			tracks, err := parseMoov(body, pos+int64(headerLen), buf, log)
			if err != nil {
				return nil, err
			}
			f.Tracks = tracks
		default:
			log.Debug().Src("isobmff").Msgf("skipping unknown top-level box %q at offset %d", typ.String(), pos)
		}
		pos += size
	}
	return f, nil
}

// readBoxHeader reads the 8-byte size+type header at pos. A 32-bit size of
// 0 (box extends to EOF) and the 64-bit largesize extension are both out of
// scope: every format this library targets writes ordinary bounded boxes.
func readBoxHeader(buf []byte, pos int64) (size int64, typ BoxType, headerLen int, err error) {
	p := int(pos)
	sz, err := ReadUint32(buf, &p)
	if err != nil {
		return 0, BoxType{}, 0, err
	}
	t, err := ReadBoxType(buf, &p)
	if err != nil {
		return 0, BoxType{}, 0, err
	}
	return int64(sz), t, 8, nil
}

// parseMoov walks moov's children looking for trak boxes. fileOff is the
// absolute file offset of moovBody[0], and fullFile is the whole input, so
// track sample tables (stco/co64) can be resolved to absolute offsets.
func parseMoov(moovBody []byte, fileOff int64, fullFile []byte, log *telelog.Logger) ([]*Track, error) {
	var tracks []*Track
	pos := int64(0)
	for pos+8 <= int64(len(moovBody)) {
		size, typ, headerLen, err := readBoxHeader(moovBody, pos)
		if err != nil {
			return nil, telerr.MalformedContainer(fileOff+pos, err)
		}
		if size < int64(headerLen) || pos+size > int64(len(moovBody)) {
			return nil, telerr.MalformedContainer(fileOff+pos, nil)
		}
		body := moovBody[pos+int64(headerLen) : pos+size]

		if typ == (BoxType{'t', 'r', 'a', 'k'}) {
			track, err := parseTrak(body, fullFile, log)
			if err != nil {
				return nil, err
			}
			if track != nil {
				tracks = append(tracks, track)
			}
		} else {
			log.Debug().Src("isobmff").Msgf("skipping unknown moov child %q at offset %d", typ.String(), fileOff+pos)
		}
		pos += size
	}
	return tracks, nil
}

// trakState accumulates the boxes parseTrak needs as it walks one trak's
// children, since they arrive in document order (tkhd, then mdia, with
// mdhd/hdlr/minf/stbl nested inside mdia) rather than a fixed layout.
type trakState struct {
	trackID     uint32
	timescale   uint32
	handlerType BoxType
	format      BoxType
	stsz        *Stsz
	stts        *Stts
	stsc        *Stsc
	chunkOffset []uint64
}

func parseTrak(trakBody []byte, fullFile []byte, log *telelog.Logger) (*Track, error) {
	st := &trakState{}
	if err := walkTrakChildren(trakBody, 0, st, log); err != nil {
		return nil, err
	}
	if st.stsz == nil || st.stts == nil || st.stsc == nil || st.chunkOffset == nil {
		// A trak missing a sample table (e.g. a hint track) carries no
		// samples this library can extract; report it as an empty track
		// rather than failing the whole file.
		return &Track{ID: st.trackID, HandlerType: st.handlerType, Format: st.format, Timescale: st.timescale}, nil
	}

	samples := reconstructSamples(st)
	return &Track{
		ID:          st.trackID,
		HandlerType: st.handlerType,
		Format:      st.format,
		Timescale:   st.timescale,
		Samples:     samples,
		data:        fullFile,
	}, nil
}

// walkTrakChildren recurses into the fixed container chain
// trak > {tkhd, mdia > {mdhd, hdlr, minf > stbl > {stsz,stts,stsc,stco/co64,stsd}}}
// picking out the boxes the sample-table reconstruction needs. offsetBase
// is only used for error reporting.
func walkTrakChildren(body []byte, offsetBase int64, st *trakState, log *telelog.Logger) error {
	pos := int64(0)
	for pos+8 <= int64(len(body)) {
		size, typ, headerLen, err := readBoxHeader(body, pos)
		if err != nil {
			return telerr.MalformedContainer(offsetBase+pos, err)
		}
		if size < int64(headerLen) || pos+size > int64(len(body)) {
			return telerr.MalformedContainer(offsetBase+pos, nil)
		}
		child := body[pos+int64(headerLen) : pos+size]

		switch typ {
		case (BoxType{'t', 'k', 'h', 'd'}):
			var tkhd Tkhd
			p := 0
			if err := tkhd.Unmarshal(child, &p); err == nil {
				st.trackID = tkhd.TrackID
			}
		case (BoxType{'m', 'd', 'i', 'a'}), (BoxType{'m', 'i', 'n', 'f'}), (BoxType{'s', 't', 'b', 'l'}):
			if err := walkTrakChildren(child, offsetBase+pos+int64(headerLen), st, log); err != nil {
				return err
			}
		case (BoxType{'m', 'd', 'h', 'd'}):
			var mdhd Mdhd
			p := 0
			if err := mdhd.Unmarshal(child, &p); err == nil {
				st.timescale = mdhd.Timescale
			}
		case (BoxType{'h', 'd', 'l', 'r'}):
			var hdlr Hdlr
			p := 0
			if err := hdlr.Unmarshal(child, &p); err == nil {
				st.handlerType = hdlr.HandlerType
			}
		case (BoxType{'s', 't', 's', 'd'}):
			if err := parseStsd(child, st); err != nil {
				return err
			}
		case (BoxType{'s', 't', 's', 'z'}):
			var stsz Stsz
			p := 0
			if err := stsz.Unmarshal(child, &p); err != nil {
				return telerr.MalformedContainer(offsetBase+pos, err)
			}
			st.stsz = &stsz
		case (BoxType{'s', 't', 't', 's'}):
			var stts Stts
			p := 0
			if err := stts.Unmarshal(child, &p); err != nil {
				return telerr.MalformedContainer(offsetBase+pos, err)
			}
			st.stts = &stts
		case (BoxType{'s', 't', 's', 'c'}):
			var stsc Stsc
			p := 0
			if err := stsc.Unmarshal(child, &p); err != nil {
				return telerr.MalformedContainer(offsetBase+pos, err)
			}
			st.stsc = &stsc
		case (BoxType{'s', 't', 'c', 'o'}):
			var stco Stco
			p := 0
			if err := stco.Unmarshal(child, &p); err != nil {
				return telerr.MalformedContainer(offsetBase+pos, err)
			}
			st.chunkOffset = make([]uint64, len(stco.ChunkOffset))
			for i, v := range stco.ChunkOffset {
				st.chunkOffset[i] = uint64(v)
			}
		case (BoxType{'c', 'o', '6', '4'}):
			var co64 Co64
			p := 0
			if err := co64.Unmarshal(child, &p); err != nil {
				return telerr.MalformedContainer(offsetBase+pos, err)
			}
			st.chunkOffset = co64.ChunkOffset
		default:
			log.Debug().Src("isobmff").Msgf("skipping unknown trak descendant %q at offset %d", typ.String(), offsetBase+pos)
		}
		pos += size
	}
	return nil
}

// parseStsd reads only the entry count and then the single child box
// header that follows, using its fourCC as the track's sample format —
// enough to dispatch to a decoder without modeling every vendor's
// sample-entry payload.
func parseStsd(body []byte, st *trakState) error {
	var stsd Stsd
	p := 0
	if err := stsd.Unmarshal(body, &p); err != nil {
		return telerr.MalformedContainer(0, err)
	}
	if stsd.EntryCount == 0 || p+8 > len(body) {
		return nil
	}
	_, typ, _, err := readBoxHeader(body, int64(p))
	if err != nil {
		return nil
	}
	st.format = typ
	return nil
}

// reconstructSamples builds the final {offset,size,dts,duration} table from
// stsz (sizes), stts (durations), stsc (chunk layout) and the chunk offset
// table (stco/co64), in the classic ISO-BMFF algorithm: walk chunks in
// order, and within each chunk walk its declared sample count, accumulating
// a running byte offset and a running decode time.
func reconstructSamples(st *trakState) []Sample {
	sampleCount := int(st.stsz.SampleCount)
	samples := make([]Sample, 0, sampleCount)

	// Expand stts into a per-sample duration slice.
	durations := make([]uint32, 0, sampleCount)
	for _, e := range st.stts.Entries {
		for i := uint32(0); i < e.SampleCount; i++ {
			durations = append(durations, e.SampleDelta)
		}
	}

	samplesPerChunk := func(chunkIndex int) uint32 {
		// chunkIndex is 1-based per the ISO-BMFF spec's FirstChunk field.
		n := uint32(1)
		for _, e := range st.stsc.Entries {
			if uint32(chunkIndex) < e.FirstChunk {
				break
			}
			n = e.SamplesPerChunk
		}
		return n
	}

	sampleIdx := 0
	var dts uint64
	for chunkIdx := 1; chunkIdx <= len(st.chunkOffset) && sampleIdx < sampleCount; chunkIdx++ {
		chunkOff := int64(st.chunkOffset[chunkIdx-1])
		runningOff := chunkOff
		n := samplesPerChunk(chunkIdx)
		for i := uint32(0); i < n && sampleIdx < sampleCount; i++ {
			size := int64(st.stsz.SampleSize)
			if st.stsz.SampleSize == 0 && sampleIdx < len(st.stsz.EntrySize) {
				size = int64(st.stsz.EntrySize[sampleIdx])
			}
			duration := uint32(0)
			if sampleIdx < len(durations) {
				duration = durations[sampleIdx]
			}
			samples = append(samples, Sample{
				Offset:   runningOff,
				Size:     size,
				DTS:      dts,
				Duration: duration,
			})
			runningOff += size
			dts += uint64(duration)
			sampleIdx++
		}
	}
	return samples
}
