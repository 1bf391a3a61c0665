package isobmff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, box ImmutableBox) []byte {
	t.Helper()
	buf := make([]byte, box.Size())
	pos := 0
	box.Marshal(buf, &pos)
	require.Equal(t, box.Size(), pos)
	return buf
}

func TestBoxTypesMarshal(t *testing.T) {
	testCases := []struct {
		name string
		src  ImmutableBox
		bin  []byte
	}{
		{
			name: "ftyp",
			src: &Ftyp{
				MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
				MinorVersion: 0x200,
				CompatibleBrands: []CompatibleBrandElem{
					{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
					{CompatibleBrand: [4]byte{'m', 'p', '4', '2'}},
				},
			},
			bin: []byte{
				'i', 's', 'o', 'm',
				0x00, 0x00, 0x02, 0x00,
				'i', 's', 'o', 'm',
				'm', 'p', '4', '2',
			},
		},
		{
			name: "mdat",
			src:  &Mdat{Data: []byte{0x11, 0x22, 0x33}},
			bin:  []byte{0x11, 0x22, 0x33},
		},
		{
			name: "stbl (empty)",
			src:  &Stbl{},
			bin:  []byte{},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.bin, marshal(t, tc.src))
		})
	}
}

func TestFullBoxRoundTrip(t *testing.T) {
	src := FullBox{Version: 1, Flags: [3]byte{0x01, 0x02, 0x03}}
	buf := make([]byte, src.Size())
	pos := 0
	src.Marshal(buf, &pos)

	var got FullBox
	pos = 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, src, got)
	require.Equal(t, uint32(0x010203), got.GetFlags())
}

func TestFtypRoundTrip(t *testing.T) {
	src := &Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 0x200,
		CompatibleBrands: []CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '2'}},
		},
	}
	buf := marshal(t, src)

	var got Ftyp
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestHdlrRoundTrip(t *testing.T) {
	src := &Hdlr{
		HandlerType: [4]byte{'m', 'e', 't', 'a'},
		Name:        "GoPro MET",
	}
	buf := marshal(t, src)

	var got Hdlr
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestMdhdRoundTrip(t *testing.T) {
	t.Run("version 0", func(t *testing.T) {
		src := &Mdhd{
			FullBox:    FullBox{Version: 0},
			Timescale:  1000,
			DurationV0: 60000,
			Language:   [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
		}
		buf := marshal(t, src)

		var got Mdhd
		pos := 0
		require.NoError(t, got.Unmarshal(buf, &pos))
		require.Equal(t, *src, got)
	})
	t.Run("version 1", func(t *testing.T) {
		src := &Mdhd{
			FullBox:    FullBox{Version: 1},
			Timescale:  48000,
			DurationV1: 0x0203040506070809,
			Language:   [3]byte{'e' - 0x60, 'n' - 0x60, 'g' - 0x60},
		}
		buf := marshal(t, src)

		var got Mdhd
		pos := 0
		require.NoError(t, got.Unmarshal(buf, &pos))
		require.Equal(t, *src, got)
	})
}

func TestMvhdRoundTrip(t *testing.T) {
	src := &Mvhd{
		FullBox:     FullBox{Version: 0},
		Timescale:   1000,
		DurationV0:  60000,
		Rate:        0x00010000,
		Volume:      0x0100,
		NextTrackID: 3,
	}
	buf := marshal(t, src)

	var got Mvhd
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestTkhdRoundTrip(t *testing.T) {
	src := &Tkhd{
		FullBox: FullBox{Version: 0},
		TrackID: 2,
		Matrix: [9]int32{
			0x00010000, 0, 0,
			0, 0x00010000, 0,
			0, 0, 0x40000000,
		},
	}
	buf := marshal(t, src)

	var got Tkhd
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestStcoRoundTrip(t *testing.T) {
	src := &Stco{
		FullBox:     FullBox{},
		EntryCount:  2,
		ChunkOffset: []uint32{0x01234567, 0x89abcdef},
	}
	buf := marshal(t, src)

	var got Stco
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestCo64RoundTrip(t *testing.T) {
	src := &Co64{
		FullBox:     FullBox{},
		EntryCount:  2,
		ChunkOffset: []uint64{0x0123456789abcdef, 0x1},
	}
	buf := marshal(t, src)

	var got Co64
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestStscRoundTrip(t *testing.T) {
	src := &Stsc{
		FullBox:    FullBox{},
		EntryCount: 2,
		Entries: []StscEntry{
			{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionIndex: 1},
			{FirstChunk: 5, SamplesPerChunk: 8, SampleDescriptionIndex: 1},
		},
	}
	buf := marshal(t, src)

	var got Stsc
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestStsdRoundTrip(t *testing.T) {
	src := &Stsd{FullBox: FullBox{}, EntryCount: 1}
	buf := marshal(t, src)

	var got Stsd
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestStszRoundTrip(t *testing.T) {
	t.Run("common sample size", func(t *testing.T) {
		src := &Stsz{SampleSize: 48, SampleCount: 10}
		buf := marshal(t, src)

		var got Stsz
		pos := 0
		require.NoError(t, got.Unmarshal(buf, &pos))
		require.Equal(t, src.SampleSize, got.SampleSize)
		require.Equal(t, src.SampleCount, got.SampleCount)
		require.Nil(t, got.EntrySize)
	})
	t.Run("per-sample sizes", func(t *testing.T) {
		src := &Stsz{SampleCount: 2, EntrySize: []uint32{48, 96}}
		buf := marshal(t, src)

		var got Stsz
		pos := 0
		require.NoError(t, got.Unmarshal(buf, &pos))
		require.Equal(t, *src, got)
	})
}

func TestSttsRoundTrip(t *testing.T) {
	src := &Stts{
		EntryCount: 2,
		Entries: []SttsEntry{
			{SampleCount: 10, SampleDelta: 1001},
			{SampleCount: 5, SampleDelta: 2002},
		},
	}
	buf := marshal(t, src)

	var got Stts
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos))
	require.Equal(t, *src, got)
}

func TestMetaSampleEntryRoundTrip(t *testing.T) {
	src := &MetaSampleEntry{
		SampleEntry: SampleEntry{DataReferenceIndex: 1},
		ExtraData:   []byte{0xde, 0xad, 0xbe, 0xef},
	}
	buf := marshal(t, src)

	var got MetaSampleEntry
	pos := 0
	require.NoError(t, got.Unmarshal(buf, &pos, BoxType{'g', 'p', 'm', 'd'}))
	require.Equal(t, BoxType{'g', 'p', 'm', 'd'}, got.Format)
	require.Equal(t, src.SampleEntry, got.SampleEntry)
	require.Equal(t, src.ExtraData, got.ExtraData)
}

func TestUnmarshalTruncated(t *testing.T) {
	var fb FullBox
	pos := 0
	err := fb.Unmarshal([]byte{0x00, 0x00}, &pos)
	require.ErrorIs(t, err, ErrTruncated)
}
