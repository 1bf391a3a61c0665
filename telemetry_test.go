package telemetry

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/model"
)

// gpmfRecord builds one GPMF TLV record, matching pkg/decoder/gpmf's test
// helper of the same shape.
func gpmfRecord(fourCC string, typeByte byte, structSize, count int, payload []byte) []byte {
	buf := make([]byte, 8, 8+len(payload)+3)
	copy(buf[0:4], fourCC)
	buf[4] = typeByte
	buf[5] = byte(structSize)
	binary.BigEndian.PutUint16(buf[6:8], uint16(count))
	buf = append(buf, payload...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func be16(v int16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

// buildGpmdFixture assembles a minimal ftyp+moov(trak)+mdat MP4 with one
// "gpmd"-format telemetry track carrying a single sample: a SCAL-scaled
// GYRO vector, mirroring pkg/isobmff's own demux fixture.
func buildGpmdFixture(t *testing.T) []byte {
	t.Helper()

	scal := gpmfRecord("SCAL", 's', 2, 1, be16(1000))
	unit := gpmfRecord("UNIT", 'c', 1, 5, []byte("rad/s"))
	dvnm := gpmfRecord("DVNM", 'c', 1, 11, []byte("HERO9 Black"))
	gyroPayload := append(append(be16(2000), be16(4000)...), be16(6000)...)
	gyro := gpmfRecord("GYRO", 's', 6, 1, gyroPayload)
	mdatData := append(append(append(append([]byte{}, scal...), unit...), dvnm...), gyro...)

	ftypBoxes := isobmff.Boxes{Box: &isobmff.Ftyp{MajorBrand: [4]byte{'i', 's', 'o', 'm'}}}

	stco := &isobmff.Stco{EntryCount: 1, ChunkOffset: []uint32{0}}
	moovBoxes := isobmff.Boxes{
		Box: &isobmff.Moov{},
		Children: []isobmff.Boxes{
			{
				Box: &isobmff.Trak{},
				Children: []isobmff.Boxes{
					{Box: &isobmff.Tkhd{TrackID: 1}},
					{
						Box: &isobmff.Mdia{},
						Children: []isobmff.Boxes{
							{Box: &isobmff.Mdhd{Timescale: 1000000}},
							{Box: &isobmff.Hdlr{HandlerType: [4]byte{'m', 'e', 't', 'a'}, Name: "GoPro MET"}},
							{
								Box: &isobmff.Minf{},
								Children: []isobmff.Boxes{
									{
										Box: &isobmff.Stbl{},
										Children: []isobmff.Boxes{
											{
												Box: &isobmff.Stsd{EntryCount: 1},
												Children: []isobmff.Boxes{
													{Box: &isobmff.MetaSampleEntry{
														SampleEntry: isobmff.SampleEntry{DataReferenceIndex: 1},
														Format:      isobmff.BoxType{'g', 'p', 'm', 'd'},
													}},
												},
											},
											{Box: &isobmff.Stsz{SampleCount: 1, EntrySize: []uint32{uint32(len(mdatData))}}},
											{Box: &isobmff.Stts{EntryCount: 1, Entries: []isobmff.SttsEntry{{SampleCount: 1, SampleDelta: 1000}}}},
											{Box: &isobmff.Stsc{EntryCount: 1, Entries: []isobmff.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1}}}},
											{Box: stco},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	mdatOffset := ftypBoxes.Size() + moovBoxes.Size() + 8
	stco.ChunkOffset[0] = uint32(mdatOffset)

	total := ftypBoxes.Size() + moovBoxes.Size() + 8 + len(mdatData)
	buf := make([]byte, total)
	pos := 0
	ftypBoxes.Marshal(buf, &pos)
	moovBoxes.Marshal(buf, &pos)
	mdatBoxes := isobmff.Boxes{Box: &isobmff.Mdat{Data: mdatData}}
	mdatBoxes.Marshal(buf, &pos)
	require.Equal(t, total, pos)

	return buf
}

func TestOpenGpmdEndToEnd(t *testing.T) {
	buf := buildGpmdFixture(t)

	p, err := Open(buf, "clip.mp4", Options{})
	require.NoError(t, err)
	require.Equal(t, "GoPro", p.Device().Vendor)
	require.Equal(t, "HERO9 Black", p.Device().Model)
	require.True(t, p.HasAccurateTimestamps())

	tracks := p.Telemetry(TelemetryOptions{})
	require.Len(t, tracks, 1)
	require.Len(t, tracks[0].Samples, 1)

	gyro := tracks[0].Samples[0].Values[model.GroupGyroscope].AsVector()
	require.InDelta(t, 2.0, gyro[0].AsFloat(), 1e-9)
	require.InDelta(t, 4.0, gyro[1].AsFloat(), 1e-9)
	require.InDelta(t, 6.0, gyro[2].AsFloat(), 1e-9)

	normalized := p.NormalizedIMU()
	require.Len(t, normalized, 1)
	// HERO9 Black's R_model swaps/negates X and Y ([0 1 0; -1 0 0; 0 0 1])
	// and gyro_scale converts rad/s to deg/s.
	const g = 57.29577951308232
	require.InDelta(t, 4.0*g, normalized[0].Gyro[0], 1e-6)
	require.InDelta(t, -2.0*g, normalized[0].Gyro[1], 1e-6)
	require.InDelta(t, 6.0*g, normalized[0].Gyro[2], 1e-6)
}

func TestOpenGpmdFiltersByGroup(t *testing.T) {
	buf := buildGpmdFixture(t)
	p, err := Open(buf, "clip.mp4", Options{})
	require.NoError(t, err)

	only := p.Telemetry(TelemetryOptions{IncludeGroups: map[model.Group]bool{model.GroupAccelerometer: true}})
	require.Empty(t, only)

	matching := p.Telemetry(TelemetryOptions{IncludeGroups: map[model.Group]bool{model.GroupGyroscope: true}})
	require.Len(t, matching, 1)
}

func TestOpenGpmdHumanReadableAttachesUnitDescription(t *testing.T) {
	buf := buildGpmdFixture(t)
	p, err := Open(buf, "clip.mp4", Options{})
	require.NoError(t, err)

	tracks := p.Telemetry(TelemetryOptions{HumanReadable: true})
	require.NotEmpty(t, tracks[0].Tags)
	found := false
	for _, tg := range tracks[0].Tags {
		if tg.NativeID == "GYRO" {
			require.Contains(t, tg.Description, "rad/s")
			found = true
		}
	}
	require.True(t, found)
}

// TestChecksumIsIdempotent checks that decoding the same input twice
// yields byte-equal telemetry.
func TestChecksumIsIdempotent(t *testing.T) {
	buf := buildGpmdFixture(t)

	p1, err := Open(buf, "clip.mp4", Options{})
	require.NoError(t, err)
	p2, err := Open(buf, "clip.mp4", Options{})
	require.NoError(t, err)

	sum1, err := p1.Checksum()
	require.NoError(t, err)
	sum2, err := p2.Checksum()
	require.NoError(t, err)
	require.Equal(t, sum1, sum2)
}

func TestOpenUnsupportedFormatReturnsUnsupported(t *testing.T) {
	_, err := Open([]byte("not a recognizable telemetry file at all"), "clip.bin", Options{})
	require.Error(t, err)

	var terr *telerr.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, telerr.KindUnsupported, terr.Kind)
}

// TestOpenInsta360TrailerViaFallbackSniff exercises refineByTrailerSniff:
// an otherwise-unrecognized blob (no ftyp at all, so it can't even reach
// KindGenericMP4) with an Insta360 trailer appended still resolves once the
// Insta360 decoder's own full-data Identify gets a look.
func TestOpenInsta360TrailerViaFallbackSniff(t *testing.T) {
	buf := append([]byte("not-an-mp4-but-has-a-trailer-anyway"), []byte("8db42d694ccc418790edff439fe026bf")...)
	buf = append(buf, le32(1)...)
	buf = append(buf, le32(200)...)
	buf = append(buf, recordBytes(5000, [3]float32{1, 2, 3}, [3]float32{4, 5, 6})...)

	p, err := Open(buf, "clip.bin", Options{})
	require.NoError(t, err)
	require.Equal(t, "Insta360", p.Device().Vendor)
	require.True(t, p.HasAccurateTimestamps())

	tracks := p.Telemetry(TelemetryOptions{})
	require.Len(t, tracks, 1)
	require.Equal(t, int64(5000), tracks[0].Samples[0].TimestampUs)
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func le32f(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func recordBytes(tsUs uint64, gyro, accel [3]float32) []byte {
	buf := le64(tsUs)
	for _, v := range gyro {
		buf = append(buf, le32f(v)...)
	}
	for _, v := range accel {
		buf = append(buf, le32f(v)...)
	}
	return buf
}
