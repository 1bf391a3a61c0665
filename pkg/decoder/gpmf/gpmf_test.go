package gpmf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/model"
)

// record builds one GPMF TLV record: fourCC + typeByte + structSize + BE
// count, followed by payload padded to a 4-byte boundary.
func record(fourCC string, typeByte byte, structSize int, count int, payload []byte) []byte {
	buf := make([]byte, 8, 8+align4(len(payload)))
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

// TestDecodeScaledGyroVector checks that a SCAL of 1000 followed by a
// GYRO int16[3] sample of [1000,2000,3000] decodes to the floats
// [1.0, 2.0, 3.0].
func TestDecodeScaledGyroVector(t *testing.T) {
	scal := record("SCAL", 's', 2, 1, be16(1000))
	gyroPayload := append(append(be16(1000), be16(2000)...), be16(3000)...)
	gyro := record("GYRO", 's', 6, 1, gyroPayload)

	buf := append(scal, gyro...)

	tags, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	tg := tags[0]
	require.Equal(t, "GYRO", tg.NativeID)
	require.Equal(t, model.GroupGyroscope, tg.Group)
	require.Equal(t, model.KindVector, tg.Value.Kind())

	axes := tg.Value.AsVector()
	require.Len(t, axes, 3)
	require.InDelta(t, 1.0, axes[0].AsFloat(), 1e-9)
	require.InDelta(t, 2.0, axes[1].AsFloat(), 1e-9)
	require.InDelta(t, 3.0, axes[2].AsFloat(), 1e-9)
}

// TestDecodeNestedDEVCStream exercises the recursive branch: a DEVC
// container (typeByte 0) wrapping a single STRM container, itself wrapping
// one ACCL record. Both containers decode to KindTagMap tags whose
// NativeID round-trips the original four-CC.
func TestDecodeNestedDEVCStream(t *testing.T) {
	accl := record("ACCL", 's', 6, 1, append(append(be16(10), be16(20)...), be16(30)...))
	strm := record("STRM", 0, 1, len(accl), accl)
	devc := record("DEVC", 0, 1, len(strm), strm)

	tags, err := Decode(devc)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	devcTag := tags[0]
	require.Equal(t, "DEVC", devcTag.NativeID)
	require.Equal(t, model.KindTagMap, devcTag.Value.Kind())

	strmTag, ok := devcTag.Value.AsTagMap()["STRM"]
	require.True(t, ok)
	require.Equal(t, model.KindTagMap, strmTag.Value.Kind())

	acclTag, ok := strmTag.Value.AsTagMap()["ACCL"]
	require.True(t, ok)
	require.Equal(t, model.GroupAccelerometer, acclTag.Group)
	require.Equal(t, model.KindVector, acclTag.Value.Kind())
}

// TestDecodeWithTracksCollectsSamplesInStreamOrder checks that sample
// collection happens during the single parse pass, not by re-walking a
// nested TagMap afterward — the fix for the determinism bug described in
// trackSet's doc comment.
func TestDecodeWithTracksCollectsSamplesInStreamOrder(t *testing.T) {
	gyroA := record("GYRO", 's', 6, 1, append(append(be16(1), be16(2)...), be16(3)...))
	gyroB := record("GYRO", 's', 6, 1, append(append(be16(4), be16(5)...), be16(6)...))
	strm := append(gyroA, gyroB...)
	devc := record("DEVC", 0, 1, len(strm), strm)

	_, tracks, err := decodeWithTracks(devc, 1000)
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	tr := tracks[0]
	require.Equal(t, uint32(1000), tr.TimescaleHz)
	require.Len(t, tr.Samples, 2)

	first := tr.Samples[0].Values[model.GroupGyroscope].AsVector()
	require.Equal(t, int64(1), first[0].AsInt())
	second := tr.Samples[1].Values[model.GroupGyroscope].AsVector()
	require.Equal(t, int64(4), second[0].AsInt())
}

func TestDecodeStringAndTimeRecords(t *testing.T) {
	strTag := record("MODL", 'c', 1, 11, []byte("HERO9 Black"))
	timeTag := record("GPSU", 'U', 1, 16, []byte("211231123456.789"[:16]))

	buf := append(strTag, timeTag...)
	tags, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, tags, 2)

	require.Equal(t, model.KindString, tags[0].Value.Kind())
	require.Equal(t, "HERO9 Black", tags[0].Value.AsString())

	require.Equal(t, model.KindTime, tags[1].Value.Kind())
}

func TestDecodeUnitAttachesToNextRecord(t *testing.T) {
	unit := record("UNIT", 'c', 1, 5, []byte("rad/s"))
	shut := record("SHUT", 'L', 4, 1, []byte{0x00, 0x00, 0x00, 0x01})

	buf := append(unit, shut...)
	tags, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "rad/s", tags[0].Unit)
}

func TestDecodeTruncatedRecordIsMalformedPayload(t *testing.T) {
	buf := []byte{'G', 'Y', 'R', 'O', 's', 6, 0x00, 0x01} // declares 6 bytes, none follow

	_, err := Decode(buf)
	require.Error(t, err)

	var terr *telerr.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, telerr.KindMalformedPayload, terr.Kind)
	require.Equal(t, "gpmf", terr.Decoder)
}

func TestDecodeEmptyStreamYieldsNoTags(t *testing.T) {
	tags, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, tags)
}

// TestFindStringLocatesDVNMNestedUnderDEVC mirrors how real GoPro streams
// carry the device name: nested inside the top-level DEVC group rather
// than at the stream's outer level.
func TestFindStringLocatesDVNMNestedUnderDEVC(t *testing.T) {
	dvnm := record("DVNM", 'c', 1, 11, []byte("HERO9 Black"))
	devc := record("DEVC", 0, 1, len(dvnm), dvnm)

	tags, err := Decode(devc)
	require.NoError(t, err)
	require.Equal(t, "HERO9 Black", findString(tags, "DVNM"))
}

func TestFindStringReturnsEmptyWhenAbsent(t *testing.T) {
	accl := record("ACCL", 's', 6, 1, append(append(be16(1), be16(2)...), be16(3)...))
	devc := record("DEVC", 0, 1, len(accl), accl)

	tags, err := Decode(devc)
	require.NoError(t, err)
	require.Equal(t, "", findString(tags, "DVNM"))
}
