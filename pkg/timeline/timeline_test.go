package timeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightlog/telemetry/pkg/isobmff"
	"github.com/flightlog/telemetry/pkg/model"
)

func track(timescale uint32, n int) *model.Track {
	tr := &model.Track{TimescaleHz: timescale}
	for i := 0; i < n; i++ {
		tr.Samples = append(tr.Samples, model.Sample{TimestampUs: int64(i)})
	}
	return tr
}

func TestReconstructUniformSpreadWithinBlock(t *testing.T) {
	tr := track(1_000_000, 4) // 2 MP4 samples, 2 IMU samples each
	mp4 := []isobmff.Sample{
		{DTS: 0, Duration: 1000},
		{DTS: 1000, Duration: 1000},
	}

	accurate := Reconstruct(tr, mp4)
	require.True(t, accurate)
	require.True(t, tr.TimestampsAccurate)

	require.Equal(t, int64(0), tr.Samples[0].TimestampUs)
	require.Equal(t, int64(500), tr.Samples[1].TimestampUs)
	require.Equal(t, int64(1000), tr.Samples[2].TimestampUs)
	require.Equal(t, int64(1500), tr.Samples[3].TimestampUs)
}

func TestReconstructAlreadyAccurateIsNoOp(t *testing.T) {
	tr := &model.Track{
		TimestampsAccurate: true,
		Samples:            []model.Sample{{TimestampUs: 42}},
	}
	accurate := Reconstruct(tr, nil)
	require.True(t, accurate)
	require.Equal(t, int64(42), tr.Samples[0].TimestampUs)
}

func TestReconstructMissingMP4TableReportsInaccurate(t *testing.T) {
	tr := track(1_000_000, 2)
	accurate := Reconstruct(tr, nil)
	require.False(t, accurate)
	require.False(t, tr.TimestampsAccurate)
}

func TestReconstructHonorsSTMPOverride(t *testing.T) {
	tr := track(1_000_000, 2)
	tr.Tags = []model.Tag{
		{
			Name: "DEVC",
			Value: model.NewTagMap(map[string]model.Tag{
				"STMP": {NativeID: "STMP", Value: model.NewInt(777)},
			}),
		},
	}

	mp4 := []isobmff.Sample{{DTS: 0, Duration: 1000}}
	Reconstruct(tr, mp4)

	require.Equal(t, int64(777), tr.Samples[0].TimestampUs)
}

func TestReconstructUnevenDivisionAnchorsRemainderToLastSample(t *testing.T) {
	tr := track(1_000_000, 5) // 2 MP4 samples, 5 IMU samples: 2 per block + 1 remainder
	mp4 := []isobmff.Sample{
		{DTS: 0, Duration: 1000},
		{DTS: 1000, Duration: 1000},
	}
	Reconstruct(tr, mp4)
	require.Equal(t, int64(1000), tr.Samples[4].TimestampUs)
}
