package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	telerr "github.com/flightlog/telemetry/pkg/errors"
	"github.com/flightlog/telemetry/pkg/model"
)

func sampleTrack(vendor, modelName string) *model.Track {
	return &model.Track{
		Metadata: map[string]string{"vendor": vendor, "model": modelName},
		Samples: []model.Sample{
			{
				TimestampUs: 2_000_000,
				Values: map[model.Group]model.Value{
					model.GroupGyroscope:     model.NewVector([]model.Value{model.NewFloat(1), model.NewFloat(0), model.NewFloat(0)}),
					model.GroupAccelerometer: model.NewVector([]model.Value{model.NewFloat(0), model.NewFloat(0), model.NewFloat(9.8)}),
				},
			},
		},
	}
}

func TestNormalizeKnownModelAppliesScaleAndRotation(t *testing.T) {
	tr := sampleTrack("GoPro", "HERO9 Black")
	out := Normalize(tr, nil)
	require.Len(t, out, 1)
	require.Empty(t, tr.Warnings)
	require.Equal(t, 2.0, out[0].TimestampS)

	// HERO9 Black's R_model is [[0,1,0],[-1,0,0],[0,0,1]]; gyro (1,0,0)
	// rad/s scaled to deg/s rotates to (0,-57.29..,0).
	require.InDelta(t, 0, out[0].Gyro[0], 1e-6)
	require.InDelta(t, -57.29577951308232, out[0].Gyro[1], 1e-6)
	require.InDelta(t, 0, out[0].Gyro[2], 1e-6)

	require.NotNil(t, out[0].Accel)
	require.InDelta(t, 9.8, out[0].Accel[2], 1e-6)
}

// TestNormalizeUnknownModelRecordsWarningAndFallsBackToIdentity covers the
// unknown-model case: even a recognized vendor with an unrecognized model
// string gets no special treatment, just the identity matrix, unit
// scales, and an UnknownModel warning on the track.
func TestNormalizeUnknownModelRecordsWarningAndFallsBackToIdentity(t *testing.T) {
	tr := sampleTrack("GoPro", "HERO-NONEXISTENT-9999")
	out := Normalize(tr, nil)
	require.Len(t, out, 1)

	require.Len(t, tr.Warnings, 1)
	var terr *telerr.Error
	require.ErrorAs(t, tr.Warnings[0], &terr)
	require.Equal(t, telerr.KindUnknownModel, terr.Kind)
	require.Equal(t, "GoPro", terr.Vendor)

	// Identity matrix and unit scale: (1,0,0) is untouched.
	require.InDelta(t, 1, out[0].Gyro[0], 1e-6)
	require.InDelta(t, 0, out[0].Gyro[1], 1e-6)
	require.InDelta(t, 0, out[0].Gyro[2], 1e-6)
}

func TestNormalizeUnknownVendorFallsBackToIdentityWithUnitScale(t *testing.T) {
	tr := sampleTrack("Acme", "Whatever")
	out := Normalize(tr, nil)
	require.Len(t, tr.Warnings, 1)
	require.InDelta(t, 1, out[0].Gyro[0], 1e-6)
}

func TestNormalizeHonorsRuntimeMTRXOverride(t *testing.T) {
	tr := sampleTrack("Sony", "ILME-FX3")
	// ILME-FX3's R_model is [[0,-1,0],[1,0,0],[0,0,1]], an orthogonal
	// matrix; R_runtime below is its transpose (its inverse), so
	// R_eff = R_model . R_runtime collapses to the identity and the
	// result is driven by gyro_scale alone.
	tr.Tags = []model.Tag{
		{
			NativeID: "DEVC",
			Value: model.NewTagMap(map[string]model.Tag{
				"MTRX": {
					NativeID: "MTRX",
					Value: model.NewMatrix([][]float64{
						{0, 1, 0},
						{-1, 0, 0},
						{0, 0, 1},
					}),
				},
			}),
		},
	}

	out := Normalize(tr, nil)
	// gyro (1,0,0) rad/s -> scaled to deg/s -> R_eff is identity -> (57.29.., 0, 0).
	require.InDelta(t, 57.29577951308232, out[0].Gyro[0], 1e-6)
	require.InDelta(t, 0, out[0].Gyro[1], 1e-6)
	require.InDelta(t, 0, out[0].Gyro[2], 1e-6)
}

// TestMatrixDeterminantIsPositiveOneForEveryShippedModel checks that every
// shipped R_model has det(R_model) = +1.
func TestMatrixDeterminantIsPositiveOneForEveryShippedModel(t *testing.T) {
	for key, m := range byKey {
		r := mat.NewDense(3, 3, flatten(m.Matrix))
		require.InDelta(t, 1, mat.Det(r), 1e-9, "model %s has det(R) != +1", key)
	}
}

func TestMatrixComposesRuntimeOnTheRight(t *testing.T) {
	runtime := mat.NewDense(3, 3, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	eff := Matrix("GoPro", "HERO9 Black", runtime)

	var want mat.Dense
	want.Mul(mat.NewDense(3, 3, flatten(byKey[modelKey("GoPro", "HERO9 Black")].Matrix)), runtime)
	require.True(t, mat.Equal(&want, eff))
}

func TestMatrixUnknownModelIsIdentity(t *testing.T) {
	r := Matrix("Nonexistent", "Nonexistent", nil)
	require.True(t, mat.Equal(identity3(), r))
}
