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

// Package normalize rotates and rescales decoder-native IMU samples into a
// canonical frame: X = right of the sensor, Y = down, Z = forward, gyro in
// deg/s, accel in m/s².
package normalize

import (
	"strconv"

	telerr "github.com/flightlog/telemetry/pkg/errors"
	telelog "github.com/flightlog/telemetry/pkg/log"
	"github.com/flightlog/telemetry/pkg/model"
	"gonum.org/v1/gonum/mat"
)

// Matrix returns R_eff, the matrix a raw sensor reading should be
// multiplied by to land in the canonical frame. R_model is looked up by
// (vendor, model); an unrecognized pair falls back to the identity matrix
// (callers wanting a warning recorded against a track should go through
// Normalize instead). When runtime is non-nil — a stream-supplied
// orientation record such as GoPro MTRX — it composes on the right:
// R_eff = R_model · R_runtime.
func Matrix(vendor, model string, runtime *mat.Dense) *mat.Dense {
	rModel, _, _, _ := matrixFor(vendor, model)
	if runtime == nil {
		return rModel
	}
	eff := mat.NewDense(3, 3, nil)
	eff.Mul(rModel, runtime)
	return eff
}

// matrixFor resolves R_model plus its unit scales for an exact
// (vendor,model) match. Anything else — an unrecognized model string, an
// unrecognized vendor, or either left blank because the decoder never
// identified one — falls back to the identity matrix with unit scales,
// reporting found=false so the caller can record an unknown-model warning.
func matrixFor(vendor, modelName string) (r *mat.Dense, gyroScale, accelScale float64, found bool) {
	if m, ok := lookup(vendor, modelName); ok {
		return mat.NewDense(3, 3, flatten(m.Matrix)), m.GyroScale, m.AccelScale, true
	}
	return identity3(), 1, 1, false
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func flatten(m [][]float64) []float64 {
	out := make([]float64, 0, 9)
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

// Normalize produces the canonical-frame stream for one track's samples.
// The track's vendor/model (set by the façade from the file's
// DeviceIdentity before calling Normalize) select R_model; an unrecognized
// pair records an UnknownModel warning on the track rather than failing. A
// runtime orientation tag native-ID'd "MTRX" anywhere in the track's tags,
// if present and holding a KindMatrix value, composes on the right. The
// gpmf decoder decodes MTRX records as vectors, not matrices, so a GoPro
// stream's MTRX is not applied.
func Normalize(track *model.Track, log *telelog.Logger) []model.NormalizedSample {
	vendor := track.Metadata["vendor"]
	modelName := track.Metadata["model"]

	rModel, gyroScale, accelScale, found := matrixFor(vendor, modelName)
	if !found {
		track.Warnings = append(track.Warnings, telerr.UnknownModel(vendor, modelName))
		log.Warn().Src("normalize").Track(strconv.Itoa(track.ID)).
			Msgf("no normalization entry for vendor=%q model=%q, using identity and unit scale", vendor, modelName)
	}

	rEff := rModel
	if runtime := runtimeMatrix(track.Tags); runtime != nil {
		eff := mat.NewDense(3, 3, nil)
		eff.Mul(rModel, runtime)
		rEff = eff
	}

	out := make([]model.NormalizedSample, 0, len(track.Samples))
	for _, s := range track.Samples {
		ns := model.NormalizedSample{TimestampS: float64(s.TimestampUs) / 1e6}

		if v, ok := s.Values[model.GroupGyroscope]; ok {
			ns.Gyro = rotate(rEff, scaleVec(v, gyroScale))
		}
		if v, ok := s.Values[model.GroupAccelerometer]; ok {
			a := rotate(rEff, scaleVec(v, accelScale))
			ns.Accel = &a
		}
		if v, ok := s.Values[model.GroupMagnetometer]; ok {
			m := rotate(rEff, scaleVec(v, 1))
			ns.Mag = &m
		}
		out = append(out, ns)
	}
	return out
}

// scaleVec rescales v into a 3-axis reading. Most tags carry a KindVector
// of 3 floats, but a single-axis GPMF record decodes to a bare scalar, and
// a record with no preceding SCAL stays an int or uint rather than a
// float — both are valid, just unusual, so every axis is converted
// through scalarAsFloat instead of asserting KindFloat directly.
func scaleVec(v model.Value, scale float64) [3]float64 {
	var out [3]float64
	if v.Kind() != model.KindVector {
		out[0] = scalarAsFloat(v) * scale
		return out
	}
	axes := v.AsVector()
	for i := 0; i < 3 && i < len(axes); i++ {
		out[i] = scalarAsFloat(axes[i]) * scale
	}
	return out
}

// scalarAsFloat converts a non-vector Value to float64 regardless of
// which numeric Kind it was decoded as.
func scalarAsFloat(v model.Value) float64 {
	switch v.Kind() {
	case model.KindFloat:
		return v.AsFloat()
	case model.KindInt:
		return float64(v.AsInt())
	case model.KindUint:
		return float64(v.AsUint())
	default:
		return 0
	}
}

func rotate(r *mat.Dense, v [3]float64) [3]float64 {
	in := mat.NewVecDense(3, v[:])
	var out mat.VecDense
	out.MulVec(r, in)
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// runtimeMatrix searches tags for a native "MTRX" entry holding a
// KindMatrix value, at any nesting depth, mirroring pkg/timeline's STMP
// search: at most one "MTRX" key exists per TagMap level, so map iteration
// order never affects which value is found.
func runtimeMatrix(tags []model.Tag) *mat.Dense {
	for _, tg := range tags {
		if tg.NativeID == "MTRX" && tg.Value.Kind() == model.KindMatrix {
			return denseFromRows(tg.Value.AsMatrix())
		}
		if tg.Value.Kind() == model.KindTagMap {
			if m := runtimeMatrixMap(tg.Value.AsTagMap()); m != nil {
				return m
			}
		}
	}
	return nil
}

func runtimeMatrixMap(m map[string]model.Tag) *mat.Dense {
	if tg, ok := m["MTRX"]; ok && tg.Value.Kind() == model.KindMatrix {
		return denseFromRows(tg.Value.AsMatrix())
	}
	for _, tg := range m {
		if tg.NativeID != "MTRX" && tg.Value.Kind() == model.KindTagMap {
			if r := runtimeMatrixMap(tg.Value.AsTagMap()); r != nil {
				return r
			}
		}
	}
	return nil
}

func denseFromRows(rows [][]float64) *mat.Dense {
	flat := make([]float64, 0, 9)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return mat.NewDense(len(rows), len(rows), flat)
}
