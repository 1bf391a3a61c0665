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

package sony

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v2"
)

//go:embed schema.yaml
var schemaYAML []byte

// recordDef is one schema entry: the fixed-width record a 4-byte tag
// introduces. There is no length prefix in the stream itself — length
// either comes straight from this table (header/string kinds) or from
// axisCount*elementWidth (imu kind).
type recordDef struct {
	Tag          uint32 `yaml:"tag"`
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"` // "header", "string", "imu"
	Length       int    `yaml:"length"`
	Group        string `yaml:"group"`
	AxisCount    int    `yaml:"axis_count"`
	ElementWidth int    `yaml:"element_width"`
}

func (r recordDef) byteLength() int {
	if r.Kind == "imu" {
		return r.AxisCount * r.ElementWidth
	}
	return r.Length
}

// modelDef is one device model's IMU rate and scale factors, kept as data
// so a new model never touches sony.go.
type modelDef struct {
	IMURateHz  float64 `yaml:"imu_rate_hz"`
	GyroScale  float64 `yaml:"gyro_scale"`
	AccelScale float64 `yaml:"accel_scale"`
}

type schemaFile struct {
	DefaultModel string              `yaml:"default_model"`
	Models       map[string]modelDef `yaml:"models"`
	Records      []recordDef         `yaml:"records"`
}

// schema is the process-wide immutable table, parsed once at init.
var schema schemaFile

// byTag indexes schema.Records by tag for the decode loop's lookup.
var byTag map[uint32]recordDef

func init() {
	if err := yaml.Unmarshal(schemaYAML, &schema); err != nil {
		panic(fmt.Sprintf("sony: invalid embedded schema.yaml: %v", err))
	}
	byTag = make(map[uint32]recordDef, len(schema.Records))
	for _, r := range schema.Records {
		byTag[r.Tag] = r
	}
}

// modelFor returns the scale/rate table for name, falling back to the
// default model when name is empty or unrecognized. The bool reports
// whether name itself was found; the decoder ignores it and records no
// warning for the fallback.
func modelFor(name string) (modelDef, bool) {
	if m, ok := schema.Models[name]; ok {
		return m, true
	}
	return schema.Models[schema.DefaultModel], false
}
