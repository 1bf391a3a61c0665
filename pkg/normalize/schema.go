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

package normalize

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v2"
)

type modelEntry struct {
	Vendor     string      `yaml:"vendor"`
	Model      string      `yaml:"model"`
	Matrix     [][]float64 `yaml:"matrix"`
	GyroScale  float64     `yaml:"gyro_scale"`
	AccelScale float64     `yaml:"accel_scale"`
}

type schemaFile struct {
	Models []modelEntry `yaml:"models"`
}

//go:embed schema.yaml
var schemaYAML []byte

var byKey map[string]modelEntry

func init() {
	var sf schemaFile
	if err := yaml.Unmarshal(schemaYAML, &sf); err != nil {
		panic(fmt.Sprintf("normalize: embedded schema.yaml is invalid: %v", err))
	}
	byKey = make(map[string]modelEntry, len(sf.Models))
	for _, m := range sf.Models {
		if len(m.Matrix) != 3 {
			panic(fmt.Sprintf("normalize: %s/%s matrix is not 3x3", m.Vendor, m.Model))
		}
		for _, row := range m.Matrix {
			if len(row) != 3 {
				panic(fmt.Sprintf("normalize: %s/%s matrix is not 3x3", m.Vendor, m.Model))
			}
		}
		byKey[modelKey(m.Vendor, m.Model)] = m
	}
}

func modelKey(vendor, model string) string {
	return vendor + "\x00" + model
}

// lookup returns the exact (vendor,model) entry, reporting whether it
// exists. There is no broader vendor-level fallback: anything short of an
// exact model match is treated as unknown.
func lookup(vendor, model string) (modelEntry, bool) {
	m, ok := byKey[modelKey(vendor, model)]
	return m, ok
}
