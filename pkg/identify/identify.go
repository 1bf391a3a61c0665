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

// Package identify applies the ordered format-recognition ruleset: the
// first rule that matches a prefix of bytes (plus an optional filename)
// wins. It answers "what kind of file is this" independently of whether
// pkg/decoder has a decoder registered for that kind.
package identify

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Kind is the closed set of recognizable formats. Not every Kind has a
// registered decoder in pkg/decoder — recognizing a format and being able
// to decode it are different questions.
type Kind uint8

// Kinds.
const (
	KindUnknown Kind = iota
	KindGpmf         // GoPro, MP4-embedded
	KindSony         // Sony, MP4-embedded
	KindCamm         // CAMM, MP4-embedded
	KindInsta360     // Insta360 trailer, appended after an MP4
	KindDJI          // DJI, MP4-embedded, generic handling only
	KindGenericMP4   // ISO-BMFF container with no recognized telemetry track
	KindBRAW
	KindR3D
	KindBetaflightBin
	KindBetaflightCSV
	KindGcsv
	KindRuncam
	KindWitmotion
)

func (k Kind) String() string {
	switch k {
	case KindGpmf:
		return "gpmf"
	case KindSony:
		return "sony"
	case KindCamm:
		return "camm"
	case KindInsta360:
		return "insta360"
	case KindDJI:
		return "dji"
	case KindGenericMP4:
		return "mp4"
	case KindBRAW:
		return "braw"
	case KindR3D:
		return "r3d"
	case KindBetaflightBin:
		return "betaflight-bin"
	case KindBetaflightCSV:
		return "betaflight-csv"
	case KindGcsv:
		return "gcsv"
	case KindRuncam:
		return "runcam"
	case KindWitmotion:
		return "witmotion"
	default:
		return "unknown"
	}
}

// Identify applies an ordered ruleset to prefix (the first N bytes of the
// input, 8 KiB or more recommended) and the optional filename, returning
// KindUnknown if nothing matches.
func Identify(prefix []byte, filename string) Kind {
	if k := identifyISOBMFF(prefix); k != KindUnknown {
		return k
	}
	if k := identifyMagicPrefix(prefix); k != KindUnknown {
		return k
	}
	if k := identifyLineOriented(prefix); k != KindUnknown {
		return k
	}
	return identifyExtension(filename)
}

// identifyISOBMFF implements rule 1: bytes 4..8 == "ftyp", then a brand and
// codec-fourCC sniff to choose among the vendor-specific telemetry tracks.
// This layer only looks at raw bytes, not the parsed box tree — pkg/isobmff
// does the real demux; this is a cheap sniff ahead of it.
func identifyISOBMFF(prefix []byte) Kind {
	if len(prefix) < 8 || string(prefix[4:8]) != "ftyp" {
		return KindUnknown
	}

	switch {
	case bytes.Contains(prefix, []byte("gpmd")):
		return KindGpmf
	case bytes.Contains(prefix, []byte("camm")):
		return KindCamm
	case bytes.Contains(prefix, []byte("mett")) && bytes.Contains(prefix, []byte("Sony")):
		return KindSony
	case bytes.Contains(prefix, []byte("dji")):
		return KindDJI
	}
	return KindGenericMP4
}

// identifyMagicPrefix implements rule 2: fixed magic bytes for non-MP4
// containers.
func identifyMagicPrefix(prefix []byte) Kind {
	switch {
	case len(prefix) >= 8 && (bytes.Equal(prefix[4:8], []byte("RED1")) || bytes.Equal(prefix[4:8], []byte("RED2"))):
		return KindR3D
	case len(prefix) >= 14 && prefix[0] == '#' && bytes.Contains(prefix[:14], []byte("BlackmagicRAW")):
		return KindBRAW
	case len(prefix) >= 1 && (prefix[0] == 'H' || prefix[0] == 'E') && looksLikeBetaflightHeader(prefix):
		return KindBetaflightBin
	}
	return KindUnknown
}

// looksLikeBetaflightHeader is a narrow heuristic: Betaflight's binary
// blackbox log starts with an 'H' (or 'E' for event) record marker
// followed by the "Product:" field name; this checks only that "Product"
// appears within the first 64 bytes.
func looksLikeBetaflightHeader(prefix []byte) bool {
	n := len(prefix)
	if n > 64 {
		n = 64
	}
	return bytes.Contains(prefix[:n], []byte("Product"))
}

// identifyLineOriented implements rule 3: the prefix is mostly printable
// ASCII and contains a recognized header signature.
func identifyLineOriented(prefix []byte) Kind {
	head := prefix
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !mostlyPrintableASCII(head) {
		return KindUnknown
	}

	switch {
	case bytes.Contains(head, []byte("loopIteration")):
		return KindBetaflightCSV
	case bytes.Contains(head, []byte("GYROFLOW IMU LOG")):
		return KindGcsv
	case bytes.Contains(head, []byte("time,roll,pitch,yaw")):
		return KindRuncam
	case bytes.Contains(head, []byte("Chiptime")):
		return KindWitmotion
	}
	return KindUnknown
}

func mostlyPrintableASCII(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	printable := 0
	for _, c := range b {
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			printable++
		}
	}
	return float64(printable)/float64(len(b)) > 0.9
}

// identifyExtension implements rule 4: the extension, only as a
// last-resort tiebreaker once every byte-level rule has failed to match.
func identifyExtension(filename string) Kind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".braw":
		return KindBRAW
	case ".r3d":
		return KindR3D
	case ".bbl", ".bfl":
		return KindBetaflightBin
	case ".csv":
		return KindBetaflightCSV
	case ".gcsv":
		return KindGcsv
	case ".mp4", ".mov":
		return KindGenericMP4
	}
	return KindUnknown
}
