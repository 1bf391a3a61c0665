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

// Package bitreader is the random-access and sequential byte-level view
// every decoder in this module reads through. Absolute-offset reads never
// panic on an out-of-range offset; Cursor wraps a bitio.Reader for decoders
// that consume a stream sequentially and want the sticky TryError idiom
// instead of checking an error after every field.
package bitreader

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/icza/bitio"

	telerr "github.com/flightlog/telemetry/pkg/errors"
)

// Input is a random-access, length-known byte source. A file is read fully
// into memory (os.ReadFile) and wrapped with New; an in-memory buffer wraps
// directly — there is no partial-read mode.
type Input struct {
	data []byte
}

// New wraps buf as an Input. buf is not copied; callers must not mutate it
// for the lifetime of the Input.
func New(buf []byte) *Input {
	return &Input{data: buf}
}

// Len returns the total length in bytes.
func (in *Input) Len() int64 { return int64(len(in.data)) }

// Bytes returns n bytes at off, or a Truncated error if the range falls
// outside the input.
func (in *Input) Bytes(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > int64(len(in.data)) {
		return nil, telerr.Truncated()
	}
	return in.data[off : off+int64(n)], nil
}

// Uint16BE reads a big-endian uint16 at off.
func (in *Input) Uint16BE(off int64) (uint16, error) {
	b, err := in.Bytes(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint16LE reads a little-endian uint16 at off.
func (in *Input) Uint16LE(off int64) (uint16, error) {
	b, err := in.Bytes(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32BE reads a big-endian uint32 at off.
func (in *Input) Uint32BE(off int64) (uint32, error) {
	b, err := in.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint32LE reads a little-endian uint32 at off.
func (in *Input) Uint32LE(off int64) (uint32, error) {
	b, err := in.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64BE reads a big-endian uint64 at off.
func (in *Input) Uint64BE(off int64) (uint64, error) {
	b, err := in.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Uint64LE reads a little-endian uint64 at off.
func (in *Input) Uint64LE(off int64) (uint64, error) {
	b, err := in.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Int8 reads a signed byte at off.
func (in *Input) Int8(off int64) (int8, error) {
	b, err := in.Bytes(off, 1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// Int16BE reads a big-endian int16 at off.
func (in *Input) Int16BE(off int64) (int16, error) {
	v, err := in.Uint16BE(off)
	return int16(v), err
}

// Int16LE reads a little-endian int16 at off.
func (in *Input) Int16LE(off int64) (int16, error) {
	v, err := in.Uint16LE(off)
	return int16(v), err
}

// Int32BE reads a big-endian int32 at off.
func (in *Input) Int32BE(off int64) (int32, error) {
	v, err := in.Uint32BE(off)
	return int32(v), err
}

// Int32LE reads a little-endian int32 at off.
func (in *Input) Int32LE(off int64) (int32, error) {
	v, err := in.Uint32LE(off)
	return int32(v), err
}

// Int64BE reads a big-endian int64 at off.
func (in *Input) Int64BE(off int64) (int64, error) {
	v, err := in.Uint64BE(off)
	return int64(v), err
}

// Int64LE reads a little-endian int64 at off.
func (in *Input) Int64LE(off int64) (int64, error) {
	v, err := in.Uint64LE(off)
	return int64(v), err
}

// Float32BE reads a big-endian IEEE-754 float32 at off.
func (in *Input) Float32BE(off int64) (float32, error) {
	v, err := in.Uint32BE(off)
	return math.Float32frombits(v), err
}

// Float32LE reads a little-endian IEEE-754 float32 at off.
func (in *Input) Float32LE(off int64) (float32, error) {
	v, err := in.Uint32LE(off)
	return math.Float32frombits(v), err
}

// Float64BE reads a big-endian IEEE-754 float64 at off.
func (in *Input) Float64BE(off int64) (float64, error) {
	v, err := in.Uint64BE(off)
	return math.Float64frombits(v), err
}

// Float64LE reads a little-endian IEEE-754 float64 at off.
func (in *Input) Float64LE(off int64) (float64, error) {
	v, err := in.Uint64LE(off)
	return math.Float64frombits(v), err
}

// CString reads a null-terminated string starting at off, or to the end of
// the input if no null byte is found.
func (in *Input) CString(off int64) (string, error) {
	if off < 0 || off > int64(len(in.data)) {
		return "", telerr.Truncated()
	}
	rest := in.data[off:]
	for i, c := range rest {
		if c == 0 {
			return string(rest[:i]), nil
		}
	}
	return string(rest), nil
}

// Cursor is a sequential reader over a byte slice, built on bitio.Reader for
// its sticky TryError idiom: a decode loop calls the TryXxx methods without
// checking an error after each one, then checks Cursor.Err() once at the
// end. The bundled decoders do not read through Cursor: gpmf indexes its
// byte slice directly, and sony and camm open their own bitio.Reader.
type Cursor struct {
	r   *bitio.Reader
	pos int64
}

// NewCursor returns a Cursor over buf, starting at offset 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{r: bitio.NewReader(bytes.NewReader(buf))}
}

// Pos returns the number of bytes consumed so far.
func (c *Cursor) Pos() int64 { return c.pos }

// Err returns the first error seen by any TryXxx call, or nil.
func (c *Cursor) Err() error {
	if c.r.TryError == nil {
		return nil
	}
	return telerr.Truncated()
}

// TryReadByte reads one byte, sticky on error.
func (c *Cursor) TryReadByte() byte {
	b := c.r.TryReadByte()
	c.pos++
	return b
}

// TryReadBytes reads n bytes, sticky on error.
func (c *Cursor) TryReadBytes(n int) []byte {
	buf := make([]byte, n)
	c.r.TryRead(buf)
	c.pos += int64(n)
	return buf
}

// TryReadUint16BE reads a big-endian uint16, sticky on error.
func (c *Cursor) TryReadUint16BE() uint16 {
	v := uint16(c.r.TryReadUint16())
	c.pos += 2
	return v
}

// TryReadUint32BE reads a big-endian uint32, sticky on error.
func (c *Cursor) TryReadUint32BE() uint32 {
	v := uint32(c.r.TryReadUint32())
	c.pos += 4
	return v
}

// TryReadUint64BE reads a big-endian uint64, sticky on error.
func (c *Cursor) TryReadUint64BE() uint64 {
	v := c.r.TryReadUint64()
	c.pos += 8
	return v
}
