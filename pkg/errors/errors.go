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

// Package errors defines the closed set of failure modes a decoder or the
// façade can report, so callers can switch on .Kind instead of matching
// error strings.
package errors

import "fmt"

// Kind is a closed enum of the ways parsing can fail.
type Kind uint8

// Error kinds.
const (
	// KindIO is an underlying read failure (file, network, whatever the
	// caller's Input wraps).
	KindIO Kind = iota + 1
	// KindUnsupported means the identifier recognized no decoder for
	// the input, or recognized one this build doesn't register.
	KindUnsupported
	// KindMalformedContainer means an ISO-BMFF box was structurally
	// invalid. Offset is the byte offset of the offending box header.
	KindMalformedContainer
	// KindMalformedPayload means a format-specific decoder's stream was
	// invalid past the container layer.
	KindMalformedPayload
	// KindTruncated means the stream ended mid-record.
	KindTruncated
	// KindUnknownModel means the device was identified but has no
	// normalization matrix on file. Callers may treat this as a
	// non-fatal, per-track warning rather than aborting.
	KindUnknownModel
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindUnsupported:
		return "unsupported"
	case KindMalformedContainer:
		return "malformed container"
	case KindMalformedPayload:
		return "malformed payload"
	case KindTruncated:
		return "truncated"
	case KindUnknownModel:
		return "unknown model"
	default:
		return "unknown"
	}
}

// Error is the single concrete error type this module returns. Callers use
// errors.As to recover it and switch on Kind.
type Error struct {
	Kind Kind

	// Offset is set for KindMalformedContainer and KindMalformedPayload.
	Offset int64

	// Decoder names the decoder that produced a KindMalformedPayload
	// error, e.g. "gpmf" or "sony".
	Decoder string

	// Vendor and Model are set for KindUnknownModel.
	Vendor string
	Model  string

	// Reason is a short human-readable description, used for
	// KindMalformedPayload errors.
	Reason string

	// Err is the underlying error, if any (e.g. an os.PathError for
	// KindIO).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindIO:
		return fmt.Sprintf("io error: %v", e.Err)
	case KindUnsupported:
		return "unsupported format"
	case KindMalformedContainer:
		return fmt.Sprintf("malformed container at offset %d: %v", e.Offset, e.Err)
	case KindMalformedPayload:
		return fmt.Sprintf("%s: malformed payload at offset %d: %s", e.Decoder, e.Offset, e.Reason)
	case KindTruncated:
		return "truncated stream"
	case KindUnknownModel:
		return fmt.Sprintf("unknown model: %s %s", e.Vendor, e.Model)
	default:
		return "unknown error"
	}
}

// Unwrap supports errors.Is/errors.As against the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IO wraps an underlying read failure.
func IO(err error) *Error {
	return &Error{Kind: KindIO, Err: err}
}

// Unsupported reports that the identifier found no usable decoder.
func Unsupported() *Error {
	return &Error{Kind: KindUnsupported}
}

// MalformedContainer reports a structurally invalid ISO-BMFF box.
func MalformedContainer(offset int64, err error) *Error {
	return &Error{Kind: KindMalformedContainer, Offset: offset, Err: err}
}

// MalformedPayload reports a decoder-level parse failure.
func MalformedPayload(decoder string, offset int64, reason string) *Error {
	return &Error{Kind: KindMalformedPayload, Decoder: decoder, Offset: offset, Reason: reason}
}

// Truncated reports that a stream ended mid-record.
func Truncated() *Error {
	return &Error{Kind: KindTruncated}
}

// UnknownModel reports a recognized vendor with no normalization entry.
func UnknownModel(vendor, model string) *Error {
	return &Error{Kind: KindUnknownModel, Vendor: vendor, Model: model}
}
