// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import "fmt"

// DecodeErrorKind classifies telemetry decode failures.
type DecodeErrorKind int

const (
	// DecodeUnexpectedLength means the payload length does not match the
	// characteristic's frame contract.
	DecodeUnexpectedLength DecodeErrorKind = iota
	// DecodeUnknownCharacteristic means the frame arrived on a
	// characteristic this protocol version does not define.
	DecodeUnknownCharacteristic
	// DecodeMalformedValue means a field failed a structural check that
	// does not depend on machine state (reserved for future layouts).
	DecodeMalformedValue
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeUnexpectedLength:
		return "unexpected length"
	case DecodeUnknownCharacteristic:
		return "unknown characteristic"
	case DecodeMalformedValue:
		return "malformed value"
	default:
		return "unknown"
	}
}

// DecodeError reports a notification payload that could not be decoded.
// Decode failures are local: the caller logs and drops the frame, the
// stream continues. A DecodeError never indicates link trouble.
type DecodeError struct {
	Kind           DecodeErrorKind
	Characteristic Characteristic
	Length         int // observed payload length
	Expected       int // contract length, 0 when not a length failure
}

func (e *DecodeError) Error() string {
	if e.Kind == DecodeUnexpectedLength && e.Expected > 0 {
		return fmt.Sprintf("decode %s: unexpected length %d (want %d)", e.Characteristic, e.Length, e.Expected)
	}
	return fmt.Sprintf("decode %s: %s (len %d)", e.Characteristic, e.Kind, e.Length)
}

// EncodeError reports a command that cannot be represented on the wire.
// It always indicates a caller bug, never a device or link condition, so
// it is safe to surface synchronously and never retry.
type EncodeError struct {
	Command string // wire name of the offending command
	Field   string // offending field, empty when the command itself is bad
	Reason  string
}

func (e *EncodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("encode %s: %s: %s", e.Command, e.Field, e.Reason)
	}
	return fmt.Sprintf("encode %s: %s", e.Command, e.Reason)
}

// encodeErr builds an EncodeError for a command field.
func encodeErr(cmd Command, field, format string, args ...interface{}) error {
	return &EncodeError{
		Command: cmd.Name(),
		Field:   field,
		Reason:  fmt.Sprintf(format, args...),
	}
}

// lengthErr builds the DecodeError for a frame length violation.
func lengthErr(char Characteristic, got, want int) error {
	return &DecodeError{
		Kind:           DecodeUnexpectedLength,
		Characteristic: char,
		Length:         got,
		Expected:       want,
	}
}
