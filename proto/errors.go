// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package proto

import "fmt"

// FramingKind classifies a malformed inbound message.
type FramingKind byte

const (
	Unparseable       FramingKind = iota + 1 // stream: line matches no grammar
	TooShort                                 // datagram: shorter than the fixed part of its type
	MissingTerminator                        // datagram: variable field without a zero terminator
	TrailingGarbage                          // datagram: bytes remain after the final field
	UnknownType                              // datagram: unrecognized type byte
	InvalidField                             // a field is outside its character class
)

var framingStr = [...]string{
	Unparseable:       "unparseable message",
	TooShort:          "message too short",
	MissingTerminator: "missing field terminator",
	TrailingGarbage:   "trailing data after message",
	UnknownType:       "unknown message type",
	InvalidField:      "invalid field",
}

func (k FramingKind) String() string {
	if int(k) > 0 && int(k) < len(framingStr) {
		return framingStr[k]
	}
	return fmt.Sprintf("FramingKind(%d)", byte(k))
}

// FramingError is the concrete type of errors reported when decoding a
// malformed message.
type FramingError struct {
	Kind   FramingKind
	Type   Kind   // the message type, if known
	Detail string // optional additional detail
	Err    error  // optional underlying cause
}

// Error satisfies the error interface.
func (e *FramingError) Error() string {
	msg := "framing error: " + e.Kind.String()
	if e.Type != 0 || e.Kind != Unparseable {
		msg += " (" + e.Type.String() + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap reports the underlying cause of e, if any.
func (e *FramingError) Unwrap() error { return e.Err }

func framingErr(kind FramingKind, t Kind, detail string, err error) *FramingError {
	return &FramingError{Kind: kind, Type: t, Detail: detail, Err: err}
}
