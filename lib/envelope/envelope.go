// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope implements the fixed-layout framing shared by the
// control socket and the broker protocol: one message-type byte
// followed by a fixed-size payload struct. There is no length field;
// the size of a frame follows entirely from its payload type.
//
// Payload types must consist only of fixed-size fields (integers,
// byte arrays, nested fixed-size structs). Fields are packed with no
// padding and multi-byte integers are little-endian, so the Go struct
// definition is the byte layout contract.
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSize is returned when a buffer does not have exactly the size of
// the envelope it is decoded as.
var ErrSize = errors.New("envelope: buffer size does not match message layout")

// Envelope frames a payload with its message-type discriminant.
type Envelope[T any] struct {
	MsgType uint8
	Payload T
}

// Size returns the encoded size of Envelope[T] in bytes. Panics if T
// is not a fixed-size type; that is a programming error in the
// message definitions, not a runtime condition.
func Size[T any]() int {
	var zero Envelope[T]
	size := binary.Size(&zero)
	if size < 0 {
		panic(fmt.Sprintf("envelope: %T is not a fixed-size payload", zero.Payload))
	}
	return size
}

// Encode writes msgType and payload into a new buffer of exactly
// Size[T]() bytes.
func Encode[T any](msgType uint8, payload T) []byte {
	frame := Envelope[T]{MsgType: msgType, Payload: payload}
	buffer := make([]byte, Size[T]())
	if _, err := binary.Encode(buffer, binary.LittleEndian, &frame); err != nil {
		panic(fmt.Sprintf("envelope: encoding %T: %v", payload, err))
	}
	return buffer
}

// Decode views data as an Envelope[T]. data must be exactly Size[T]()
// bytes long. The message type is returned as-is; checking it is the
// caller's job.
func Decode[T any](data []byte) (Envelope[T], error) {
	var frame Envelope[T]
	if len(data) != Size[T]() {
		return frame, fmt.Errorf("%w: got %d bytes, want %d", ErrSize, len(data), Size[T]())
	}
	if _, err := binary.Decode(data, binary.LittleEndian, &frame); err != nil {
		return frame, fmt.Errorf("envelope: decoding %T: %w", frame.Payload, err)
	}
	return frame, nil
}
