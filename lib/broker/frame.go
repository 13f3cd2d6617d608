// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pskd-project/pskd/lib/secret"
)

// frameHeaderSize is the size of the u64 little-endian length prefix.
const frameHeaderSize = 8

// MaxFrameSize bounds the body of a frame. Every broker message is far
// smaller; anything larger is a broken or hostile peer.
const MaxFrameSize = 4096

// ErrFrameTooLarge is returned by ReadFrame for a length prefix above
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("broker: frame exceeds maximum size")

// WriteFrame writes message with its length prefix in a single Write.
func WriteFrame(w io.Writer, message []byte) error {
	if len(message) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(message))
	}
	frame := make([]byte, frameHeaderSize+len(message))
	defer secret.Zero(frame)

	binary.LittleEndian.PutUint64(frame, uint64(len(message)))
	copy(frame[frameHeaderSize:], message)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("broker: writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its body. A
// stream that ends cleanly before a frame starts yields io.EOF; one
// that ends inside a frame yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("broker: reading frame header: %w", err)
	}

	length := binary.LittleEndian.Uint64(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("broker: reading frame body: %w", err)
	}
	return body, nil
}
