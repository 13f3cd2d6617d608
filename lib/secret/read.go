// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"io"
)

// ErrTrailingData is returned when a source holds more bytes than the
// fixed length being read.
var ErrTrailingData = errors.New("secret: source is longer than expected")

// ReadExactToEnd fills dst from r and then requires r to be at end of
// stream. A source that is shorter or longer than len(dst) is an
// error; on error the contents of dst are zeroed.
//
// Key files have a fixed size, so a wrong length almost always means
// the wrong file was handed over.
func ReadExactToEnd(r io.Reader, dst []byte) error {
	if _, err := io.ReadFull(r, dst); err != nil {
		Zero(dst)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("secret: source is shorter than %d bytes: %w", len(dst), io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("secret: reading %d bytes: %w", len(dst), err)
	}

	var extra [1]byte
	for {
		n, err := r.Read(extra[:])
		if n > 0 {
			Zero(dst)
			return ErrTrailingData
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			Zero(dst)
			return fmt.Errorf("secret: checking for end of source: %w", err)
		}
	}
}

// ReadExact reads exactly size bytes from r into a new protected
// buffer, requiring r to end there. See ReadExactToEnd.
func ReadExact(r io.Reader, size int) (*Buffer, error) {
	buffer, err := New(size)
	if err != nil {
		return nil, err
	}
	if err := ReadExactToEnd(r, buffer.Bytes()); err != nil {
		buffer.Close()
		return nil, err
	}
	return buffer, nil
}
