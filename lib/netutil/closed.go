// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small helpers shared by the stream servers.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// stream connection: EOF, a connection closed locally, a broken pipe,
// or a reset. Control and broker peers routinely hang up between
// requests, and these errors should not be logged as failures.
//
// io.ErrUnexpectedEOF is not included: a peer that stops in the middle
// of a message sent a truncated request.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
