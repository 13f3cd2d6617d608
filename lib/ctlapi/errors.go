// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

import (
	"errors"
	"fmt"
)

// ErrMalformedRequest is returned by Dispatch for a request envelope it
// cannot answer at all: empty, of the wrong size, or of an unknown
// type. The server closes the connection on it. Requests that are
// well-formed but unusable are answered with StatusInvalidRequest
// instead.
var ErrMalformedRequest = errors.New("ctlapi: malformed request")

// UnknownMessageTypeError reports a request discriminant outside the
// control protocol. It matches ErrMalformedRequest under errors.Is.
type UnknownMessageTypeError struct {
	Type uint8
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("ctlapi: no such message type: %#02x", e.Type)
}

func (e *UnknownMessageTypeError) Is(target error) bool {
	return target == ErrMalformedRequest
}

// StatusError is returned by Client methods when the daemon answers
// with anything but StatusOK.
type StatusError struct {
	Op     MsgType
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ctlapi: %s: %s", e.Op, e.Status)
}
