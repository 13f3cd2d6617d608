// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned by the server for any request it cannot
// interpret: empty, unknown type, wrong size, bad interface name.
var ErrInvalidMessage = errors.New("broker: invalid message")

// UnknownRequestTypeError reports a request whose discriminant is not a
// known broker message type. It matches ErrInvalidMessage under
// errors.Is and keeps the raw byte for diagnostics.
type UnknownRequestTypeError struct {
	Type uint8
}

func (e *UnknownRequestTypeError) Error() string {
	return fmt.Sprintf("broker: no such request type: %#02x", e.Type)
}

func (e *UnknownRequestTypeError) Is(target error) bool {
	return target == ErrInvalidMessage
}

// Errors a PSKSetter reports so the server can pick the matching return
// code. Back ends wrap them; anything else maps to ReturnUnknownError.
var (
	ErrNoSuchInterface = errors.New("broker: no such interface")
	ErrNoSuchPeer      = errors.New("broker: no such peer")
	ErrUnknown         = errors.New("broker: unknown error")
)

// ReturnCode is the result byte of a SetPsk response.
type ReturnCode uint8

const (
	ReturnSuccess         ReturnCode = 0x00
	ReturnUnknownError    ReturnCode = 0x01
	ReturnNoSuchInterface ReturnCode = 0x02
	ReturnNoSuchPeer      ReturnCode = 0x03
)

func (c ReturnCode) String() string {
	switch c {
	case ReturnSuccess:
		return "success"
	case ReturnUnknownError:
		return "unknown error"
	case ReturnNoSuchInterface:
		return "no such interface"
	case ReturnNoSuchPeer:
		return "no such peer"
	default:
		return fmt.Sprintf("ReturnCode(%d)", uint8(c))
	}
}

// ReturnCodeFor maps the result of PSKSetter.SetPSK onto the wire.
func ReturnCodeFor(err error) ReturnCode {
	switch {
	case err == nil:
		return ReturnSuccess
	case errors.Is(err, ErrNoSuchInterface):
		return ReturnNoSuchInterface
	case errors.Is(err, ErrNoSuchPeer):
		return ReturnNoSuchPeer
	default:
		return ReturnUnknownError
	}
}

// Err is the inverse of ReturnCodeFor, used on the client side. Codes
// the client does not know map to ErrUnknown.
func (c ReturnCode) Err() error {
	switch c {
	case ReturnSuccess:
		return nil
	case ReturnNoSuchInterface:
		return ErrNoSuchInterface
	case ReturnNoSuchPeer:
		return ErrNoSuchPeer
	default:
		return fmt.Errorf("%w (return code %d)", ErrUnknown, uint8(c))
	}
}
