// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/pskd-project/pskd/lib/envelope"
	"github.com/pskd-project/pskd/lib/secret"
)

// Field sizes of the SetPsk request.
const (
	PeerIDSize      = 32
	PSKSize         = 32
	MaxInterfaceLen = 255
)

// MsgType is the broker protocol discriminant.
type MsgType uint8

// MsgSetPSK is the only broker request type.
const MsgSetPSK MsgType = 0x01

// SetPSKRequest is the fixed layout of a SetPsk request payload. The
// interface name occupies the first InterfaceLen bytes of
// InterfaceBuf.
type SetPSKRequest struct {
	PeerID       [PeerIDSize]byte
	PSK          [PSKSize]byte
	InterfaceLen uint8
	InterfaceBuf [MaxInterfaceLen]byte
}

// SetPSKResponse is the fixed layout of a SetPsk response payload.
type SetPSKResponse struct {
	ReturnCode uint8
}

var (
	// RequestSize is the encoded size of a SetPsk request envelope.
	RequestSize = envelope.Size[SetPSKRequest]()

	// ResponseSize is the encoded size of a SetPsk response envelope.
	ResponseSize = envelope.Size[SetPSKResponse]()
)

// ErrInterfaceName is returned for interface names that are empty,
// longer than MaxInterfaceLen bytes, or not valid UTF-8.
var ErrInterfaceName = errors.New("broker: invalid interface name")

// Interface returns the interface name carried by the request.
func (r *SetPSKRequest) Interface() (string, error) {
	name := r.InterfaceBuf[:r.InterfaceLen]
	if !utf8.Valid(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInterfaceName)
	}
	return string(name), nil
}

// SetInterface stores name in the request.
func (r *SetPSKRequest) SetInterface(name string) error {
	if len(name) > MaxInterfaceLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInterfaceName, len(name), MaxInterfaceLen)
	}
	r.InterfaceBuf = [MaxInterfaceLen]byte{}
	r.InterfaceLen = uint8(copy(r.InterfaceBuf[:], name))
	return nil
}

// EncodeSetPSKRequest returns the request envelope for config. The
// result holds the PSK in plain memory; callers zero it once sent.
func EncodeSetPSKRequest(config Config) ([]byte, error) {
	var request SetPSKRequest
	request.PeerID = config.PeerID
	if err := request.SetInterface(config.Interface); err != nil {
		return nil, err
	}
	if config.PSK == nil || config.PSK.Len() != PSKSize {
		return nil, fmt.Errorf("%w: PSK must be %d bytes", ErrInvalidConfig, PSKSize)
	}
	copy(request.PSK[:], config.PSK.Bytes())
	defer secret.Zero(request.PSK[:])

	return envelope.Encode(uint8(MsgSetPSK), request), nil
}

// DecodeSetPSKRequest parses a request envelope into a Config. The
// returned PSK buffer belongs to the caller.
func DecodeSetPSKRequest(data []byte) (Config, error) {
	if len(data) == 0 {
		return Config{}, ErrInvalidMessage
	}
	if MsgType(data[0]) != MsgSetPSK {
		return Config{}, &UnknownRequestTypeError{Type: data[0]}
	}

	frame, err := envelope.Decode[SetPSKRequest](data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	request := &frame.Payload
	defer secret.Zero(request.PSK[:])

	name, err := request.Interface()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	psk, err := secret.NewFromBytes(request.PSK[:])
	if err != nil {
		return Config{}, fmt.Errorf("broker: storing PSK: %w", err)
	}

	config, err := NewConfig(request.PeerID, psk, name)
	if err != nil {
		psk.Close()
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return config, nil
}
