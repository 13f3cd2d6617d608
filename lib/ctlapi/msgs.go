// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

import (
	"fmt"

	"github.com/pskd-project/pskd/lib/envelope"
)

// MsgType is the control message discriminant.
type MsgType uint8

const (
	MsgPing            MsgType = 0x01
	MsgSupplyKeypair   MsgType = 0x02
	MsgAddListenSocket MsgType = 0x03
	MsgAddPSKBroker    MsgType = 0x04
)

func (t MsgType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgSupplyKeypair:
		return "supply_keypair"
	case MsgAddListenSocket:
		return "add_listen_socket"
	case MsgAddPSKBroker:
		return "add_psk_broker"
	default:
		return fmt.Sprintf("MsgType(%#02x)", uint8(t))
	}
}

// Status is the result carried by every response except ping.
type Status uint8

const (
	StatusOK                     Status = 0
	StatusInvalidRequest         Status = 1
	StatusInternalError          Status = 2
	StatusKeypairAlreadySupplied Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidRequest:
		return "invalid request"
	case StatusInternalError:
		return "internal error"
	case StatusKeypairAlreadySupplied:
		return "keypair already supplied"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// EchoSize is the size of the ping echo buffer.
const EchoSize = 256

// PingRequest carries bytes the daemon echoes back unchanged.
type PingRequest struct {
	Echo [EchoSize]byte
}

// PingResponse is the echo of a PingRequest.
type PingResponse struct {
	Echo [EchoSize]byte
}

// EmptyRequest is the payload of requests whose inputs arrive entirely
// as descriptors.
type EmptyRequest struct{}

// StatusResponse is the payload of every non-ping response.
type StatusResponse struct {
	Status uint8
}

// RequestSize returns the envelope size of a request of type t, or false
// for an unknown type.
func RequestSize(t MsgType) (int, bool) {
	switch t {
	case MsgPing:
		return envelope.Size[PingRequest](), true
	case MsgSupplyKeypair, MsgAddListenSocket, MsgAddPSKBroker:
		return envelope.Size[EmptyRequest](), true
	default:
		return 0, false
	}
}

// ResponseSize returns the envelope size of a response of type t, or
// false for an unknown type.
func ResponseSize(t MsgType) (int, bool) {
	switch t {
	case MsgPing:
		return envelope.Size[PingResponse](), true
	case MsgSupplyKeypair, MsgAddListenSocket, MsgAddPSKBroker:
		return envelope.Size[StatusResponse](), true
	default:
		return 0, false
	}
}
