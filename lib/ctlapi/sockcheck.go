// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

type socketKind uint8

const (
	// socketUDP is an IPv4 or IPv6 UDP socket.
	socketUDP socketKind = iota

	// socketConnectedStream is a stream socket with a peer.
	socketConnectedStream
)
