// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the PSK broker protocol: how the daemon
// asks a broker process to install a pre-shared key into the tunnel
// implementation for one peer on one interface.
//
// The protocol has a single request type, SetPsk. A request envelope is
// the discriminant byte followed by a fixed struct (peer id, PSK,
// interface name length and buffer); the response is the discriminant
// followed by one return-code byte. On a stream each envelope travels
// in a frame with a u64 little-endian length prefix (see [WriteFrame]).
//
// Both ends live here:
//
//   - [Server] decodes requests and applies them through a [PSKSetter]
//     (a WireGuard back end, see package wgbroker). [Serve] and
//     [ServeConn] run it on broker connections.
//   - [Client] is the daemon's end of a broker connection that a
//     companion process handed over the control socket.
//   - [Registry] holds the daemon's registered broker client. It keeps
//     a single slot: registering a new broker replaces the previous one
//     by unregistering it first.
package broker
