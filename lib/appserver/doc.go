// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package appserver holds pskd's process-wide state: the construction
// site of the crypto server, the PSK broker registry, and the UDP
// sockets the daemon listens on. [AppServer] implements
// [ctlapi.Context], so the control socket mutates exactly this state.
//
// Packets read from listen sockets are passed to a [PacketHandler]. The
// handshake engine that would consume them lives outside this
// repository; keys it derives come back through [AppServer.OutputKey].
package appserver
