// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package ctlapi implements pskd's control socket: the privileged
// channel through which a companion process hands the daemon its
// static keypair, UDP listen sockets and PSK broker connections.
//
// Every message is an [envelope.Envelope] with a fixed-size payload and
// no length prefix. Resources travel as SCM_RIGHTS descriptors attached
// to the same message as the request bytes (see package fdpass). The
// response uses the request's discriminant.
//
// [Dispatcher] holds the per-operation logic and borrows all mutable
// state from a [Context] for the duration of one call. [Server] reads
// requests off Unix stream connections and serializes dispatch across
// all of them. [Client] is the companion side.
package ctlapi
