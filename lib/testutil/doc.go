// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for pskd packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes (sun_path in
// sockaddr_un). [UnixPair] returns both ends of a connected
// socketpair(2) as *net.UnixConn, the shape every descriptor-passing
// test needs. [TempFileWith] writes fixture bytes to a file and reopens
// it for reading, standing in for key files a companion would pass.
//
// [RequireReceive] encapsulates the timeout safety valve pattern
// (select with time.After fallback) so individual tests do not need
// direct time.After calls.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
