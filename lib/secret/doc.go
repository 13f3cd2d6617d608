// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides memory-safe buffers for key material: the
// static secret key handed to the daemon and the pre-shared keys it
// forwards to brokers.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Secrets therefore never
// reach disk through swap or crash dumps.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeroes the source
//   - [ReadExact] -- reads a fixed-size secret that must end exactly
//     at the end of its source (a key file or received descriptor)
//
// Depends on golang.org/x/sys/unix only.
package secret
