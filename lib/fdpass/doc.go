// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package fdpass moves file descriptors across a connected Unix-domain
// stream socket as SCM_RIGHTS ancillary data, alongside ordinary bytes.
//
// A [Queue] holds owned descriptors as *os.File values. [Writer] turns
// Write calls into sendmsg calls that carry as many queued descriptors
// as the kernel accepts in one message (at most [MaxFDsPerMessage]);
// [Reader] turns Read calls into recvmsg calls and appends whatever
// descriptors arrive to its queue.
//
// Ancillary data is only ever sent together with at least one byte of
// real data (unix(7)). When more descriptors are pending than fit in one
// message, Writer sends a single byte per call so the caller keeps
// calling until the queue has drained in batches of at most
// MaxFDsPerMessage. Callers must loop on Write exactly as they would for
// any partial writer.
//
// Ownership: the queue owns every file it holds. Writer closes the
// sender's copies once the kernel has accepted them; whoever pops a file
// from a Reader's queue owns it and must close it exactly once.
package fdpass
