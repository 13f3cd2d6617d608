// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package fdpass

import (
	"fmt"
	"net"
	"runtime"

	"golang.org/x/sys/unix"
)

// MaxFDsPerMessage is the kernel's SCM_MAX_FD: the largest descriptor
// array one sendmsg call may carry. Larger arrays fail with EINVAL.
const MaxFDsPerMessage = 253

// Writer writes bytes to a Unix stream socket and attaches the
// descriptors of its queue as ancillary data.
type Writer struct {
	conn *net.UnixConn
	fds  *Queue
}

// NewWriter returns a Writer sending on conn. Descriptors pushed onto
// fds are sent with subsequent writes. A nil fds uses a fresh queue.
func NewWriter(conn *net.UnixConn, fds *Queue) *Writer {
	if fds == nil {
		fds = &Queue{}
	}
	return &Writer{conn: conn, fds: fds}
}

// Queue returns the outbound descriptor queue.
func (w *Writer) Queue() *Queue {
	return w.fds
}

// Write sends p with as many queued descriptors as one message can
// carry and returns the number of bytes the kernel accepted.
//
// An empty p sends nothing. If more than MaxFDsPerMessage descriptors
// are pending, only p[0] is sent so the caller has to call again; the
// queue then drains in batches of MaxFDsPerMessage. Sent descriptors are
// removed from the front of the queue and the local copies closed.
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	pending := w.fds.Len()
	if pending > MaxFDsPerMessage {
		p = p[:1]
	}
	count := min(pending, MaxFDsPerMessage)

	var oob []byte
	if count > 0 {
		raw := make([]int, count)
		for i := range raw {
			raw[i] = int(w.fds.At(i).Fd())
		}
		oob = unix.UnixRights(raw...)
	}

	n, _, err := w.conn.WriteMsgUnix(p, oob, nil)
	// The descriptors must stay open until sendmsg has returned.
	runtime.KeepAlive(w.fds)
	if err != nil {
		return n, err
	}

	if err := w.fds.DropFront(count); err != nil {
		return n, fmt.Errorf("closing sent descriptors: %w", err)
	}
	return n, nil
}

// Flush is a no-op: sendmsg leaves nothing buffered in user space.
func (w *Writer) Flush() error {
	return nil
}
