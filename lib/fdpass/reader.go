// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package fdpass

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ErrControlTruncated is returned when the kernel discarded part of the
// ancillary data of a message because the receive buffer was too small.
// Descriptors in the discarded part are lost.
var ErrControlTruncated = errors.New("fdpass: ancillary data truncated")

// Reader reads bytes from a Unix stream socket and collects descriptors
// that arrive as SCM_RIGHTS ancillary data into its queue.
type Reader struct {
	conn *net.UnixConn
	fds  *Queue
	oob  []byte
}

// NewReader returns a Reader receiving on conn into fds. A nil fds uses
// a fresh queue.
func NewReader(conn *net.UnixConn, fds *Queue) *Reader {
	if fds == nil {
		fds = &Queue{}
	}
	return &Reader{
		conn: conn,
		fds:  fds,
		oob:  make([]byte, unix.CmsgSpace(MaxFDsPerMessage*4)),
	}
}

// Queue returns the queue that received descriptors are appended to.
func (r *Reader) Queue() *Queue {
	return r.fds
}

// Read reads up to len(p) bytes. Descriptors attached to the received
// bytes are appended to the queue (close-on-exec) before Read returns.
// A zero-length read on a non-empty p is reported as io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	n, oobn, flags, _, err := r.conn.ReadMsgUnix(p, r.oob)
	if oobn > 0 {
		if parseErr := r.collect(r.oob[:oobn]); parseErr != nil && err == nil {
			err = parseErr
		}
	}
	if err != nil {
		return n, err
	}
	if flags&unix.MSG_CTRUNC != 0 {
		return n, ErrControlTruncated
	}
	if n == 0 && oobn == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// collect converts every SCM_RIGHTS entry in oob into owned files. All
// descriptors are taken over even if one message fails to parse, so
// none leak.
func (r *Reader) collect(oob []byte) error {
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("fdpass: parsing control messages: %w", err)
	}

	var errs []error
	for index := range messages {
		fds, err := unix.ParseUnixRights(&messages[index])
		if err != nil {
			errs = append(errs, fmt.Errorf("fdpass: parsing SCM_RIGHTS: %w", err))
			continue
		}
		for _, fd := range fds {
			r.fds.Push(os.NewFile(uintptr(fd), "fdpass"))
		}
	}
	return errors.Join(errs...)
}
