// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"golang.org/x/sys/unix"
)

// checkSocket verifies that file is a socket of the given kind.
func checkSocket(file *os.File, kind socketKind) error {
	raw, err := file.SyscallConn()
	if err != nil {
		return fmt.Errorf("ctlapi: %w", err)
	}

	var checkErr error
	err = raw.Control(func(fd uintptr) {
		checkErr = inspectSocket(int(fd), kind)
	})
	if err != nil {
		return fmt.Errorf("ctlapi: %w", err)
	}
	return checkErr
}

func inspectSocket(fd int, kind socketKind) error {
	socketType, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		if errors.Is(err, unix.ENOTSOCK) {
			return fmt.Errorf("ctlapi: descriptor is not a socket")
		}
		return fmt.Errorf("ctlapi: reading SO_TYPE: %w", err)
	}
	domain, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		return fmt.Errorf("ctlapi: reading SO_DOMAIN: %w", err)
	}
	protocol, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PROTOCOL)
	if err != nil {
		return fmt.Errorf("ctlapi: reading SO_PROTOCOL: %w", err)
	}

	switch kind {
	case socketUDP:
		if socketType != unix.SOCK_DGRAM {
			return fmt.Errorf("ctlapi: socket type %d is not SOCK_DGRAM", socketType)
		}
		if !slices.Contains([]int{unix.AF_INET, unix.AF_INET6}, domain) {
			return fmt.Errorf("ctlapi: socket domain %d is not an IP domain", domain)
		}
		if protocol != unix.IPPROTO_UDP {
			return fmt.Errorf("ctlapi: socket protocol %d is not UDP", protocol)
		}
	case socketConnectedStream:
		if socketType != unix.SOCK_STREAM {
			return fmt.Errorf("ctlapi: socket type %d is not SOCK_STREAM", socketType)
		}
		if _, err := unix.Getpeername(fd); err != nil {
			return fmt.Errorf("ctlapi: stream socket is not connected: %w", err)
		}
	}
	return nil
}
