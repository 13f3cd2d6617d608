// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

// SocketDir creates a temporary directory suitable for Unix domain
// sockets. The directory is removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "pskd-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// UnixPair returns the two ends of a connected Unix stream socketpair.
// Both ends are closed when the test completes.
func UnixPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	left := fileConn(t, fds[0], "left")
	right := fileConn(t, fds[1], "right")
	return left, right
}

func fileConn(t *testing.T, fd int, name string) *net.UnixConn {
	t.Helper()
	file := os.NewFile(uintptr(fd), name)
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		t.Fatalf("FileConn(%s): %v", name, err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		t.Fatalf("FileConn(%s) returned %T, want *net.UnixConn", name, conn)
	}
	t.Cleanup(func() { unixConn.Close() })
	return unixConn
}

// TempFileWith writes content to a new file in a test temporary
// directory and returns it opened for reading at offset zero. The
// caller owns the returned file.
func TempFileWith(t *testing.T, content []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening fixture: %v", err)
	}
	return file
}
