// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package ctlapi

import "os"

// checkSocket accepts any descriptor; the socket options it would need
// are Linux-specific. net.FilePacketConn and net.FileConn still reject
// descriptors of the wrong family.
func checkSocket(*os.File, socketKind) error {
	return nil
}
