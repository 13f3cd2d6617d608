// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the pskd
// binaries.
//
// Three package-level variables can be injected at build time via
// -ldflags -X:
//
//	go build -ldflags "-X github.com/pskd-project/pskd/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected, the VCS stamp the go command embeds in the
// binary is used instead.
package version
