// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// pskctl is the privileged companion of pskd. It opens key files,
// binds sockets, and connects to PSK brokers with its own privileges,
// then hands the resulting descriptors to the daemon over the control
// socket.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return rootCommand(os.Stdout).Execute(args)
}
