// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/pskd-project/pskd/cmd/pskctl/cli"
	"github.com/pskd-project/pskd/lib/ctlapi"
)

func pingCommand(stdout io.Writer) *cli.Command {
	var (
		options controlOptions
		count   int
	)
	return &cli.Command{
		Name:    "ping",
		Summary: "Check that pskd answers on its control socket",
		Description: `Send a random buffer to pskd and check it comes back unchanged.

Prints the round-trip time of each ping.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ping", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.IntVarP(&count, "count", "c", 1, "number of pings to send")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Ping the daemon three times", Command: "pskctl ping -c 3"},
		},
		Run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			client, _, err := options.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			for sequence := 1; sequence <= count; sequence++ {
				elapsed, err := ping(client)
				if err != nil {
					return fmt.Errorf("ping %d: %w", sequence, err)
				}
				fmt.Fprintf(stdout, "reply from %s: seq=%d time=%s\n", options.socket, sequence, elapsed)
			}
			return nil
		},
	}
}

func ping(client *ctlapi.Client) (time.Duration, error) {
	var echo [ctlapi.EchoSize]byte
	rand.Read(echo[:])

	start := time.Now()
	reply, err := client.Ping(echo)
	elapsed := time.Since(start)
	if err != nil {
		return 0, err
	}
	if reply != echo {
		return 0, fmt.Errorf("daemon echoed a different buffer")
	}
	return elapsed, nil
}
