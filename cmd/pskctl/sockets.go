// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/pflag"

	"github.com/pskd-project/pskd/cmd/pskctl/cli"
)

func addListenSocketCommand(stdout io.Writer) *cli.Command {
	var (
		options   controlOptions
		addresses []string
	)
	return &cli.Command{
		Name:    "add-listen-socket",
		Summary: "Bind UDP sockets and give them to pskd",
		Description: `Bind each --listen address and pass the socket to pskd, which reads
handshake traffic from it. Privileged ports can be bound this way
without the daemon holding CAP_NET_BIND_SERVICE.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add-listen-socket", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringArrayVar(&addresses, "listen", nil, "UDP address to bind, host:port (repeatable)")
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "pskctl add-listen-socket --listen 0.0.0.0:9999 --listen [::]:9999"},
		},
		Run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			if len(addresses) == 0 {
				return fmt.Errorf("at least one --listen address is required")
			}
			client, logger, err := options.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			for _, address := range addresses {
				file, bound, err := bindUDP(address)
				if err != nil {
					return err
				}
				logger.Debug("bound listen socket", "address", bound)
				if err := client.AddListenSocket(file); err != nil {
					return fmt.Errorf("adding %s: %w", bound, err)
				}
				fmt.Fprintf(stdout, "pskd listening on %s\n", bound)
			}
			return nil
		},
	}
}

// bindUDP binds address and returns the socket as a file along with
// the bound address.
func bindUDP(address string) (*os.File, net.Addr, error) {
	udpAddress, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", udpAddress)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()
	file, err := conn.File()
	if err != nil {
		return nil, nil, fmt.Errorf("duplicating socket for %s: %w", address, err)
	}
	return file, conn.LocalAddr(), nil
}

func addPSKBrokerCommand(stdout io.Writer) *cli.Command {
	var (
		options controlOptions
		connect string
	)
	return &cli.Command{
		Name:    "add-psk-broker",
		Summary: "Connect to a PSK broker and give the connection to pskd",
		Description: `Connect to the Unix socket of a running pskd-broker and pass the
connection to pskd. The daemon sends every derived key through it,
replacing any broker supplied before.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add-psk-broker", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringVar(&connect, "connect", "", "path of the broker's Unix socket (required)")
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "pskctl add-psk-broker --connect /run/pskd/broker.sock"},
		},
		Run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			if connect == "" {
				return fmt.Errorf("--connect is required")
			}
			file, err := dialBroker(connect)
			if err != nil {
				return err
			}
			client, _, err := options.connect()
			if err != nil {
				file.Close()
				return err
			}
			defer client.Close()

			if err := client.AddPSKBroker(file); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "PSK broker %s registered\n", connect)
			return nil
		},
	}
}

func dialBroker(path string) (*os.File, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()
	file, err := conn.File()
	if err != nil {
		return nil, fmt.Errorf("duplicating broker connection: %w", err)
	}
	return file, nil
}
