// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/pskd-project/pskd/cmd/pskctl/cli"
	"github.com/pskd-project/pskd/lib/config"
	"github.com/pskd-project/pskd/lib/ctlapi"
	"github.com/pskd-project/pskd/lib/version"
)

// socketEnvironmentVariable overrides the default control socket path.
const socketEnvironmentVariable = "PSKD_SOCKET"

func rootCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "pskctl",
		Description: `pskctl: hand keys, sockets, and PSK brokers to a running pskd.

pskd runs without the privileges to open its key files, bind its
ports, or reach the WireGuard broker. pskctl does those things and
passes the descriptors over the control socket.`,
		Subcommands: []*cli.Command{
			pingCommand(stdout),
			supplyKeypairCommand(stdout),
			addListenSocketCommand(stdout),
			addPSKBrokerCommand(stdout),
			sealKeyCommand(stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(stdout, "pskctl %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// controlOptions are the flags every control-socket command shares.
type controlOptions struct {
	socket  string
	verbose bool
}

func (o *controlOptions) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.socket, "socket", defaultSocketPath(), "path of the pskd control socket (env "+socketEnvironmentVariable+")")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "log at debug level")
}

func (o *controlOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return cli.NewCommandLogger(level)
}

// connect dials the control socket and returns a client with a logger
// for the invocation.
func (o *controlOptions) connect() (*ctlapi.Client, *slog.Logger, error) {
	logger := o.logger()
	client, err := ctlapi.Dial(o.socket)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("connected to control socket", "socket", o.socket)
	return client, logger, nil
}

func defaultSocketPath() string {
	if path := os.Getenv(socketEnvironmentVariable); path != "" {
		return path
	}
	return config.Default().Control.SocketPath
}

// noArgs rejects positional arguments for commands that take none.
func noArgs(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument %q", args[0])
	}
	return nil
}
