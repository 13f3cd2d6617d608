// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Pskd-broker installs pre-shared keys into WireGuard on behalf of
// pskd. It runs with CAP_NET_ADMIN so the daemon does not have to, and
// accepts only SetPsk requests: a peer, an interface, and a key.
//
// Requests arrive on a listening Unix socket (--listen), which pskctl
// connects to and hands to the daemon, or on a stream inherited from a
// supervisor (--stream-fd). Both may be given.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/pskd-project/pskd/lib/broker"
	"github.com/pskd-project/pskd/lib/version"
	"github.com/pskd-project/pskd/lib/wgbroker"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	backend     string
	wgPath      string
	wgTimeout   time.Duration
	listen      string
	streamFD    int
	logLevel    string
	showVersion bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("pskd-broker", pflag.ContinueOnError)
	flagSet.StringVar(&opts.backend, "backend", "netlink", "how to configure WireGuard: netlink or wg")
	flagSet.StringVar(&opts.wgPath, "wg-path", "wg", "wg binary used by the wg backend")
	flagSet.DurationVar(&opts.wgTimeout, "wg-timeout", wgbroker.DefaultCommandTimeout, "bound on each wg invocation")
	flagSet.StringVar(&opts.listen, "listen", "", "Unix socket path to accept broker connections on")
	flagSet.IntVar(&opts.streamFD, "stream-fd", -1, "serve a single inherited stream descriptor")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	return flagSet
}

func run(args []string) error {
	var opts options
	flagSet := newFlagSet(&opts)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", flagSet.Arg(0))
	}

	if opts.showVersion {
		fmt.Printf("pskd-broker %s\n", version.Info())
		return nil
	}

	if opts.listen == "" && opts.streamFD < 0 {
		return fmt.Errorf("--listen or --stream-fd is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	backend, err := newBackend(&opts)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pskd-broker starting", "version", version.Short(), "backend", opts.backend)
	return serve(ctx, &opts, broker.NewServer(backend, logger), logger)
}

// closingSetter is a PSK back end that may hold a resource.
type closingSetter interface {
	broker.PSKSetter
	Close() error
}

type commandBackend struct {
	*wgbroker.Command
}

func (commandBackend) Close() error { return nil }

func newBackend(opts *options) (closingSetter, error) {
	switch opts.backend {
	case "netlink":
		backend, err := wgbroker.OpenNetlink()
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "wg":
		return commandBackend{&wgbroker.Command{Path: opts.wgPath, Timeout: opts.wgTimeout}}, nil
	default:
		return nil, fmt.Errorf("unknown --backend %q (want netlink or wg)", opts.backend)
	}
}

// serve runs the listening socket and the inherited stream, whichever
// are configured, until ctx is cancelled. The inherited stream ending
// is not an error; the listener keeps running.
func serve(ctx context.Context, opts *options, server *broker.Server, logger *slog.Logger) error {
	group, groupCtx := errgroup.WithContext(ctx)

	if opts.streamFD >= 0 {
		file := os.NewFile(uintptr(opts.streamFD), "broker-stream")
		conn, err := net.FileConn(file)
		file.Close()
		if err != nil {
			return fmt.Errorf("using descriptor %d as broker stream: %w", opts.streamFD, err)
		}
		group.Go(func() error {
			logger.Info("serving inherited broker stream", "fd", opts.streamFD)
			if err := broker.ServeConn(groupCtx, conn, server, logger); err != nil {
				logger.Warn("inherited broker stream ended", "error", err)
			}
			return nil
		})
	}

	if opts.listen != "" {
		if err := os.Remove(opts.listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale broker socket: %w", err)
		}
		listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: opts.listen, Net: "unix"})
		if err != nil {
			return fmt.Errorf("listening on broker socket: %w", err)
		}
		listener.SetUnlinkOnClose(true)
		if err := os.Chmod(opts.listen, 0o600); err != nil {
			listener.Close()
			return fmt.Errorf("restricting broker socket: %w", err)
		}
		group.Go(func() error {
			return broker.Serve(groupCtx, listener, server, logger)
		})
	}

	return group.Wait()
}
