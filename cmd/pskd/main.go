// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Pskd is the unprivileged post-quantum key exchange daemon. It derives
// pre-shared keys for WireGuard peers and hands them to a PSK broker.
//
// The daemon opens nothing privileged itself. Its static keypair, its
// UDP listen sockets, and its broker connection arrive as descriptors
// over the control socket, sent by pskctl, or are named in the
// configuration file for deployments that do not separate privileges.
//
// On startup:
//  1. Loads the configuration from --config or PSKD_CONFIG, if either is
//     given, and applies command-line overrides.
//  2. Loads the static keypair when the configuration names one;
//     otherwise waits for supply_keypair.
//  3. Binds the configured listen addresses.
//  4. Serves the control protocol on --control-socket, or on the single
//     stream inherited as --api-stream-fd.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/pskd-project/pskd/lib/appserver"
	"github.com/pskd-project/pskd/lib/build"
	"github.com/pskd-project/pskd/lib/config"
	"github.com/pskd-project/pskd/lib/ctlapi"
	"github.com/pskd-project/pskd/lib/protocol"
	"github.com/pskd-project/pskd/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath    string
	controlSocket string
	streamFD      int
	listen        []string
	logLevel      string
	showVersion   bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("pskd", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&opts.controlSocket, "control-socket", "", "path of the control socket (overrides control.socket_path)")
	flagSet.IntVar(&opts.streamFD, "api-stream-fd", -1, "serve the control protocol on this inherited stream descriptor instead of a socket path")
	flagSet.StringArrayVar(&opts.listen, "listen", nil, "UDP address to bind at startup (repeatable, adds to listen)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, or error (overrides log.level)")
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
		fmt.Printf("pskd %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(&opts, flagSet)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pskd starting", "version", version.Short(), "environment", cfg.Environment)
	return serve(ctx, cfg, logger)
}

// loadConfig reads the configuration file, if any, and applies the
// flags the user set explicitly.
func loadConfig(opts *options, flagSet *pflag.FlagSet) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if flagSet.Changed("control-socket") {
		cfg.Control.SocketPath = opts.controlSocket
	}
	if flagSet.Changed("api-stream-fd") {
		cfg.Control.StreamFD = opts.streamFD
	}
	cfg.Listen = append(cfg.Listen, opts.listen...)
	if flagSet.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, options)), nil
	}
	return slog.New(slog.NewTextHandler(w, options)), nil
}

// serve runs the daemon until ctx is cancelled or the control server
// reports a fault.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	site := protocol.NewSite()
	defer closeCryptoServer(site, logger)

	if cfg.HasKeypair() {
		if err := loadKeypair(site, cfg.Keypair); err != nil {
			return err
		}
		server, _ := site.Product()
		logger.Info("static keypair loaded", "fingerprint", server.Fingerprint())
	} else {
		logger.Info("waiting for supply_keypair")
	}

	app := appserver.New(site, nil, logger)
	for _, address := range cfg.Listen {
		if err := app.Listen(address); err != nil {
			app.Close()
			return err
		}
	}

	brokerTimeout, err := cfg.BrokerTimeout()
	if err != nil {
		app.Close()
		return err
	}
	control := ctlapi.NewServer(app, ctlapi.NewDispatcher(logger, brokerTimeout), logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return app.Serve(groupCtx) })
	group.Go(func() error { return serveControl(groupCtx, control, cfg.Control, logger) })
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("pskd stopped")
	return nil
}

func loadKeypair(site *protocol.Site, paths config.KeypairConfig) error {
	secretKey, err := os.Open(paths.SecretKey)
	if err != nil {
		return fmt.Errorf("opening secret key: %w", err)
	}
	defer secretKey.Close()
	publicKey, err := os.Open(paths.PublicKey)
	if err != nil {
		return fmt.Errorf("opening public key: %w", err)
	}
	defer publicKey.Close()

	keypair, err := protocol.ReadKeypair(secretKey, publicKey)
	if err != nil {
		return err
	}
	builder, err := site.Builder()
	if err != nil {
		keypair.Close()
		return err
	}
	builder.Keypair = keypair
	if err := site.Erect(); err != nil {
		builder.Keypair = nil
		keypair.Close()
		return fmt.Errorf("building crypto server: %w", err)
	}
	return nil
}

// closeCryptoServer zeroes the static secret key, built or not.
func closeCryptoServer(site *protocol.Site, logger *slog.Logger) {
	switch site.State() {
	case build.StateProduct:
		server, _ := site.Product()
		if err := server.Close(); err != nil {
			logger.Warn("releasing static secret key", "error", err)
		}
	case build.StateBuilder:
		builder, _ := site.Builder()
		if builder.Keypair != nil {
			builder.Keypair.Close()
		}
	}
}

// serveControl serves the control protocol on the inherited stream if
// one is configured, otherwise on a listening socket at SocketPath.
func serveControl(ctx context.Context, server *ctlapi.Server, cfg config.ControlConfig, logger *slog.Logger) error {
	if cfg.StreamFD >= 0 {
		conn, err := inheritedStream(cfg.StreamFD)
		if err != nil {
			return err
		}
		logger.Info("serving control stream", "fd", cfg.StreamFD)
		if err := server.ServeConn(ctx, conn); err != nil {
			return err
		}
		if ctx.Err() == nil {
			logger.Info("control stream closed by peer")
		}
		return nil
	}

	if err := os.Remove(cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale control socket: %w", err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: cfg.SocketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listening on control socket: %w", err)
	}
	listener.SetUnlinkOnClose(true)
	if err := os.Chmod(cfg.SocketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restricting control socket: %w", err)
	}
	return server.Serve(ctx, listener)
}

func inheritedStream(fd int) (*net.UnixConn, error) {
	file := os.NewFile(uintptr(fd), "api-stream")
	if file == nil {
		return nil, fmt.Errorf("--api-stream-fd %d is not a valid descriptor", fd)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("using descriptor %d as control stream: %w", fd, err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("descriptor %d is a %T, not a Unix stream", fd, conn)
	}
	return unixConn, nil
}
