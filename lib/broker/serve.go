// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pskd-project/pskd/lib/netutil"
)

// ServeConn answers broker requests arriving on conn until the peer
// closes it or ctx is cancelled. conn is closed on return.
//
// A request the server cannot interpret ends the connection: there is
// no in-band way to answer it, and a peer that sends garbage cannot be
// trusted to be in sync with the framing anymore.
func ServeConn(ctx context.Context, conn net.Conn, server *Server, logger *slog.Logger) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	response := make([]byte, ResponseSize)
	for {
		request, err := ReadFrame(conn)
		if err != nil {
			if netutil.IsExpectedCloseError(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		n, err := server.HandleMessage(request, response)
		clear(request)
		if err != nil {
			logger.Debug("rejecting broker request", "error", err)
			return fmt.Errorf("handling broker request: %w", err)
		}

		if err := WriteFrame(conn, response[:n]); err != nil {
			if netutil.IsExpectedCloseError(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Serve accepts connections on listener and runs ServeConn for each,
// until ctx is cancelled. It waits for active connections before
// returning. The listener is closed on return.
func Serve(ctx context.Context, listener net.Listener, server *Server, logger *slog.Logger) error {
	defer listener.Close()

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	var active sync.WaitGroup
	defer active.Wait()

	logger.Info("broker listening", "address", listener.Addr().String())

	var backoff netutil.Backoff
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("accept failed", "error", err)
			backoff.Wait(ctx)
			continue
		}
		backoff.Reset()

		active.Add(1)
		go func() {
			defer active.Done()
			if err := ServeConn(ctx, conn, server, logger); err != nil {
				logger.Warn("broker connection ended", "error", err)
			}
		}()
	}
}
