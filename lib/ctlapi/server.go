// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pskd-project/pskd/lib/fdpass"
	"github.com/pskd-project/pskd/lib/netutil"
)

// Server serves the control protocol on Unix stream connections.
// Requests on one connection are answered in order; requests from
// different connections are dispatched one at a time.
type Server struct {
	mu         sync.Mutex
	state      Context
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewServer returns a Server dispatching against state.
func NewServer(state Context, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	return &Server{state: state, dispatcher: dispatcher, logger: logger}
}

// Serve accepts control connections on listener until ctx is cancelled
// or a dispatch fault occurs. A fault stops every connection and is
// returned; cancellation returns nil. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener *net.UnixListener) error {
	defer listener.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(groupCtx, func() { listener.Close() })
	defer stop()

	s.logger.Info("control socket listening", "address", listener.Addr().String())

	group.Go(func() error {
		var backoff netutil.Backoff
		for {
			conn, err := listener.AcceptUnix()
			if err != nil {
				if groupCtx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				s.logger.Error("accept failed", "error", err)
				backoff.Wait(groupCtx)
				continue
			}
			backoff.Reset()
			group.Go(func() error { return s.ServeConn(groupCtx, conn) })
		}
	})
	return group.Wait()
}

// ServeConn answers requests on conn until the peer hangs up, sends
// something unparseable, or ctx is cancelled; all of these return nil.
// It returns an error only for a dispatch fault. conn is closed on
// return.
func (s *Server) ServeConn(ctx context.Context, conn *net.UnixConn) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	fds := &fdpass.Queue{}
	defer fds.Close()
	reader := fdpass.NewReader(conn, fds)

	for {
		request, err := readRequest(reader)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
				s.logger.Debug("closing control connection", "error", err)
			}
			return nil
		}

		response, err := s.dispatch(request, fds)
		if closeErr := fds.Close(); closeErr != nil {
			s.logger.Debug("closing unused descriptors", "error", closeErr)
		}
		if err != nil {
			if errors.Is(err, ErrMalformedRequest) {
				s.logger.Debug("closing control connection", "error", err)
				return nil
			}
			s.logger.Error("control dispatch fault", "error", err)
			return err
		}

		if _, err := conn.Write(response); err != nil {
			if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
				s.logger.Debug("writing control response", "error", err)
			}
			return nil
		}
	}
}

func (s *Server) dispatch(request []byte, fds *fdpass.Queue) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher.Dispatch(s.state, request, fds)
}

// readRequest reads one request envelope. The first byte selects the
// size of the rest.
func readRequest(r io.Reader) ([]byte, error) {
	var head [1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	size, ok := RequestSize(MsgType(head[0]))
	if !ok {
		return nil, &UnknownMessageTypeError{Type: head[0]}
	}

	request := make([]byte, size)
	request[0] = head[0]
	if _, err := io.ReadFull(r, request[1:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("ctlapi: reading %s request: %w", MsgType(head[0]), err)
	}
	return request, nil
}
