// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pskd-project/pskd/lib/broker"
	"github.com/pskd-project/pskd/lib/build"
	"github.com/pskd-project/pskd/lib/envelope"
	"github.com/pskd-project/pskd/lib/fdpass"
	"github.com/pskd-project/pskd/lib/protocol"
)

// Context is the daemon state a dispatch call operates on. The
// dispatcher borrows it for one call and keeps no reference.
type Context interface {
	// CryptoSite returns the construction site of the crypto server.
	CryptoSite() *protocol.Site

	// RegisterListenSocket starts serving a UDP socket. On success the
	// context owns conn; on error the caller still does.
	RegisterListenSocket(conn *net.UDPConn) error

	// Brokers returns the broker registry.
	Brokers() *broker.Registry
}

// Dispatcher answers control requests. It holds configuration only;
// all state lives in the Context passed to each call. A Dispatcher must
// not be entered concurrently with the same Context; Server ensures
// this.
type Dispatcher struct {
	logger        *slog.Logger
	brokerTimeout time.Duration
}

// NewDispatcher returns a Dispatcher. brokerTimeout bounds each request
// on broker clients it creates; zero uses broker.DefaultRequestTimeout.
func NewDispatcher(logger *slog.Logger, brokerTimeout time.Duration) *Dispatcher {
	return &Dispatcher{logger: logger, brokerTimeout: brokerTimeout}
}

// Dispatch answers one request envelope, consuming descriptors from the
// front of fds as the operation requires. Descriptors it does not
// consume stay in fds for the caller to close.
//
// A request that cannot be parsed at all returns an error matching
// ErrMalformedRequest and no response. Any other error is a fault in
// the daemon itself: no response is produced and the caller should
// stop serving.
func (d *Dispatcher) Dispatch(ctx Context, request []byte, fds *fdpass.Queue) ([]byte, error) {
	if len(request) == 0 {
		return nil, ErrMalformedRequest
	}
	msgType := MsgType(request[0])
	size, ok := RequestSize(msgType)
	if !ok {
		return nil, &UnknownMessageTypeError{Type: request[0]}
	}
	if len(request) != size {
		return nil, fmt.Errorf("%w: %s request is %d bytes, want %d", ErrMalformedRequest, msgType, len(request), size)
	}

	switch msgType {
	case MsgPing:
		frame, err := envelope.Decode[PingRequest](request)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		return envelope.Encode(uint8(MsgPing), d.Ping(frame.Payload)), nil

	case MsgSupplyKeypair:
		status, err := d.SupplyKeypair(ctx, fds)
		if err != nil {
			return nil, err
		}
		return statusResponse(msgType, status), nil

	case MsgAddListenSocket:
		return statusResponse(msgType, d.AddListenSocket(ctx, fds)), nil

	case MsgAddPSKBroker:
		return statusResponse(msgType, d.AddPSKBroker(ctx, fds)), nil
	}
	panic("unreachable")
}

func statusResponse(msgType MsgType, status Status) []byte {
	return envelope.Encode(uint8(msgType), StatusResponse{Status: uint8(status)})
}

// Ping echoes the request buffer.
func (d *Dispatcher) Ping(request PingRequest) PingResponse {
	return PingResponse(request)
}

// SupplyKeypair reads the static keypair from the first two descriptors
// (secret key, then public key) and erects the crypto server.
//
// The site is inspected before any descriptor is touched. A site that
// was never put into builder mode is a daemon fault: SupplyKeypair
// returns StatusInternalError with a non-nil error. Once a keypair has
// been supplied, every further call answers
// StatusKeypairAlreadySupplied, whatever descriptors it carries,
// including a request that carries none.
func (d *Dispatcher) SupplyKeypair(ctx Context, fds *fdpass.Queue) (Status, error) {
	site := ctx.CryptoSite()

	builder, err := site.Builder()
	switch {
	case errors.Is(err, build.ErrAlreadyBuilt):
		d.logger.Debug("rejecting keypair", "reason", "crypto server already built")
		return StatusKeypairAlreadySupplied, nil
	case err != nil:
		d.logger.Warn("keypair supplied to a daemon that is not accepting one", "error", err)
		return StatusInternalError, fmt.Errorf("ctlapi: supply_keypair: %w", err)
	case builder.Keypair != nil:
		d.logger.Debug("rejecting keypair", "reason", "keypair slot already filled")
		return StatusKeypairAlreadySupplied, nil
	}

	secretKeyFile, ok := fds.PopFront()
	if !ok {
		d.logger.Debug("rejecting keypair", "reason", "missing secret key descriptor")
		return StatusInvalidRequest, nil
	}
	defer secretKeyFile.Close()

	publicKeyFile, ok := fds.PopFront()
	if !ok {
		d.logger.Debug("rejecting keypair", "reason", "missing public key descriptor")
		return StatusInvalidRequest, nil
	}
	defer publicKeyFile.Close()

	keypair, err := protocol.ReadKeypair(secretKeyFile, publicKeyFile)
	if err != nil {
		d.logger.Debug("rejecting keypair", "error", err)
		return StatusInvalidRequest, nil
	}

	builder.Keypair = keypair
	if err := site.Erect(); err != nil {
		builder.Keypair = nil
		keypair.Close()
		d.logger.Warn("erecting crypto server failed", "error", err)
		return StatusInternalError, fmt.Errorf("ctlapi: supply_keypair: %w", err)
	}

	server, _ := site.Product()
	d.logger.Info("static keypair installed", "fingerprint", server.Fingerprint())
	return StatusOK, nil
}

// AddListenSocket takes a UDP socket from the first descriptor and
// hands it to the context for serving.
func (d *Dispatcher) AddListenSocket(ctx Context, fds *fdpass.Queue) Status {
	file, ok := fds.PopFront()
	if !ok {
		d.logger.Debug("rejecting listen socket", "reason", "missing descriptor")
		return StatusInvalidRequest
	}
	defer file.Close()

	if err := checkSocket(file, socketUDP); err != nil {
		d.logger.Debug("rejecting listen socket", "error", err)
		return StatusInvalidRequest
	}

	packetConn, err := net.FilePacketConn(file)
	if err != nil {
		d.logger.Debug("rejecting listen socket", "error", err)
		return StatusInvalidRequest
	}
	conn, ok := packetConn.(*net.UDPConn)
	if !ok {
		packetConn.Close()
		d.logger.Debug("rejecting listen socket", "reason", fmt.Sprintf("%T is not a UDP socket", packetConn))
		return StatusInvalidRequest
	}

	if err := ctx.RegisterListenSocket(conn); err != nil {
		conn.Close()
		d.logger.Warn("registering listen socket failed", "error", err)
		return StatusInternalError
	}
	d.logger.Info("listen socket added", "address", conn.LocalAddr().String())
	return StatusOK
}

// AddPSKBroker takes a connected stream socket from the first
// descriptor and makes it the active broker, replacing any broker
// registered before.
func (d *Dispatcher) AddPSKBroker(ctx Context, fds *fdpass.Queue) Status {
	file, ok := fds.PopFront()
	if !ok {
		d.logger.Debug("rejecting broker", "reason", "missing descriptor")
		return StatusInvalidRequest
	}
	defer file.Close()

	if err := checkSocket(file, socketConnectedStream); err != nil {
		d.logger.Debug("rejecting broker", "error", err)
		return StatusInvalidRequest
	}

	conn, err := net.FileConn(file)
	if err != nil {
		d.logger.Debug("rejecting broker", "error", err)
		return StatusInvalidRequest
	}
	client := broker.NewClient(conn, d.brokerTimeout)

	registry := ctx.Brokers()
	if handle, ok := registry.Latest(); ok {
		previous, err := registry.Unregister(handle)
		if err != nil {
			client.Close()
			d.logger.Warn("unregistering previous broker failed", "handle", handle, "error", err)
			return StatusInternalError
		}
		if err := previous.Close(); err != nil {
			d.logger.Debug("closing previous broker", "handle", handle, "error", err)
		}
	}

	handle, err := registry.Register(client)
	if err != nil {
		client.Close()
		d.logger.Warn("registering broker failed", "error", err)
		return StatusInternalError
	}
	d.logger.Info("PSK broker registered", "handle", handle)
	return StatusOK
}
