// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/pskd-project/pskd/lib/envelope"
	"github.com/pskd-project/pskd/lib/fdpass"
)

// ErrUnsentDescriptors is returned, before anything is sent, when a
// request has too few bytes to carry all of its descriptors.
var ErrUnsentDescriptors = errors.New("ctlapi: request too short to carry all descriptors")

// Client is the companion side of the control socket. Calls are
// serialized.
//
// Files passed to Client methods are moved into the request: they are
// closed once sent, or on error.
type Client struct {
	mu   sync.Mutex
	conn *net.UnixConn
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("ctlapi: connecting to %s: %w", path, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps a connected control stream. The client owns conn.
func NewClient(conn *net.UnixConn) *Client {
	return &Client{conn: conn}
}

// Ping sends echo and returns the daemon's copy of it.
func (c *Client) Ping(echo [EchoSize]byte) ([EchoSize]byte, error) {
	response, err := c.roundTrip(MsgPing, envelope.Encode(uint8(MsgPing), PingRequest{Echo: echo}))
	if err != nil {
		return [EchoSize]byte{}, err
	}
	frame, err := envelope.Decode[PingResponse](response)
	if err != nil {
		return [EchoSize]byte{}, fmt.Errorf("ctlapi: decoding ping response: %w", err)
	}
	return frame.Payload.Echo, nil
}

// SupplyKeypair hands the daemon its static keypair. Both files must be
// positioned at the start of the key.
func (c *Client) SupplyKeypair(secretKey, publicKey *os.File) error {
	return c.statusCall(MsgSupplyKeypair, secretKey, publicKey)
}

// AddListenSocket hands the daemon a bound UDP socket.
func (c *Client) AddListenSocket(socket *os.File) error {
	return c.statusCall(MsgAddListenSocket, socket)
}

// AddPSKBroker hands the daemon a stream connected to a PSK broker.
func (c *Client) AddPSKBroker(conn *os.File) error {
	return c.statusCall(MsgAddPSKBroker, conn)
}

// Close closes the control connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// statusCall sends an empty request of type msgType carrying files and
// turns a non-OK status into a *StatusError.
func (c *Client) statusCall(msgType MsgType, files ...*os.File) error {
	response, err := c.roundTrip(msgType, envelope.Encode(uint8(msgType), EmptyRequest{}), files...)
	if err != nil {
		return err
	}
	frame, err := envelope.Decode[StatusResponse](response)
	if err != nil {
		return fmt.Errorf("ctlapi: decoding %s response: %w", msgType, err)
	}
	if status := Status(frame.Payload.Status); status != StatusOK {
		return &StatusError{Op: msgType, Status: status}
	}
	return nil
}

func (c *Client) roundTrip(msgType MsgType, request []byte, files ...*os.File) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := fdpass.NewWriter(c.conn, fdpass.NewQueue(files...))
	defer writer.Queue().Close()

	// Each request byte carries at most one batch of descriptors.
	if capacity := fdpass.MaxFDsPerMessage * len(request); len(files) > capacity {
		return nil, fmt.Errorf("%w: %d descriptors, a %s request carries %d", ErrUnsentDescriptors, len(files), msgType, capacity)
	}

	for len(request) > 0 {
		n, err := writer.Write(request)
		if err != nil {
			return nil, fmt.Errorf("ctlapi: sending %s request: %w", msgType, err)
		}
		request = request[n:]
	}

	size, _ := ResponseSize(msgType)
	response := make([]byte, size)
	if _, err := io.ReadFull(c.conn, response); err != nil {
		return nil, fmt.Errorf("ctlapi: reading %s response: %w", msgType, err)
	}
	if MsgType(response[0]) != msgType {
		return nil, fmt.Errorf("ctlapi: response type %s does not match request %s", MsgType(response[0]), msgType)
	}
	return response, nil
}
