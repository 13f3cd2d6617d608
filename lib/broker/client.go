// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pskd-project/pskd/lib/envelope"
	"github.com/pskd-project/pskd/lib/secret"
)

// DefaultRequestTimeout bounds one SetPSK round trip when NewClient is
// given no timeout.
const DefaultRequestTimeout = 5 * time.Second

// Client is the daemon's end of a broker connection. Requests are
// serialized; each waits for its response before the next is sent.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// NewClient wraps conn. The client owns conn and closes it in Close.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{conn: conn, timeout: timeout}
}

// SetPSK asks the broker to install config. Broker-side failures come
// back as ErrNoSuchInterface, ErrNoSuchPeer or ErrUnknown; anything
// else is a transport failure and the client should be replaced.
func (c *Client) SetPSK(config Config) error {
	request, err := EncodeSetPSKRequest(config)
	if err != nil {
		return err
	}
	defer secret.Zero(request)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("broker: setting deadline: %w", err)
	}
	if err := WriteFrame(c.conn, request); err != nil {
		return err
	}
	body, err := ReadFrame(c.conn)
	if err != nil {
		return err
	}

	frame, err := envelope.Decode[SetPSKResponse](body)
	if err != nil {
		return fmt.Errorf("broker: decoding response: %w", err)
	}
	if MsgType(frame.MsgType) != MsgSetPSK {
		return fmt.Errorf("broker: response type %#02x does not match request", frame.MsgType)
	}
	return ReturnCode(frame.Payload.ReturnCode).Err()
}

// Close closes the broker connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
