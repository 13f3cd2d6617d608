// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package wgbroker

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pskd-project/pskd/lib/broker"
	"github.com/pskd-project/pskd/lib/secret"
)

// DefaultCommandTimeout bounds each wg invocation.
const DefaultCommandTimeout = 10 * time.Second

// Command sets PSKs by running wg(8). The PSK is written to the child's
// stdin and never appears on a command line.
type Command struct {
	// Path is the wg binary. Empty means "wg" from PATH.
	Path string

	// Timeout bounds each invocation. Zero means DefaultCommandTimeout.
	Timeout time.Duration
}

// SetPSK installs config.PSK for an existing peer on config.Interface.
func (c *Command) SetPSK(config broker.Config) error {
	if config.Interface == "" {
		return fmt.Errorf("%w: empty interface name", broker.ErrNoSuchInterface)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	peer := base64.StdEncoding.EncodeToString(config.PeerID[:])

	peers, err := c.run(ctx, nil, "show", config.Interface, "peers")
	if err != nil {
		return err
	}
	if !containsLine(peers, peer) {
		return fmt.Errorf("%w: %s on %s", broker.ErrNoSuchPeer, peer, config.Interface)
	}

	// wg reads the key as base64 text terminated by a newline.
	encoded := make([]byte, base64.StdEncoding.EncodedLen(broker.PSKSize)+1)
	defer secret.Zero(encoded)
	base64.StdEncoding.Encode(encoded, config.PSK.Bytes())
	encoded[len(encoded)-1] = '\n'

	_, err = c.run(ctx, encoded, "set", config.Interface, "peer", peer, "preshared-key", "/dev/stdin")
	return err
}

func (c *Command) run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	path := c.Path
	if path == "" {
		path = "wg"
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, path, args...)
	if stdin != nil {
		command.Stdin = bytes.NewReader(stdin)
	}
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		message := strings.TrimSpace(stderr.String())
		if strings.Contains(message, "No such device") {
			return "", fmt.Errorf("%w: %s", broker.ErrNoSuchInterface, args[1])
		}
		return "", fmt.Errorf("wg %s: %w (stderr: %s)", args[0], err, message)
	}
	return stdout.String(), nil
}

func containsLine(output, line string) bool {
	for candidate := range strings.Lines(output) {
		if strings.TrimSpace(candidate) == line {
			return true
		}
	}
	return false
}
