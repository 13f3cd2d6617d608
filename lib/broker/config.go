// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"

	"github.com/pskd-project/pskd/lib/secret"
)

// ErrInvalidConfig is returned by NewConfig for incomplete input.
var ErrInvalidConfig = errors.New("broker: invalid PSK configuration")

// Config is one "install this PSK" instruction: the WireGuard public key
// of the peer, the PSK, and the interface the peer lives on.
type Config struct {
	PeerID    [PeerIDSize]byte
	PSK       *secret.Buffer
	Interface string
}

// NewConfig validates and assembles a Config. The PSK buffer stays owned
// by the caller. An empty interface name is accepted; backends answer it
// with ErrNoSuchInterface.
func NewConfig(peerID [PeerIDSize]byte, psk *secret.Buffer, iface string) (Config, error) {
	if psk == nil || psk.Len() != PSKSize {
		return Config{}, fmt.Errorf("%w: PSK must be %d bytes", ErrInvalidConfig, PSKSize)
	}
	if len(iface) > MaxInterfaceLen {
		return Config{}, fmt.Errorf("%w: interface name longer than %d bytes", ErrInvalidConfig, MaxInterfaceLen)
	}
	return Config{PeerID: peerID, PSK: psk, Interface: iface}, nil
}

// PSKSetter installs PSKs into a tunnel implementation. Implementations
// report missing interfaces and peers by wrapping ErrNoSuchInterface and
// ErrNoSuchPeer.
type PSKSetter interface {
	SetPSK(config Config) error
}
