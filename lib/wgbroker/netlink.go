// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package wgbroker

import (
	"errors"
	"fmt"
	"os"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/pskd-project/pskd/lib/broker"
	"github.com/pskd-project/pskd/lib/secret"
)

// DeviceConfigurer is the subset of *wgctrl.Client used by Netlink.
type DeviceConfigurer interface {
	Device(name string) (*wgtypes.Device, error)
	ConfigureDevice(name string, config wgtypes.Config) error
	Close() error
}

// Netlink sets PSKs through the WireGuard configuration protocol.
type Netlink struct {
	client DeviceConfigurer
}

// OpenNetlink opens a wgctrl client. Close releases it.
func OpenNetlink() (*Netlink, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("wgbroker: opening wgctrl: %w", err)
	}
	return NewNetlink(client), nil
}

// NewNetlink wraps an existing configurer. Netlink takes ownership of
// client.
func NewNetlink(client DeviceConfigurer) *Netlink {
	return &Netlink{client: client}
}

// SetPSK installs config.PSK for an existing peer on config.Interface.
func (n *Netlink) SetPSK(config broker.Config) error {
	if config.Interface == "" {
		return fmt.Errorf("%w: empty interface name", broker.ErrNoSuchInterface)
	}
	device, err := n.client.Device(config.Interface)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", broker.ErrNoSuchInterface, config.Interface)
		}
		return fmt.Errorf("wgbroker: reading device %s: %w", config.Interface, err)
	}

	peer := wgtypes.Key(config.PeerID)
	if !hasPeer(device, peer) {
		return fmt.Errorf("%w: %s on %s", broker.ErrNoSuchPeer, peer, config.Interface)
	}

	psk := wgtypes.Key(config.PSK.Bytes())
	defer secret.Zero(psk[:])

	err = n.client.ConfigureDevice(config.Interface, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:    peer,
			UpdateOnly:   true,
			PresharedKey: &psk,
		}},
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", broker.ErrNoSuchInterface, config.Interface)
		}
		return fmt.Errorf("wgbroker: configuring %s: %w", config.Interface, err)
	}
	return nil
}

// Close releases the wgctrl client.
func (n *Netlink) Close() error {
	return n.client.Close()
}

func hasPeer(device *wgtypes.Device, key wgtypes.Key) bool {
	for _, peer := range device.Peers {
		if peer.PublicKey == key {
			return true
		}
	}
	return false
}
