// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package wgbroker installs pre-shared keys into WireGuard interfaces.
// Both back ends implement [broker.PSKSetter] and are what pskd-broker
// serves on its broker socket:
//
//   - [Netlink] talks to the kernel (or a userspace implementation)
//     through wgctrl.
//   - [Command] drives the wg(8) tool, for hosts where the broker runs
//     without netlink access but may exec a privileged helper.
//
// Both refuse to create peers. A PSK for a peer the interface does not
// know is reported as [broker.ErrNoSuchPeer], a missing interface as
// [broker.ErrNoSuchInterface].
package wgbroker
