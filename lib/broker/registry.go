// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSlotOccupied is returned by Register while another broker is
	// registered.
	ErrSlotOccupied = errors.New("broker: a broker is already registered")

	// ErrUnknownHandle is returned by Unregister for a handle that is
	// not the live registration.
	ErrUnknownHandle = errors.New("broker: unknown broker handle")
)

// Handle identifies one registration. Handles increase monotonically
// and are never reused.
type Handle uint64

// Registry holds at most one registered broker client. Replacing a
// broker is Unregister followed by Register; a live entry is never
// mutated in place. Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	last   Handle
	handle Handle
	client *Client
}

// Register stores client in the empty slot and returns its handle.
func (r *Registry) Register(client *Client) (Handle, error) {
	if client == nil {
		return 0, fmt.Errorf("broker: registering nil client")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return 0, ErrSlotOccupied
	}
	r.last++
	r.handle = r.last
	r.client = client
	return r.handle, nil
}

// Unregister empties the slot if handle is the live registration and
// returns the client, which the caller now owns.
func (r *Registry) Unregister(handle Handle) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil || handle != r.handle {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	client := r.client
	r.client = nil
	r.handle = 0
	return client, nil
}

// Latest returns the handle of the live registration, if any.
func (r *Registry) Latest() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.handle, r.client != nil
}

// Active returns the registered client, or nil.
func (r *Registry) Active() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.client
}

// Len returns the number of registered brokers: 0 or 1.
func (r *Registry) Len() int {
	if r.Active() == nil {
		return 0
	}
	return 1
}

// Close unregisters and closes the live client, if any.
func (r *Registry) Close() error {
	handle, ok := r.Latest()
	if !ok {
		return nil
	}
	client, err := r.Unregister(handle)
	if err != nil {
		return err
	}
	return client.Close()
}
