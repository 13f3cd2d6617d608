// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package ctlapi

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pskd-project/pskd/lib/build"
	"github.com/pskd-project/pskd/lib/envelope"
	"github.com/pskd-project/pskd/lib/fdpass"
	"github.com/pskd-project/pskd/lib/protocol"
	"github.com/pskd-project/pskd/lib/testutil"
)

func startConn(t *testing.T, state Context) (*Client, <-chan error) {
	t.Helper()
	clientEnd, serverEnd := testutil.UnixPair(t)
	server := NewServer(state, NewDispatcher(testLogger(), 0), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- server.ServeConn(ctx, serverEnd) }()
	return NewClient(clientEnd), done
}

func TestClient_RoundTrips(t *testing.T) {
	state := newFakeContext(t)
	client, done := startConn(t, state)

	var echo [EchoSize]byte
	copy(echo[:], "are you there")
	got, err := client.Ping(echo)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got != echo {
		t.Errorf("Ping echoed %q", got[:13])
	}

	keys := validKeyFiles(t)
	if err := client.SupplyKeypair(keys[0], keys[1]); err != nil {
		t.Fatalf("SupplyKeypair: %v", err)
	}
	keys = validKeyFiles(t)
	err = client.SupplyKeypair(keys[0], keys[1])
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != StatusKeypairAlreadySupplied {
		t.Fatalf("second SupplyKeypair error = %v, want keypair already supplied", err)
	}

	if err := client.AddListenSocket(udpSocketFile(t)); err != nil {
		t.Fatalf("AddListenSocket: %v", err)
	}
	if err := client.AddPSKBroker(connectedStreamFile(t)); err != nil {
		t.Fatalf("AddPSKBroker: %v", err)
	}

	client.Close()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for ServeConn"); err != nil {
		t.Fatalf("ServeConn: %v", err)
	}

	if state.site.State() != build.StateProduct {
		t.Errorf("site state = %v, want product", state.site.State())
	}
	if len(state.sockets) != 1 {
		t.Errorf("registered %d listen sockets, want 1", len(state.sockets))
	}
	if state.registry.Len() != 1 {
		t.Errorf("registry holds %d brokers, want 1", state.registry.Len())
	}
}

func TestClient_MissingDescriptor(t *testing.T) {
	client, _ := startConn(t, newFakeContext(t))

	err := client.statusCall(MsgAddListenSocket)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != StatusInvalidRequest {
		t.Fatalf("error = %v, want invalid request", err)
	}
}

func TestClient_TooManyDescriptorsSendsNothing(t *testing.T) {
	state := newFakeContext(t)
	client, _ := startConn(t, state)

	files := make([]*os.File, fdpass.MaxFDsPerMessage+43)
	for i := range files {
		file, err := os.Open(os.DevNull)
		if err != nil {
			t.Fatalf("opening %s: %v", os.DevNull, err)
		}
		files[i] = file
	}

	if err := client.AddListenSocket(files[0]); err == nil {
		t.Fatal("AddListenSocket with /dev/null succeeded")
	}
	if err := client.statusCall(MsgAddListenSocket, files[1:]...); !errors.Is(err, ErrUnsentDescriptors) {
		t.Fatalf("error = %v, want ErrUnsentDescriptors", err)
	}
	if _, err := files[1].Stat(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("rejected descriptors left open: %v", err)
	}

	var echo [EchoSize]byte
	copy(echo[:], "still in step")
	got, err := client.Ping(echo)
	if err != nil {
		t.Fatalf("Ping after rejected request: %v", err)
	}
	if got != echo {
		t.Errorf("Ping echoed %q", got[:13])
	}
	if len(state.sockets) != 0 {
		t.Errorf("registered %d listen sockets, want 0", len(state.sockets))
	}
}

func TestServeConn_FaultStopsConnection(t *testing.T) {
	state := newFakeContext(t)
	state.site = &protocol.Site{}
	client, done := startConn(t, state)

	keys := validKeyFiles(t)
	if err := client.SupplyKeypair(keys[0], keys[1]); !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		t.Errorf("SupplyKeypair error = %v, want the connection to close without a response", err)
	}
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for ServeConn"); !errors.Is(err, build.ErrVoid) {
		t.Fatalf("ServeConn error = %v, want build.ErrVoid", err)
	}
}

func TestServeConn_UnknownTypeClosesConnection(t *testing.T) {
	clientEnd, serverEnd := testutil.UnixPair(t)
	server := NewServer(newFakeContext(t), NewDispatcher(testLogger(), 0), testLogger())

	done := make(chan error, 1)
	go func() { done <- server.ServeConn(context.Background(), serverEnd) }()

	if _, err := clientEnd.Write([]byte{0x7E}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for ServeConn"); err != nil {
		t.Fatalf("ServeConn: %v, want nil for a protocol error", err)
	}
	if _, err := clientEnd.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("client read = %v, want io.EOF", err)
	}
}

func TestServeConn_ClosesLeftoverDescriptors(t *testing.T) {
	state := newFakeContext(t)
	client, _ := startConn(t, state)

	// A pipe whose write end is passed along with a ping; ping does not
	// consume descriptors, so the server must close it.
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer reader.Close()

	if _, err := client.roundTrip(MsgPing, envelope.Encode(uint8(MsgPing), PingRequest{}), writer); err != nil {
		t.Fatalf("ping with descriptor: %v", err)
	}

	reader.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := reader.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("pipe read = %v, want io.EOF once every write end is closed", err)
	}
}

func TestServe_Listener(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}

	state := newFakeContext(t)
	server := NewServer(state, NewDispatcher(testLogger(), 0), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	for range 2 {
		client, err := Dial(socketPath)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		if err := client.AddPSKBroker(connectedStreamFile(t)); err != nil {
			t.Fatalf("AddPSKBroker: %v", err)
		}
		client.Close()
	}
	if state.registry.Len() != 1 {
		t.Errorf("registry holds %d brokers, want 1", state.registry.Len())
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServe_FaultStopsServer(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}

	state := newFakeContext(t)
	state.site = &protocol.Site{}
	server := NewServer(state, NewDispatcher(testLogger(), 0), testLogger())

	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background(), listener) }()

	idle, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer idle.Close()

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	keys := validKeyFiles(t)
	client.SupplyKeypair(keys[0], keys[1])

	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); !errors.Is(err, build.ErrVoid) {
		t.Fatalf("Serve error = %v, want build.ErrVoid", err)
	}
}
