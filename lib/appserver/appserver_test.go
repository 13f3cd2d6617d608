// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package appserver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pskd-project/pskd/lib/broker"
	"github.com/pskd-project/pskd/lib/ctlapi"
	"github.com/pskd-project/pskd/lib/protocol"
	"github.com/pskd-project/pskd/lib/secret"
	"github.com/pskd-project/pskd/lib/testutil"
)

var _ ctlapi.Context = (*AppServer)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type packet struct {
	local   net.Addr
	payload string
}

func channelHandler() (PacketHandler, <-chan packet) {
	packets := make(chan packet, 16)
	return PacketHandlerFunc(func(conn *net.UDPConn, payload []byte, _ netip.AddrPort) {
		packets <- packet{local: conn.LocalAddr(), payload: string(payload)}
	}), packets
}

func startServing(t *testing.T, server *AppServer) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve")
	})
	return done
}

func send(t *testing.T, to net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", to.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestServe_ReadsListenSockets(t *testing.T) {
	handler, packets := channelHandler()
	server := New(protocol.NewSite(), handler, testLogger())

	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	startServing(t, server)

	late, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	if err := server.RegisterListenSocket(late); err != nil {
		t.Fatalf("RegisterListenSocket: %v", err)
	}

	addresses := server.ListenSockets()
	if len(addresses) != 2 {
		t.Fatalf("ListenSockets = %v, want 2 entries", addresses)
	}

	for i, address := range addresses {
		payload := []string{"before serve", "during serve"}[i]
		send(t, address, payload)
		got := testutil.RequireReceive(t, packets, 5*time.Second, "waiting for packet on %s", address)
		if got.payload != payload || got.local.String() != address.String() {
			t.Errorf("received %q on %s, want %q on %s", got.payload, got.local, payload, address)
		}
	}
}

func TestServe_ClosesSockets(t *testing.T) {
	server := New(protocol.NewSite(), nil, testLogger())
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()
	if err := server.RegisterListenSocket(conn); !errors.Is(err, ErrClosed) {
		t.Errorf("RegisterListenSocket after Serve: %v, want ErrClosed", err)
	}
	if len(server.ListenSockets()) != 0 {
		t.Errorf("sockets still listed after close: %v", server.ListenSockets())
	}
}

type recordingSetter struct {
	mu      sync.Mutex
	configs []string
}

func (r *recordingSetter) SetPSK(config broker.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, config.Interface)
	return nil
}

func testPSK(t *testing.T) *secret.Buffer {
	t.Helper()
	psk, err := secret.NewFromBytes(bytes.Repeat([]byte{7}, broker.PSKSize))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { psk.Close() })
	return psk
}

func TestOutputKey(t *testing.T) {
	server := New(protocol.NewSite(), nil, testLogger())
	defer server.Close()

	var peer [broker.PeerIDSize]byte
	if err := server.OutputKey(peer, "wg0", testPSK(t)); !errors.Is(err, ErrNoBroker) {
		t.Fatalf("OutputKey without broker: %v, want ErrNoBroker", err)
	}

	daemonEnd, brokerEnd := testutil.UnixPair(t)
	setter := &recordingSetter{}
	done := make(chan error, 1)
	go func() {
		done <- broker.ServeConn(context.Background(), brokerEnd, broker.NewServer(setter, testLogger()), testLogger())
	}()

	if _, err := server.Brokers().Register(broker.NewClient(daemonEnd, time.Second)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := server.OutputKey(peer, "wg0", testPSK(t)); err != nil {
		t.Fatalf("OutputKey: %v", err)
	}

	server.Close()
	testutil.RequireReceive(t, done, 5*time.Second, "waiting for broker connection to end")
	if len(setter.configs) != 1 || setter.configs[0] != "wg0" {
		t.Errorf("broker received %v", setter.configs)
	}
}

func TestControlSocket_AddListenSocket(t *testing.T) {
	handler, packets := channelHandler()
	server := New(protocol.NewSite(), handler, testLogger())
	startServing(t, server)

	clientEnd, serverEnd := testutil.UnixPair(t)
	control := ctlapi.NewServer(server, ctlapi.NewDispatcher(testLogger(), 0), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.ServeConn(ctx, serverEnd)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	address := conn.LocalAddr()
	file, err := conn.File()
	conn.Close()
	if err != nil {
		t.Fatalf("File: %v", err)
	}

	client := ctlapi.NewClient(clientEnd)
	if err := client.AddListenSocket(file); err != nil {
		t.Fatalf("AddListenSocket: %v", err)
	}

	send(t, address, "through the control socket")
	got := testutil.RequireReceive(t, packets, 5*time.Second, "waiting for packet")
	if got.payload != "through the control socket" {
		t.Errorf("received %q", got.payload)
	}
}
