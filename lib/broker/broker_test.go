// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pskd-project/pskd/lib/secret"
	"github.com/pskd-project/pskd/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// appliedPSK is what fakeSetter saw, copied out before the server
// releases the PSK buffer.
type appliedPSK struct {
	peerID [PeerIDSize]byte
	psk    []byte
	iface  string
}

type fakeSetter struct {
	mu      sync.Mutex
	applied []appliedPSK
	err     error
}

func (f *fakeSetter) SetPSK(config Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, appliedPSK{
		peerID: config.PeerID,
		psk:    bytes.Clone(config.PSK.Bytes()),
		iface:  config.Interface,
	})
	return f.err
}

func testPeerID() [PeerIDSize]byte {
	var peer [PeerIDSize]byte
	for i := range peer {
		peer[i] = byte(i)
	}
	return peer
}

func testPSKBytes() []byte {
	return bytes.Repeat([]byte{0x5A}, PSKSize)
}

func testConfig(t *testing.T, iface string) Config {
	t.Helper()
	psk, err := secret.NewFromBytes(testPSKBytes())
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { psk.Close() })
	config, err := NewConfig(testPeerID(), psk, iface)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return config
}

func encodeRequest(t *testing.T, iface string) []byte {
	t.Helper()
	request, err := EncodeSetPSKRequest(testConfig(t, iface))
	if err != nil {
		t.Fatalf("EncodeSetPSKRequest: %v", err)
	}
	return request
}

func TestSetPSKRequest_RoundTrip(t *testing.T) {
	for _, iface := range []string{"wg0", "wg-ü", strings.Repeat("x", MaxInterfaceLen)} {
		request := encodeRequest(t, iface)
		if len(request) != RequestSize {
			t.Fatalf("encoded size = %d, want %d", len(request), RequestSize)
		}

		config, err := DecodeSetPSKRequest(request)
		if err != nil {
			t.Fatalf("DecodeSetPSKRequest(%q): %v", iface, err)
		}
		if config.PeerID != testPeerID() {
			t.Errorf("peer id mismatch")
		}
		if !config.PSK.Equal(testPSKBytes()) {
			t.Errorf("psk mismatch")
		}
		if config.Interface != iface {
			t.Errorf("interface = %q, want %q", config.Interface, iface)
		}
		config.PSK.Close()
	}
}

func TestRequestAndResponseSizes(t *testing.T) {
	if RequestSize != 1+32+32+1+255 {
		t.Errorf("RequestSize = %d, want 321", RequestSize)
	}
	if ResponseSize != 2 {
		t.Errorf("ResponseSize = %d, want 2", ResponseSize)
	}
}

func TestSetInterface_TooLong(t *testing.T) {
	var request SetPSKRequest
	if err := request.SetInterface(strings.Repeat("x", MaxInterfaceLen+1)); !errors.Is(err, ErrInterfaceName) {
		t.Fatalf("SetInterface error = %v, want ErrInterfaceName", err)
	}
}

func TestNewConfig_Validation(t *testing.T) {
	psk, err := secret.NewFromBytes(testPSKBytes())
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer psk.Close()
	short, err := secret.New(PSKSize - 1)
	if err != nil {
		t.Fatalf("secret.New: %v", err)
	}
	defer short.Close()

	tests := []struct {
		name  string
		psk   *secret.Buffer
		iface string
	}{
		{"nil psk", nil, "wg0"},
		{"short psk", short, "wg0"},
		{"long interface", psk, strings.Repeat("x", MaxInterfaceLen+1)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewConfig(testPeerID(), test.psk, test.iface); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewConfig error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestServer_HandleMessage_Success(t *testing.T) {
	setter := &fakeSetter{}
	server := NewServer(setter, testLogger())

	response := make([]byte, ResponseSize)
	n, err := server.HandleMessage(encodeRequest(t, "wg0"), response)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if n != ResponseSize {
		t.Errorf("wrote %d bytes, want %d", n, ResponseSize)
	}
	if !bytes.Equal(response, []byte{byte(MsgSetPSK), byte(ReturnSuccess)}) {
		t.Errorf("response = % x", response)
	}

	if len(setter.applied) != 1 {
		t.Fatalf("backend called %d times, want 1", len(setter.applied))
	}
	applied := setter.applied[0]
	if applied.peerID != testPeerID() || !bytes.Equal(applied.psk, testPSKBytes()) || applied.iface != "wg0" {
		t.Errorf("backend received %+v", applied)
	}
}

func TestServer_HandleMessage_BackendErrors(t *testing.T) {
	tests := []struct {
		err  error
		want ReturnCode
	}{
		{fmt.Errorf("wg1: %w", ErrNoSuchInterface), ReturnNoSuchInterface},
		{fmt.Errorf("peer: %w", ErrNoSuchPeer), ReturnNoSuchPeer},
		{errors.New("netlink exploded"), ReturnUnknownError},
	}
	for _, test := range tests {
		server := NewServer(&fakeSetter{err: test.err}, testLogger())
		response := make([]byte, ResponseSize)
		if _, err := server.HandleMessage(encodeRequest(t, "wg0"), response); err != nil {
			t.Fatalf("HandleMessage(%v): %v", test.err, err)
		}
		if got := ReturnCode(response[1]); got != test.want {
			t.Errorf("backend error %v: return code = %v, want %v", test.err, got, test.want)
		}
	}
}

func TestServer_HandleMessage_InvalidMessages(t *testing.T) {
	valid := encodeRequest(t, "wg0")

	badUTF8 := bytes.Clone(valid)
	badUTF8[1+PeerIDSize+PSKSize] = 2
	badUTF8[1+PeerIDSize+PSKSize+1] = 0xC3
	badUTF8[1+PeerIDSize+PSKSize+2] = 0x28

	tests := []struct {
		name    string
		request []byte
	}{
		{"empty", nil},
		{"unknown type", append([]byte{0x7F}, valid[1:]...)},
		{"type only", []byte{byte(MsgSetPSK)}},
		{"truncated", valid[:len(valid)-1]},
		{"oversized", append(bytes.Clone(valid), 0)},
		{"invalid utf8 interface", badUTF8},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			setter := &fakeSetter{}
			server := NewServer(setter, testLogger())
			response := make([]byte, ResponseSize)

			_, err := server.HandleMessage(test.request, response)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("error = %v, want ErrInvalidMessage", err)
			}
			if len(setter.applied) != 0 {
				t.Error("backend called for an invalid message")
			}
		})
	}
}

func TestServer_HandleMessage_EmptyInterfaceAnsweredInBand(t *testing.T) {
	request := make([]byte, RequestSize)
	request[0] = byte(MsgSetPSK)

	setter := &fakeSetter{err: ErrNoSuchInterface}
	server := NewServer(setter, testLogger())
	response := make([]byte, ResponseSize)

	if _, err := server.HandleMessage(request, response); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !bytes.Equal(response, []byte{byte(MsgSetPSK), byte(ReturnNoSuchInterface)}) {
		t.Errorf("response = % x, want no such interface", response)
	}
	if len(setter.applied) != 1 || setter.applied[0].iface != "" {
		t.Errorf("backend received %+v, want one call with an empty interface", setter.applied)
	}
}

func TestServer_HandleMessage_UnknownTypeKeepsByte(t *testing.T) {
	server := NewServer(&fakeSetter{}, testLogger())
	_, err := server.HandleMessage([]byte{0x7F}, make([]byte, ResponseSize))

	var unknown *UnknownRequestTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownRequestTypeError", err)
	}
	if unknown.Type != 0x7F {
		t.Errorf("Type = %#x, want 0x7f", unknown.Type)
	}
}

func TestServer_HandleMessage_ShortResponseBuffer(t *testing.T) {
	setter := &fakeSetter{}
	server := NewServer(setter, testLogger())
	if _, err := server.HandleMessage(encodeRequest(t, "wg0"), make([]byte, 1)); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
	if len(setter.applied) != 0 {
		t.Error("backend called without room for a response")
	}
}

func TestReturnCode_RoundTrip(t *testing.T) {
	for _, err := range []error{nil, ErrNoSuchInterface, ErrNoSuchPeer} {
		if got := ReturnCodeFor(err).Err(); !errors.Is(got, err) || (err == nil) != (got == nil) {
			t.Errorf("ReturnCodeFor(%v).Err() = %v", err, got)
		}
	}
	if err := ReturnCode(0x42).Err(); !errors.Is(err, ErrUnknown) {
		t.Errorf("unknown code maps to %v, want ErrUnknown", err)
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	var stream bytes.Buffer
	if err := WriteFrame(&stream, []byte("first")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := WriteFrame(&stream, nil); err != nil {
		t.Fatalf("WriteFrame(empty): %v", err)
	}

	if got, err := ReadFrame(&stream); err != nil || string(got) != "first" {
		t.Fatalf("ReadFrame = %q, %v", got, err)
	}
	if got, err := ReadFrame(&stream); err != nil || len(got) != 0 {
		t.Fatalf("ReadFrame(empty) = %q, %v", got, err)
	}
	if _, err := ReadFrame(&stream); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame at end = %v, want io.EOF", err)
	}
}

func TestFrame_Errors(t *testing.T) {
	huge := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	if _, err := ReadFrame(bytes.NewReader(huge)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized prefix: %v, want ErrFrameTooLarge", err)
	}

	truncated := []byte{4, 0, 0, 0, 0, 0, 0, 0, 'a'}
	if _, err := ReadFrame(bytes.NewReader(truncated)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated body: %v, want io.ErrUnexpectedEOF", err)
	}

	if err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("WriteFrame oversized: %v, want ErrFrameTooLarge", err)
	}
}

func TestClient_ServeConn(t *testing.T) {
	daemonEnd, brokerEnd := testutil.UnixPair(t)

	setter := &fakeSetter{}
	server := NewServer(setter, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ServeConn(ctx, brokerEnd, server, testLogger()) }()

	client := NewClient(daemonEnd, time.Second)
	if err := client.SetPSK(testConfig(t, "wg0")); err != nil {
		t.Fatalf("SetPSK: %v", err)
	}

	setter.mu.Lock()
	setter.err = fmt.Errorf("gone: %w", ErrNoSuchPeer)
	setter.mu.Unlock()
	if err := client.SetPSK(testConfig(t, "wg0")); !errors.Is(err, ErrNoSuchPeer) {
		t.Fatalf("SetPSK error = %v, want ErrNoSuchPeer", err)
	}

	client.Close()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for ServeConn"); err != nil {
		t.Fatalf("ServeConn: %v", err)
	}
	if len(setter.applied) != 2 {
		t.Errorf("backend called %d times, want 2", len(setter.applied))
	}
}

func TestServeConn_ClosesOnGarbage(t *testing.T) {
	daemonEnd, brokerEnd := testutil.UnixPair(t)

	done := make(chan error, 1)
	go func() {
		done <- ServeConn(context.Background(), brokerEnd, NewServer(&fakeSetter{}, testLogger()), testLogger())
	}()

	if err := WriteFrame(daemonEnd, []byte{0x7F}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for ServeConn"); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("ServeConn error = %v, want ErrInvalidMessage", err)
	}
	if _, err := ReadFrame(daemonEnd); !errors.Is(err, io.EOF) {
		t.Errorf("daemon end read = %v, want io.EOF after broker closed", err)
	}
}

func TestServe_Listener(t *testing.T) {
	socketPath := testutil.SocketDir(t) + "/broker.sock"
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	setter := &fakeSetter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, listener, NewServer(setter, testLogger()), testLogger()) }()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewClient(conn, time.Second)
	if err := client.SetPSK(testConfig(t, "wg7")); err != nil {
		t.Fatalf("SetPSK: %v", err)
	}
	client.Close()

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(setter.applied) != 1 || setter.applied[0].iface != "wg7" {
		t.Errorf("applied = %+v", setter.applied)
	}
}

func TestRegistry_ReplaceKeepsOneEntry(t *testing.T) {
	var registry Registry
	first, _ := testutil.UnixPair(t)
	second, _ := testutil.UnixPair(t)

	if registry.Len() != 0 {
		t.Fatalf("new registry Len = %d", registry.Len())
	}
	if _, ok := registry.Latest(); ok {
		t.Fatal("new registry reports a live handle")
	}

	firstHandle, err := registry.Register(NewClient(first, 0))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := registry.Register(NewClient(second, 0)); !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("second Register error = %v, want ErrSlotOccupied", err)
	}

	old, err := registry.Unregister(firstHandle)
	if err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	old.Close()
	if _, err := registry.Unregister(firstHandle); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("double Unregister error = %v, want ErrUnknownHandle", err)
	}

	replacement := NewClient(second, 0)
	secondHandle, err := registry.Register(replacement)
	if err != nil {
		t.Fatalf("Register replacement: %v", err)
	}
	if secondHandle <= firstHandle {
		t.Errorf("handle reused or decreased: %d after %d", secondHandle, firstHandle)
	}
	if registry.Active() != replacement || registry.Len() != 1 {
		t.Errorf("replacement not active")
	}

	if err := registry.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if registry.Len() != 0 {
		t.Errorf("Len after Close = %d", registry.Len())
	}
}

// failingListener fails Accept a fixed number of times and then reports
// itself closed.
type failingListener struct {
	failures int
	calls    int
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.calls++
	if l.calls <= l.failures {
		return nil, errors.New("accept: too many open files")
	}
	return nil, net.ErrClosed
}

func (l *failingListener) Close() error { return nil }

func (l *failingListener) Addr() net.Addr { return &net.UnixAddr{Name: "failing", Net: "unix"} }

func TestServe_AcceptErrorsBackOff(t *testing.T) {
	listener := &failingListener{failures: 3}

	start := time.Now()
	if err := Serve(context.Background(), listener, NewServer(&fakeSetter{}, testLogger()), testLogger()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	elapsed := time.Since(start)

	if listener.calls != 4 {
		t.Errorf("Accept called %d times, want 4", listener.calls)
	}
	if want := 35 * time.Millisecond; elapsed < want {
		t.Errorf("Serve retried failing accepts within %v, want at least %v of backoff", elapsed, want)
	}
}
