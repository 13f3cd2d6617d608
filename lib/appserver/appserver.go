// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package appserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/pskd-project/pskd/lib/broker"
	"github.com/pskd-project/pskd/lib/protocol"
	"github.com/pskd-project/pskd/lib/secret"
)

// MaxPacketSize is the size of the buffer each listen socket reads
// into. Larger datagrams are truncated by the kernel.
const MaxPacketSize = 65535

var (
	// ErrNoBroker is returned by OutputKey when no broker is registered.
	ErrNoBroker = errors.New("appserver: no PSK broker registered")

	// ErrClosed is returned by RegisterListenSocket after Serve has
	// returned or Close was called.
	ErrClosed = errors.New("appserver: closed")
)

// PacketHandler receives datagrams from listen sockets. HandlePacket is
// called from one goroutine per socket and must not retain packet.
type PacketHandler interface {
	HandlePacket(conn *net.UDPConn, packet []byte, from netip.AddrPort)
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(conn *net.UDPConn, packet []byte, from netip.AddrPort)

func (f PacketHandlerFunc) HandlePacket(conn *net.UDPConn, packet []byte, from netip.AddrPort) {
	f(conn, packet, from)
}

// AppServer is the daemon's application context.
type AppServer struct {
	site    *protocol.Site
	brokers broker.Registry
	handler PacketHandler
	logger  *slog.Logger

	mu      sync.Mutex
	sockets []*net.UDPConn
	serving bool
	closed  bool
	readers sync.WaitGroup
}

// New returns an AppServer around site. handler may be nil, in which
// case packets are logged and dropped.
func New(site *protocol.Site, handler PacketHandler, logger *slog.Logger) *AppServer {
	server := &AppServer{site: site, handler: handler, logger: logger}
	if server.handler == nil {
		server.handler = PacketHandlerFunc(server.dropPacket)
	}
	return server
}

// CryptoSite returns the construction site of the crypto server.
func (a *AppServer) CryptoSite() *protocol.Site {
	return a.site
}

// Brokers returns the PSK broker registry.
func (a *AppServer) Brokers() *broker.Registry {
	return &a.brokers
}

// RegisterListenSocket adds conn to the set of sockets the daemon reads
// from. If Serve is running, reading starts immediately; otherwise it
// starts when Serve is called. On success the AppServer owns conn.
func (a *AppServer) RegisterListenSocket(conn *net.UDPConn) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	a.sockets = append(a.sockets, conn)
	if a.serving {
		a.startReader(conn)
	}
	return nil
}

// Listen binds a UDP socket on address and registers it.
func (a *AppServer) Listen(address string) error {
	udpAddress, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("appserver: resolving %q: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", udpAddress)
	if err != nil {
		return fmt.Errorf("appserver: listening on %s: %w", address, err)
	}
	if err := a.RegisterListenSocket(conn); err != nil {
		conn.Close()
		return err
	}
	a.logger.Info("listening", "address", conn.LocalAddr().String())
	return nil
}

// ListenSockets returns the local addresses of all registered sockets
// in registration order.
func (a *AppServer) ListenSockets() []net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	addresses := make([]net.Addr, len(a.sockets))
	for i, conn := range a.sockets {
		addresses[i] = conn.LocalAddr()
	}
	return addresses
}

// OutputKey forwards a derived PSK for peer on iface to the registered
// broker. psk stays owned by the caller.
func (a *AppServer) OutputKey(peer [broker.PeerIDSize]byte, iface string, psk *secret.Buffer) error {
	client := a.brokers.Active()
	if client == nil {
		return ErrNoBroker
	}
	config, err := broker.NewConfig(peer, psk, iface)
	if err != nil {
		return err
	}
	if err := client.SetPSK(config); err != nil {
		return fmt.Errorf("appserver: exporting PSK for %s: %w", iface, err)
	}
	a.logger.Debug("PSK exported", "interface", iface)
	return nil
}

// Serve reads from every listen socket, including ones registered while
// it runs, until ctx is cancelled. It then closes all sockets and
// brokers and waits for the readers to finish.
func (a *AppServer) Serve(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.serving {
		a.mu.Unlock()
		return errors.New("appserver: already serving")
	}
	a.serving = true
	for _, conn := range a.sockets {
		a.startReader(conn)
	}
	a.mu.Unlock()

	<-ctx.Done()
	return a.Close()
}

// Close closes every listen socket and the registered broker. Readers
// started by Serve have exited when Close returns.
func (a *AppServer) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	sockets := a.sockets
	a.sockets = nil
	a.mu.Unlock()

	var errs []error
	for _, conn := range sockets {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.readers.Wait()

	if err := a.brokers.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// startReader must be called with a.mu held.
func (a *AppServer) startReader(conn *net.UDPConn) {
	a.readers.Add(1)
	go func() {
		defer a.readers.Done()
		a.read(conn)
	}()
}

func (a *AppServer) read(conn *net.UDPConn) {
	buffer := make([]byte, MaxPacketSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Warn("listen socket failed", "address", conn.LocalAddr().String(), "error", err)
			}
			return
		}
		a.handler.HandlePacket(conn, buffer[:n], from)
	}
}

func (a *AppServer) dropPacket(conn *net.UDPConn, packet []byte, from netip.AddrPort) {
	a.logger.Debug("dropping packet",
		"local", conn.LocalAddr().String(),
		"from", from.String(),
		"size", len(packet),
	)
}
