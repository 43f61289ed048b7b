package connections

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/protocol"
	"github.com/rudransh-shrivastava/peer-link/internal/transport"
)

const (
	// ServiceType is the DNS-SD service every peer-link endpoint registers.
	ServiceType   = "_peerlink._udp"
	ServiceDomain = "local."

	defaultConnectTimeout = 30 * time.Second
	sendQueueSize         = 64
	refuseLinger          = time.Second
)

type LANConfig struct {
	ListenAddr string
	// StagingDir holds incoming files until they are stored or dropped.
	StagingDir     string
	ConnectTimeout time.Duration
	EndpointID     string
	Logger         *slog.Logger
}

// LAN is a coordinator.Transport that advertises over mDNS and links
// endpoints with QUIC.
type LAN struct {
	id             string
	logger         *slog.Logger
	stagingDir     string
	connectTimeout time.Duration

	transport *transport.Transport
	queue     *eventQueue
	codec     *protocol.Codec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	advertising bool
	serviceID   string
	server      *zeroconf.Server
	browse      context.CancelFunc
	endpoints   map[string]remoteEndpoint
	links       map[string]*link
}

type remoteEndpoint struct {
	name string
	addr string
}

var _ coordinator.Transport = (*LAN)(nil)

// NewLAN binds the QUIC listener and starts accepting connections.
func NewLAN(cfg LANConfig) (*LAN, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = ":0"
	}

	stagingDir := cfg.StagingDir
	if stagingDir == "" {
		stagingDir = filepath.Join(os.TempDir(), "peer-link", "staging")
	}
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	id := cfg.EndpointID
	if id == "" {
		id = NewEndpointID()
	}

	tr, err := transport.NewTransport(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &LAN{
		id:             id,
		logger:         logger.With("local", id),
		stagingDir:     stagingDir,
		connectTimeout: timeout,
		transport:      tr,
		queue:          newEventQueue(),
		codec:          protocol.NewCodec(),
		ctx:            ctx,
		cancel:         cancel,
		endpoints:      make(map[string]remoteEndpoint),
		links:          make(map[string]*link),
	}

	l.wg.Add(1)
	go l.acceptLoop()

	l.logger.Info("LAN transport listening", "addr", tr.LocalAddr().String())
	return l, nil
}

func (l *LAN) ID() string {
	return l.id
}

func (l *LAN) Addr() net.Addr {
	return l.transport.LocalAddr()
}

func (l *LAN) Events() <-chan coordinator.Event {
	return l.queue.events()
}

// AddEndpoint makes an endpoint reachable at addr without mDNS and reports
// it as found. Useful on networks that filter multicast.
func (l *LAN) AddEndpoint(id, name, addr string) {
	l.mu.Lock()
	_, known := l.endpoints[id]
	l.endpoints[id] = remoteEndpoint{name: name, addr: addr}
	serviceID := l.serviceID
	l.mu.Unlock()

	if !known {
		l.queue.push(coordinator.EndpointFound{
			EndpointID: id,
			Info:       coordinator.EndpointInfo{Name: name, ServiceID: serviceID},
		})
	}
}

func (l *LAN) StopAllEndpoints() {
	l.StopAdvertising()
	l.StopDiscovery()

	l.mu.Lock()
	links := make([]*link, 0, len(l.links))
	for id, lk := range l.links {
		links = append(links, lk)
		delete(l.links, id)
	}
	l.mu.Unlock()

	for _, lk := range links {
		lk.close(true)
	}
}

// Close stops everything and closes the event channel.
func (l *LAN) Close() error {
	l.StopAllEndpoints()
	l.cancel()
	err := l.transport.Close()
	l.wg.Wait()
	l.queue.close()
	return err
}

func (l *LAN) acceptLoop() {
	defer l.wg.Done()

	for {
		peer, err := l.transport.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		go l.handleIncoming(peer)
	}
}

func (l *LAN) handleIncoming(peer *transport.Peer) {
	ctx, cancel := context.WithTimeout(l.ctx, l.connectTimeout)
	defer cancel()

	msg, err := peer.Receive(ctx)
	if err != nil {
		l.logger.Debug("Incoming connection closed before request", "peer", peer.RemoteAddr(), "error", err)
		_ = peer.Close()
		return
	}

	req, ok := msg.(*protocol.ConnectionRequest)
	if !ok || req.EndpointID == "" {
		l.refuse(ctx, peer, protocol.ErrInvalidMsg, "expected connection request")
		return
	}

	l.mu.Lock()
	if !l.advertising {
		l.mu.Unlock()
		l.refuse(ctx, peer, protocol.ErrNotAdvertising, "not accepting connections")
		return
	}

	lk, exists := l.links[req.EndpointID]
	if !exists {
		lk = l.newLink(req.EndpointID, req.EndpointName)
		l.links[req.EndpointID] = lk
	}
	// An existing link is only joined while it waits for the remote to dial.
	if !lk.bind(peer, req.EndpointName) {
		l.mu.Unlock()
		l.refuse(ctx, peer, protocol.ErrAlreadyConnected, "link already exists")
		return
	}
	l.mu.Unlock()

	l.logger.Info("Connection requested", "endpoint", req.EndpointID, "name", req.EndpointName, "peer", peer.RemoteAddr())
	lk.start(true)
}

func (l *LAN) refuse(ctx context.Context, peer *transport.Peer, code protocol.ErrorCode, reason string) {
	l.logger.Debug("Refusing connection", "peer", peer.RemoteAddr(), "code", code.String())
	if err := peer.Send(ctx, &protocol.Error{Code: code, Message: reason}); err == nil {
		// Give the dialer a chance to read the error and hang up first.
		select {
		case <-peer.Done():
		case <-time.After(refuseLinger):
		}
	}
	_ = peer.CloseWithError(reason)
}

// RequestConnection connects to a discovered endpoint. Of two endpoints
// only the one with the smaller id dials; the other waits for the dial so
// simultaneous requests meet on a single connection.
func (l *LAN) RequestConnection(ctx context.Context, localName, endpointID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ep, ok := l.endpoints[endpointID]
	if !ok {
		return fmt.Errorf("request %s: %w", endpointID, ErrUnknownEndpoint)
	}
	if _, exists := l.links[endpointID]; exists {
		return nil
	}

	lk := l.newLink(endpointID, ep.name)
	l.links[endpointID] = lk

	if l.id < endpointID {
		go lk.dial(ep.addr, localName)
	}
	return nil
}

func (l *LAN) AcceptConnection(ctx context.Context, endpointID string) error {
	lk, err := l.pendingLink(endpointID)
	if err != nil {
		return fmt.Errorf("accept %s: %w", endpointID, err)
	}
	return lk.respond(true)
}

func (l *LAN) RejectConnection(ctx context.Context, endpointID string) error {
	lk, err := l.pendingLink(endpointID)
	if err != nil {
		return fmt.Errorf("reject %s: %w", endpointID, err)
	}
	return lk.respond(false)
}

func (l *LAN) DisconnectFromEndpoint(endpointID string) {
	l.mu.Lock()
	lk, ok := l.links[endpointID]
	if ok {
		delete(l.links, endpointID)
	}
	l.mu.Unlock()

	if ok {
		lk.close(true)
	}
}

func (l *LAN) SendBytes(ctx context.Context, endpointID string, data []byte) (coordinator.PayloadID, error) {
	if len(data) > protocol.MaxBytesPayloadSize {
		return 0, ErrPayloadTooLarge
	}

	lk, err := l.connectedLink(endpointID)
	if err != nil {
		return 0, err
	}

	id := newPayloadID()
	msg := &protocol.BytesPayload{PayloadID: uint64(id), Data: append([]byte(nil), data...)}
	n := int64(len(data))
	err = lk.enqueue(msg, func(err error) {
		status := coordinator.TransferSuccess
		if err != nil {
			status = coordinator.TransferFailure
		}
		l.queue.push(coordinator.PayloadTransferUpdate{
			EndpointID: endpointID, PayloadID: id, Status: status, BytesTransferred: n, TotalBytes: n,
		})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (l *LAN) SendFile(ctx context.Context, endpointID string, src coordinator.FileSource) (coordinator.PayloadID, error) {
	lk, err := l.connectedLink(endpointID)
	if err != nil {
		_ = src.Reader.Close()
		return 0, err
	}

	id := newPayloadID()
	go lk.sendFile(id, src)
	return id, nil
}

func (l *LAN) pendingLink(endpointID string) (*link, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.links[endpointID]
	if !ok {
		return nil, ErrNoPending
	}
	return lk, nil
}

func (l *LAN) connectedLink(endpointID string) (*link, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.links[endpointID]
	if !ok || !lk.isConnected() {
		return nil, fmt.Errorf("%s: %w", endpointID, ErrNotConnected)
	}
	return lk, nil
}

// forget removes lk if it is still the current link for its endpoint.
func (l *LAN) forget(lk *link) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.links[lk.id] != lk {
		return false
	}
	delete(l.links, lk.id)
	return true
}
