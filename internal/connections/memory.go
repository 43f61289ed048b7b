package connections

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/protocol"
)

// Medium connects in-process clients as if they shared a radio.
type Medium struct {
	mu      sync.Mutex
	clients map[string]*Client
	links   map[linkKey]*memLink
}

type linkKey struct{ a, b string }

func keyFor(x, y string) linkKey {
	if x > y {
		x, y = y, x
	}
	return linkKey{a: x, b: y}
}

type memLink struct {
	accepted  map[string]bool
	connected bool
}

func NewMedium() *Medium {
	return &Medium{
		clients: make(map[string]*Client),
		links:   make(map[linkKey]*memLink),
	}
}

// NewClient attaches a new endpoint to the medium.
func (m *Medium) NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		medium: m,
		id:     NewEndpointID(),
		queue:  newEventQueue(),
	}
	c.logger = logger.With("endpoint", c.id)

	m.mu.Lock()
	m.clients[c.id] = c
	m.mu.Unlock()
	return c
}

// Client is one endpoint on a Medium. It implements coordinator.Transport.
type Client struct {
	medium *Medium
	id     string
	queue  *eventQueue
	logger *slog.Logger

	// Guarded by medium.mu.
	advertName  string
	advertNS    string
	advertising bool
	discoverNS  string
	discovering bool
}

var _ coordinator.Transport = (*Client)(nil)

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Events() <-chan coordinator.Event {
	return c.queue.events()
}

func (c *Client) StartAdvertising(ctx context.Context, name, serviceID string) error {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.advertising {
		return fmt.Errorf("advertise: %w", ErrAlreadyRunning)
	}
	c.advertName, c.advertNS, c.advertising = name, serviceID, true

	for _, other := range m.clients {
		if other != c && other.discovering && other.discoverNS == serviceID {
			other.queue.push(coordinator.EndpointFound{
				EndpointID: c.id,
				Info:       coordinator.EndpointInfo{Name: name, ServiceID: serviceID},
			})
		}
	}
	return nil
}

func (c *Client) StartDiscovery(ctx context.Context, serviceID string) error {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.discovering {
		return fmt.Errorf("discover: %w", ErrAlreadyRunning)
	}
	c.discoverNS, c.discovering = serviceID, true

	for _, other := range m.clients {
		if other != c && other.advertising && other.advertNS == serviceID {
			c.queue.push(coordinator.EndpointFound{
				EndpointID: other.id,
				Info:       coordinator.EndpointInfo{Name: other.advertName, ServiceID: serviceID},
			})
		}
	}
	return nil
}

func (c *Client) StopAdvertising() {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	c.stopAdvertisingLocked()
}

func (c *Client) stopAdvertisingLocked() {
	if !c.advertising {
		return
	}
	c.advertising = false
	for _, other := range c.medium.clients {
		if other != c && other.discovering && other.discoverNS == c.advertNS {
			other.queue.push(coordinator.EndpointLost{EndpointID: c.id})
		}
	}
}

func (c *Client) StopDiscovery() {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	c.discovering = false
}

// RequestConnection asks endpointID to connect. Requesting an endpoint that
// already has a pending link with this client joins that link.
func (c *Client) RequestConnection(ctx context.Context, localName, endpointID string) error {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.clients[endpointID]
	if !ok || target == c || !target.advertising {
		return fmt.Errorf("request %s: %w", endpointID, ErrUnknownEndpoint)
	}

	key := keyFor(c.id, endpointID)
	if _, exists := m.links[key]; exists {
		return nil
	}
	m.links[key] = &memLink{accepted: make(map[string]bool)}

	token := authToken(c.id, endpointID)
	c.queue.push(coordinator.ConnectionInitiated{
		EndpointID: target.id,
		Info:       coordinator.ConnectionInfo{EndpointName: target.advertName, AuthToken: token},
	})
	target.queue.push(coordinator.ConnectionInitiated{
		EndpointID: c.id,
		Info:       coordinator.ConnectionInfo{EndpointName: localName, AuthToken: token, Incoming: true},
	})
	return nil
}

func (c *Client) AcceptConnection(ctx context.Context, endpointID string) error {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[keyFor(c.id, endpointID)]
	if !ok {
		return fmt.Errorf("accept %s: %w", endpointID, ErrNoPending)
	}
	if l.connected {
		return nil
	}

	l.accepted[c.id] = true
	if !l.accepted[endpointID] {
		return nil
	}

	l.connected = true
	c.queue.push(coordinator.ConnectionResult{EndpointID: endpointID, Success: true})
	if other, ok := m.clients[endpointID]; ok {
		other.queue.push(coordinator.ConnectionResult{EndpointID: c.id, Success: true})
	}
	return nil
}

func (c *Client) RejectConnection(ctx context.Context, endpointID string) error {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(c.id, endpointID)
	l, ok := m.links[key]
	if !ok || l.connected {
		return fmt.Errorf("reject %s: %w", endpointID, ErrNoPending)
	}
	delete(m.links, key)

	err := fmt.Errorf("rejected by %s", c.id)
	c.queue.push(coordinator.ConnectionResult{EndpointID: endpointID, Success: false, Err: err})
	if other, ok := m.clients[endpointID]; ok {
		other.queue.push(coordinator.ConnectionResult{EndpointID: c.id, Success: false, Err: err})
	}
	return nil
}

// DisconnectFromEndpoint drops the link. Only the remote side is told.
func (c *Client) DisconnectFromEndpoint(endpointID string) {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	c.dropLocked(endpointID)
}

func (c *Client) dropLocked(endpointID string) {
	m := c.medium
	key := keyFor(c.id, endpointID)
	l, ok := m.links[key]
	if !ok {
		return
	}
	delete(m.links, key)

	other, ok := m.clients[endpointID]
	if !ok {
		return
	}
	if l.connected {
		other.queue.push(coordinator.Disconnected{EndpointID: c.id})
	} else {
		other.queue.push(coordinator.ConnectionResult{EndpointID: c.id, Success: false, Err: ErrNotConnected})
	}
}

func (c *Client) StopAllEndpoints() {
	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	c.stopAdvertisingLocked()
	c.discovering = false
	for key := range m.links {
		switch c.id {
		case key.a:
			c.dropLocked(key.b)
		case key.b:
			c.dropLocked(key.a)
		}
	}
}

// Close detaches the client from the medium and closes its event channel.
func (c *Client) Close() error {
	c.StopAllEndpoints()

	m := c.medium
	m.mu.Lock()
	delete(m.clients, c.id)
	m.mu.Unlock()

	c.queue.close()
	return nil
}

func (c *Client) connectedPeer(endpointID string) (*Client, error) {
	m := c.medium
	l, ok := m.links[keyFor(c.id, endpointID)]
	if !ok || !l.connected {
		return nil, fmt.Errorf("%s: %w", endpointID, ErrNotConnected)
	}
	other, ok := m.clients[endpointID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", endpointID, ErrUnknownEndpoint)
	}
	return other, nil
}

func (c *Client) SendBytes(ctx context.Context, endpointID string, data []byte) (coordinator.PayloadID, error) {
	if len(data) > protocol.MaxBytesPayloadSize {
		return 0, ErrPayloadTooLarge
	}

	m := c.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	other, err := c.connectedPeer(endpointID)
	if err != nil {
		return 0, err
	}

	id := newPayloadID()
	n := int64(len(data))
	other.queue.push(coordinator.PayloadReceived{
		EndpointID: c.id,
		Payload: coordinator.Payload{
			ID:    id,
			Kind:  coordinator.PayloadBytes,
			Bytes: append([]byte(nil), data...),
			Size:  n,
		},
	})
	other.queue.push(coordinator.PayloadTransferUpdate{
		EndpointID: c.id, PayloadID: id, Status: coordinator.TransferSuccess, BytesTransferred: n, TotalBytes: n,
	})
	c.queue.push(coordinator.PayloadTransferUpdate{
		EndpointID: endpointID, PayloadID: id, Status: coordinator.TransferSuccess, BytesTransferred: n, TotalBytes: n,
	})
	return id, nil
}

// SendFile announces the file to the peer right away and streams it in the
// background in protocol.FileChunkSize pieces.
func (c *Client) SendFile(ctx context.Context, endpointID string, src coordinator.FileSource) (coordinator.PayloadID, error) {
	m := c.medium
	m.mu.Lock()
	other, err := c.connectedPeer(endpointID)
	if err != nil {
		m.mu.Unlock()
		_ = src.Reader.Close()
		return 0, err
	}

	id := newPayloadID()
	handle := &memoryHandle{}
	other.queue.push(coordinator.PayloadReceived{
		EndpointID: c.id,
		Payload:    coordinator.Payload{ID: id, Kind: coordinator.PayloadFile, File: handle, Size: src.Size},
	})
	m.mu.Unlock()

	go c.streamFile(other, id, handle, src)
	return id, nil
}

func (c *Client) streamFile(to *Client, id coordinator.PayloadID, handle *memoryHandle, src coordinator.FileSource) {
	defer func() { _ = src.Reader.Close() }()

	update := func(status coordinator.TransferStatus, done int64) {
		to.queue.push(coordinator.PayloadTransferUpdate{
			EndpointID: c.id, PayloadID: id, Status: status, BytesTransferred: done, TotalBytes: src.Size,
		})
		c.queue.push(coordinator.PayloadTransferUpdate{
			EndpointID: to.id, PayloadID: id, Status: status, BytesTransferred: done, TotalBytes: src.Size,
		})
	}

	buf := make([]byte, protocol.FileChunkSize)
	var done int64
	for {
		n, err := src.Reader.Read(buf)
		if n > 0 {
			handle.write(buf[:n])
			done += int64(n)

			c.medium.mu.Lock()
			_, lerr := c.connectedPeer(to.id)
			c.medium.mu.Unlock()
			if lerr != nil {
				c.logger.Warn("File transfer aborted", "payload", id, "error", lerr)
				update(coordinator.TransferFailure, done)
				return
			}
			update(coordinator.TransferInProgress, done)
		}
		if err == io.EOF {
			update(coordinator.TransferSuccess, done)
			return
		}
		if err != nil {
			c.logger.Warn("File read failed", "payload", id, "error", err)
			update(coordinator.TransferFailure, done)
			return
		}
	}
}
