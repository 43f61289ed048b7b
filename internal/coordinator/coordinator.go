// Package coordinator pairs this device with exactly one peer and moves
// messages and files over whatever Transport it is given.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/identity"
	"github.com/rudransh-shrivastava/peer-link/internal/observability"
	"github.com/rudransh-shrivastava/peer-link/internal/protocol"
)

// DefaultServiceID is the namespace both sides advertise and discover under.
const DefaultServiceID = "dev.peerlink"

// DefaultRetryDelay is how long a failed attempt waits before another
// discovered endpoint is requested.
const DefaultRetryDelay = 2 * time.Second

// MaxMessageSize is the largest text message SendMessage accepts, in bytes.
const MaxMessageSize = protocol.MaxBytesPayloadSize

// History records exchanged messages and files. Implementations must be
// safe for concurrent use.
type History interface {
	RecordMessage(ctx context.Context, peer string, dir Direction, text string) error
	RecordTransfer(ctx context.Context, rec TransferRecord) error
}

type TransferRecord struct {
	PayloadID PayloadID
	Peer      string
	Direction Direction
	Path      string
	Size      int64
	Err       error
}

type Config struct {
	Identity  identity.Identity
	ServiceID string
	Transport Transport
	// CacheDir receives stored files. Defaults to a directory under os.TempDir.
	CacheDir string
	History  History
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

type outgoingTransfer struct {
	kind PayloadKind
	name string
	size int64
}

type Coordinator struct {
	transport Transport
	name      string
	logger    *slog.Logger
	metrics   *observability.Metrics
	history   History
	sink      *fileSink
	retryWait time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	peer       *Endpoint
	authorized string
	discovered map[string]Endpoint
	discovery  *discoverySession
	registry   *registry
	outgoing   map[PayloadID]outgoingTransfer
	closed     bool
	retry      *time.Timer

	emitMu     sync.Mutex
	observers  []func(Notification)
	queued     []Notification
	delivering bool
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Transport == nil {
		return nil, errors.New("coordinator: transport is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceID := cfg.ServiceID
	if serviceID == "" {
		serviceID = DefaultServiceID
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "peer-link")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	retryWait := cfg.RetryDelay
	if retryWait <= 0 {
		retryWait = DefaultRetryDelay
	}

	name := cfg.Identity.Name()
	if name == "" {
		name = identity.New("").Name()
	}

	ctx, cancel := context.WithCancel(context.Background())

	discovery := &discoverySession{
		transport: cfg.Transport,
		name:      name,
		serviceID: serviceID,
	}

	return &Coordinator{
		transport:  cfg.Transport,
		name:       name,
		logger:     logger,
		metrics:    cfg.Metrics,
		history:    cfg.History,
		sink:       &fileSink{dir: cacheDir, now: now},
		retryWait:  retryWait,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		discovered: make(map[string]Endpoint),
		discovery:  discovery,
		registry:   newRegistry(),
		outgoing:   make(map[PayloadID]outgoingTransfer),
	}, nil
}

func (c *Coordinator) Name() string {
	return c.name
}

// Subscribe registers fn for every future notification. Notifications are
// delivered outside the coordinator lock, in the order they were produced,
// one at a time. fn may call back into the Coordinator, including
// Subscribe; notifications produced by such a call are delivered after fn
// returns. fn must not block for long.
func (c *Coordinator) Subscribe(fn func(Notification)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer returns the endpoint being connected to or connected with.
func (c *Coordinator) Peer() (Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil {
		return Endpoint{}, false
	}
	return *c.peer, true
}

// Endpoints lists the endpoints discovery currently knows about.
func (c *Coordinator) Endpoints() []Endpoint {
	c.mu.Lock()
	out := make([]Endpoint, 0, len(c.discovered))
	for _, ep := range c.discovered {
		out = append(out, ep)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pending reports how many incoming files are in flight or awaiting storage.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Len()
}

// Connect starts advertising and discovery. It is a no-op while pairing or
// connecting.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case StatePairing, StateConnecting:
		c.mu.Unlock()
		return nil
	}

	if err := c.discovery.start(ctx); err != nil {
		c.mu.Unlock()
		if errors.Is(err, ErrAlreadyPairing) {
			return nil
		}
		return fmt.Errorf("start pairing: %w", err)
	}

	notes := c.setState(nil, StatePairing)
	c.mu.Unlock()

	c.logger.Info("Searching for peers", "name", c.name)
	c.emit(notes)
	return nil
}

// StopPairing stops advertising and discovery. An outstanding connection
// attempt is left to finish.
func (c *Coordinator) StopPairing() {
	c.mu.Lock()
	c.stopDiscovery()
	var notes []Notification
	if c.state == StatePairing {
		notes = c.setState(notes, StateIdle)
	}
	c.mu.Unlock()

	c.emit(notes)
}

// Disconnect drops the current peer, or abandons the attempt in progress.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.peer == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	id := c.peer.ID
	c.transport.DisconnectFromEndpoint(id)
	c.stopDiscovery()
	dropped, notes := c.reset(nil)
	c.mu.Unlock()

	c.logger.Info("Disconnected", "endpoint", id)
	c.discard(dropped)
	c.emit(notes)
	return nil
}

// SendMessage sends text to the peer as a bytes payload.
func (c *Coordinator) SendMessage(ctx context.Context, text string) (PayloadID, error) {
	data := []byte(text)
	if len(data) > MaxMessageSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	c.mu.Lock()
	peer, err := c.connectedPeer()
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	id, err := c.transport.SendBytes(ctx, peer.ID, data)
	if err != nil {
		c.mu.Unlock()
		c.metrics.Payload(Outgoing.String(), PayloadBytes.String(), "error")
		return 0, fmt.Errorf("send message: %w", err)
	}
	c.outgoing[id] = outgoingTransfer{kind: PayloadBytes, size: int64(len(data))}
	c.mu.Unlock()

	c.logger.Debug("Message sent", "endpoint", peer.ID, "payload", id)
	if c.history != nil {
		if err := c.history.RecordMessage(ctx, peer.Name, Outgoing, text); err != nil {
			c.logger.Warn("Failed to record message", "error", err)
		}
	}
	return id, nil
}

// SendFile streams src to the peer. SendFile takes ownership of src.Reader
// and closes it on every path.
func (c *Coordinator) SendFile(ctx context.Context, src FileSource) (PayloadID, error) {
	if src.Reader == nil {
		return 0, errors.New("send file: no reader")
	}

	c.mu.Lock()
	peer, err := c.connectedPeer()
	if err != nil {
		c.mu.Unlock()
		_ = src.Reader.Close()
		return 0, err
	}

	id, err := c.transport.SendFile(ctx, peer.ID, src)
	if err != nil {
		c.mu.Unlock()
		c.metrics.Payload(Outgoing.String(), PayloadFile.String(), "error")
		return 0, fmt.Errorf("send file: %w", err)
	}
	c.outgoing[id] = outgoingTransfer{kind: PayloadFile, name: src.Name, size: src.Size}
	c.mu.Unlock()

	c.logger.Info("Sending file", "endpoint", peer.ID, "payload", id, "name", src.Name, "size", src.Size)
	return id, nil
}

// Shutdown releases every transport resource. The Coordinator cannot be
// used afterwards.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopDiscovery()
	c.transport.StopAllEndpoints()

	var dropped []*Payload
	var notes []Notification
	if c.peer != nil {
		dropped, notes = c.reset(nil)
	} else if c.state != StateIdle {
		notes = c.setState(notes, StateIdle)
	}
	c.mu.Unlock()

	c.cancel()
	c.discard(dropped)
	c.emit(notes)
}

// Run feeds transport events into Handle until ctx ends or the event
// channel closes.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Handle(ev)
		}
	}
}

// connectedPeer must be called with c.mu held.
func (c *Coordinator) connectedPeer() (Endpoint, error) {
	if c.closed {
		return Endpoint{}, ErrClosed
	}
	if c.state != StateConnected || c.peer == nil {
		return Endpoint{}, ErrNotConnected
	}
	return *c.peer, nil
}

// stopDiscovery ends the pairing session and forgets what it found. Must
// be called with c.mu held.
func (c *Coordinator) stopDiscovery() {
	c.cancelRetry()
	c.discovery.stop()
	clear(c.discovered)
}

// setState must be called with c.mu held.
func (c *Coordinator) setState(notes []Notification, s State) []Notification {
	if c.state == s {
		return notes
	}
	c.state = s
	return append(notes, StatusChanged{State: s})
}

// reset clears the peer and every in-flight transfer and returns to Idle
// through Disconnected. Must be called with c.mu held; the returned
// payloads must be discarded after unlocking.
func (c *Coordinator) reset(notes []Notification) ([]*Payload, []Notification) {
	dropped := c.registry.Clear()
	c.peer = nil
	c.authorized = ""
	clear(c.outgoing)

	notes = c.setState(notes, StateDisconnected)
	notes = c.setState(notes, StateIdle)
	return dropped, notes
}

func (c *Coordinator) discard(payloads []*Payload) {
	for _, p := range payloads {
		c.metrics.Payload(Incoming.String(), p.Kind.String(), "abandoned")
		if p.File == nil {
			continue
		}
		if err := p.File.Remove(); err != nil {
			c.logger.Warn("Failed to remove abandoned payload", "payload", p.ID, "error", err)
		}
	}
}

// emit delivers notes to the observers. Only one goroutine delivers at a
// time; notes emitted meanwhile, from observers included, are queued and
// delivered by it in order.
func (c *Coordinator) emit(notes []Notification) {
	if len(notes) == 0 {
		return
	}

	c.emitMu.Lock()
	c.queued = append(c.queued, notes...)
	if c.delivering {
		c.emitMu.Unlock()
		return
	}
	c.delivering = true

	for len(c.queued) > 0 {
		n := c.queued[0]
		c.queued = c.queued[1:]
		observers := c.observers
		c.emitMu.Unlock()

		for _, fn := range observers {
			fn(n)
		}
		c.emitMu.Lock()
	}
	c.delivering = false
	c.emitMu.Unlock()
}
