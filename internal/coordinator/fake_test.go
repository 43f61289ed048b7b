package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/identity"
)

type fakeTransport struct {
	mu sync.Mutex

	advertiseErr error
	discoverErr  error
	requestErr   error
	acceptErr    error

	advertising  bool
	discovering  bool
	requested    []string
	accepted     []string
	rejected     []string
	disconnected []string
	stopAll      int
	sentBytes    [][]byte
	sentFiles    []string
	nextID       PayloadID

	events chan Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16), nextID: 100}
}

func (f *fakeTransport) StartAdvertising(ctx context.Context, name, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advertiseErr != nil {
		return f.advertiseErr
	}
	f.advertising = true
	return nil
}

func (f *fakeTransport) StartDiscovery(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discoverErr != nil {
		return f.discoverErr
	}
	f.discovering = true
	return nil
}

func (f *fakeTransport) StopAdvertising() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertising = false
}

func (f *fakeTransport) StopDiscovery() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovering = false
}

func (f *fakeTransport) RequestConnection(ctx context.Context, localName, endpointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return f.requestErr
	}
	f.requested = append(f.requested, endpointID)
	return nil
}

func (f *fakeTransport) AcceptConnection(ctx context.Context, endpointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = append(f.accepted, endpointID)
	return nil
}

func (f *fakeTransport) RejectConnection(ctx context.Context, endpointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, endpointID)
	return nil
}

func (f *fakeTransport) DisconnectFromEndpoint(endpointID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, endpointID)
}

func (f *fakeTransport) StopAllEndpoints() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAll++
	f.advertising = false
	f.discovering = false
}

func (f *fakeTransport) SendBytes(ctx context.Context, endpointID string, data []byte) (PayloadID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sentBytes = append(f.sentBytes, append([]byte(nil), data...))
	return f.nextID, nil
}

func (f *fakeTransport) SendFile(ctx context.Context, endpointID string, src FileSource) (PayloadID, error) {
	data, err := io.ReadAll(src.Reader)
	_ = src.Reader.Close()
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sentFiles = append(f.sentFiles, string(data))
	return f.nextID, nil
}

func (f *fakeTransport) Events() <-chan Event {
	return f.events
}

func (f *fakeTransport) pairing() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertising, f.discovering
}

type fakeCalls struct {
	requested    []string
	accepted     []string
	rejected     []string
	disconnected []string
	stopAll      int
	sentBytes    [][]byte
	sentFiles    []string
}

func (f *fakeTransport) snapshot() fakeCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeCalls{
		requested:    append([]string(nil), f.requested...),
		accepted:     append([]string(nil), f.accepted...),
		rejected:     append([]string(nil), f.rejected...),
		disconnected: append([]string(nil), f.disconnected...),
		stopAll:      f.stopAll,
		sentBytes:    f.sentBytes,
		sentFiles:    append([]string(nil), f.sentFiles...),
	}
}

// memHandle is an in-memory FileHandle.
type memHandle struct {
	mu      sync.Mutex
	data    []byte
	openErr error
	opened  int
	removed int
}

func (h *memHandle) Open() (io.ReadCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.opened++
	return io.NopCloser(bytes.NewReader(h.data)), nil
}

func (h *memHandle) Remove() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed++
	return nil
}

func (h *memHandle) counts() (opened, removed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.removed
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) add(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func collect[T Notification](r *recorder) []T {
	var out []T
	for _, n := range r.all() {
		if v, ok := n.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func states(r *recorder) []State {
	var out []State
	for _, n := range collect[StatusChanged](r) {
		out = append(out, n.State)
	}
	return out
}

type fakeHistory struct {
	mu        sync.Mutex
	messages  []string
	transfers []TransferRecord
}

func (h *fakeHistory) RecordMessage(ctx context.Context, peer string, dir Direction, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, dir.String()+":"+peer+":"+text)
	return nil
}

func (h *fakeHistory) RecordTransfer(ctx context.Context, rec TransferRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfers = append(h.transfers, rec)
	return nil
}

var errBoom = errors.New("boom")

var testNow = time.UnixMilli(1632243222846)

func newTestCoordinator(t *testing.T, tr *fakeTransport) (*Coordinator, *recorder) {
	t.Helper()
	return newTestCoordinatorWith(t, tr, nil)
}

func newTestCoordinatorWith(t *testing.T, tr *fakeTransport, configure func(*Config)) (*Coordinator, *recorder) {
	t.Helper()

	cfg := Config{
		Identity:  identity.New("Local Fox"),
		Transport: tr,
		CacheDir:  t.TempDir(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return testNow },
	}
	if configure != nil {
		configure(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Shutdown)

	rec := &recorder{}
	c.Subscribe(rec.add)
	return c, rec
}

// waitRequested polls until the transport has seen the given requests.
func waitRequested(t *testing.T, tr *fakeTransport, want ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := tr.snapshot().requested
		if slices.Equal(got, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected requests %v, got %v", want, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// pair drives c through discovery of id to Connected.
func pair(t *testing.T, c *Coordinator, id, name string) {
	t.Helper()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c.Handle(EndpointFound{EndpointID: id, Info: EndpointInfo{Name: name, ServiceID: DefaultServiceID}})
	c.Handle(ConnectionInitiated{EndpointID: id, Info: ConnectionInfo{EndpointName: name, AuthToken: "1234"}})
	c.Handle(ConnectionResult{EndpointID: id, Success: true})

	if got := c.State(); got != StateConnected {
		t.Fatalf("Expected state connected, got %s", got)
	}
}
