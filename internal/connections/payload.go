package connections

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/protocol"
)

var (
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrNotConnected    = errors.New("endpoint not connected")
	ErrNoPending       = errors.New("no pending connection")
	ErrAlreadyRunning  = errors.New("already running")
	ErrSendQueueFull   = errors.New("send queue full")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// NewEndpointID returns a short random endpoint id.
func NewEndpointID() string {
	id := uuid.New()
	return strings.ToUpper(fmt.Sprintf("%x", id[:protocol.EndpointIDSize/2]))
}

func newPayloadID() coordinator.PayloadID {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(err)
		}
		if id := binary.BigEndian.Uint64(b[:]); id != 0 {
			return coordinator.PayloadID(id)
		}
	}
}

// authToken derives a four digit code from both endpoint ids for the
// in-process medium, which has no session keys. Both sides compute the
// same value.
func authToken(a, b string) string {
	if a > b {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "|" + b))
	return fmt.Sprintf("%04d", binary.BigEndian.Uint16(sum[:2])%10000)
}

// tempFileHandle is a received file staged on disk.
type tempFileHandle struct {
	path string
}

func (h tempFileHandle) Open() (io.ReadCloser, error) {
	return os.Open(h.path)
}

func (h tempFileHandle) Remove() error {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// memoryHandle is a received file kept in memory.
type memoryHandle struct {
	mu   sync.Mutex
	data []byte
}

func (h *memoryHandle) write(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, p...)
}

func (h *memoryHandle) Open() (io.ReadCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return io.NopCloser(bytes.NewReader(h.data)), nil
}

func (h *memoryHandle) Remove() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = nil
	return nil
}
