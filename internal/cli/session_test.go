package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/connections"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/identity"
)

type bufferPrinter struct {
	mu    sync.Mutex
	lines []string
}

func (b *bufferPrinter) Println(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, msg)
}

func (b *bufferPrinter) contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

func (b *bufferPrinter) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

func (b *bufferPrinter) waitFor(t *testing.T, s string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !b.contains(s) {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %q, output: %q", s, b.snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func newSessionCoordinator(t *testing.T, m *connections.Medium, name string) *coordinator.Coordinator {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := coordinator.New(coordinator.Config{
		Identity:  identity.New(name),
		Transport: m.NewClient(log),
		CacheDir:  t.TempDir(),
		Logger:    log,
	})
	if err != nil {
		t.Fatalf("coordinator.New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		c.Shutdown()
		cancel()
	})
	return c
}

func TestSessionCommands(t *testing.T) {
	m := connections.NewMedium()
	local := newSessionCoordinator(t, m, "Swift Otter")
	remote := newSessionCoordinator(t, m, "Calm Heron")

	out := &bufferPrinter{}
	s := newSession(local, out, io.Discard)
	local.Subscribe(s.notify)

	peerOut := &bufferPrinter{}
	peer := newSession(remote, peerOut, io.Discard)
	remote.Subscribe(peer.notify)

	ctx := context.Background()

	s.handle(ctx, "/status")
	if !out.contains("idle") {
		t.Errorf("Expected idle status, got %q", out.snapshot())
	}

	s.handle(ctx, "rock")
	if !out.contains("send: ") {
		t.Errorf("Expected a send error while idle, got %q", out.snapshot())
	}

	s.handle(ctx, "/connect")
	out.waitFor(t, "Searching for peers...")
	peer.handle(ctx, "/connect")

	out.waitFor(t, "Connected to Calm Heron")
	peerOut.waitFor(t, "Connected to Swift Otter")

	s.handle(ctx, "rock")
	out.waitFor(t, "Message sent")
	peerOut.waitFor(t, "← Swift Otter: rock")

	path := filepath.Join(t.TempDir(), "paper.txt")
	if err := os.WriteFile(path, []byte("paper"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	s.handle(ctx, "/send "+path)
	peerOut.waitFor(t, "Received file")

	s.handle(ctx, "/send")
	out.waitFor(t, "usage: /send <file>")

	s.handle(ctx, "/frobnicate")
	out.waitFor(t, "unknown command /frobnicate")

	s.handle(ctx, "/status")
	out.waitFor(t, "connected (Calm Heron")

	s.handle(ctx, "/disconnect")
	peerOut.waitFor(t, "Disconnected")

	if !s.handle(ctx, "/bye") {
		t.Error("Expected /bye to end the session")
	}
}

func TestSessionLoopStopsAtEOF(t *testing.T) {
	m := connections.NewMedium()
	c := newSessionCoordinator(t, m, "Swift Otter")

	out := &bufferPrinter{}
	s := newSession(c, out, io.Discard)

	in := &scriptedInput{lines: []string{"/help", "  ", "/peers"}}
	if err := s.loop(context.Background(), in); err != nil {
		t.Fatalf("loop failed: %v", err)
	}
	if !out.contains("/send <file>") {
		t.Errorf("Expected help text, got %q", out.snapshot())
	}
	if !out.contains("no endpoints found") {
		t.Errorf("Expected empty peer list, got %q", out.snapshot())
	}
}

func TestSessionRendersFailures(t *testing.T) {
	m := connections.NewMedium()
	c := newSessionCoordinator(t, m, "Swift Otter")

	out := &bufferPrinter{}
	s := newSession(c, out, io.Discard)

	s.notify(coordinator.TransferProgress{PayloadID: 9, Direction: coordinator.Incoming, Done: 10, Total: 100})
	s.notify(coordinator.TransferFailed{PayloadID: 9, Direction: coordinator.Incoming, Reason: coordinator.ErrTransferFailed})
	s.notify(coordinator.ConnectionFailed{Endpoint: coordinator.Endpoint{ID: "3F9A0C21"}, Reason: coordinator.ErrConnectionFailed})

	if !out.contains("incoming transfer failed") {
		t.Errorf("Expected transfer failure line, got %q", out.snapshot())
	}
	if !out.contains("Could not connect to 3F9A0C21") {
		t.Errorf("Expected connection failure line, got %q", out.snapshot())
	}
	if len(s.bars) != 0 {
		t.Errorf("Expected progress bar to be dropped, got %d", len(s.bars))
	}
}
