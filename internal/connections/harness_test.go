package connections

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/identity"
)

const waitTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// node is a coordinator running against a real transport.
type node struct {
	c     *coordinator.Coordinator
	notes chan coordinator.Notification
}

func startNode(t *testing.T, tr coordinator.Transport, name string) *node {
	t.Helper()

	c, err := coordinator.New(coordinator.Config{
		Identity:  identity.New(name),
		Transport: tr,
		CacheDir:  t.TempDir(),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("coordinator.New failed: %v", err)
	}

	n := &node{c: c, notes: make(chan coordinator.Notification, 4096)}
	c.Subscribe(func(note coordinator.Notification) {
		select {
		case n.notes <- note:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		c.Shutdown()
		cancel()
		<-done
	})
	return n
}

// await returns the first notification of type T matching match.
func await[T coordinator.Notification](t *testing.T, n *node, match func(T) bool) T {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case note := <-n.notes:
			if v, ok := note.(T); ok && (match == nil || match(v)) {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("%s: timed out waiting for %T", n.c.Name(), zero)
		}
	}
}

func awaitState(t *testing.T, n *node, s coordinator.State) {
	t.Helper()
	await(t, n, func(sc coordinator.StatusChanged) bool { return sc.State == s })
}

// nextEvent returns the next transport event of type T, skipping others.
func nextEvent[T coordinator.Event](t *testing.T, events <-chan coordinator.Event, match func(T) bool) T {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				var zero T
				t.Fatalf("Event channel closed waiting for %T", zero)
			}
			if v, ok := ev.(T); ok && (match == nil || match(v)) {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("Timed out waiting for %T", zero)
		}
	}
}
