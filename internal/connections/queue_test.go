package connections

import (
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
)

func TestEventQueueKeepsOrder(t *testing.T) {
	q := newEventQueue()
	defer q.close()

	// Nobody is reading yet; push must not block.
	for i := 0; i < 500; i++ {
		q.push(coordinator.EndpointLost{EndpointID: string(rune('A' + i%26))})
	}

	for i := 0; i < 500; i++ {
		select {
		case ev := <-q.events():
			lost, ok := ev.(coordinator.EndpointLost)
			if !ok {
				t.Fatalf("Expected EndpointLost, got %T", ev)
			}
			if want := string(rune('A' + i%26)); lost.EndpointID != want {
				t.Fatalf("Event %d: expected %s, got %s", i, want, lost.EndpointID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out at event %d", i)
		}
	}
}

func TestEventQueueClose(t *testing.T) {
	q := newEventQueue()
	q.push(coordinator.EndpointLost{EndpointID: "A"})
	q.close()
	q.close()

	// Pushing after close is a no-op.
	q.push(coordinator.EndpointLost{EndpointID: "B"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-q.events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Event channel was not closed")
		}
	}
}
