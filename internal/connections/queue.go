package connections

import (
	"sync"

	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
)

// eventQueue hands events to a single consumer in order. push never blocks,
// so it can be called while holding any lock.
type eventQueue struct {
	mu      sync.Mutex
	pending []coordinator.Event
	closed  bool

	signal    chan struct{}
	out       chan coordinator.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		signal: make(chan struct{}, 1),
		out:    make(chan coordinator.Event),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(ev coordinator.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) events() <-chan coordinator.Event {
	return q.out
}

// close stops delivery. Undelivered events are dropped and the output
// channel is closed.
func (q *eventQueue) close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.pending = nil
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *eventQueue) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, ev := range batch {
			select {
			case q.out <- ev:
			case <-q.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-q.signal:
		case <-q.done:
			return
		}
	}
}
