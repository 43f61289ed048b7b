package coordinator

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Handle applies one transport event. It is safe to call from any
// goroutine; all state changes happen under a single lock and observers
// are notified after it is released.
func (c *Coordinator) Handle(ev Event) {
	switch e := ev.(type) {
	case EndpointFound:
		c.onEndpointFound(e)
	case EndpointLost:
		c.onEndpointLost(e)
	case ConnectionInitiated:
		c.onConnectionInitiated(e)
	case ConnectionResult:
		c.onConnectionResult(e)
	case Disconnected:
		c.onDisconnected(e)
	case PayloadReceived:
		c.onPayloadReceived(e)
	case PayloadTransferUpdate:
		c.onTransferUpdate(e)
	default:
		c.logger.Warn("Unhandled transport event", "type", fmt.Sprintf("%T", ev))
	}
}

func (c *Coordinator) onEndpointFound(e EndpointFound) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	ep := Endpoint{ID: e.EndpointID, Name: e.Info.Name}
	if c.discovery.active() {
		c.discovered[ep.ID] = ep
	}

	if c.state != StatePairing {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("Ignoring endpoint", "endpoint", ep.ID, "state", state)
		return
	}

	c.request(ep)
}

// request asks the transport to connect to ep. It is entered with c.mu
// held while Pairing and releases it.
func (c *Coordinator) request(ep Endpoint) {
	c.cancelRetry()
	c.peer = &ep
	notes := c.setState(nil, StateConnecting)
	if err := c.transport.RequestConnection(c.ctx, c.name, ep.ID); err != nil {
		c.peer = nil
		notes = c.setState(notes, StatePairing)
		notes = append(notes, ConnectionFailed{Endpoint: ep, Reason: fmt.Errorf("%w: %v", ErrConnectionFailed, err)})
		c.scheduleRetry(ep.ID)
		c.mu.Unlock()

		c.metrics.Connection("request_error")
		c.logger.Warn("Connection request failed", "endpoint", ep.ID, "error", err)
		c.emit(notes)
		return
	}
	c.mu.Unlock()

	c.logger.Info("Requesting connection", "endpoint", ep.ID, "name", ep.Name)
	c.emit(notes)
}

// scheduleRetry arranges for another discovered endpoint to be requested
// if the session is still pairing after the retry delay. Must be called
// with c.mu held.
func (c *Coordinator) scheduleRetry(failed string) {
	if c.closed || c.state != StatePairing || c.retry != nil {
		return
	}
	c.retry = time.AfterFunc(c.retryWait, func() { c.retryPairing(failed) })
}

// cancelRetry must be called with c.mu held.
func (c *Coordinator) cancelRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Coordinator) retryPairing(failed string) {
	c.mu.Lock()
	c.retry = nil
	if c.closed || c.state != StatePairing || c.peer != nil {
		c.mu.Unlock()
		return
	}

	ep, ok := c.nextCandidate(failed)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.logger.Debug("Retrying pairing", "endpoint", ep.ID)
	c.request(ep)
}

// nextCandidate picks the lowest discovered id, preferring any endpoint
// other than failed. Must be called with c.mu held.
func (c *Coordinator) nextCandidate(failed string) (Endpoint, bool) {
	ids := make([]string, 0, len(c.discovered))
	for id := range c.discovered {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return Endpoint{}, false
	}
	slices.Sort(ids)

	for _, id := range ids {
		if id != failed {
			return c.discovered[id], true
		}
	}
	return c.discovered[ids[0]], true
}

func (c *Coordinator) onEndpointLost(e EndpointLost) {
	c.mu.Lock()
	delete(c.discovered, e.EndpointID)
	c.mu.Unlock()

	c.logger.Debug("Endpoint lost", "endpoint", e.EndpointID)
}

func (c *Coordinator) onConnectionInitiated(e ConnectionInitiated) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	accept := c.state == StatePairing ||
		(c.state == StateConnecting && c.peer != nil && c.peer.ID == e.EndpointID)
	if !accept {
		state := c.state
		err := c.transport.RejectConnection(c.ctx, e.EndpointID)
		c.mu.Unlock()

		c.logger.Info("Rejecting connection", "endpoint", e.EndpointID, "state", state)
		if err != nil {
			c.logger.Warn("Reject failed", "endpoint", e.EndpointID, "error", err)
		}
		return
	}

	ep := Endpoint{ID: e.EndpointID, Name: e.Info.EndpointName}
	if ep.Name == "" && c.peer != nil {
		ep.Name = c.peer.Name
	}
	c.peer = &ep
	notes := c.setState(nil, StateConnecting)

	// Payloads from this endpoint may arrive as soon as it is accepted.
	c.authorized = ep.ID
	if err := c.transport.AcceptConnection(c.ctx, ep.ID); err != nil {
		dropped, notes := c.failAttempt(notes, err)
		c.mu.Unlock()

		c.metrics.Connection("accept_error")
		c.logger.Warn("Accept failed", "endpoint", ep.ID, "error", err)
		c.discard(dropped)
		c.emit(notes)
		return
	}
	c.mu.Unlock()

	c.logger.Info("Accepting connection",
		"endpoint", ep.ID,
		"name", ep.Name,
		"token", e.Info.AuthToken,
		"incoming", e.Info.Incoming,
	)
	c.emit(notes)
}

func (c *Coordinator) onConnectionResult(e ConnectionResult) {
	c.mu.Lock()
	if c.state != StateConnecting || c.peer == nil || c.peer.ID != e.EndpointID {
		c.mu.Unlock()
		c.logger.Debug("Ignoring connection result", "endpoint", e.EndpointID, "success", e.Success)
		return
	}

	if e.Success {
		c.stopDiscovery()
		peer := *c.peer
		notes := c.setState(nil, StateConnected)
		notes = append(notes, PeerNamed{Name: peer.Name})
		c.mu.Unlock()

		c.metrics.Connection("success")
		c.logger.Info("Connected", "endpoint", peer.ID, "name", peer.Name)
		c.emit(notes)
		return
	}

	dropped, notes := c.failAttempt(nil, e.Err)
	c.mu.Unlock()

	c.metrics.Connection("failure")
	c.logger.Warn("Connection failed", "endpoint", e.EndpointID, "error", e.Err)
	c.discard(dropped)
	c.emit(notes)
}

func (c *Coordinator) onDisconnected(e Disconnected) {
	c.mu.Lock()
	if c.peer == nil || c.peer.ID != e.EndpointID {
		c.mu.Unlock()
		return
	}

	if c.state == StateConnecting {
		dropped, notes := c.failAttempt(nil, errors.New("endpoint went away"))
		c.mu.Unlock()

		c.metrics.Connection("failure")
		c.logger.Warn("Connection attempt dropped", "endpoint", e.EndpointID)
		c.discard(dropped)
		c.emit(notes)
		return
	}

	dropped, notes := c.reset(nil)
	c.mu.Unlock()

	c.logger.Info("Peer disconnected", "endpoint", e.EndpointID)
	c.discard(dropped)
	c.emit(notes)
}

// failAttempt abandons the current connection attempt along with anything
// the endpoint sent while it was accepted. Must be called with c.mu held;
// the returned payloads must be discarded after unlocking.
func (c *Coordinator) failAttempt(notes []Notification, cause error) ([]*Payload, []Notification) {
	ep := *c.peer
	c.peer = nil
	c.authorized = ""
	dropped := c.registry.Clear()
	clear(c.outgoing)

	notes = c.fallBack(notes)
	c.scheduleRetry(ep.ID)

	reason := ErrConnectionFailed
	if cause != nil {
		reason = fmt.Errorf("%w: %v", ErrConnectionFailed, cause)
	}
	return dropped, append(notes, ConnectionFailed{Endpoint: ep, Reason: reason})
}

// fallBack returns to Pairing while discovery still runs, Idle otherwise.
func (c *Coordinator) fallBack(notes []Notification) []Notification {
	if c.discovery.active() {
		return c.setState(notes, StatePairing)
	}
	return c.setState(notes, StateIdle)
}
