package coordinator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

func (c *Coordinator) onPayloadReceived(e PayloadReceived) {
	p := e.Payload

	c.mu.Lock()
	if c.authorized == "" || c.authorized != e.EndpointID {
		c.mu.Unlock()
		c.logger.Warn("Dropping payload from unauthorized endpoint", "endpoint", e.EndpointID, "payload", p.ID)
		if p.File != nil {
			_ = p.File.Remove()
		}
		return
	}
	from := ""
	if c.peer != nil {
		from = c.peer.Name
	}

	switch p.Kind {
	case PayloadBytes:
		c.mu.Unlock()
		c.receiveMessage(from, p)
	case PayloadFile:
		stored := &p
		ok := c.registry.Open(stored)
		c.mu.Unlock()

		if !ok {
			c.logger.Warn("Duplicate payload id", "payload", p.ID)
			return
		}
		c.logger.Info("Receiving file", "payload", p.ID, "size", p.Size)
	default:
		c.mu.Unlock()
		c.logger.Warn("Unknown payload kind", "payload", p.ID, "kind", int(p.Kind))
	}
}

func (c *Coordinator) receiveMessage(from string, p Payload) {
	text := string(p.Bytes)
	if !utf8.ValidString(text) {
		c.logger.Warn("Message is not valid UTF-8", "payload", p.ID)
		text = strings.ToValidUTF8(text, "\uFFFD")
	}

	c.metrics.Payload(Incoming.String(), PayloadBytes.String(), "ok")
	c.metrics.Bytes(Incoming.String(), int64(len(p.Bytes)))

	if c.history != nil {
		if err := c.history.RecordMessage(context.Background(), from, Incoming, text); err != nil {
			c.logger.Warn("Failed to record message", "error", err)
		}
	}

	c.emit([]Notification{MessageReceived{From: from, Text: text}})
}

func (c *Coordinator) onTransferUpdate(e PayloadTransferUpdate) {
	c.mu.Lock()
	if out, ok := c.outgoing[e.PayloadID]; ok {
		c.outgoingUpdate(e, out)
		return
	}

	if c.authorized == "" || c.authorized != e.EndpointID {
		c.mu.Unlock()
		return
	}

	switch e.Status {
	case TransferInProgress:
		if _, ok := c.registry.InFlight(e.PayloadID); !ok {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.emit([]Notification{TransferProgress{
			PayloadID: e.PayloadID,
			Direction: Incoming,
			Done:      e.BytesTransferred,
			Total:     e.TotalBytes,
		}})

	case TransferSuccess:
		p := c.registry.Complete(e.PayloadID)
		peer := c.peerName()
		c.mu.Unlock()
		if p == nil {
			return
		}
		c.storeFile(peer, p)

	default:
		p := c.registry.Fail(e.PayloadID)
		peer := c.peerName()
		c.mu.Unlock()
		if p == nil {
			return
		}

		reason := fmt.Errorf("%w: %s", ErrTransferFailed, e.Status)
		c.logger.Warn("Incoming transfer failed", "payload", p.ID, "status", e.Status)
		c.metrics.Payload(Incoming.String(), p.Kind.String(), e.Status.String())
		if p.File != nil {
			if err := p.File.Remove(); err != nil {
				c.logger.Warn("Failed to remove transient file", "payload", p.ID, "error", err)
			}
		}
		c.recordTransfer(TransferRecord{PayloadID: p.ID, Peer: peer, Direction: Incoming, Size: p.Size, Err: reason})
		c.emit([]Notification{TransferFailed{PayloadID: p.ID, Direction: Incoming, Reason: reason}})
	}
}

// outgoingUpdate is entered with c.mu held and releases it.
func (c *Coordinator) outgoingUpdate(e PayloadTransferUpdate, out outgoingTransfer) {
	var notes []Notification

	switch e.Status {
	case TransferInProgress:
		c.mu.Unlock()
		if out.kind == PayloadFile {
			notes = append(notes, TransferProgress{
				PayloadID: e.PayloadID,
				Direction: Outgoing,
				Done:      e.BytesTransferred,
				Total:     e.TotalBytes,
			})
		}
		c.emit(notes)
		return

	case TransferSuccess:
		delete(c.outgoing, e.PayloadID)
		peer := c.peerName()
		c.mu.Unlock()

		c.metrics.Payload(Outgoing.String(), out.kind.String(), "ok")
		c.metrics.Bytes(Outgoing.String(), e.BytesTransferred)
		if out.kind == PayloadFile {
			c.logger.Info("File sent", "payload", e.PayloadID, "bytes", e.BytesTransferred)
			c.recordTransfer(TransferRecord{
				PayloadID: e.PayloadID,
				Peer:      peer,
				Direction: Outgoing,
				Path:      out.name,
				Size:      e.BytesTransferred,
			})
			notes = append(notes, TransferProgress{
				PayloadID: e.PayloadID,
				Direction: Outgoing,
				Done:      e.BytesTransferred,
				Total:     e.BytesTransferred,
			})
		}
		c.emit(notes)

	default:
		delete(c.outgoing, e.PayloadID)
		peer := c.peerName()
		c.mu.Unlock()

		reason := fmt.Errorf("%w: %s", ErrTransferFailed, e.Status)
		c.metrics.Payload(Outgoing.String(), out.kind.String(), e.Status.String())
		c.logger.Warn("Outgoing transfer failed", "payload", e.PayloadID, "status", e.Status)
		if out.kind == PayloadFile {
			c.recordTransfer(TransferRecord{PayloadID: e.PayloadID, Peer: peer, Direction: Outgoing, Path: out.name, Size: out.size, Err: reason})
		}
		c.emit([]Notification{TransferFailed{PayloadID: e.PayloadID, Direction: Outgoing, Reason: reason}})
	}
}

// storeFile runs post-processing for a payload that was moved to completed.
// It is called without the lock and exactly once per payload.
func (c *Coordinator) storeFile(peer string, p *Payload) {
	path, n, err := c.sink.Store(p.File)

	if p.File != nil {
		if rerr := p.File.Remove(); rerr != nil {
			c.logger.Warn("Failed to remove transient file", "payload", p.ID, "error", rerr)
		}
	}

	c.mu.Lock()
	c.registry.Finish(p.ID)
	c.mu.Unlock()

	if err != nil {
		reason := fmt.Errorf("%w: %v", ErrPostProcessingFailed, err)
		c.logger.Error("Failed to store received file", "payload", p.ID, "error", err)
		c.metrics.PostProcessFailed()
		c.metrics.Payload(Incoming.String(), PayloadFile.String(), "store_error")
		c.recordTransfer(TransferRecord{PayloadID: p.ID, Peer: peer, Direction: Incoming, Size: p.Size, Err: reason})
		c.emit([]Notification{TransferFailed{PayloadID: p.ID, Direction: Incoming, Reason: reason}})
		return
	}

	c.logger.Info("File received", "payload", p.ID, "path", path, "bytes", n)
	c.metrics.Payload(Incoming.String(), PayloadFile.String(), "ok")
	c.metrics.Bytes(Incoming.String(), n)
	c.recordTransfer(TransferRecord{PayloadID: p.ID, Peer: peer, Direction: Incoming, Path: path, Size: n})
	c.emit([]Notification{FileReady{PayloadID: p.ID, Path: path, Size: n}})
}

func (c *Coordinator) recordTransfer(rec TransferRecord) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordTransfer(context.Background(), rec); err != nil {
		c.logger.Warn("Failed to record transfer", "payload", rec.PayloadID, "error", err)
	}
}

// peerName must be called with c.mu held.
func (c *Coordinator) peerName() string {
	if c.peer == nil {
		return ""
	}
	return c.peer.Name
}
