package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/protocol"
	"github.com/rudransh-shrivastava/peer-link/internal/transport"
)

type linkState int

const (
	// linkWaiting: requested locally, no QUIC connection yet.
	linkWaiting linkState = iota
	// linkPending: connection up, waiting for both sides to answer.
	linkPending
	linkConnected
	linkClosed
)

const goodbyeTimeout = time.Second

type outFrame struct {
	msg  protocol.Message
	sent func(error)
}

// link is the connection to one remote endpoint.
type link struct {
	lan *LAN
	id  string

	ctx    context.Context
	cancel context.CancelFunc
	out    chan outFrame
	done   chan struct{}

	mu             sync.Mutex
	name           string
	state          linkState
	peer           *transport.Peer
	timer          *time.Timer
	localAnswered  bool
	localAccepted  bool
	remoteAnswered bool
	remoteAccepted bool
}

// newLink must be called with l.mu held.
func (l *LAN) newLink(id, name string) *link {
	ctx, cancel := context.WithCancel(l.ctx)
	lk := &link{
		lan:    l,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan outFrame, sendQueueSize),
		done:   make(chan struct{}),
		name:   name,
	}
	lk.timer = time.AfterFunc(l.connectTimeout, lk.expire)
	return lk
}

func (lk *link) isConnected() bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	return lk.state == linkConnected
}

func (lk *link) current(peer *transport.Peer) bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	return lk.peer == peer && lk.state != linkClosed
}

// bind attaches the QUIC connection. It fails if one is already attached.
func (lk *link) bind(peer *transport.Peer, name string) bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.state != linkWaiting || lk.peer != nil {
		return false
	}
	lk.peer = peer
	lk.state = linkPending
	if name != "" {
		lk.name = name
	}
	return true
}

// start reports the connection to the coordinator and begins reading.
func (lk *link) start(incoming bool) {
	lk.mu.Lock()
	peer, name := lk.peer, lk.name
	lk.mu.Unlock()

	token, err := peer.AuthToken()
	if err != nil {
		lk.terminate(fmt.Errorf("derive auth token: %w", err))
		return
	}

	lk.lan.queue.push(coordinator.ConnectionInitiated{
		EndpointID: lk.id,
		Info: coordinator.ConnectionInfo{
			EndpointName: name,
			AuthToken:    token,
			Incoming:     incoming,
		},
	})

	go lk.writeLoop(peer)
	go lk.readLoop(peer)
}

func (lk *link) dial(addr, localName string) {
	l := lk.lan
	ctx, cancel := context.WithTimeout(lk.ctx, l.connectTimeout)
	defer cancel()

	l.logger.Debug("Dialing endpoint", "endpoint", lk.id, "addr", addr)
	peer, err := l.transport.Dial(ctx, addr)
	if err != nil {
		lk.terminate(fmt.Errorf("dial %s: %w", addr, err))
		return
	}

	req := &protocol.ConnectionRequest{EndpointID: l.id, EndpointName: localName}
	if err := peer.Send(ctx, req); err != nil {
		_ = peer.Close()
		lk.terminate(fmt.Errorf("send connection request: %w", err))
		return
	}

	l.mu.Lock()
	ok := l.links[lk.id] == lk && lk.bind(peer, "")
	l.mu.Unlock()
	if !ok {
		_ = peer.CloseWithError("superseded")
		return
	}

	lk.start(false)
}

// respond records the local answer to a pending connection.
func (lk *link) respond(accept bool) error {
	lk.mu.Lock()
	if lk.state != linkPending {
		lk.mu.Unlock()
		return ErrNoPending
	}
	if lk.localAnswered {
		lk.mu.Unlock()
		return nil
	}
	lk.localAnswered = true
	lk.localAccepted = accept
	connected := accept && lk.remoteAnswered && lk.remoteAccepted
	if connected {
		lk.state = linkConnected
		lk.timer.Stop()
	}
	lk.mu.Unlock()

	var sent func(error)
	if !accept {
		sent = func(error) { lk.terminate(errors.New("rejected locally")) }
	}
	if err := lk.enqueue(&protocol.ConnectionResponse{Accepted: accept}, sent); err != nil {
		lk.terminate(err)
		return err
	}

	if connected {
		lk.onConnected()
	}
	return nil
}

func (lk *link) remoteResponse(accepted bool) {
	lk.mu.Lock()
	if lk.state != linkPending || lk.remoteAnswered {
		lk.mu.Unlock()
		return
	}
	lk.remoteAnswered = true
	lk.remoteAccepted = accepted
	connected := accepted && lk.localAnswered && lk.localAccepted
	if connected {
		lk.state = linkConnected
		lk.timer.Stop()
	}
	lk.mu.Unlock()

	if !accepted {
		lk.terminate(errors.New("rejected by remote"))
		return
	}
	if connected {
		lk.onConnected()
	}
}

func (lk *link) onConnected() {
	lk.mu.Lock()
	peer := lk.peer
	lk.mu.Unlock()

	lk.lan.logger.Info("Link established", "endpoint", lk.id)
	lk.lan.queue.push(coordinator.ConnectionResult{EndpointID: lk.id, Success: true})
	go lk.acceptFiles(peer)
}

func (lk *link) expire() {
	lk.mu.Lock()
	state := lk.state
	lk.mu.Unlock()

	if state == linkWaiting || state == linkPending {
		lk.terminate(errors.New("connection timed out"))
	}
}

// terminate ends the link because of cause and reports it. Links already
// removed by a local action close silently.
func (lk *link) terminate(cause error) {
	if !lk.lan.forget(lk) {
		lk.close(false)
		return
	}

	prev := lk.close(false)
	if prev == linkConnected {
		lk.lan.logger.Info("Link lost", "endpoint", lk.id, "reason", cause)
		lk.lan.queue.push(coordinator.Disconnected{EndpointID: lk.id})
		return
	}
	lk.lan.logger.Debug("Link failed", "endpoint", lk.id, "reason", cause)
	lk.lan.queue.push(coordinator.ConnectionResult{EndpointID: lk.id, Success: false, Err: cause})
}

// close tears the link down and returns the state it was in. With goodbye
// set, the remote is sent a Disconnect frame first.
func (lk *link) close(goodbye bool) linkState {
	lk.mu.Lock()
	prev := lk.state
	if prev == linkClosed {
		lk.mu.Unlock()
		return prev
	}
	lk.state = linkClosed
	peer := lk.peer
	lk.timer.Stop()
	lk.mu.Unlock()

	close(lk.done)

	if peer == nil {
		lk.cancel()
		return prev
	}
	if !goodbye || prev == linkWaiting {
		lk.cancel()
		_ = peer.CloseWithError("closed")
		return prev
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), goodbyeTimeout)
		defer cancel()
		_ = peer.Send(ctx, &protocol.Disconnect{})
		lk.cancel()
		_ = peer.CloseWithError("disconnect")
	}()
	return prev
}

func (lk *link) enqueue(msg protocol.Message, sent func(error)) error {
	select {
	case <-lk.done:
		return ErrNotConnected
	default:
	}

	select {
	case lk.out <- outFrame{msg: msg, sent: sent}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (lk *link) writeLoop(peer *transport.Peer) {
	for {
		select {
		case <-lk.done:
			return
		case f := <-lk.out:
			err := peer.Send(lk.ctx, f.msg)
			if f.sent != nil {
				f.sent(err)
			}
			if err != nil {
				lk.terminate(fmt.Errorf("send %s: %w", f.msg.Type(), err))
				return
			}
		}
	}
}

func (lk *link) readLoop(peer *transport.Peer) {
	l := lk.lan
	for {
		msg, err := peer.Receive(lk.ctx)
		if err != nil {
			if lk.current(peer) {
				lk.terminate(fmt.Errorf("connection lost: %w", err))
			}
			return
		}

		switch m := msg.(type) {
		case *protocol.ConnectionResponse:
			lk.remoteResponse(m.Accepted)
		case *protocol.BytesPayload:
			lk.receiveBytes(m)
		case *protocol.Disconnect:
			lk.terminate(errors.New("remote disconnected"))
			return
		case *protocol.Ping:
			_ = lk.enqueue(&protocol.Pong{}, nil)
		case *protocol.Pong:
		case *protocol.Error:
			l.logger.Warn("Remote error", "endpoint", lk.id, "code", m.Code.String(), "message", m.Message)
			lk.terminate(m)
			return
		default:
			l.logger.Warn("Unhandled message type", "endpoint", lk.id, "type", msg.Type().String())
		}
	}
}

func (lk *link) receiveBytes(m *protocol.BytesPayload) {
	if !lk.isConnected() {
		lk.lan.logger.Warn("Bytes before connection", "endpoint", lk.id)
		return
	}

	id := coordinator.PayloadID(m.PayloadID)
	n := int64(len(m.Data))
	q := lk.lan.queue
	q.push(coordinator.PayloadReceived{
		EndpointID: lk.id,
		Payload:    coordinator.Payload{ID: id, Kind: coordinator.PayloadBytes, Bytes: m.Data, Size: n},
	})
	q.push(coordinator.PayloadTransferUpdate{
		EndpointID: lk.id, PayloadID: id, Status: coordinator.TransferSuccess, BytesTransferred: n, TotalBytes: n,
	})
}

func (lk *link) sendFile(id coordinator.PayloadID, src coordinator.FileSource) {
	defer func() { _ = src.Reader.Close() }()

	l := lk.lan
	update := func(status coordinator.TransferStatus, done int64) {
		l.queue.push(coordinator.PayloadTransferUpdate{
			EndpointID: lk.id, PayloadID: id, Status: status, BytesTransferred: done, TotalBytes: src.Size,
		})
	}

	lk.mu.Lock()
	peer := lk.peer
	lk.mu.Unlock()

	stream, err := peer.OpenFileStream(lk.ctx)
	if err != nil {
		l.logger.Warn("Failed to open file stream", "payload", id, "error", err)
		update(coordinator.TransferFailure, 0)
		return
	}

	if err := l.codec.Encode(stream, &protocol.FileHeader{PayloadID: uint64(id), Size: src.Size}); err != nil {
		stream.CancelWrite(0)
		update(coordinator.TransferFailure, 0)
		return
	}

	buf := make([]byte, protocol.FileChunkSize)
	var done int64
	for {
		n, rerr := src.Reader.Read(buf)
		if n > 0 {
			if _, err := stream.Write(buf[:n]); err != nil {
				l.logger.Warn("File send failed", "payload", id, "error", err)
				stream.CancelWrite(0)
				update(coordinator.TransferFailure, done)
				return
			}
			done += int64(n)
			update(coordinator.TransferInProgress, done)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			l.logger.Warn("File read failed", "payload", id, "error", rerr)
			stream.CancelWrite(0)
			update(coordinator.TransferFailure, done)
			return
		}
	}

	if err := stream.Close(); err != nil {
		update(coordinator.TransferFailure, done)
		return
	}
	update(coordinator.TransferSuccess, done)
}

func (lk *link) acceptFiles(peer *transport.Peer) {
	for {
		stream, err := peer.AcceptFileStream(lk.ctx)
		if err != nil {
			return
		}
		go lk.receiveFile(stream)
	}
}

func (lk *link) receiveFile(stream *quic.ReceiveStream) {
	l := lk.lan

	msg, err := l.codec.Decode(stream)
	if err != nil {
		stream.CancelRead(0)
		return
	}
	hdr, ok := msg.(*protocol.FileHeader)
	if !ok || !lk.isConnected() {
		stream.CancelRead(0)
		return
	}

	f, err := os.CreateTemp(l.stagingDir, "rx-*.part")
	if err != nil {
		l.logger.Error("Failed to stage incoming file", "error", err)
		stream.CancelRead(0)
		return
	}
	handle := tempFileHandle{path: f.Name()}

	id := coordinator.PayloadID(hdr.PayloadID)
	update := func(status coordinator.TransferStatus, done int64) {
		l.queue.push(coordinator.PayloadTransferUpdate{
			EndpointID: lk.id, PayloadID: id, Status: status, BytesTransferred: done, TotalBytes: hdr.Size,
		})
	}
	fail := func(done int64, err error) {
		l.logger.Warn("File receive failed", "payload", id, "error", err)
		stream.CancelRead(0)
		_ = f.Close()
		_ = handle.Remove()
		update(coordinator.TransferFailure, done)
	}

	l.queue.push(coordinator.PayloadReceived{
		EndpointID: lk.id,
		Payload:    coordinator.Payload{ID: id, Kind: coordinator.PayloadFile, File: handle, Size: hdr.Size},
	})

	buf := make([]byte, protocol.FileChunkSize)
	var done int64
	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				fail(done, err)
				return
			}
			done += int64(n)
			update(coordinator.TransferInProgress, done)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			fail(done, rerr)
			return
		}
	}

	if hdr.Size >= 0 && done != hdr.Size {
		fail(done, fmt.Errorf("short file: got %d of %d bytes", done, hdr.Size))
		return
	}
	if err := f.Close(); err != nil {
		_ = handle.Remove()
		update(coordinator.TransferFailure, done)
		return
	}
	update(coordinator.TransferSuccess, done)
}
