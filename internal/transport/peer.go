package transport

import (
	"context"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/peer-link/internal/protocol"
)

// Peer is one QUIC connection. The first bidirectional stream carries
// control frames; every file travels on its own unidirectional stream.
type Peer struct {
	codec   *protocol.Codec
	conn    *quic.Conn
	dialer  bool
	control *quic.Stream
	mu      sync.Mutex
	writeMu sync.Mutex
}

func NewPeer(conn *quic.Conn, dialer bool) *Peer {
	return &Peer{
		codec:  protocol.NewCodec(),
		conn:   conn,
		dialer: dialer,
	}
}

func (p *Peer) AcceptFileStream(ctx context.Context) (*quic.ReceiveStream, error) {
	return p.conn.AcceptUniStream(ctx)
}

func (p *Peer) OpenFileStream(ctx context.Context) (*quic.SendStream, error) {
	return p.conn.OpenUniStreamSync(ctx)
}

func (p *Peer) Close() error {
	return p.CloseWithError("")
}

func (p *Peer) CloseWithError(reason string) error {
	p.mu.Lock()
	if p.control != nil {
		_ = p.control.Close()
	}
	p.mu.Unlock()
	return p.conn.CloseWithError(0, reason)
}

// Done is closed once the underlying connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.conn.Context().Done()
}

func (p *Peer) Receive(ctx context.Context) (protocol.Message, error) {
	stream, err := p.controlStream(ctx)
	if err != nil {
		return nil, err
	}

	return p.codec.Decode(stream)
}

// AuthToken is the SessionToken of this connection.
func (p *Peer) AuthToken() (string, error) {
	return SessionToken(p.conn.ConnectionState().TLS)
}

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

func (p *Peer) Send(ctx context.Context, msg protocol.Message) error {
	stream, err := p.controlStream(ctx)
	if err != nil {
		return err
	}

	frame, err := p.codec.EncodeToBytes(msg)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := stream.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err = stream.Write(frame)
	return err
}

// controlStream opens the control stream on the dialing side and accepts it
// on the listening side.
func (p *Peer) controlStream(ctx context.Context) (*quic.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.control != nil {
		return p.control, nil
	}

	var (
		stream *quic.Stream
		err    error
	)
	if p.dialer {
		stream, err = p.conn.OpenStreamSync(ctx)
	} else {
		stream, err = p.conn.AcceptStream(ctx)
	}
	if err != nil {
		return nil, err
	}
	p.control = stream
	return stream, nil
}
