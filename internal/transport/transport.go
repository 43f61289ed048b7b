// Package transport carries framed control messages and raw file streams
// between two devices over QUIC.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/quic-go/quic-go"
)

type Transport struct {
	udp      *net.UDPConn
	qt       *quic.Transport
	listener *quic.Listener
	tlsConf  *tls.Config
	quicConf *quic.Config
}

// NewTransport binds a UDP socket on addr and starts listening for QUIC
// connections on it. The same socket is used for outgoing dials.
func NewTransport(addr string) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	tlsConf, err := DefaultTLSConfig()
	if err != nil {
		_ = udp.Close()
		return nil, err
	}

	qt := &quic.Transport{Conn: udp}
	quicConf := DefaultQUICConfig()

	ln, err := qt.Listen(tlsConf, quicConf)
	if err != nil {
		_ = qt.Close()
		_ = udp.Close()
		return nil, err
	}

	return &Transport{
		udp:      udp,
		qt:       qt,
		listener: ln,
		tlsConf:  tlsConf,
		quicConf: quicConf,
	}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.udp.LocalAddr()
}

func (t *Transport) Accept(ctx context.Context) (*Peer, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewPeer(conn, false), nil
}

// Dial connects to addr and opens the control stream. The remote side sees
// the stream once the first frame is written.
func (t *Transport) Dial(ctx context.Context, addr string) (*Peer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := t.qt.Dial(ctx, udpAddr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}

	peer := NewPeer(conn, true)
	if _, err := peer.controlStream(ctx); err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return peer, nil
}

func (t *Transport) Close() error {
	_ = t.listener.Close()
	return errors.Join(t.qt.Close(), t.udp.Close())
}
