package connections

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/protocol"
)

func newTestLAN(t *testing.T, id string) *LAN {
	t.Helper()

	l, err := NewLAN(LANConfig{
		ListenAddr:     "127.0.0.1:0",
		StagingDir:     t.TempDir(),
		ConnectTimeout: 5 * time.Second,
		EndpointID:     id,
		Logger:         discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewLAN failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// acceptIncoming lets l take connection requests without registering over
// mDNS.
func acceptIncoming(l *LAN) {
	l.mu.Lock()
	l.advertising = true
	l.mu.Unlock()
}

func introduce(a, b *LAN, nameA, nameB string) {
	a.AddEndpoint(b.ID(), nameB, b.Addr().String())
	b.AddEndpoint(a.ID(), nameA, a.Addr().String())
}

// linkLANs connects a and b, both accepting, and returns once both report
// success.
func linkLANs(t *testing.T, a, b *LAN) {
	t.Helper()
	ctx := context.Background()

	acceptIncoming(a)
	acceptIncoming(b)
	introduce(a, b, "Swift Otter", "Calm Heron")

	if err := a.RequestConnection(ctx, "Swift Otter", b.ID()); err != nil {
		t.Fatalf("RequestConnection a failed: %v", err)
	}
	if err := b.RequestConnection(ctx, "Calm Heron", a.ID()); err != nil {
		t.Fatalf("RequestConnection b failed: %v", err)
	}

	ia := nextEvent[coordinator.ConnectionInitiated](t, a.Events(), nil)
	ib := nextEvent[coordinator.ConnectionInitiated](t, b.Events(), nil)
	if ia.Info.AuthToken != ib.Info.AuthToken {
		t.Errorf("Auth tokens differ: %s vs %s", ia.Info.AuthToken, ib.Info.AuthToken)
	}
	if len(ia.Info.AuthToken) != 4 {
		t.Errorf("Expected a four digit auth token, got %q", ia.Info.AuthToken)
	}
	if ib.Info.EndpointName != "Swift Otter" {
		t.Errorf("Expected b to see Swift Otter, got %q", ib.Info.EndpointName)
	}

	if err := a.AcceptConnection(ctx, b.ID()); err != nil {
		t.Fatalf("AcceptConnection a failed: %v", err)
	}
	if err := b.AcceptConnection(ctx, a.ID()); err != nil {
		t.Fatalf("AcceptConnection b failed: %v", err)
	}

	if res := nextEvent[coordinator.ConnectionResult](t, a.Events(), nil); !res.Success {
		t.Fatalf("a: connection failed: %v", res.Err)
	}
	if res := nextEvent[coordinator.ConnectionResult](t, b.Events(), nil); !res.Success {
		t.Fatalf("b: connection failed: %v", res.Err)
	}
}

func TestLANBytesAndFiles(t *testing.T) {
	a, b := newTestLAN(t, "AAAA0001"), newTestLAN(t, "BBBB0002")
	linkLANs(t, a, b)
	ctx := context.Background()

	id, err := a.SendBytes(ctx, b.ID(), []byte("rock"))
	if err != nil {
		t.Fatalf("SendBytes failed: %v", err)
	}
	got := nextEvent[coordinator.PayloadReceived](t, b.Events(), nil)
	if got.Payload.ID != id || string(got.Payload.Bytes) != "rock" {
		t.Errorf("Unexpected payload %+v", got.Payload)
	}
	sent := nextEvent(t, a.Events(), func(u coordinator.PayloadTransferUpdate) bool { return u.PayloadID == id })
	if sent.Status != coordinator.TransferSuccess {
		t.Errorf("Expected success, got %s", sent.Status)
	}

	data := bytes.Repeat([]byte("paper"), 50_000)
	fid, err := b.SendFile(ctx, a.ID(), coordinator.FileSource{
		Name:   "paper.bin",
		Reader: io.NopCloser(bytes.NewReader(data)),
		Size:   int64(len(data)),
	})
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	rx := nextEvent[coordinator.PayloadReceived](t, a.Events(), nil)
	if rx.Payload.ID != fid || rx.Payload.Kind != coordinator.PayloadFile || rx.Payload.Size != int64(len(data)) {
		t.Fatalf("Unexpected file payload %+v", rx.Payload)
	}
	done := nextEvent(t, a.Events(), func(u coordinator.PayloadTransferUpdate) bool {
		return u.PayloadID == fid && u.Status != coordinator.TransferInProgress
	})
	if done.Status != coordinator.TransferSuccess {
		t.Fatalf("Expected success, got %s", done.Status)
	}

	rc, err := rx.Payload.File.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(body, data) {
		t.Errorf("Received %d bytes, want %d", len(body), len(data))
	}
	_ = rx.Payload.File.Remove()

	a.DisconnectFromEndpoint(b.ID())
	if ev := nextEvent[coordinator.Disconnected](t, b.Events(), nil); ev.EndpointID != a.ID() {
		t.Errorf("Expected disconnect from %s, got %s", a.ID(), ev.EndpointID)
	}
	if _, err := a.SendBytes(ctx, b.ID(), []byte("rock")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestLANRejectedConnection(t *testing.T) {
	a, b := newTestLAN(t, "AAAA0001"), newTestLAN(t, "BBBB0002")
	ctx := context.Background()

	acceptIncoming(b)
	introduce(a, b, "Swift Otter", "Calm Heron")

	if err := a.RequestConnection(ctx, "Swift Otter", b.ID()); err != nil {
		t.Fatalf("RequestConnection failed: %v", err)
	}
	nextEvent[coordinator.ConnectionInitiated](t, b.Events(), nil)
	if err := b.RejectConnection(ctx, a.ID()); err != nil {
		t.Fatalf("RejectConnection failed: %v", err)
	}

	res := nextEvent[coordinator.ConnectionResult](t, a.Events(), nil)
	if res.Success {
		t.Error("Expected the connection to fail")
	}
}

func TestLANRefusesWhenNotAdvertising(t *testing.T) {
	a, b := newTestLAN(t, "AAAA0001"), newTestLAN(t, "BBBB0002")
	introduce(a, b, "Swift Otter", "Calm Heron")

	if err := a.RequestConnection(context.Background(), "Swift Otter", b.ID()); err != nil {
		t.Fatalf("RequestConnection failed: %v", err)
	}

	res := nextEvent[coordinator.ConnectionResult](t, a.Events(), nil)
	if res.Success {
		t.Fatal("Expected the connection to fail")
	}
	var perr *protocol.Error
	if !errors.As(res.Err, &perr) || perr.Code != protocol.ErrNotAdvertising {
		t.Errorf("Expected NOT_ADVERTISING, got %v", res.Err)
	}
}

func TestLANUnknownEndpoint(t *testing.T) {
	a := newTestLAN(t, "AAAA0001")

	err := a.RequestConnection(context.Background(), "Swift Otter", "FFFF0000")
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("Expected ErrUnknownEndpoint, got %v", err)
	}
}

func TestParseTXT(t *testing.T) {
	id, name, ns := parseTXT([]string{"id=3F9A0C21", "name=Swift Otter", "ns=dev.peerlink", "other=1"})
	if id != "3F9A0C21" || name != "Swift Otter" || ns != "dev.peerlink" {
		t.Errorf("Unexpected parse result %q %q %q", id, name, ns)
	}
}
