package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/schollz/progressbar/v3"
)

const helpText = `commands:
  /connect        search for a peer and pair with the first one found
  /disconnect     drop the current peer
  /send <file>    send a file
  /peers          list endpoints found while searching
  /status         show the connection state
  /bye            quit
anything else is sent to the peer as a message`

type printer interface {
	Println(msg string)
}

type lineReader interface {
	Readline() (string, error)
}

// session turns console lines into coordinator calls and coordinator
// notifications into console output.
type session struct {
	c        *coordinator.Coordinator
	out      printer
	progress io.Writer

	mu   sync.Mutex
	bars map[coordinator.PayloadID]*progressbar.ProgressBar
}

func newSession(c *coordinator.Coordinator, out printer, progress io.Writer) *session {
	if progress == nil {
		progress = io.Discard
	}
	return &session{
		c:        c,
		out:      out,
		progress: progress,
		bars:     make(map[coordinator.PayloadID]*progressbar.ProgressBar),
	}
}

func (s *session) loop(ctx context.Context, in lineReader) error {
	for {
		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if s.handle(ctx, line) {
			return nil
		}
	}
}

// handle runs one console line and reports whether the session should end.
func (s *session) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.sendMessage(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/bye", "/quit":
		return true
	case "/help":
		s.out.Println(helpText)
	case "/connect":
		if err := s.c.Connect(ctx); err != nil {
			s.out.Println("connect: " + err.Error())
		}
	case "/disconnect":
		if err := s.c.Disconnect(ctx); err != nil {
			s.out.Println("disconnect: " + err.Error())
		}
	case "/send":
		if arg == "" {
			s.out.Println("usage: /send <file>")
			return false
		}
		s.sendFile(ctx, arg)
	case "/peers":
		s.listPeers()
	case "/status":
		s.printStatus()
	default:
		s.out.Println("unknown command " + cmd + ", try /help")
	}
	return false
}

func (s *session) sendMessage(ctx context.Context, text string) {
	if _, err := s.c.SendMessage(ctx, text); err != nil {
		s.out.Println("send: " + err.Error())
		return
	}
	s.out.Println("Message sent")
}

func (s *session) sendFile(ctx context.Context, path string) {
	src, err := coordinator.OpenFile(path)
	if err != nil {
		s.out.Println("send: " + err.Error())
		return
	}

	id, err := s.c.SendFile(ctx, src)
	if err != nil {
		s.out.Println("send: " + err.Error())
		return
	}
	s.bar(id, src.Size, "sending "+src.Name)
}

func (s *session) listPeers() {
	eps := s.c.Endpoints()
	if len(eps) == 0 {
		s.out.Println("no endpoints found")
		return
	}
	for _, ep := range eps {
		s.out.Println(fmt.Sprintf("  %s  %s", ep.ID, ep.Name))
	}
}

func (s *session) printStatus() {
	state := s.c.State()
	if peer, ok := s.c.Peer(); ok {
		s.out.Println(fmt.Sprintf("%s (%s, %s)", state, peer.Name, peer.ID))
		return
	}
	s.out.Println(state.String())
}

func (s *session) notify(n coordinator.Notification) {
	switch n := n.(type) {
	case coordinator.StatusChanged:
		s.out.Println(statusText(n.State))
	case coordinator.PeerNamed:
		s.out.Println("Connected to " + n.Name)
	case coordinator.ConnectionFailed:
		s.out.Println(fmt.Sprintf("Could not connect to %s: %v", displayName(n.Endpoint), n.Reason))
	case coordinator.MessageReceived:
		s.out.Println(fmt.Sprintf("← %s: %s", n.From, n.Text))
	case coordinator.TransferProgress:
		s.advance(n)
	case coordinator.FileReady:
		s.finish(n.PayloadID, false)
		s.out.Println(fmt.Sprintf("Received file %s (%d bytes)", n.Path, n.Size))
	case coordinator.TransferFailed:
		s.finish(n.PayloadID, true)
		s.out.Println(fmt.Sprintf("%s transfer failed: %v", n.Direction, n.Reason))
	}
}

func (s *session) advance(p coordinator.TransferProgress) {
	desc := "receiving"
	if p.Direction == coordinator.Outgoing {
		desc = "sending"
	}
	bar := s.bar(p.PayloadID, p.Total, desc)
	_ = bar.Set64(p.Done)

	if p.Direction == coordinator.Outgoing && p.Total > 0 && p.Done >= p.Total {
		s.finish(p.PayloadID, false)
	}
}

func (s *session) bar(id coordinator.PayloadID, total int64, desc string) *progressbar.ProgressBar {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bar, ok := s.bars[id]; ok {
		return bar
	}
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(s.progress),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
	s.bars[id] = bar
	return bar
}

func (s *session) finish(id coordinator.PayloadID, failed bool) {
	s.mu.Lock()
	bar, ok := s.bars[id]
	delete(s.bars, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	if failed {
		_ = bar.Exit()
		return
	}
	_ = bar.Finish()
}

func statusText(state coordinator.State) string {
	switch state {
	case coordinator.StatePairing:
		return "Searching for peers..."
	case coordinator.StateConnecting:
		return "Connecting..."
	case coordinator.StateConnected:
		return "Connected"
	case coordinator.StateDisconnected:
		return "Disconnected"
	default:
		return "Idle"
	}
}

func displayName(ep coordinator.Endpoint) string {
	if ep.Name != "" {
		return ep.Name
	}
	return ep.ID
}
