package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/connections"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/identity"
	"github.com/rudransh-shrivastava/peer-link/internal/logger"
	"github.com/spf13/cobra"
)

const demoTimeout = 10 * time.Second

func newDemoCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Pair two in-process peers and exchange a message and a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.MkdirTemp("", "peer-link-demo-")
			if err != nil {
				return err
			}
			defer func() { _ = os.RemoveAll(dir) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), demoTimeout)
			defer cancel()
			return runDemo(ctx, cmd.OutOrStdout(), dir, logLevel)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}

type demoPeer struct {
	c     *coordinator.Coordinator
	notes chan coordinator.Notification
}

func newDemoPeer(medium *connections.Medium, name, dir string, out io.Writer, level string) (*demoPeer, error) {
	log := logger.New(out, level).With("peer", name)
	c, err := coordinator.New(coordinator.Config{
		Identity:  identity.New(name),
		Transport: medium.NewClient(log),
		CacheDir:  dir,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	p := &demoPeer{c: c, notes: make(chan coordinator.Notification, 256)}
	c.Subscribe(func(n coordinator.Notification) {
		select {
		case p.notes <- n:
		default:
		}
	})
	return p, nil
}

func (p *demoPeer) await(ctx context.Context, match func(coordinator.Notification) bool) (coordinator.Notification, error) {
	for {
		select {
		case n := <-p.notes:
			if match(n) {
				return n, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", p.c.Name(), ctx.Err())
		}
	}
}

func (p *demoPeer) awaitState(ctx context.Context, s coordinator.State) error {
	_, err := p.await(ctx, func(n coordinator.Notification) bool {
		sc, ok := n.(coordinator.StatusChanged)
		return ok && sc.State == s
	})
	return err
}

// runDemo pairs two coordinators over an in-memory medium, sends a message
// and a file from the first to the second and disconnects.
func runDemo(ctx context.Context, out io.Writer, dir, level string) error {
	medium := connections.NewMedium()

	a, err := newDemoPeer(medium, "Swift Otter", filepath.Join(dir, "a"), out, level)
	if err != nil {
		return err
	}
	b, err := newDemoPeer(medium, "Calm Heron", filepath.Join(dir, "b"), out, level)
	if err != nil {
		return err
	}
	defer a.c.Shutdown()
	defer b.c.Shutdown()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = a.c.Run(runCtx) }()
	go func() { _ = b.c.Run(runCtx) }()

	if err := a.c.Connect(ctx); err != nil {
		return err
	}
	if err := b.c.Connect(ctx); err != nil {
		return err
	}
	if err := a.awaitState(ctx, coordinator.StateConnected); err != nil {
		return err
	}
	if err := b.awaitState(ctx, coordinator.StateConnected); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s paired with %s\n", a.c.Name(), b.c.Name())

	if _, err := a.c.SendMessage(ctx, "rock"); err != nil {
		return err
	}
	n, err := b.await(ctx, func(n coordinator.Notification) bool {
		_, ok := n.(coordinator.MessageReceived)
		return ok
	})
	if err != nil {
		return err
	}
	msg := n.(coordinator.MessageReceived)
	fmt.Fprintf(out, "%s received %q from %s\n", b.c.Name(), msg.Text, msg.From)

	path := filepath.Join(dir, "paper.txt")
	if err := os.WriteFile(path, []byte("paper covers rock\n"), 0o600); err != nil {
		return err
	}
	src, err := coordinator.OpenFile(path)
	if err != nil {
		return err
	}
	id, err := a.c.SendFile(ctx, src)
	if err != nil {
		return err
	}
	n, err = b.await(ctx, func(n coordinator.Notification) bool {
		switch n := n.(type) {
		case coordinator.FileReady:
			return n.PayloadID == id
		case coordinator.TransferFailed:
			return n.PayloadID == id
		}
		return false
	})
	if err != nil {
		return err
	}
	if failed, ok := n.(coordinator.TransferFailed); ok {
		return fmt.Errorf("file transfer: %w", failed.Reason)
	}
	ready := n.(coordinator.FileReady)
	fmt.Fprintf(out, "%s stored %d bytes at %s\n", b.c.Name(), ready.Size, ready.Path)

	if err := a.c.Disconnect(ctx); err != nil {
		return err
	}
	if err := b.awaitState(ctx, coordinator.StateIdle); err != nil {
		return err
	}
	if _, err := b.c.SendMessage(ctx, "scissors"); !errors.Is(err, coordinator.ErrNotConnected) {
		return fmt.Errorf("expected %s to be disconnected, got %v", b.c.Name(), err)
	}
	fmt.Fprintln(out, "disconnected")
	return nil
}
