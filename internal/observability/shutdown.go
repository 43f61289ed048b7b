package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ShutdownCoordinator runs registered cleanup handlers in LIFO order.
type ShutdownCoordinator struct {
	mu       sync.Mutex
	handlers []namedHandler
	logger   *slog.Logger
}

type namedHandler struct {
	name string
	fn   func(context.Context) error
}

func NewShutdownCoordinator(logger *slog.Logger) *ShutdownCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownCoordinator{logger: logger}
}

func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, namedHandler{name: name, fn: fn})
}

// Shutdown runs every handler once, newest first, and drops them.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handlers := s.handlers
	s.handlers = nil
	logger := s.logger
	s.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		logger.Debug("Shutting down", "component", h.name)
		if err := h.fn(ctx); err != nil {
			logger.Error("Shutdown failed", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
