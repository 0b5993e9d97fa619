package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CommandBus dispatches commands emitted after a record is saved.
type CommandBus interface {
	Dispatch(ctx context.Context, command string, row map[string]any) error
}

// noopBus is a CommandBus that does nothing.
type noopBus struct{}

func (noopBus) Dispatch(_ context.Context, _ string, _ map[string]any) error { return nil }

// Handler processes a dispatched command.
type Handler func(ctx context.Context, deps *Deps, data map[string]any) error

// Deps holds dependencies available to all command handlers.
type Deps struct {
	Store  *Store
	Logger *slog.Logger
}

// Bus implements CommandBus by dispatching to registered handlers.
type Bus struct {
	handlers map[string]Handler
	deps     *Deps
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewBus creates a new command bus and attaches it to the store.
func NewBus(store *Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[string]Handler),
		deps: &Deps{
			Store:  store,
			Logger: logger,
		},
		logger: logger,
	}
	store.SetBus(b)
	return b
}

// Register registers a handler for a command name.
func (b *Bus) Register(command string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[command] = handler
}

// Dispatch dispatches a command to its registered handler.
func (b *Bus) Dispatch(ctx context.Context, command string, data map[string]any) error {
	b.mu.RLock()
	handler, ok := b.handlers[command]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for command", "command", command)
		return nil
	}

	b.logger.Debug("dispatching command", "command", command)
	if err := handler(ctx, b.deps, data); err != nil {
		b.logger.Error("command failed", "command", command, "error", err)
		return fmt.Errorf("command %s: %w", command, err)
	}

	return nil
}
