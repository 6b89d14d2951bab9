package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bdobrica/kaiwa/common/retry"
)

// Config selects and configures the backend built by Open.
type Config struct {
	// Durable requests a database backend. When false Open returns a
	// MemoryStore without touching the network.
	Durable bool
	// Driver is one of "sqlite", "postgres" or "mysql".
	Driver string
	// DSN is passed to the driver unchanged. For sqlite it is a file path
	// or ":memory:".
	DSN string
	// ConnectAttempts bounds the startup connection retries.
	ConnectAttempts int
	// ConnectDelay is the wait before the second attempt; later waits double.
	ConnectDelay time.Duration
	// Limit is shared with the caller so the bound can change at runtime.
	Limit *HistoryLimit
}

// Open builds the configured backend. A durable backend that cannot be
// connected or migrated is logged and replaced by a MemoryStore, so Open
// always returns a usable Store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Durable {
		logger.Info("conversation store ready", "backend", "memory")
		return NewMemory(cfg.Limit)
	}

	var s *SQLStore
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  cfg.ConnectAttempts,
		InitialDelay: cfg.ConnectDelay,
		MaxDelay:     30 * time.Second,
		Logger:       logger,
	}, func() error {
		var err error
		s, err = OpenSQL(ctx, cfg.Driver, cfg.DSN, cfg.Limit, logger)
		if errors.Is(err, errUnknownDriver) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		logger.Error("durable store unavailable, falling back to memory",
			"driver", cfg.Driver,
			"err", err,
		)
		return NewMemory(cfg.Limit)
	}

	logger.Info("conversation store ready", "backend", s.Backend())
	return s
}
