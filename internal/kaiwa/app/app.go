// Package app wires Kaiwa's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/kaiwa/internal/kaiwa/admission"
	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
	"github.com/bdobrica/kaiwa/internal/kaiwa/completion"
	"github.com/bdobrica/kaiwa/internal/kaiwa/config"
	"github.com/bdobrica/kaiwa/internal/kaiwa/matrix"
	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

// App is the running bot.
type App struct {
	logger    *slog.Logger
	store     store.Store
	limit     *store.HistoryLimit
	admission *admission.Controller
	handlers  *commands.Handlers
	matrix    *matrix.Client
	health    *HealthServer
}

// New opens the conversation store and builds every component. It does not
// touch the homeserver or the model API.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := completion.New(completion.Config{
		Provider:   cfg.Completion.Provider,
		BaseURL:    cfg.Completion.BaseURL,
		APIKey:     cfg.Completion.APIKey,
		Model:      cfg.Completion.Model,
		MaxTokens:  cfg.Completion.MaxTokens,
		MaxRetries: cfg.Completion.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	limit := store.NewHistoryLimit(cfg.History.MaxLen)
	st := store.Open(ctx, store.Config{
		Durable:         cfg.Storage.Durable,
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		ConnectAttempts: cfg.Storage.ConnectAttempts,
		ConnectDelay:    cfg.Storage.ConnectDelay,
		Limit:           limit,
	}, logger)

	mcfg := matrix.Config{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		AccessToken:  cfg.Matrix.AccessToken,
		AllowedRooms: cfg.Matrix.AllowedRooms,
		Logger:       logger,
	}
	if kv, ok := st.(matrix.SyncStateStore); ok {
		mcfg.SyncState = kv
	}
	client, err := matrix.New(mcfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		logger:    logger,
		store:     st,
		limit:     limit,
		admission: admission.New(),
		matrix:    client,
	}
	a.handlers = commands.NewHandlers(commands.Config{
		Store:       st,
		Admission:   a.admission,
		Provider:    provider,
		Sender:      client,
		Logger:      logger,
		Timeout:     cfg.Completion.Timeout,
		MaxReplyLen: cfg.Reply.MaxLen,
	})
	if cfg.HTTP.Addr != "" {
		a.health = NewHealthServer(cfg.HTTP.Addr, a, logger)
	}
	return a, nil
}

// Backend names the conversation store in use.
func (a *App) Backend() string { return a.store.Backend() }

// InFlight is the number of chats with a completion running.
func (a *App) InFlight() int { return a.admission.Len() }

// Handlers exposes the message handlers.
func (a *App) Handlers() *commands.Handlers { return a.handlers }

// HistoryLimit is the shared history bound; changes apply to the next
// store operation.
func (a *App) HistoryLimit() *store.HistoryLimit { return a.limit }

// Run syncs with Matrix and serves the health endpoints until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("kaiwa starting",
		"store", a.store.Backend(),
		"user_id", a.matrix.UserID(),
		"history_max_len", a.limit.Max(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.matrix.Run(ctx, a.handlers)
	})
	if a.health != nil {
		g.Go(func() error {
			return a.health.Run(ctx)
		})
	}

	err := g.Wait()
	a.logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the conversation store.
func (a *App) Close() error {
	return a.store.Close()
}
