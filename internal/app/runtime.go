package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/cli"
	"github.com/Dannydropz/phuketradar-sub003/internal/config"
	"github.com/Dannydropz/phuketradar-sub003/internal/db"
	"github.com/Dannydropz/phuketradar-sub003/internal/logging"
	"github.com/Dannydropz/phuketradar-sub003/internal/publish"
)

// runtime bundles what every command needs after bootstrap.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

// bootstrap loads env, config, logger, and the database pool. Callers own
// the pool and must Close it.
func bootstrap(envLoader *cli.EnvLoader) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, pool: pool}, nil
}

func (rt *runtime) Close() {
	if rt != nil && rt.pool != nil {
		_ = rt.pool.Close()
	}
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// buildChannels instantiates every channel with credentials configured.
// Missing credentials just skip that channel; an empty slice is valid for
// fetch-only deployments.
func buildChannels(cfg *config.Config) []publish.Channel {
	var channels []publish.Channel
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, publish.NewTelegramChannel(publish.TelegramOptions{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		}))
	}
	if cfg.RelayAPIKey != "" {
		channels = append(channels, publish.NewRelayChannel(publish.RelayOptions{
			BaseURL:  cfg.RelayAPIBase,
			APIKey:   cfg.RelayAPIKey,
			Networks: cfg.RelayNetworkList(),
		}))
	}
	return channels
}
