package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/tablebrowser/internal/browser"
	"github.com/JonMunkholm/tablebrowser/internal/coerce"
	"github.com/JonMunkholm/tablebrowser/internal/config"
	"github.com/JonMunkholm/tablebrowser/internal/registry"
	"github.com/JonMunkholm/tablebrowser/internal/rows"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

// app is the wired engine shared by every command.
type app struct {
	registry *registry.Registry
	service  *browser.Service
}

// newApp opens the registry, seeds the configured connections and wires the
// engine on top of it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	var enc *registry.Encryptor
	if cfg.EncryptionKey != "" {
		var err error
		if enc, err = registry.NewEncryptor(cfg.EncryptionKey); err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
	} else {
		logger.Warn("no encryption_key configured; connection strings are stored in plain text")
	}

	store, err := registry.OpenStore(ctx, cfg.RegistryPath, enc)
	if err != nil {
		return nil, err
	}
	reg := registry.New(store, registry.Options{
		ProbeTimeout: cfg.ProbeTimeout,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger,
	})

	catalog := schema.NewCatalog(cfg.Schemas, cfg.MetaCacheTTL, logger)
	accessor := rows.NewAccessor(cfg.PageCacheTTL, cfg.MaxPageSize, logger)
	svc := browser.New(reg, catalog, accessor, browser.Options{
		DefaultPageSize: cfg.DefaultPageSize,
		Policy:          coerce.Policy{LenientBooleans: cfg.LenientBooleans},
		Logger:          logger,
	})

	if err := reg.Seed(ctx, cfg.Seeds()); err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("seeding connections: %w", err)
	}
	return &app{registry: reg, service: svc}, nil
}

func (a *app) Close() error {
	return a.registry.Close()
}

// openApp builds the app from the config stored on the command context.
func openApp(ctx context.Context) (*app, *config.Config, *slog.Logger, error) {
	cfg := configFrom(ctx)
	if cfg == nil {
		return nil, nil, nil, fmt.Errorf("configuration not loaded")
	}
	logger := loggerFrom(ctx)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, cfg, logger, nil
}
