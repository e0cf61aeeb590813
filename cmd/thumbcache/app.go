package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/giobyte8/thumbcache/internal/config"
	"github.com/giobyte8/thumbcache/internal/engine"
	"github.com/giobyte8/thumbcache/internal/kvstore"
	"github.com/giobyte8/thumbcache/internal/services"
	"github.com/giobyte8/thumbcache/internal/storage"
	"github.com/giobyte8/thumbcache/internal/telemetry"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.TelemetrySvc
	kv        *kvstore.Store
	sources   storage.Storage
	thumbs    storage.Storage
	thumbsSvc *services.ThumbnailsService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}

	a.telemetry, err = telemetry.NewTelemetrySvc(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry services: %w", err)
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	backend, err := kvstore.OpenBackend(cfg.KVStore)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to open %s kvstore: %w", cfg.KVStore.Kind, err)
	}
	a.kv = kvstore.New(backend, cfg.KeyPrefix)

	sources, err := storage.Open(ctx, cfg.Originals)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to open originals storage: %w", err)
	}
	a.sources = sources

	thumbs, err := storage.Open(ctx, cfg.Thumbnails)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to open thumbnails storage: %w", err)
	}
	a.thumbs = thumbs

	slog.Debug(
		"Components ready",
		"engine", cfg.Engine,
		"kvstore", cfg.KVStore.Kind,
		"originals", a.sources.Name(),
		"thumbnails", a.thumbs.Name(),
	)

	a.thumbsSvc = services.NewThumbnailsService(
		cfg.ThumbnailsConfig(),
		eng,
		a.kv,
		a.sources,
		a.thumbs,
		a.telemetry,
	)
	return a, nil
}

// close releases whatever newApp managed to open.
func (a *app) close(ctx context.Context) {
	var errs []error

	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	for _, st := range []storage.Storage{a.sources, a.thumbs} {
		if closer, ok := st.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to release resources", "error", err)
	}
}
