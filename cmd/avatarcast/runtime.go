package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-avatarcast/internal/cache"
	"github.com/example/go-avatarcast/internal/combine"
	"github.com/example/go-avatarcast/internal/config"
	"github.com/example/go-avatarcast/internal/media"
	"github.com/example/go-avatarcast/internal/pipeline"
	"github.com/example/go-avatarcast/internal/render"
	"github.com/example/go-avatarcast/internal/segment"
	"github.com/example/go-avatarcast/internal/synthesis"
)

// buildController wires the full processing stack from configuration. The
// returned close function releases the cache store and is safe to call even
// when caching is disabled.
func buildController(ctx context.Context, cfg config.Config) (*pipeline.Controller, func(), error) {
	log := slog.Default()
	tools := media.NewToolchain(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)

	names, err := config.NormalizeProviders(cfg.Synthesis.Providers)
	if err != nil {
		return nil, nil, err
	}

	providers := make([]synthesis.Provider, 0, len(names))
	for _, name := range names {
		switch name {
		case config.ProviderExec:
			providers = append(providers, synthesis.NewExecProvider(
				cfg.Synthesis.ExecPath,
				cfg.Synthesis.ExecConfigPath,
				cfg.Paths.WorkDir,
				tools,
			))
		case config.ProviderHTTP:
			providers = append(providers, synthesis.NewHTTPProvider(
				cfg.Synthesis.HTTPEndpoint,
				cfg.Synthesis.HTTPAPIKey,
				cfg.Paths.WorkDir,
				nil,
				tools,
			))
		default:
			return nil, nil, fmt.Errorf("unsupported synthesis provider %q", name)
		}
	}

	chain := synthesis.NewChain(log, providers...).
		WithTimeout(time.Duration(cfg.Synthesis.TimeoutSec) * time.Second)

	renderer := render.NewExecRenderer(
		cfg.Render.BinaryPath,
		cfg.Render.CheckpointPath,
		cfg.Media.FrameRate,
		cfg.Render.MinOutputBytes,
		tools,
	)
	scheduler := render.NewScheduler(renderer, tools, cfg.Render.Workers, log).
		WithJobTimeout(time.Duration(cfg.Render.TimeoutSec) * time.Second)

	combiner := combine.NewCombiner(tools, cfg.Media.FrameRate, cfg.Combine.ToleranceSec, log).
		WithTimeout(time.Duration(cfg.Combine.TimeoutSec) * time.Second)

	var store cache.Store
	closeStore := func() {}
	if cfg.Cache.Enabled {
		sq, err := cache.OpenSQLite(ctx, cfg.Cache.IndexDB, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache index: %w", err)
		}
		store = sq
		closeStore = func() { _ = sq.Close() }
	}

	ctrl := pipeline.New(
		chain,
		segment.PolicyFromConfig(cfg.Segmenter),
		scheduler,
		combiner,
		tools,
		store,
		pipeline.Options{
			ArtifactsDir: cfg.Paths.ArtifactsDir,
			WorkDir:      cfg.Paths.WorkDir,
			ToleranceSec: cfg.Combine.ToleranceSec,
			Logger:       log,
		},
	)
	return ctrl, closeStore, nil
}
