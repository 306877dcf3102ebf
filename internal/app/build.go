package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/config"
	"github.com/jijae92/mactts/internal/engine"
	"github.com/jijae92/mactts/internal/httpapi"
	"github.com/jijae92/mactts/internal/jobruntime"
	"github.com/jijae92/mactts/internal/jobs"
	"github.com/jijae92/mactts/internal/observability"
	"github.com/jijae92/mactts/internal/speakers"
)

type BackendInfo struct {
	Name   string
	Detail string
}

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Service *jobruntime.Service
	Metrics *observability.Metrics
	Backend BackendInfo

	// Cleanup should be called on shutdown to release external resources
	// (DB pool, clone worker, running jobs).
	Cleanup func() error
}

// Build wires the daemon: backend selection, cache, job store, runtime
// and HTTP API.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ff, ffErr := audio.FindFFmpeg(cfg.FFmpegBin)
	if ffErr != nil {
		ff = nil
	}

	setup, err := resolveSynthesizer(cfg, ff)
	if err != nil {
		return nil, err
	}
	// Make the health endpoint report what actually got picked.
	cfg.Backend = setup.resolved

	cache := engine.NewDisabledCache()
	if !cfg.CacheDisabled {
		cache, err = engine.NewCache(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("cache init failed: %w", err)
		}
	}

	spk := speakers.Map{}
	if strings.TrimSpace(cfg.SpeakerMapPath) != "" {
		spk, err = speakers.LoadFile(cfg.SpeakerMapPath)
		if err != nil {
			return nil, fmt.Errorf("speaker map load failed: %w", err)
		}
	}

	store, err := jobs.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}

	service := jobruntime.New(
		jobruntime.Config{OutputDir: cfg.OutputDir},
		setup.synth, ff, cache, spk, store,
		engine.Options{
			SampleRate:     cfg.SampleRate,
			Workers:        cfg.Workers,
			DefaultSpeaker: cfg.DefaultSpeaker,
		},
		metrics,
	)

	api := httpapi.New(cfg, service, setup.synth, metrics)

	cleanup := func() error {
		var errs []string
		if err := service.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if setup.cleanup != nil {
			if err := setup.cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Service: service,
		Metrics: metrics,
		Backend: BackendInfo{Name: setup.resolved, Detail: setup.detail},
		Cleanup: cleanup,
	}, nil
}
