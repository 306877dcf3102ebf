package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the dialog synthesis service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// Backend selects the synthesizer: auto, edge, say, clone or mock.
	Backend string

	EdgeWSURL   string
	EdgeTimeout time.Duration

	SayBinary     string
	SayLocaleHint string

	WorkerPython   string
	WorkerScript   string
	WorkerRefAudio string

	FFmpegBin string

	SampleRate    int
	Workers       int
	CacheDir      string
	CacheDisabled bool
	OutputDir     string

	// SpeakerMapPath is an optional YAML speaker map loaded at startup.
	SpeakerMapPath string
	// DefaultSpeaker takes over script speakers missing from the map.
	DefaultSpeaker string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("MACTTS_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("MACTTS_METRICS_NAMESPACE", "mactts"),
		Backend:          envOrDefault("MACTTS_BACKEND", "auto"),
		EdgeWSURL:        stringsTrimSpace("MACTTS_EDGE_WS_URL"),
		SayBinary:        stringsTrimSpace("MACTTS_SAY_BIN"),
		SayLocaleHint:    envOrDefault("MACTTS_SAY_LOCALE_HINT", "ko_KR"),
		WorkerPython:     stringsTrimSpace("MACTTS_WORKER_PYTHON"),
		WorkerScript:     envOrDefault("MACTTS_WORKER_SCRIPT", "scripts/clone_worker.py"),
		WorkerRefAudio:   stringsTrimSpace("MACTTS_WORKER_REF_AUDIO"),
		FFmpegBin:        stringsTrimSpace("MACTTS_FFMPEG_BIN"),
		CacheDir:         stringsTrimSpace("MACTTS_CACHE_DIR"),
		OutputDir:        envOrDefault("MACTTS_OUTPUT_DIR", "out"),
		SpeakerMapPath:   stringsTrimSpace("MACTTS_SPEAKER_MAP"),
		DefaultSpeaker:   stringsTrimSpace("MACTTS_DEFAULT_SPEAKER"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SampleRate:       24000,
		Workers:          3,
		ShutdownTimeout:  15 * time.Second,
		EdgeTimeout:      30 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("MACTTS_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EdgeTimeout, err = durationFromEnv("MACTTS_EDGE_TIMEOUT", cfg.EdgeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("MACTTS_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.Workers, err = intFromEnv("MACTTS_WORKERS", cfg.Workers)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheDisabled, err = boolFromEnv("MACTTS_CACHE_DISABLED", cfg.CacheDisabled)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("MACTTS_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Backend {
	case "auto", "edge", "say", "clone", "mock":
	default:
		return Config{}, fmt.Errorf("MACTTS_BACKEND must be auto, edge, say, clone or mock")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("MACTTS_SAMPLE_RATE must be positive")
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("MACTTS_WORKERS must be positive")
	}
	if cfg.EdgeTimeout < time.Second {
		return Config{}, fmt.Errorf("MACTTS_EDGE_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
