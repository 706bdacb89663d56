// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all Medley server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Catalog database
	DatabaseURL string

	// Media tree
	MediaRoot     string
	PublicBaseURL string

	// Listing
	MaxPageSize int

	// Image transforms
	MaxScalePercent     int
	MaxImageDimension   int
	MaxImageSourceBytes int64

	// Catalog synchronizer
	SyncWorkers   int
	SyncQueueSize int
	SyncMaxDepth  int

	// Exclusion policy
	ExcludedDirs       []string
	ExcludedFiles      []string
	ExcludedExtensions []string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		MediaRoot:           envOr("MEDIA_ROOT", ""),
		PublicBaseURL:       envOr("PUBLIC_BASE_URL", ""),
		MaxPageSize:         envInt("MAX_PAGE_SIZE", 500),
		MaxScalePercent:     envInt("MAX_SCALE_PERCENT", 1000),
		MaxImageDimension:   envInt("MAX_IMAGE_DIMENSION", 16384),
		MaxImageSourceBytes: envInt64("MAX_IMAGE_SOURCE_BYTES", 64*1024*1024),
		SyncWorkers:         envInt("SYNC_WORKERS", 2),
		SyncQueueSize:       envInt("SYNC_QUEUE_SIZE", 1000),
		SyncMaxDepth:        envInt("SYNC_MAX_DEPTH", 8),
		ExcludedDirs:        envList("EXCLUDED_DIRS", []string{".git", "lost+found", "@eaDir"}),
		ExcludedFiles:       envList("EXCLUDED_FILES", []string{".DS_Store", "Thumbs.db", "desktop.ini"}),
		ExcludedExtensions:  envList("EXCLUDED_EXTENSIONS", []string{".tmp", ".part"}),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MediaRoot == "" {
		return nil, fmt.Errorf("MEDIA_ROOT is required")
	}

	info, err := os.Stat(cfg.MediaRoot)
	if err != nil {
		return nil, fmt.Errorf("stat MEDIA_ROOT %s: %w", cfg.MediaRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("MEDIA_ROOT %s is not a directory", cfg.MediaRoot)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
