// Package config reads the station configuration from the environment. A
// .env file, if present, is loaded by main before Load is called.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mala-sight/analyzer"
	"mala-sight/db"
	"mala-sight/livefeed"
	"mala-sight/utils"
)

// Config is the station configuration.
type Config struct {
	Port              string
	Protocol          string
	BackendURL        string
	StreamID          string
	CaptureCollection string
	Archive           db.Options
	AnalyzeTimeout    time.Duration
	FrameRateLimit    float64
	FrameBurst        int
	DimensionCacheTTL time.Duration
	PreviewTTL        time.Duration
	CertFile          string
	CertKey           string
	StaticDir         string
}

// Load reads the configuration, applying defaults for unset variables.
func Load() (Config, error) {
	cfg := Config{
		Port:              utils.GetEnv("PORT", "8080"),
		Protocol:          strings.ToLower(utils.GetEnv("PROTOCOL", "http")),
		BackendURL:        strings.TrimRight(utils.GetEnv("BACKEND_URL", analyzer.DefaultOrigin), "/"),
		StreamID:          utils.GetEnv("STREAM_ID", livefeed.DefaultStreamID),
		CaptureCollection: utils.GetEnv("CAPTURE_COLLECTION", livefeed.DefaultCaptureCollection),
		Archive: db.Options{
			Backend:       strings.ToLower(utils.GetEnv("ARCHIVE_BACKEND", "sqlite")),
			SQLitePath:    utils.GetEnv("SQLITE_PATH", "db/captures.sqlite3"),
			MongoURI:      utils.GetEnv("MONGO_URI", ""),
			MongoDatabase: utils.GetEnv("MONGO_DATABASE", "malasight"),
			PostgresDSN:   utils.GetEnv("POSTGRES_DSN", ""),
			FilePath:      utils.GetEnv("CAPTURE_FILE", db.DefaultCaptureFile),
		},
		AnalyzeTimeout:    utils.GetEnvDuration("ANALYZE_TIMEOUT", 2*time.Minute),
		FrameRateLimit:    utils.GetEnvFloat("FRAME_RATE_LIMIT", 0),
		DimensionCacheTTL: utils.GetEnvDuration("DIMENSION_CACHE_TTL", 10*time.Minute),
		PreviewTTL:        utils.GetEnvDuration("PREVIEW_TTL", time.Hour),
		CertFile:          utils.GetEnv("CERT_FILE", ""),
		CertKey:           utils.GetEnv("CERT_KEY", ""),
		StaticDir:         utils.GetEnv("STATIC_DIR", "static"),
	}

	burst, err := strconv.Atoi(utils.GetEnv("FRAME_BURST", "1"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid FRAME_BURST value: %w", err)
	}
	cfg.FrameBurst = burst

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	if c.Protocol == "https" && (c.CertFile == "" || c.CertKey == "") {
		return fmt.Errorf("https requires CERT_FILE and CERT_KEY")
	}
	if c.StreamID == "" || strings.Contains(c.StreamID, "/") {
		return fmt.Errorf("invalid stream id %q", c.StreamID)
	}
	switch c.Archive.Backend {
	case "sqlite", "mongo", "postgres", "file", "none":
	default:
		return fmt.Errorf("unsupported archive backend %q", c.Archive.Backend)
	}
	if c.FrameBurst < 1 {
		return fmt.Errorf("FRAME_BURST must be at least 1")
	}
	return nil
}
