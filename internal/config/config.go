package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server contains HTTP listener and link settings.
type Server struct {
	Addr           string   `toml:"addr"`
	PublicBaseURL  string   `toml:"public_base_url"`
	AllowedOrigins []string `toml:"allowed_origins"`
	AllowedSchemes []string `toml:"allowed_schemes"`
	ShutdownGrace  int      `toml:"shutdown_grace_seconds"`
}

// Storage contains job directory settings.
type Storage struct {
	Root        string `toml:"root"`
	JournalPath string `toml:"journal_path"`
	// StaleAfter is how long an unlocked directory without a playlist may sit
	// untouched before it is reclaimed.
	StaleAfter int `toml:"stale_after_seconds"`
}

// FFmpeg contains transcoder invocation settings.
type FFmpeg struct {
	Binary            string `toml:"binary"`
	SegmentSeconds    int    `toml:"segment_seconds"`
	VideoCodec        string `toml:"video_codec"`
	AudioCodec        string `toml:"audio_codec"`
	AudioChannels     int    `toml:"audio_channels"`
	ReconnectDelayMax int    `toml:"reconnect_delay_max"`
	UserAgent         string `toml:"user_agent"`
	WriteLog          bool   `toml:"write_log"`
	TailBytes         int    `toml:"tail_bytes"`
}

// Readiness contains the poll interval and bound for the first playlist write.
type Readiness struct {
	PollIntervalMillis int `toml:"poll_interval_ms"`
	TimeoutSeconds     int `toml:"timeout_seconds"`
}

// Logging contains log output settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config holds runtime settings for the server.
type Config struct {
	Server    Server    `toml:"server"`
	Storage   Storage   `toml:"storage"`
	FFmpeg    FFmpeg    `toml:"ffmpeg"`
	Readiness Readiness `toml:"readiness"`
	Logging   Logging   `toml:"logging"`
}

// PollInterval returns the readiness poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Readiness.PollIntervalMillis) * time.Millisecond
}

// ReadinessTimeout returns how long a request waits for the first playlist write.
func (c *Config) ReadinessTimeout() time.Duration {
	return time.Duration(c.Readiness.TimeoutSeconds) * time.Second
}

// StaleAfter returns the reclaim threshold for abandoned job directories.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Storage.StaleAfter) * time.Second
}

// ShutdownGrace returns the HTTP drain period on shutdown.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGrace) * time.Second
}

// Load reads the TOML file at path (or $HLSGATE_CONFIG), applies environment
// overrides and returns a normalized, validated config. A missing file is not
// an error; defaults are used instead. The resolved path and whether it
// existed are returned alongside.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = strings.TrimSpace(os.Getenv("HLSGATE_CONFIG"))
	}

	exists := false
	if resolved != "" {
		data, err := os.ReadFile(resolved)
		switch {
		case err == nil:
			exists = true
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, resolved, exists, fmt.Errorf("parse config %s: %w", resolved, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, resolved, exists, fmt.Errorf("read config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, resolved, exists, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolved, exists, err
	}
	return &cfg, resolved, exists, nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func (c *Config) applyEnv() {
	if port := getEnv("PORT", ""); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.Addr = getEnv("HLSGATE_ADDR", c.Server.Addr)
	c.Server.PublicBaseURL = getEnv("HLSGATE_PUBLIC_URL", c.Server.PublicBaseURL)
	c.Storage.Root = getEnv("HLSGATE_ROOT", c.Storage.Root)
	c.Storage.JournalPath = getEnv("HLSGATE_JOURNAL", c.Storage.JournalPath)
	c.FFmpeg.Binary = getEnv("HLSGATE_FFMPEG", c.FFmpeg.Binary)
	c.Readiness.TimeoutSeconds = getEnvInt("HLSGATE_READY_TIMEOUT", c.Readiness.TimeoutSeconds)
	c.Logging.Level = getEnv("HLSGATE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("HLSGATE_LOG_FORMAT", c.Logging.Format)
}

func (c *Config) normalize() error {
	var err error
	if c.Storage.Root, err = filepath.Abs(strings.TrimSpace(c.Storage.Root)); err != nil {
		return fmt.Errorf("storage.root: %w", err)
	}
	c.Storage.JournalPath = strings.TrimSpace(c.Storage.JournalPath)
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = filepath.Join(filepath.Dir(c.Storage.Root), defaultJournalName)
	} else if c.Storage.JournalPath, err = filepath.Abs(c.Storage.JournalPath); err != nil {
		return fmt.Errorf("storage.journal_path: %w", err)
	}
	c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicBaseURL), "/")
	for i, scheme := range c.Server.AllowedSchemes {
		c.Server.AllowedSchemes[i] = strings.ToLower(strings.TrimSpace(scheme))
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.FFmpeg.VideoCodec = strings.TrimSpace(c.FFmpeg.VideoCodec)
	c.FFmpeg.AudioCodec = strings.TrimSpace(c.FFmpeg.AudioCodec)
	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out int
	_, err := fmt.Sscanf(value, "%d", &out)
	if err != nil || out <= 0 {
		return fallback
	}
	return out
}
