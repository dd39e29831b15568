package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateFFmpeg(); err != nil {
		return err
	}
	if err := c.validateReadiness(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if c.Server.PublicBaseURL != "" {
		parsed, err := url.Parse(c.Server.PublicBaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("server.public_base_url must be an absolute URL, got %q", c.Server.PublicBaseURL)
		}
	}
	if len(c.Server.AllowedSchemes) == 0 {
		return errors.New("server.allowed_schemes must list at least one scheme")
	}
	if c.Server.ShutdownGrace < 0 {
		return errors.New("server.shutdown_grace_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Root == "" {
		return errors.New("storage.root must be set")
	}
	if c.Storage.StaleAfter <= 0 {
		return errors.New("storage.stale_after_seconds must be positive")
	}
	return nil
}

func (c *Config) validateFFmpeg() error {
	if strings.TrimSpace(c.FFmpeg.Binary) == "" {
		return errors.New("ffmpeg.binary must be set")
	}
	if c.FFmpeg.SegmentSeconds <= 0 {
		return errors.New("ffmpeg.segment_seconds must be positive")
	}
	if c.FFmpeg.VideoCodec == "" || c.FFmpeg.AudioCodec == "" {
		return errors.New("ffmpeg.video_codec and ffmpeg.audio_codec must be set")
	}
	if c.FFmpeg.AudioChannels <= 0 {
		return errors.New("ffmpeg.audio_channels must be positive")
	}
	if c.FFmpeg.ReconnectDelayMax < 0 {
		return errors.New("ffmpeg.reconnect_delay_max must be non-negative")
	}
	if c.FFmpeg.TailBytes <= 0 {
		return errors.New("ffmpeg.tail_bytes must be positive")
	}
	return nil
}

func (c *Config) validateReadiness() error {
	if c.Readiness.PollIntervalMillis <= 0 {
		return errors.New("readiness.poll_interval_ms must be positive")
	}
	if c.Readiness.TimeoutSeconds <= 0 {
		return errors.New("readiness.timeout_seconds must be positive")
	}
	if c.PollInterval() > c.ReadinessTimeout() {
		return errors.New("readiness.poll_interval_ms must not exceed readiness.timeout_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if !slices.Contains([]string{"auto", "console", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
