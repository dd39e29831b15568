// Package config loads, normalizes, and validates hlsgate configuration.
//
// Settings start from Default, are overlaid by an optional TOML file and
// finally by environment variables (PORT, HLSGATE_ROOT, HLSGATE_FFMPEG and
// friends), so container deployments can run without a file at all.
package config
