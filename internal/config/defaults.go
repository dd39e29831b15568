package config

const (
	defaultAddr              = ":10000"
	defaultRoot              = "./static/streams"
	defaultJournalName       = "hlsgate.db"
	defaultStaleAfter        = 120
	defaultShutdownGrace     = 10
	defaultFFmpegBinary      = "ffmpeg"
	defaultSegmentSeconds    = 10
	defaultVideoCodec        = "copy"
	defaultAudioCodec        = "aac"
	defaultAudioChannels     = 2
	defaultReconnectDelayMax = 5
	defaultTailBytes         = 8 * 1024
	defaultPollIntervalMs    = 500
	defaultReadyTimeout      = 18
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Addr:           defaultAddr,
			AllowedOrigins: []string{"*"},
			AllowedSchemes: []string{"http", "https"},
			ShutdownGrace:  defaultShutdownGrace,
		},
		Storage: Storage{
			Root:       defaultRoot,
			StaleAfter: defaultStaleAfter,
		},
		FFmpeg: FFmpeg{
			Binary:            defaultFFmpegBinary,
			SegmentSeconds:    defaultSegmentSeconds,
			VideoCodec:        defaultVideoCodec,
			AudioCodec:        defaultAudioCodec,
			AudioChannels:     defaultAudioChannels,
			ReconnectDelayMax: defaultReconnectDelayMax,
			UserAgent:         defaultUserAgent,
			WriteLog:          true,
			TailBytes:         defaultTailBytes,
		},
		Readiness: Readiness{
			PollIntervalMillis: defaultPollIntervalMs,
			TimeoutSeconds:     defaultReadyTimeout,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
