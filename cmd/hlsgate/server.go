package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"hlsgate/internal/application/convert"
	"hlsgate/internal/config"
	"hlsgate/internal/domain/stream"
	"hlsgate/internal/infrastructure/ffmpeg"
	"hlsgate/internal/infrastructure/filesystem"
	"hlsgate/internal/infrastructure/journal"
	httptransport "hlsgate/internal/transport/http"
)

// writeSlack is added to the readiness timeout so a request waiting the full
// bound can still write its response.
const writeSlack = 30 * time.Second

// ffmpegLauncher adapts the ffmpeg supervisor to the orchestrator port.
type ffmpegLauncher struct {
	supervisor *ffmpeg.Supervisor
}

func (l ffmpegLauncher) Start(job stream.Job) (convert.Process, error) {
	proc, err := l.supervisor.Start(job)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// gateway is the wired server: storage, journal, orchestrator and routes.
type gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *filesystem.Store
	journal *journal.Store
	service *convert.Service
	handler http.Handler
}

func newGateway(cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	store := filesystem.NewStore(cfg.Storage.Root, cfg.StaleAfter())
	if err := store.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}

	supervisor := ffmpeg.NewSupervisor(ffmpeg.Options{
		Binary:            cfg.FFmpeg.Binary,
		SegmentSeconds:    cfg.FFmpeg.SegmentSeconds,
		VideoCodec:        cfg.FFmpeg.VideoCodec,
		AudioCodec:        cfg.FFmpeg.AudioCodec,
		AudioChannels:     cfg.FFmpeg.AudioChannels,
		ReconnectDelayMax: cfg.FFmpeg.ReconnectDelayMax,
		UserAgent:         cfg.FFmpeg.UserAgent,
		WriteLog:          cfg.FFmpeg.WriteLog,
		TailBytes:         cfg.FFmpeg.TailBytes,
	}, logger)
	if path, err := supervisor.Available(); err != nil {
		logger.Warn("ffmpeg not found, conversions will fail until it is installed",
			slog.String("binary", cfg.FFmpeg.Binary),
			slog.Any("error", err),
		)
	} else {
		logger.Debug("ffmpeg located", slog.String("path", path))
	}

	g := &gateway{cfg: cfg, logger: logger, store: store}

	var jobJournal convert.Journal
	if jr, err := journal.Open(cfg.Storage.JournalPath); err != nil {
		logger.Warn("job journal unavailable, continuing without it",
			slog.String("path", cfg.Storage.JournalPath),
			slog.Any("error", err),
		)
	} else {
		g.journal = jr
		jobJournal = jr
	}

	g.service = convert.NewService(store, ffmpegLauncher{supervisor: supervisor}, jobJournal, logger, convert.Options{
		ReadyTimeout:   cfg.ReadinessTimeout(),
		PollInterval:   cfg.PollInterval(),
		AllowedSchemes: cfg.Server.AllowedSchemes,
	})
	handler := httptransport.NewHandler(g.service, store, httptransport.Options{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	})
	g.handler = httptransport.NewRouter(handler, cfg.Server.AllowedOrigins)
	return g, nil
}

// Run serves on listener until ctx ends, then drains in-flight requests.
// Running conversions are left alone.
func (g *gateway) Run(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      g.cfg.ReadinessTimeout() + writeSlack,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	g.logger.Info("server listening",
		slog.String("address", listener.Addr().String()),
		slog.String("root", g.cfg.Storage.Root),
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	g.logger.Info("shutting down", slog.Int("active_jobs", len(g.service.Active())))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownGrace())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (g *gateway) Close() error {
	if g.journal == nil {
		return nil
	}
	return g.journal.Close()
}
