package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"hlsgate/internal/domain/stream"
	"hlsgate/internal/logging"
)

const (
	defaultReadyTimeout = 18 * time.Second
	journalWriteTimeout = 5 * time.Second
)

// Options tunes the orchestrator.
type Options struct {
	ReadyTimeout time.Duration
	PollInterval time.Duration
	// AllowedSchemes limits source URL schemes. Empty allows any scheme.
	AllowedSchemes []string
	// Gate overrides the default polling gate.
	Gate Gate
}

// Result describes a stream handed out by Convert.
type Result struct {
	Fingerprint stream.Fingerprint
	// PlaylistPath is the server-relative playlist URL.
	PlaylistPath string
	State        stream.JobState
	// Started is true when this call launched the conversion.
	Started bool
}

// Service orchestrates conversions: dedup by fingerprint, launch, wait for
// the first playable output.
type Service struct {
	ws       Workspace
	launcher Launcher
	journal  Journal
	gate     Gate
	logger   *slog.Logger
	jobs     *jobStore
	timeout  time.Duration
	schemes  map[string]struct{}
}

// NewService creates the conversion use-case service with injected ports.
// journal may be nil.
func NewService(ws Workspace, launcher Launcher, journal Journal, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	gate := opts.Gate
	if gate == nil {
		gate = PollingGate{Interval: opts.PollInterval}
	}
	schemes := make(map[string]struct{}, len(opts.AllowedSchemes))
	for _, scheme := range opts.AllowedSchemes {
		scheme = strings.ToLower(strings.TrimSpace(scheme))
		if scheme != "" {
			schemes[scheme] = struct{}{}
		}
	}

	s := &Service{
		ws:       ws,
		launcher: launcher,
		journal:  journal,
		gate:     gate,
		logger:   logging.Component(logger, "convert"),
		timeout:  timeout,
		schemes:  schemes,
	}
	s.jobs = newJobStore(ws, s.record)
	return s
}

// Convert resolves rawURL to a job, launching one when none exists, and waits
// until the playlist is playable.
func (s *Service) Convert(ctx context.Context, rawURL string) (Result, error) {
	source, err := stream.NormalizeSource(rawURL)
	if err != nil {
		return Result{}, err
	}
	if err := s.checkScheme(source); err != nil {
		return Result{}, err
	}
	fp, err := stream.ResolveFingerprint(source)
	if err != nil {
		return Result{}, err
	}

	logger := logging.WithContext(ctx, s.logger).With(slog.String(logging.FieldFingerprint, fp.String()))

	entry, isNew, err := s.jobs.getOrCreate(fp, source)
	if err != nil {
		return Result{}, fmt.Errorf("inspect job directory: %w", err)
	}
	result := Result{
		Fingerprint:  fp,
		PlaylistPath: stream.PlaylistURLPath(fp),
		Started:      isNew,
	}

	if isNew {
		logger.Info("conversion requested", slog.String("source", source))
		entry.emit(entry.status())
		if err := s.launch(entry, logger); err != nil {
			logger.Error("conversion launch failed", slog.Any("error", err))
			return result, err
		}
	}

	if state := entry.State(); state.Playable() {
		result.State = state
		return result, nil
	}

	started := time.Now()
	if err := s.gate.AwaitReady(ctx, entry, s.timeout); err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			logger.Info("client stopped waiting for stream", slog.Any("error", err))
		case errors.Is(err, stream.ErrReadinessTimeout):
			logger.Warn("stream not ready in time", slog.Duration("timeout", s.timeout))
		default:
			logger.Error("conversion failed before stream was ready",
				slog.Any("error", err),
				slog.String("details", stream.Details(err)),
			)
		}
		return result, err
	}

	result.State = entry.State()
	logger.Debug("stream ready", slog.Duration("waited", time.Since(started)))
	return result, nil
}

// Status reports the live or last known state of a job.
func (s *Service) Status(ctx context.Context, fp stream.Fingerprint) (stream.JobStatus, error) {
	if !fp.Valid() {
		return stream.JobStatus{}, stream.NewError(stream.ErrNotFound, "job not found", "", nil)
	}
	info, err := s.ws.Inspect(fp)
	if err != nil {
		return stream.JobStatus{}, fmt.Errorf("inspect job directory: %w", err)
	}

	status := stream.JobStatus{Fingerprint: fp, State: stream.StateAbsent, ExitCode: -1}
	found := false
	if s.journal != nil {
		recorded, ok, err := s.journal.Get(ctx, fp)
		if err != nil {
			s.logger.Warn("journal lookup failed", slog.String(logging.FieldFingerprint, fp.String()), slog.Any("error", err))
		} else if ok {
			status = recorded
			found = true
		}
	}

	if entry, ok := s.jobs.lookup(fp); ok {
		live := entry.status()
		live.Attempts = status.Attempts
		status = live
		found = true
	} else {
		switch info.State {
		case stream.DirComplete:
			status.State = stream.StateFinished
			found = true
		case stream.DirActive:
			status.State = stream.StateRunning
			found = true
		case stream.DirStale:
			if !status.State.Terminal() {
				status.State = stream.StateFailed
				status.Error = "abandoned by its producer"
			}
			found = true
		case stream.DirMissing:
			if status.State != stream.StateFailed {
				status.State = stream.StateAbsent
			}
		}
	}
	if !found {
		return stream.JobStatus{}, stream.NewError(stream.ErrNotFound, "job not found", "", nil)
	}

	status.Fingerprint = fp
	status.Segments = info.Segments
	return status, nil
}

// Active lists jobs this process is currently producing.
func (s *Service) Active() []stream.JobStatus {
	entries := s.jobs.snapshot()
	out := make([]stream.JobStatus, 0, len(entries))
	for _, e := range entries {
		status := e.status()
		if status.State.Terminal() {
			continue
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Service) launch(e *jobEntry, logger *slog.Logger) error {
	release, err := s.ws.Claim(e.job)
	if errors.Is(err, stream.ErrJobBusy) {
		s.jobs.evict(e)
		e.adopt()
		logger.Info("job directory held by another producer, waiting on its output")
		return nil
	}
	if err != nil {
		failure := stream.NewError(stream.ErrLaunchFailure, "job directory could not be prepared", err.Error(), err)
		s.jobs.evict(e)
		e.fail(failure)
		return failure
	}

	abandon := func(cause error) {
		if err := s.ws.MarkFailed(e.job, stream.Message(cause)); err != nil {
			logger.Warn("could not mark job directory failed", slog.Any("error", err))
		}
	}

	proc, err := s.launcher.Start(e.job)
	if err != nil {
		failure := err
		if !errors.Is(err, stream.ErrLaunchFailure) {
			failure = stream.NewError(stream.ErrLaunchFailure, "ffmpeg could not be started", err.Error(), err)
		}
		abandon(failure)
		_ = release()
		s.jobs.evict(e)
		e.fail(failure)
		return failure
	}

	e.markRunning(proc, release, abandon)
	go s.supervise(e, proc, logger)
	return nil
}

func (s *Service) supervise(e *jobEntry, proc Process, logger *slog.Logger) {
	<-proc.Done()

	exitErr := proc.Err()
	message := "ffmpeg exited without producing a playlist"
	if exitErr != nil {
		message = "ffmpeg exited before the stream became ready"
	}
	crash := stream.NewError(stream.ErrProcessCrashed, message, proc.Tail(), exitErr)

	state := e.finish(proc.ExitCode(), exitErr, playlistReady(e.PlaylistPath()), crash)
	if state == stream.StateFailed {
		s.jobs.evict(e)
		logger.Error("conversion failed",
			slog.Int("exit_code", proc.ExitCode()),
			slog.Any("error", exitErr),
			slog.String("details", proc.Tail()),
		)
		return
	}
	if exitErr != nil {
		logger.Warn("conversion ended with error after stream was ready",
			slog.Int("exit_code", proc.ExitCode()),
			slog.Any("error", exitErr),
		)
		return
	}
	logger.Info("conversion finished", slog.Int("exit_code", proc.ExitCode()))
}

func (s *Service) checkScheme(source string) error {
	if len(s.schemes) == 0 {
		return nil
	}
	parsed, err := url.Parse(source)
	if err != nil {
		return stream.NewError(stream.ErrInvalidRequest, "URL is malformed", "", err)
	}
	if _, ok := s.schemes[strings.ToLower(parsed.Scheme)]; !ok {
		return stream.NewError(stream.ErrInvalidRequest, fmt.Sprintf("URL scheme %q is not supported", parsed.Scheme), "", nil)
	}
	return nil
}

// record writes status to the journal. Journal trouble never fails a job.
func (s *Service) record(status stream.JobStatus) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := s.journal.Record(ctx, status); err != nil {
		s.logger.Warn("journal write failed",
			slog.String(logging.FieldFingerprint, status.Fingerprint.String()),
			slog.String("state", string(status.State)),
			slog.Any("error", err),
		)
	}
}
