package ffmpeg

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"hlsgate/internal/domain/stream"
	"hlsgate/internal/logging"
)

// outputDrainDelay bounds how long Wait keeps reading output after ffmpeg exits.
const outputDrainDelay = 2 * time.Second

// Options configures how the transcoder is invoked.
type Options struct {
	Binary            string
	SegmentSeconds    int
	VideoCodec        string
	AudioCodec        string
	AudioChannels     int
	ReconnectDelayMax int
	UserAgent         string
	WriteLog          bool
	TailBytes         int
}

// Supervisor launches one ffmpeg process per job and hands back a handle to it.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
}

// NewSupervisor creates the ffmpeg adapter.
func NewSupervisor(opts Options, logger *slog.Logger) *Supervisor {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 10
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = "copy"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "aac"
	}
	if opts.AudioChannels <= 0 {
		opts.AudioChannels = 2
	}
	if opts.TailBytes <= 0 {
		opts.TailBytes = 8 * 1024
	}
	return &Supervisor{opts: opts, logger: logging.Component(logger, "ffmpeg")}
}

// Available resolves the configured binary on PATH.
func (s *Supervisor) Available() (string, error) {
	return exec.LookPath(s.opts.Binary)
}

// BuildArgs returns the ffmpeg argument list for job.
//
// Subtitle and data tracks are dropped; they add failure modes without
// helping playback. The playlist is written in VOD mode so players show the
// full duration and allow seeking.
func (s *Supervisor) BuildArgs(job stream.Job) []string {
	args := []string{"-nostdin", "-y", "-hide_banner", "-loglevel", "warning"}

	if isNetworkSource(job.Source) {
		if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
			args = append(args, "-user_agent", ua)
		}
		args = append(args,
			"-headers", "Accept: */*\r\nConnection: keep-alive\r\n",
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_on_network_error", "1",
			"-reconnect_delay_max", strconv.Itoa(s.opts.ReconnectDelayMax),
		)
	}

	args = append(args,
		"-i", job.Source,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", s.opts.VideoCodec,
	)
	if s.opts.VideoCodec != "copy" {
		args = append(args, "-preset", "veryfast", "-pix_fmt", "yuv420p")
	}
	args = append(args,
		"-c:a", s.opts.AudioCodec,
		"-ac", strconv.Itoa(s.opts.AudioChannels),
		"-sn",
		"-dn",
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.opts.SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_flags", "temp_file",
		"-hls_segment_filename", job.SegmentPath(),
		job.PlaylistPath(),
	)
	return args
}

// Start launches ffmpeg for job and returns without waiting for it.
// The process is not tied to any request and runs until ffmpeg exits.
func (s *Supervisor) Start(job stream.Job) (*Process, error) {
	args := s.BuildArgs(job)

	tail := newTailBuffer(s.opts.TailBytes)
	var out io.Writer = tail
	var logFile *os.File
	if s.opts.WriteLog {
		f, err := os.OpenFile(job.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			s.logger.Warn("diagnostic log unavailable", logging.FieldFingerprint, job.Fingerprint.String(), "error", err)
		} else {
			logFile = f
			fmt.Fprintf(logFile, "# %s %s\n", s.opts.Binary, strings.Join(args, " "))
			out = io.MultiWriter(tail, logFile)
		}
	}

	cmd := exec.Command(s.opts.Binary, args...)
	cmd.Dir = job.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = outputDrainDelay
	detach(cmd)

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			fmt.Fprintf(logFile, "# launch failed: %v\n", err)
			_ = logFile.Close()
		}
		return nil, stream.NewError(stream.ErrLaunchFailure, "ffmpeg could not be started", err.Error(), err)
	}

	proc := &Process{
		cmd:       cmd,
		tail:      tail,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	go proc.wait(logFile)

	s.logger.Info("ffmpeg started",
		logging.FieldFingerprint, job.Fingerprint.String(),
		"pid", proc.PID(),
	)
	return proc, nil
}

func isNetworkSource(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
