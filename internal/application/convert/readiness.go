package convert

import (
	"context"
	"fmt"
	"time"

	"hlsgate/internal/domain/stream"
)

const defaultPollInterval = 500 * time.Millisecond

// Watch is what the readiness gate observes for one job.
type Watch interface {
	PlaylistPath() string
	// Ready closes once any observer has seen the playlist.
	Ready() <-chan struct{}
	// Exited closes once the producing process is gone.
	Exited() <-chan struct{}
	// Outcome reports the terminal result after Exited fired.
	Outcome() error
	MarkReady() error
}

// Gate decides when a job has produced enough output to hand out its link.
type Gate interface {
	AwaitReady(ctx context.Context, w Watch, timeout time.Duration) error
}

// PollingGate checks the playlist on a fixed interval.
type PollingGate struct {
	Interval time.Duration
	// Probe reports whether the playlist is usable. Defaults to a
	// present-and-non-empty check.
	Probe func(path string) bool
}

// AwaitReady blocks until the playlist exists, the process exits, timeout
// elapses or ctx ends. Cancelling ctx never affects the process.
func (g PollingGate) AwaitReady(ctx context.Context, w Watch, timeout time.Duration) error {
	interval := g.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	probe := g.Probe
	if probe == nil {
		probe = playlistReady
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if probe(w.PlaylistPath()) {
			return w.MarkReady()
		}

		select {
		case <-w.Ready():
			return nil
		case <-w.Exited():
			if probe(w.PlaylistPath()) {
				return w.MarkReady()
			}
			return w.Outcome()
		case <-deadline.C:
			return stream.NewError(
				stream.ErrReadinessTimeout,
				fmt.Sprintf("stream was not ready within %s", timeout),
				"",
				nil,
			)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
