package convert

import (
	"context"

	"hlsgate/internal/domain/stream"
)

// Workspace is an application port for job directories on disk.
type Workspace interface {
	Root() string
	Inspect(fp stream.Fingerprint) (stream.DirInfo, error)
	// Claim takes the single-writer lease on the job directory and clears
	// leftovers. It returns stream.ErrJobBusy when another producer holds it.
	Claim(job stream.Job) (release func() error, err error)
	// MarkFailed flags a claimed directory whose producer failed, so later
	// lookups reclaim it instead of waiting on it.
	MarkFailed(job stream.Job, reason string) error
}

// Launcher starts the external transcoder for a job without waiting for it.
type Launcher interface {
	Start(job stream.Job) (Process, error)
}

// Process is a handle to a running transcoder.
type Process interface {
	Done() <-chan struct{}
	Err() error
	ExitCode() int
	Tail() string
	PID() int
}

// Journal is an application port for the job audit trail.
type Journal interface {
	Record(ctx context.Context, status stream.JobStatus) error
	Get(ctx context.Context, fp stream.Fingerprint) (stream.JobStatus, bool, error)
}
