package stream

import (
	"path/filepath"
	"time"
)

const (
	PlaylistName   = "index.m3u8"
	SegmentPattern = "seg_%05d.ts"
	LogName        = "ffmpeg.log"
	LockName       = ".lock"
	FailedName     = ".failed"
)

// JobState describes where a job is in its lifecycle.
type JobState string

const (
	StateAbsent   JobState = "absent"
	StateCreating JobState = "creating"
	StateRunning  JobState = "running"
	StateReady    JobState = "ready"
	StateFinished JobState = "finished"
	StateFailed   JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Playable reports whether the job's playlist may be handed to clients.
func (s JobState) Playable() bool {
	return s == StateReady || s == StateFinished
}

// Job is one fingerprint's conversion and the directory it owns.
type Job struct {
	Fingerprint Fingerprint
	Source      string
	Dir         string
	CreatedAt   time.Time
}

// NewJob lays out a job under root.
func NewJob(root string, fp Fingerprint, source string, now time.Time) Job {
	return Job{
		Fingerprint: fp,
		Source:      source,
		Dir:         filepath.Join(root, string(fp)),
		CreatedAt:   now,
	}
}

// PlaylistPath returns the absolute playlist location.
func (j Job) PlaylistPath() string {
	return filepath.Join(j.Dir, PlaylistName)
}

// SegmentPath returns the printf-style segment pattern inside the job directory.
func (j Job) SegmentPath() string {
	return filepath.Join(j.Dir, SegmentPattern)
}

// LogPath returns the diagnostic log location.
func (j Job) LogPath() string {
	return filepath.Join(j.Dir, LogName)
}

// LockPath returns the lease file guarding the directory.
func (j Job) LockPath() string {
	return filepath.Join(j.Dir, LockName)
}

// FailedPath returns the marker left by a producer that failed before the
// stream became playable.
func (j Job) FailedPath() string {
	return filepath.Join(j.Dir, FailedName)
}

// PlaylistURLPath is the server-relative path clients fetch the playlist from.
func PlaylistURLPath(fp Fingerprint) string {
	return "/streams/" + string(fp) + "/" + PlaylistName
}

// JobStatus is the DTO shared by the journal, the status endpoint and the CLI.
type JobStatus struct {
	Fingerprint Fingerprint
	Source      string
	State       JobState
	Segments    int
	Attempts    int
	ExitCode    int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DirState classifies what a job directory on disk represents.
type DirState string

const (
	DirMissing  DirState = "missing"
	DirComplete DirState = "complete"
	DirActive   DirState = "active"
	DirStale    DirState = "stale"
)

// DirInfo summarizes a job directory.
type DirInfo struct {
	Fingerprint Fingerprint
	State       DirState
	Segments    int
	ModifiedAt  time.Time
}
