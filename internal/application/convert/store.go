package convert

import (
	"os"
	"sync"
	"time"

	"hlsgate/internal/domain/stream"
)

// jobEntry is the registry's view of one fingerprint. The supervisor goroutine
// and every waiting request share it.
type jobEntry struct {
	job    stream.Job
	notify func(stream.JobStatus)

	mu       sync.Mutex
	state    stream.JobState
	err      error
	proc     Process
	release  func() error
	abandon  func(error)
	exitCode int
	updated  time.Time

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}

	emitMu  sync.Mutex
	settled bool
}

func newJobEntry(job stream.Job, state stream.JobState, notify func(stream.JobStatus)) *jobEntry {
	e := &jobEntry{
		job:      job,
		notify:   notify,
		state:    state,
		exitCode: -1,
		updated:  job.CreatedAt,
		ready:    make(chan struct{}),
		exited:   make(chan struct{}),
	}
	if state.Playable() {
		e.readyOnce.Do(func() { close(e.ready) })
	}
	return e
}

func (e *jobEntry) PlaylistPath() string { return e.job.PlaylistPath() }

func (e *jobEntry) Ready() <-chan struct{} { return e.ready }

// Exited closes once the local process has exited. Adopted entries have no
// local process and never close it.
func (e *jobEntry) Exited() <-chan struct{} { return e.exited }

func (e *jobEntry) State() stream.JobState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Outcome is the terminal result once Exited has fired.
func (e *jobEntry) Outcome() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Playable() {
		return nil
	}
	return e.err
}

// MarkReady moves a running job to ready. Calling it on a ready or finished
// job is a no-op; on a failed job it returns the failure.
func (e *jobEntry) MarkReady() error {
	e.mu.Lock()
	switch e.state {
	case stream.StateReady, stream.StateFinished:
		e.mu.Unlock()
		return nil
	case stream.StateFailed:
		err := e.err
		e.mu.Unlock()
		return err
	}
	e.state = stream.StateReady
	e.updated = time.Now()
	e.readyOnce.Do(func() { close(e.ready) })
	status := e.statusLocked()
	e.mu.Unlock()

	e.emit(status)
	return nil
}

// markRunning records the local process. abandon runs before release when
// the job fails.
func (e *jobEntry) markRunning(proc Process, release func() error, abandon func(error)) {
	e.mu.Lock()
	e.state = stream.StateRunning
	e.proc = proc
	e.release = release
	e.abandon = abandon
	e.updated = time.Now()
	status := e.statusLocked()
	e.mu.Unlock()

	e.emit(status)
}

// adopt turns the entry into a watcher of a directory some other producer owns.
func (e *jobEntry) adopt() {
	e.mu.Lock()
	e.state = stream.StateRunning
	e.updated = time.Now()
	status := e.statusLocked()
	e.mu.Unlock()

	e.emit(status)
}

// fail records a failure that happened before a process was running.
func (e *jobEntry) fail(err error) {
	e.mu.Lock()
	e.state = stream.StateFailed
	e.err = err
	e.updated = time.Now()
	status := e.statusLocked()
	e.mu.Unlock()

	e.emit(status)
	close(e.exited)
}

// finish settles the entry after its process exited. A job that reached ready
// stays playable whatever the exit status; otherwise a clean exit with a
// playlist finishes and anything else fails with crashErr.
func (e *jobEntry) finish(exitCode int, exitErr error, playlistOK bool, crashErr error) stream.JobState {
	e.mu.Lock()
	e.exitCode = exitCode
	e.updated = time.Now()
	if e.state == stream.StateReady || (exitErr == nil && playlistOK) {
		e.state = stream.StateFinished
		e.readyOnce.Do(func() { close(e.ready) })
	} else {
		e.state = stream.StateFailed
		e.err = crashErr
	}
	release, abandon := e.release, e.abandon
	e.release, e.abandon = nil, nil
	status := e.statusLocked()
	if exitErr != nil && e.state == stream.StateFinished {
		status.Error = exitErr.Error()
	}
	state := e.state
	e.mu.Unlock()

	if state == stream.StateFailed && abandon != nil {
		abandon(crashErr)
	}
	if release != nil {
		_ = release()
	}
	e.emit(status)
	close(e.exited)
	return state
}

func (e *jobEntry) status() stream.JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *jobEntry) statusLocked() stream.JobStatus {
	status := stream.JobStatus{
		Fingerprint: e.job.Fingerprint,
		Source:      e.job.Source,
		State:       e.state,
		ExitCode:    e.exitCode,
		CreatedAt:   e.job.CreatedAt,
		UpdatedAt:   e.updated,
	}
	if e.err != nil {
		status.Error = stream.Message(e.err)
	}
	return status
}

// emit publishes status unless a terminal status already went out, so a late
// ready never overwrites finished.
func (e *jobEntry) emit(status stream.JobStatus) {
	if e.notify == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if e.settled {
		return
	}
	e.settled = status.State.Terminal()
	e.notify(status)
}

// jobStore is the fingerprint registry. Only entries with a local producer
// live in the map; adopted directories are re-inspected on every lookup.
type jobStore struct {
	mu     sync.Mutex
	jobs   map[stream.Fingerprint]*jobEntry
	ws     Workspace
	notify func(stream.JobStatus)
	now    func() time.Time
}

func newJobStore(ws Workspace, notify func(stream.JobStatus)) *jobStore {
	return &jobStore{
		jobs:   make(map[stream.Fingerprint]*jobEntry),
		ws:     ws,
		notify: notify,
		now:    time.Now,
	}
}

// getOrCreate returns the entry for fp, creating one when no usable job
// exists. Exactly one caller per job sees isNew and must launch it.
//
// The directory is inspected under the registry lock so create-or-join stays
// atomic. Lookups for other fingerprints wait on that inspection, which is a
// directory read plus one flock probe.
func (s *jobStore) getOrCreate(fp stream.Fingerprint, source string) (*jobEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ownDir: this process produced the directory, so only the lease can
	// prove another producer, not its mtime.
	ownDir := false
	if e, ok := s.jobs[fp]; ok {
		if s.usable(e) {
			return e, false, nil
		}
		delete(s.jobs, fp)
		ownDir = true
	}

	info, err := s.ws.Inspect(fp)
	if err != nil {
		return nil, false, err
	}

	job := stream.NewJob(s.ws.Root(), fp, source, s.now())
	switch {
	case info.State == stream.DirComplete:
		return newJobEntry(job, stream.StateFinished, nil), false, nil
	case info.State == stream.DirActive && !ownDir:
		return newJobEntry(job, stream.StateRunning, nil), false, nil
	default:
		e := newJobEntry(job, stream.StateCreating, s.notify)
		s.jobs[fp] = e
		return e, true, nil
	}
}

func (s *jobStore) lookup(fp stream.Fingerprint) (*jobEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[fp]
	return e, ok
}

// evict drops e if it is still the registered entry for its fingerprint.
func (s *jobStore) evict(e *jobEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.jobs[e.job.Fingerprint]; ok && cur == e {
		delete(s.jobs, e.job.Fingerprint)
	}
}

func (s *jobStore) snapshot() []*jobEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*jobEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e)
	}
	return out
}

func (s *jobStore) usable(e *jobEntry) bool {
	state := e.State()
	switch {
	case state == stream.StateFailed:
		return false
	case state.Playable():
		return playlistReady(e.PlaylistPath())
	default:
		return true
	}
}

func playlistReady(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() > 0
}
