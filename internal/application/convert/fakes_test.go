package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hlsgate/internal/domain/stream"
)

// stubWorkspace mirrors the filesystem store's classification: a directory
// claimed recently reads as active until its producer marks it failed.
type stubWorkspace struct {
	root string

	mu       sync.Mutex
	active   map[stream.Fingerprint]bool
	claimed  map[stream.Fingerprint]bool
	failed   map[stream.Fingerprint]string
	busy     bool
	claimErr error
	claims   int
	releases int
}

func newStubWorkspace(t *testing.T) *stubWorkspace {
	t.Helper()
	return &stubWorkspace{
		root:    t.TempDir(),
		active:  make(map[stream.Fingerprint]bool),
		claimed: make(map[stream.Fingerprint]bool),
		failed:  make(map[stream.Fingerprint]string),
	}
}

func (w *stubWorkspace) Root() string { return w.root }

func (w *stubWorkspace) Inspect(fp stream.Fingerprint) (stream.DirInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info := stream.DirInfo{Fingerprint: fp, State: stream.DirMissing}
	dir := filepath.Join(w.root, string(fp))
	if playlistReady(filepath.Join(dir, stream.PlaylistName)) {
		info.State = stream.DirComplete
		return info, nil
	}
	if w.active[fp] {
		info.State = stream.DirActive
		return info, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return info, nil
	}
	if _, failed := w.failed[fp]; failed || !w.claimed[fp] {
		info.State = stream.DirStale
		return info, nil
	}
	info.State = stream.DirActive
	return info, nil
}

func (w *stubWorkspace) Claim(job stream.Job) (func() error, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return nil, stream.ErrJobBusy
	}
	if w.claimErr != nil {
		return nil, w.claimErr
	}
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return nil, err
	}
	w.claims++
	w.claimed[job.Fingerprint] = true
	delete(w.failed, job.Fingerprint)
	return func() error {
		w.mu.Lock()
		w.releases++
		w.mu.Unlock()
		return nil
	}, nil
}

func (w *stubWorkspace) MarkFailed(job stream.Job, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed[job.Fingerprint] = reason
	return nil
}

func (w *stubWorkspace) failureReason(fp stream.Fingerprint) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	reason, ok := w.failed[fp]
	return reason, ok
}

func (w *stubWorkspace) releaseCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.releases
}

type stubProcess struct {
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
	exitCode int
	tail     string
}

func newStubProcess() *stubProcess {
	return &stubProcess{done: make(chan struct{}), exitCode: -1}
}

func (p *stubProcess) Done() <-chan struct{} { return p.done }

func (p *stubProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *stubProcess) Tail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tail
}

func (p *stubProcess) PID() int { return 4242 }

func (p *stubProcess) exit(code int, err error, tail string) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.err = err
		p.tail = tail
		p.mu.Unlock()
		close(p.done)
	})
}

// stubLauncher hands every started job to behave on its own goroutine.
type stubLauncher struct {
	mu       sync.Mutex
	starts   int
	startErr error
	procs    []*stubProcess
	behave   func(job stream.Job, proc *stubProcess)
}

func (l *stubLauncher) Start(job stream.Job) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return nil, l.startErr
	}
	l.starts++
	proc := newStubProcess()
	l.procs = append(l.procs, proc)
	if l.behave != nil {
		go l.behave(job, proc)
	}
	return proc, nil
}

func (l *stubLauncher) startCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts
}

func (l *stubLauncher) setBehavior(fn func(job stream.Job, proc *stubProcess)) {
	l.mu.Lock()
	l.behave = fn
	l.mu.Unlock()
}

func (l *stubLauncher) setStartErr(err error) {
	l.mu.Lock()
	l.startErr = err
	l.mu.Unlock()
}

// killAll stops every stub process still running.
func (l *stubLauncher) killAll() {
	l.mu.Lock()
	procs := append([]*stubProcess(nil), l.procs...)
	l.mu.Unlock()
	for _, proc := range procs {
		proc.exit(-1, errors.New("signal: killed"), "")
	}
}

type stubJournal struct {
	mu      sync.Mutex
	records []stream.JobStatus
	latest  map[stream.Fingerprint]stream.JobStatus
	err     error
}

func newStubJournal() *stubJournal {
	return &stubJournal{latest: make(map[stream.Fingerprint]stream.JobStatus)}
}

func (j *stubJournal) Record(_ context.Context, status stream.JobStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, status)
	if status.State == stream.StateCreating {
		status.Attempts = j.latest[status.Fingerprint].Attempts + 1
	} else {
		status.Attempts = j.latest[status.Fingerprint].Attempts
	}
	j.latest[status.Fingerprint] = status
	return nil
}

func (j *stubJournal) Get(_ context.Context, fp stream.Fingerprint) (stream.JobStatus, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	status, ok := j.latest[fp]
	return status, ok, nil
}

func (j *stubJournal) states(fp stream.Fingerprint) []stream.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []stream.JobState
	for _, rec := range j.records {
		if rec.Fingerprint == fp {
			out = append(out, rec.State)
		}
	}
	return out
}

func writePlaylist(t *testing.T, job stream.Job) {
	t.Helper()
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		t.Errorf("mkdir: %v", err)
		return
	}
	if err := os.WriteFile(job.PlaylistPath(), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Errorf("write playlist: %v", err)
	}
}

func fingerprintOf(t *testing.T, source string) stream.Fingerprint {
	t.Helper()
	fp, err := stream.ResolveFingerprint(source)
	if err != nil {
		t.Fatalf("ResolveFingerprint: %v", err)
	}
	return fp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
