package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"hlsgate/internal/domain/stream"
)

// Store manages job directories under a single root.
type Store struct {
	RootDir    string
	StaleAfter time.Duration

	now func() time.Time
}

// NewStore creates filesystem adapter rooted at root.
func NewStore(root string, staleAfter time.Duration) *Store {
	return &Store{RootDir: root, StaleAfter: staleAfter, now: time.Now}
}

// EnsureDirs creates the storage root.
func (s *Store) EnsureDirs() error {
	return os.MkdirAll(s.RootDir, 0o755)
}

// Root returns the directory holding all job directories.
func (s *Store) Root() string {
	return s.RootDir
}

// JobDir returns the directory owned by fp.
func (s *Store) JobDir(fp stream.Fingerprint) string {
	return filepath.Join(s.RootDir, string(fp))
}

// Inspect reports the on-disk state of fp's job directory.
//
// A directory whose lease is held, or that changed within StaleAfter, is
// considered active even without a playlist: its producer may be a process
// that outlived a previous server run. A released directory carrying the
// failure marker is stale however recent it is.
func (s *Store) Inspect(fp stream.Fingerprint) (stream.DirInfo, error) {
	dir := s.JobDir(fp)
	info := stream.DirInfo{Fingerprint: fp, State: stream.DirMissing}

	st, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return info, err
	}
	if !st.IsDir() {
		return info, fmt.Errorf("job path %s is not a directory", dir)
	}

	modified, segments := scanDir(dir, st.ModTime())
	info.ModifiedAt = modified
	info.Segments = segments

	if PlaylistReady(filepath.Join(dir, stream.PlaylistName)) {
		info.State = stream.DirComplete
		return info, nil
	}

	held, err := leaseHeld(filepath.Join(dir, stream.LockName))
	if err != nil {
		return info, err
	}
	if held {
		info.State = stream.DirActive
		return info, nil
	}
	if fileExists(filepath.Join(dir, stream.FailedName)) {
		info.State = stream.DirStale
		return info, nil
	}
	if s.now().Sub(modified) < s.StaleAfter {
		info.State = stream.DirActive
		return info, nil
	}
	info.State = stream.DirStale
	return info, nil
}

// Scan inspects every job directory under the root, newest first.
func (s *Store) Scan() ([]stream.DirInfo, error) {
	entries, err := os.ReadDir(s.RootDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]stream.DirInfo, 0, len(entries))
	for _, entry := range entries {
		fp := stream.Fingerprint(entry.Name())
		if !entry.IsDir() || !fp.Valid() {
			continue
		}
		info, err := s.Inspect(fp)
		if err != nil {
			continue
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}

// Claim takes the directory lease for job and clears leftovers from any
// earlier producer. The returned func releases the lease and must be called
// once the producer exits.
func (s *Store) Claim(job stream.Job) (func() error, error) {
	if !isWithinDir(s.RootDir, job.Dir) {
		return nil, errors.New("invalid job directory")
	}
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return nil, err
	}

	lock := flock.New(job.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire job lease: %w", err)
	}
	if !ok {
		return nil, stream.ErrJobBusy
	}

	if err := clearDir(job.Dir); err != nil {
		_ = writeFailed(job, "job directory could not be cleared")
		_ = lock.Unlock()
		return nil, fmt.Errorf("clear job directory: %w", err)
	}
	return lock.Unlock, nil
}

// MarkFailed leaves the failure marker in job's directory so the next lookup
// reclaims it instead of waiting on it. Call it while the lease is held.
func (s *Store) MarkFailed(job stream.Job, reason string) error {
	if !isWithinDir(s.RootDir, job.Dir) {
		return errors.New("invalid job directory")
	}
	return writeFailed(job, reason)
}

// ResolveArtifact validates a requested artifact and returns its absolute path.
func (s *Store) ResolveArtifact(fp stream.Fingerprint, raw string) (string, stream.ArtifactKind, error) {
	if !fp.Valid() {
		return "", stream.ArtifactUnknown, stream.NewError(stream.ErrNotFound, "stream not found", "", nil)
	}
	name, kind, err := stream.NormalizeArtifactName(raw)
	if err != nil {
		return "", stream.ArtifactUnknown, err
	}

	dir := s.JobDir(fp)
	full := filepath.Join(dir, name)
	if !isWithinDir(dir, full) {
		return "", stream.ArtifactUnknown, stream.NewError(stream.ErrNotFound, "artifact not found", "", nil)
	}
	st, err := os.Stat(full)
	if err != nil || st.IsDir() {
		return "", stream.ArtifactUnknown, stream.NewError(stream.ErrNotFound, "artifact not found", "", err)
	}
	return full, kind, nil
}

// PlaylistReady reports whether the playlist exists and is non-empty.
func PlaylistReady(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() > 0
}

func writeFailed(job stream.Job, reason string) error {
	return os.WriteFile(job.FailedPath(), []byte(strings.TrimSpace(reason)+"\n"), 0o644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func leaseHeld(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe job lease: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func scanDir(dir string, modified time.Time) (time.Time, int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return modified, 0
	}
	segments := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".ts") {
			segments++
		}
		if name == stream.LockName {
			continue
		}
		if info, err := entry.Info(); err == nil && info.ModTime().After(modified) {
			modified = info.ModTime()
		}
	}
	return modified, segments
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == stream.LockName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func isWithinDir(basePath, targetPath string) bool {
	baseAbs, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	targetAbs, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return false
	}
	sep := string(os.PathSeparator)
	if rel == ".." || strings.HasPrefix(rel, ".."+sep) {
		return false
	}
	return true
}
