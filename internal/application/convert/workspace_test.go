package convert

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"hlsgate/internal/domain/stream"
	"hlsgate/internal/infrastructure/filesystem"
)

// newDiskService wires the service to the filesystem store with its default
// stale window, so freshly written directories look active by mtime.
func newDiskService(t *testing.T, launcher *stubLauncher) (*Service, *filesystem.Store, *stubJournal) {
	t.Helper()
	store := filesystem.NewStore(t.TempDir(), 120*time.Second)
	if err := store.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	journal := newStubJournal()
	svc := NewService(store, launcher, journal, nil, Options{
		ReadyTimeout: 2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(launcher.killAll)
	return svc, store, journal
}

func TestDiskConvert_CrashThenRetryRelaunches(t *testing.T) {
	launcher := &stubLauncher{}
	launcher.setBehavior(func(_ stream.Job, proc *stubProcess) {
		time.Sleep(10 * time.Millisecond)
		proc.exit(1, errors.New("exit status 1"), "Server returned 404 Not Found")
	})
	svc, store, _ := newDiskService(t, launcher)

	if _, err := svc.Convert(context.Background(), testSource); !errors.Is(err, stream.ErrProcessCrashed) {
		t.Fatalf("expected ErrProcessCrashed, got %v", err)
	}

	fp := fingerprintOf(t, testSource)
	waitFor(t, "failed directory to turn stale", func() bool {
		info, err := store.Inspect(fp)
		return err == nil && info.State == stream.DirStale
	})
	status, err := svc.Status(context.Background(), fp)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != stream.StateFailed {
		t.Fatalf("expected failed status after crash, got %s", status.State)
	}

	launcher.setBehavior(producePlaylistAfter(t, 10*time.Millisecond))
	start := time.Now()
	res, err := svc.Convert(context.Background(), testSource)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected retry to relaunch promptly, took %s", elapsed)
	}
	if !res.Started || launcher.startCount() != 2 {
		t.Fatalf("expected a fresh launch on retry, starts=%d result=%+v", launcher.startCount(), res)
	}
}

func TestDiskConvert_LaunchFailureThenRetryRelaunches(t *testing.T) {
	launcher := &stubLauncher{}
	launcher.setStartErr(stream.NewError(stream.ErrLaunchFailure, "ffmpeg could not be started", "exec: \"ffmpeg\": executable file not found in $PATH", nil))
	svc, _, _ := newDiskService(t, launcher)

	if _, err := svc.Convert(context.Background(), testSource); !errors.Is(err, stream.ErrLaunchFailure) {
		t.Fatalf("expected ErrLaunchFailure, got %v", err)
	}

	launcher.setStartErr(nil)
	launcher.setBehavior(producePlaylistAfter(t, 10*time.Millisecond))
	start := time.Now()
	res, err := svc.Convert(context.Background(), testSource)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected retry to launch promptly, took %s", elapsed)
	}
	if !res.Started || launcher.startCount() != 1 {
		t.Fatalf("expected the retry to launch ffmpeg, starts=%d result=%+v", launcher.startCount(), res)
	}
}

func TestDiskConvert_RemovedPlaylistRelaunchesInRecentDirectory(t *testing.T) {
	launcher := &stubLauncher{}
	launcher.setBehavior(func(job stream.Job, proc *stubProcess) {
		writePlaylist(t, job)
		proc.exit(0, nil, "")
	})
	svc, _, journal := newDiskService(t, launcher)

	if _, err := svc.Convert(context.Background(), testSource); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	fp := fingerprintOf(t, testSource)
	waitFor(t, "finished record", func() bool {
		states := journal.states(fp)
		return len(states) > 0 && states[len(states)-1] == stream.StateFinished
	})

	job := stream.NewJob(svc.ws.Root(), fp, testSource, time.Now())
	if err := os.Remove(job.PlaylistPath()); err != nil {
		t.Fatalf("remove playlist: %v", err)
	}
	res, err := svc.Convert(context.Background(), testSource)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.Started || launcher.startCount() != 2 {
		t.Fatalf("expected a relaunch after the playlist vanished, starts=%d", launcher.startCount())
	}
}
