package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hlsgate/internal/domain/stream"
)

const testFingerprint = stream.Fingerprint("0123456789abcdef0123456789abcdef")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordTracksTransitionsAndAttempts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	steps := []stream.JobStatus{
		{Fingerprint: testFingerprint, Source: "https://example.com/a.mp4", State: stream.StateCreating, CreatedAt: created, UpdatedAt: created, ExitCode: -1},
		{Fingerprint: testFingerprint, Source: "https://example.com/a.mp4", State: stream.StateRunning, UpdatedAt: created.Add(time.Second), ExitCode: -1},
		{Fingerprint: testFingerprint, Source: "https://example.com/a.mp4", State: stream.StateFailed, UpdatedAt: created.Add(2 * time.Second), ExitCode: 1, Error: "process crashed"},
		{Fingerprint: testFingerprint, Source: "https://example.com/a.mp4", State: stream.StateCreating, CreatedAt: created.Add(time.Minute), UpdatedAt: created.Add(time.Minute), ExitCode: -1},
	}
	for _, step := range steps {
		if err := store.Record(ctx, step); err != nil {
			t.Fatalf("Record(%s): %v", step.State, err)
		}
	}

	got, ok, err := store.Get(ctx, testFingerprint)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.State != stream.StateCreating || got.Attempts != 2 {
		t.Fatalf("expected second attempt in creating, got %+v", got)
	}
	if !got.CreatedAt.Equal(created.Add(time.Minute)) {
		t.Fatalf("expected creation time of latest attempt, got %s", got.CreatedAt)
	}
	if got.Error != "" || got.ExitCode != -1 {
		t.Fatalf("expected error cleared on retry, got %+v", got)
	}
}

func TestGetUnknownFingerprint(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.Get(context.Background(), testFingerprint)
	if err != nil || ok {
		t.Fatalf("expected no row, got ok=%v err=%v", ok, err)
	}
}

func TestListOrdersByMostRecentUpdate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	other := stream.Fingerprint("ffffffffffffffffffffffffffffffff")
	_ = store.Record(ctx, stream.JobStatus{Fingerprint: testFingerprint, Source: "a", State: stream.StateFinished, UpdatedAt: base})
	_ = store.Record(ctx, stream.JobStatus{Fingerprint: other, Source: "b", State: stream.StateRunning, UpdatedAt: base.Add(time.Minute)})

	rows, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 || rows[0].Fingerprint != other {
		t.Fatalf("unexpected order: %+v", rows)
	}

	limited, err := store.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected one row with limit, got %d err=%v", len(limited), err)
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := retryOnBusy(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single attempt, got calls=%d err=%v", calls, err)
	}

	calls = 0
	err = retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after retries, got calls=%d err=%v", calls, err)
	}
}
