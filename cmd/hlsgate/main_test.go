package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"hlsgate/internal/config"
	"hlsgate/internal/domain/stream"
	"hlsgate/internal/infrastructure/journal"
	"hlsgate/internal/logging"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// isolateEnv points storage at a temp dir and clears other overrides.
func isolateEnv(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	for _, key := range []string{"PORT", "HLSGATE_CONFIG", "HLSGATE_ADDR", "HLSGATE_PUBLIC_URL", "HLSGATE_FFMPEG", "HLSGATE_READY_TIMEOUT", "HLSGATE_LOG_LEVEL", "HLSGATE_LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	t.Setenv("HLSGATE_ROOT", filepath.Join(base, "streams"))
	t.Setenv("HLSGATE_JOURNAL", filepath.Join(base, "jobs.db"))
	return base
}

func writeFFmpegStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg-stub")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestFingerprintCommand(t *testing.T) {
	const source = "https://cdn.example.com/show/episode-01.mkv"
	fp, err := stream.ResolveFingerprint(source)
	if err != nil {
		t.Fatalf("ResolveFingerprint: %v", err)
	}

	out, err := runCLI(t, "fingerprint", "  "+source+"  ")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	requireContains(t, out, string(fp))
	requireContains(t, out, stream.PlaylistURLPath(fp))

	if _, err := runCLI(t, "fingerprint", "   "); err == nil {
		t.Fatal("expected an error for an empty URL")
	}
}

func TestConfigShowAndValidate(t *testing.T) {
	base := isolateEnv(t)

	out, err := runCLI(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[server]")
	requireContains(t, out, filepath.Join(base, "streams"))

	out, err = runCLI(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	bad := filepath.Join(base, "bad.toml")
	if err := os.WriteFile(bad, []byte("[logging]\nlevel = \"loud\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := runCLI(t, "--config", bad, "config", "validate"); err == nil {
		t.Fatal("expected invalid log level to fail validation")
	}
}

func TestJobsCommandListsJournal(t *testing.T) {
	base := isolateEnv(t)

	out, err := runCLI(t, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, "No jobs recorded")

	const source = "https://cdn.example.com/show/episode-02.mkv"
	fp, _ := stream.ResolveFingerprint(source)
	jr, err := journal.Open(filepath.Join(base, "jobs.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	now := time.Now()
	for _, state := range []stream.JobState{stream.StateCreating, stream.StateRunning, stream.StateFinished} {
		status := stream.JobStatus{Fingerprint: fp, Source: source, State: state, ExitCode: -1, CreatedAt: now, UpdatedAt: now}
		if state == stream.StateFinished {
			status.ExitCode = 0
		}
		if err := jr.Record(context.Background(), status); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := jr.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	dir := filepath.Join(base, "streams", string(fp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stream.PlaylistName), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	out, err = runCLI(t, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, string(fp))
	requireContains(t, out, "finished")
	requireContains(t, out, source)

	out, err = runCLI(t, "jobs", "scan")
	if err != nil {
		t.Fatalf("jobs scan: %v", err)
	}
	requireContains(t, out, string(fp))
	requireContains(t, out, string(stream.DirComplete))
}

func newTestGateway(t *testing.T, stub string) (string, func() error) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Root = filepath.Join(base, "streams")
	cfg.Storage.JournalPath = filepath.Join(base, "jobs.db")
	cfg.FFmpeg.Binary = stub
	cfg.Readiness.PollIntervalMillis = 20
	cfg.Readiness.TimeoutSeconds = 5

	gw, err := newGateway(&cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gw.Run(ctx, listener)
	}()

	stop := func() error {
		cancel()
		defer gw.Close()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
			return nil
		}
	}
	return "http://" + listener.Addr().String(), stop
}

func postConvert(t *testing.T, base, source string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(base+"/convert", "application/json", strings.NewReader(`{"url":"`+source+`"}`))
	if err != nil {
		t.Fatalf("POST /convert: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, body
}

func TestGatewayConvertsAndServesPlaylist(t *testing.T) {
	stub := writeFFmpegStub(t, `dir=$(dirname "$last")
printf 'segment' > "$dir/seg_00000.ts"
printf '#EXTM3U\n#EXTINF:10.0,\nseg_00000.ts\n' > "$last"`)
	base, stop := newTestGateway(t, stub)

	code, body := postConvert(t, base, "https://cdn.example.com/show/episode-03.mkv")
	if code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("unexpected response %d: %v", code, body)
	}
	link := body["hls_link"]
	if !strings.HasPrefix(link, base+"/streams/") || !strings.HasSuffix(link, "/index.m3u8") {
		t.Fatalf("unexpected link %q", link)
	}

	resp, err := http.Get(link)
	if err != nil {
		t.Fatalf("GET playlist: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(data), "#EXTM3U") {
		t.Fatalf("unexpected playlist response %d: %q", resp.StatusCode, data)
	}

	resp, err = http.Get(strings.TrimSuffix(link, "index.m3u8") + "seg_00000.ts")
	if err != nil {
		t.Fatalf("GET segment: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "video/mp2t" {
		t.Fatalf("unexpected segment response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	if err := stop(); err != nil {
		t.Fatalf("Run returned error on shutdown: %v", err)
	}
}

func TestGatewayReportsCrashAndRelaunchesOnRetry(t *testing.T) {
	stub := writeFFmpegStub(t, `attempts="$(dirname "$0")/attempts"
if [ ! -e "$attempts" ]; then
	: > "$attempts"
	echo "Server returned 404 Not Found" >&2
	exit 1
fi
dir=$(dirname "$last")
printf 'segment' > "$dir/seg_00000.ts"
printf '#EXTM3U\n#EXTINF:10.0,\nseg_00000.ts\n' > "$last"`)
	base, stop := newTestGateway(t, stub)
	defer stop()

	const source = "https://cdn.example.com/flaky.mkv"
	start := time.Now()
	code, body := postConvert(t, base, source)
	if code != http.StatusInternalServerError || body["status"] != "error" {
		t.Fatalf("unexpected response %d: %v", code, body)
	}
	requireContains(t, body["details"], "404 Not Found")
	if time.Since(start) > 3*time.Second {
		t.Fatalf("expected crash to be reported before the readiness bound")
	}

	start = time.Now()
	code, body = postConvert(t, base, source)
	if code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("expected retry to relaunch ffmpeg and succeed, got %d: %v", code, body)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("expected retry to relaunch instead of waiting on the failed directory")
	}

	code, body = postConvert(t, base, "   ")
	if code != http.StatusBadRequest || body["message"] != "URL missing" {
		t.Fatalf("expected 400 for empty url, got %d: %v", code, body)
	}
}
