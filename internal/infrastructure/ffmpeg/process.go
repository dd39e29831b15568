package ffmpeg

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Process is a handle on a running ffmpeg child.
type Process struct {
	cmd       *exec.Cmd
	tail      *tailBuffer
	done      chan struct{}
	startedAt time.Time

	err      error
	exitCode int
	exitedAt time.Time
}

func (p *Process) wait(logFile *os.File) {
	err := p.cmd.Wait()
	if err != nil {
		err = fmt.Errorf("ffmpeg failed: %w", err)
	}
	p.err = err
	p.exitCode = p.cmd.ProcessState.ExitCode()
	p.exitedAt = time.Now()
	if logFile != nil {
		fmt.Fprintf(logFile, "# exited: code=%d after=%s\n", p.exitCode, p.exitedAt.Sub(p.startedAt).Round(time.Millisecond))
		_ = logFile.Close()
	}
	close(p.done)
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error. Only meaningful after Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// ExitCode returns the exit status, or -1 while running or when killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Tail returns the last captured lines of combined stdout/stderr.
func (p *Process) Tail() string {
	return p.tail.String()
}

// Kill terminates the process. Normal operation never calls this; the child
// is allowed to finish even when the requester is gone.
func (p *Process) Kill() error {
	if p.cmd.Process == nil || p.Exited() {
		return nil
	}
	return p.cmd.Process.Kill()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns buffered output starting at the first complete line.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := t.buf
	if len(data) >= t.max {
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 && idx+1 < len(data) {
			data = data[idx+1:]
		}
	}
	return strings.TrimSpace(string(data))
}
