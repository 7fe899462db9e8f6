package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"reelforge/internal/telemetry"
)

// ToolchainError describes a failed ffmpeg or ffprobe run.
type ToolchainError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolchainError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Tool, e.ExitCode)
	if e.Err != nil && e.ExitCode <= 0 {
		msg = fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// Toolchain runs the external encoder and prober. Each run gets its own
// process group so a cancelled job can take down ffmpeg and its children.
type Toolchain struct {
	ffmpeg  string
	ffprobe string
	grace   time.Duration
}

// New returns a Toolchain. grace is how long a terminated process may take
// to exit before it is killed outright.
func New(ffmpegPath, ffprobePath string, grace time.Duration) *Toolchain {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Toolchain{ffmpeg: ffmpegPath, ffprobe: ffprobePath, grace: grace}
}

// FFmpeg runs the encoder with args.
func (t *Toolchain) FFmpeg(ctx context.Context, args []string) error {
	_, err := t.run(ctx, "ffmpeg", t.ffmpeg, args)
	return err
}

// run executes bin and returns stdout. Cancellation of ctx sends SIGTERM to
// the process group, escalating to SIGKILL after the grace period.
func (t *Toolchain) run(ctx context.Context, tool, bin string, args []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: 16 << 10}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		telemetry.ToolchainRuns.WithLabelValues(tool, "error").Inc()
		return nil, &ToolchainError{Tool: tool, Args: args, ExitCode: -1, Err: err}
	}
	pgid := cmd.Process.Pid

	var (
		mu       sync.Mutex
		exited   bool
		escalate *time.Timer
	)
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if exited {
			return
		}
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		escalate = time.AfterFunc(t.grace, func() {
			mu.Lock()
			defer mu.Unlock()
			if !exited {
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			}
		})
	})

	waitErr := cmd.Wait()
	mu.Lock()
	exited = true
	if escalate != nil {
		escalate.Stop()
	}
	mu.Unlock()
	stop()

	if ctx.Err() != nil {
		telemetry.ToolchainRuns.WithLabelValues(tool, "cancelled").Inc()
		return nil, fmt.Errorf("%s terminated: %w", tool, ctx.Err())
	}
	if waitErr != nil {
		telemetry.ToolchainRuns.WithLabelValues(tool, "error").Inc()
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return nil, &ToolchainError{Tool: tool, Args: args, ExitCode: code, Stderr: stderr.String(), Err: waitErr}
	}
	telemetry.ToolchainRuns.WithLabelValues(tool, "ok").Inc()
	return stdout.Bytes(), nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
