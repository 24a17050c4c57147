package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bullen/bullend/pkg/logging"
)

// ResultClass classifies the outcome of an external command so retry/skip
// policy is explicit data-driven logic
type ResultClass int

const (
	ClassOK ResultClass = iota
	ClassTransient
	ClassPermanent
)

// String returns string representation of a result class
func (c ResultClass) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CommandResult is the typed result of one external command invocation
type CommandResult struct {
	Class  ResultClass
	Output string
	Err    error
}

// StartedProcess references a long-running external process left behind by a
// start action
type StartedProcess struct {
	PID     int
	LogPath string
}

// CommandRunner is the capability interface for all external actions:
// enumerate devices, query/load/unload drivers, start a candidate server,
// poll readiness
type CommandRunner interface {
	// Run executes a short command, waits for it, and classifies the result
	Run(ctx context.Context, name string, args ...string) CommandResult

	// Start launches a long-running command and leaves it running; an
	// error is returned only for unambiguous failures such as a missing
	// executable
	Start(ctx context.Context, name string, args ...string) (*StartedProcess, error)

	// Exists reports whether an executable is available
	Exists(name string) bool
}

// ExecRunner runs real commands via os/exec
type ExecRunner struct {
	// Timeout bounds every Run invocation
	Timeout time.Duration

	// LogDir receives per-process diagnostic logs from Start
	LogDir string
}

// NewExecRunner creates a command runner with sane bounds
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Timeout: 5 * time.Second,
		LogDir:  os.TempDir(),
	}
}

// Run executes a short command and classifies its outcome
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) CommandResult {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	out, err := cmd.CombinedOutput()
	output := tail(string(out), 2048)

	if err == nil {
		return CommandResult{Class: ClassOK, Output: output}
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return CommandResult{Class: ClassPermanent, Output: output, Err: err}
	}
	if runCtx.Err() != nil {
		err = fmt.Errorf("%s timed out: %w", name, err)
	}

	// Non-zero exit and timeouts are retryable from the caller's view;
	// the strategy poll loop is the authoritative success signal
	return CommandResult{Class: ClassTransient, Output: output, Err: err}
}

// Start launches a long-running command with its output captured to a log
// file for operator diagnostics
func (r *ExecRunner) Start(ctx context.Context, name string, args ...string) (*StartedProcess, error) {
	if !r.Exists(name) {
		return nil, fmt.Errorf("executable %q not found", name)
	}

	logDir := r.LogDir
	if logDir == "" {
		logDir = os.TempDir()
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("bullend-%s-%d.log", filepath.Base(name), time.Now().Unix()))

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open process log: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	// Reap the child whenever it exits so it never zombies
	go func() {
		defer logFile.Close()
		if err := cmd.Wait(); err != nil {
			logging.Debugf("command", "%s (pid %d) exited: %v", name, cmd.Process.Pid, err)
		}
	}()

	return &StartedProcess{PID: cmd.Process.Pid, LogPath: logPath}, nil
}

// Exists reports whether an executable is on PATH
func (r *ExecRunner) Exists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// tail returns the last n bytes of s, trimmed to whole lines
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx < len(s)-1 {
		s = s[idx+1:]
	}
	return s
}
