// Package host runs project modules on the local machine: unit commands in
// an isolated shell, whole modules through the cache engine, and
// multi-module builds through the reactor.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"buildcache/internal/core"
	"buildcache/internal/lifecycle"
	"buildcache/internal/project"
)

// stderrTail bounds how much stderr an ExitError carries.
const stderrTail = 2048

// ExitError reports a unit command that exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command exited with code %d", e.Code)
	}
	return fmt.Sprintf("command exited with code %d: %s", e.Code, e.Stderr)
}

// Output is the captured result of one command.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ShellExecutor runs unit commands with `sh -c` in Dir.
//
// The environment is an allowlist: the process sees only the variables in
// Env, never the host environment. On cancellation the whole process group
// is killed.
type ShellExecutor struct {
	Dir      string
	Env      map[string]string
	Commands map[lifecycle.UnitID]string

	// Stdout and Stderr, when set, receive a copy of the command output.
	Stdout io.Writer
	Stderr io.Writer

	Logger log.Logger
}

var _ core.UnitExecutor = (*ShellExecutor)(nil)

// NewShellExecutor returns an executor for the units of m.
func NewShellExecutor(m *project.Module, logger log.Logger) *ShellExecutor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ShellExecutor{
		Dir:      m.Dir,
		Env:      m.Env,
		Commands: m.Commands,
		Logger:   log.With(logger, "project", m.Key.String()),
	}
}

// ExecuteUnit implements core.UnitExecutor.
func (e *ShellExecutor) ExecuteUnit(ctx context.Context, u lifecycle.WorkUnit) error {
	run, ok := e.Commands[u.ID()]
	if !ok {
		return fmt.Errorf("no command bound to unit %s", u.ID())
	}
	level.Info(e.logger()).Log("msg", "executing unit", "unit", u.ID(), "phase", u.Phase)

	out, err := e.Run(ctx, run)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return &ExitError{Code: out.ExitCode, Stderr: tail(out.Stderr, stderrTail)}
	}
	return nil
}

// Run executes command and captures its output. A non-zero exit is reported
// in Output, not as an error.
func (e *ShellExecutor) Run(ctx context.Context, command string) (*Output, error) {
	if command == "" {
		return nil, errors.New("empty command")
	}
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = e.Dir
	cmd.Env = isolatedEnv(e.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, e.Stdout)
	cmd.Stderr = tee(&stderr, e.Stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case <-ctx.Done():
		// Negative pid signals the whole group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return nil, fmt.Errorf("command cancelled: %w", ctx.Err())
	case err = <-done:
	}

	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		out.ExitCode = exitErr.ExitCode()
	}
	return out, nil
}

func (e *ShellExecutor) logger() log.Logger {
	if e.Logger == nil {
		return log.NewNopLogger()
	}
	return e.Logger
}

// isolatedEnv renders env sorted by name. An empty map yields an empty,
// non-nil environment so nothing is inherited from the host.
func isolatedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
