package host

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildcache/internal/lifecycle"
)

func newExecutor(t *testing.T, env map[string]string) *ShellExecutor {
	t.Helper()
	return &ShellExecutor{Dir: t.TempDir(), Env: env}
}

func TestRun_UndeclaredEnvInvisible(t *testing.T) {
	t.Setenv("SECRET_HOST_VAR", "should_not_see_this")
	e := newExecutor(t, nil)

	out, err := e.Run(context.Background(), `echo "VAR=${SECRET_HOST_VAR:-unset} HOME=${HOME:-unset}"`)
	require.NoError(t, err)
	assert.Equal(t, "VAR=unset HOME=unset\n", string(out.Stdout))
}

func TestRun_OnlyDeclaredEnvVisible(t *testing.T) {
	e := newExecutor(t, map[string]string{"FOO": "hello", "BAR": "world", "PATH": "/custom/bin:/other/bin"})

	out, err := e.Run(context.Background(), `echo "FOO=$FOO BAR=$BAR PATH=$PATH"`)
	require.NoError(t, err)
	assert.Equal(t, "FOO=hello BAR=world PATH=/custom/bin:/other/bin\n", string(out.Stdout))
}

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	var mirror bytes.Buffer
	e := newExecutor(t, nil)
	e.Stderr = &mirror

	out, err := e.Run(context.Background(), `echo out; echo err >&2; exit 3`)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out.Stdout))
	assert.Equal(t, "err\n", string(out.Stderr))
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "err\n", mirror.String())
}

func TestRun_UsesWorkingDir(t *testing.T) {
	e := newExecutor(t, nil)

	_, err := e.Run(context.Background(), `echo hi > marker.txt`)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(e.Dir, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestRun_EmptyCommand(t *testing.T) {
	_, err := newExecutor(t, nil).Run(context.Background(), "")
	assert.Error(t, err)
}

func TestRun_CancellationKillsProcessGroup(t *testing.T) {
	e := newExecutor(t, map[string]string{"PATH": os.Getenv("PATH")})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Run(ctx, "sleep 60 & sleep 60; wait")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteUnit(t *testing.T) {
	compile := lifecycle.WorkUnit{Plugin: "compiler", Goal: "compile", ExecutionID: "default-compile", Phase: "compile"}
	test := lifecycle.WorkUnit{Plugin: "surefire", Goal: "test", ExecutionID: "default-test", Phase: "test"}
	e := newExecutor(t, nil)
	e.Commands = map[lifecycle.UnitID]string{
		compile.ID(): "echo compiled > out.txt",
		test.ID():    "echo 'assertion failed' >&2; exit 1",
	}

	require.NoError(t, e.ExecuteUnit(context.Background(), compile))
	assert.FileExists(t, filepath.Join(e.Dir, "out.txt"))

	err := e.ExecuteUnit(context.Background(), test)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, "assertion failed", exitErr.Stderr)

	err = e.ExecuteUnit(context.Background(), lifecycle.WorkUnit{Plugin: "jar", Goal: "jar", ExecutionID: "default-jar", Phase: "package"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no command bound"))
}

func TestIsolatedEnv(t *testing.T) {
	assert.Equal(t, []string{}, isolatedEnv(nil))
	assert.Equal(t, []string{"A=1", "B=2"}, isolatedEnv(map[string]string{"B": "2", "A": "1"}))
}
