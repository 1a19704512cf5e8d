//go:build unix

package launcher

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "daemon.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStart_MissingExecutable(t *testing.T) {
	t.Parallel()

	_, err := Start(Spec{
		Executable: filepath.Join(t.TempDir(), "nope"),
		LogDir:     t.TempDir(),
	})
	require.Error(t, err)

	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
}

func TestStart_NotExecutable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	_, err := Start(Spec{Executable: path, LogDir: dir})
	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
}

func TestStart_CapturesOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := writeScript(t, dir, `echo "out $1"; echo "err line" >&2`)
	tee := &syncBuffer{}

	p, err := Start(Spec{Executable: exe, Args: []string{"hello"}, LogDir: dir, Tee: tee})
	require.NoError(t, err)
	require.True(t, p.Wait(5*time.Second))

	assert.NoError(t, p.ExitErr())
	assert.Equal(t, 0, p.ExitCode())
	assert.False(t, p.Running())

	stdout, err := os.ReadFile(p.StdoutPath())
	require.NoError(t, err)
	assert.Equal(t, "out hello\n", string(stdout))
	assert.Equal(t, "out hello\n", tee.String())
	assert.Equal(t, "err line\n", p.StderrTail(100))
}

func TestStart_EnvAppended(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := writeScript(t, dir, `echo "$FIXTURE_VALUE"`)

	p, err := Start(Spec{Executable: exe, Env: []string{"FIXTURE_VALUE=42"}, LogDir: dir})
	require.NoError(t, err)
	require.True(t, p.Wait(5*time.Second))

	stdout, err := os.ReadFile(p.StdoutPath())
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(stdout))
}

func TestProcess_ExitCode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := writeScript(t, dir, `echo "Unable to bind" >&2; exit 3`)

	p, err := Start(Spec{Executable: exe, LogDir: dir})
	require.NoError(t, err)

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Equal(t, 3, p.ExitCode())
	assert.Error(t, p.ExitErr())
	assert.Contains(t, p.StderrTail(1024), "Unable to bind")
}

func TestProcess_ShutdownGraceful(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := writeScript(t, dir, `trap 'exit 0' TERM; while true; do sleep 0.05; done`)

	p, err := Start(Spec{Executable: exe, LogDir: dir})
	require.NoError(t, err)
	// Give the shell time to install the trap.
	time.Sleep(200 * time.Millisecond)

	forced, err := p.Shutdown(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.False(t, p.Running())
}

func TestProcess_ShutdownForced(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := writeScript(t, dir, `trap '' TERM; while true; do sleep 0.05; done`)

	p, err := Start(Spec{Executable: exe, LogDir: dir})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	forced, err := p.Shutdown(300 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Less(t, time.Since(start), 300*time.Millisecond+KillWait)

	// Pid must be gone.
	err = syscall.Kill(p.Pid(), 0)
	assert.True(t, errors.Is(err, syscall.ESRCH), "expected ESRCH, got %v", err)
}

func TestProcess_ShutdownAfterExit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exe := writeScript(t, dir, `exit 0`)

	p, err := Start(Spec{Executable: exe, LogDir: dir})
	require.NoError(t, err)
	require.True(t, p.Wait(5*time.Second))

	forced, err := p.Shutdown(time.Second)
	assert.NoError(t, err)
	assert.False(t, forced)
	assert.NoError(t, p.Terminate())
	assert.NoError(t, p.Kill())
}

func TestStderrTail_Truncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", 100)+"END"), 0644))

	assert.Equal(t, "aaEND", readTail(path, 5))
	assert.Equal(t, "", readTail(filepath.Join(t.TempDir(), "missing"), 5))
}
