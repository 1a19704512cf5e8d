// Package launcher starts a daemon process with its standard streams captured
// to files, and stops it with a bounded graceful-then-forced shutdown.
package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Log file names created in Spec.LogDir.
const (
	StdoutLog = "stdout.log"
	StderrLog = "stderr.log"
)

// KillWait bounds the wait for exit after a forced kill.
const KillWait = 5 * time.Second

// ErrStillRunning is returned when a process survives a forced kill.
var ErrStillRunning = errors.New("process still running after kill")

// Spec describes a process to start.
type Spec struct {
	Executable string
	Args       []string
	// Env is appended to the current environment.
	Env []string
	// Dir is the process working directory (default: LogDir).
	Dir string
	// LogDir receives stdout.log and stderr.log.
	LogDir string
	// Tee, when set, also receives the process stdout.
	Tee io.Writer
}

// SpawnError indicates the OS refused to start the executable. It is terminal:
// retrying with different ports cannot fix a missing or non-executable binary.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Process is a started daemon. A single reaper goroutine waits on it, so the
// Running to Exited transition happens exactly once.
type Process struct {
	cmd        *exec.Cmd
	stdoutPath string
	stderrPath string

	exited  chan struct{}
	waitErr error

	logFiles []*os.File
	closeLog sync.Once
}

// Start launches spec.Executable.
func Start(spec Spec) (*Process, error) {
	if spec.Executable == "" {
		return nil, &SpawnError{Executable: spec.Executable, Err: errors.New("executable path is empty")}
	}
	exe, err := exec.LookPath(spec.Executable)
	if err != nil {
		return nil, &SpawnError{Executable: spec.Executable, Err: err}
	}
	if spec.LogDir == "" {
		return nil, errors.New("log directory is required")
	}
	if err := os.MkdirAll(spec.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	p := &Process{
		stdoutPath: filepath.Join(spec.LogDir, StdoutLog),
		stderrPath: filepath.Join(spec.LogDir, StderrLog),
		exited:     make(chan struct{}),
	}

	stdout, err := os.OpenFile(p.stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout log: %w", err)
	}
	stderr, err := os.OpenFile(p.stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to open stderr log: %w", err)
	}
	p.logFiles = []*os.File{stdout, stderr}

	cmd := exec.Command(exe, spec.Args...)
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = spec.LogDir
	}
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = stdout
	if spec.Tee != nil {
		cmd.Stdout = io.MultiWriter(stdout, spec.Tee)
	}
	cmd.Stderr = stderr
	cmd.SysProcAttr = getSysProcAttr()

	if err := cmd.Start(); err != nil {
		p.closeLogs()
		return nil, &SpawnError{Executable: spec.Executable, Err: err}
	}
	p.cmd = cmd

	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	p.waitErr = p.cmd.Wait()
	p.closeLogs()
	close(p.exited)
}

func (p *Process) closeLogs() {
	p.closeLog.Do(func() {
		for _, f := range p.logFiles {
			f.Close()
		}
	})
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited is closed once the process has exited and been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Running reports whether the process has not exited yet.
func (p *Process) Running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitErr returns the result of waiting on the process; nil while running
// and after a clean exit.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (p *Process) ExitCode() int {
	if p.Running() {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Terminate asks the process to exit (SIGTERM on unix).
func (p *Process) Terminate() error {
	if !p.Running() {
		return nil
	}
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal process %d: %w", p.Pid(), err)
	}
	return nil
}

// Kill forcefully stops the process.
func (p *Process) Kill() error {
	if !p.Running() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.Pid(), err)
	}
	return nil
}

// Wait blocks until the process exits or timeout elapses. It reports whether
// the process exited.
func (p *Process) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}

// Shutdown terminates the process, waits up to grace for it to exit, then
// kills it. It never blocks longer than grace + KillWait. forced reports
// whether the kill was needed.
func (p *Process) Shutdown(grace time.Duration) (forced bool, err error) {
	if !p.Running() {
		return false, nil
	}

	termErr := p.Terminate()
	if termErr == nil && p.Wait(grace) {
		return false, nil
	}

	if err := p.Kill(); err != nil {
		return true, errors.Join(termErr, err)
	}
	if !p.Wait(KillWait) {
		return true, fmt.Errorf("process %d: %w", p.Pid(), ErrStillRunning)
	}
	return true, nil
}

// StdoutPath returns the stdout log path.
func (p *Process) StdoutPath() string {
	return p.stdoutPath
}

// StderrPath returns the stderr log path.
func (p *Process) StderrPath() string {
	return p.stderrPath
}

// StderrTail returns up to n trailing bytes of the stderr log, falling back to
// stdout when stderr is empty (bitcoind prints init errors to both).
func (p *Process) StderrTail(n int) string {
	for _, path := range []string{p.stderrPath, p.stdoutPath} {
		if tail := readTail(path, n); tail != "" {
			return tail
		}
	}
	return ""
}

func readTail(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return ""
	}
	offset := info.Size() - int64(n)
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return string(buf)
}
