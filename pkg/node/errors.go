package node

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mvp-joe/nodefixture/internal/launcher"
	"github.com/mvp-joe/nodefixture/internal/readiness"
)

// Configuration errors, returned before any process is spawned.
var (
	ErrBothDirsSpecified     = errors.New("tmpdir and staticdir cannot both be set")
	ErrCredentialConflict    = errors.New("cookie authentication cannot be combined with user/password")
	ErrIncompleteCredentials = errors.New("user and password must both be set")
	ErrRPCUserPasswordArg    = errors.New("-rpcuser and -rpcpassword are not allowed in args, use Credentials")
	ErrReservedArg           = errors.New("argument is managed by the fixture")
	ErrInvalidAttempts       = errors.New("attempts must be at least 1")
	ErrUnknownNetwork        = launcher.ErrUnknownNetwork
)

// ErrClosed is returned by accessors once teardown has started.
var ErrClosed = errors.New("node is closed")

// SpawnError indicates the executable could not be started. Never retried.
type SpawnError = launcher.SpawnError

// TimeoutError indicates the daemon did not become ready in time.
type TimeoutError = readiness.TimeoutError

// PortConflictError indicates the daemon exited during startup, most often
// because one of its ports was taken between allocation and bind.
type PortConflictError struct {
	Ports    []int
	ExitCode int
	// Log is the tail of the daemon output.
	Log string
}

func (e *PortConflictError) Error() string {
	msg := fmt.Sprintf("daemon exited during startup (code %d, ports %v)", e.ExitCode, e.Ports)
	if line := lastLine(e.Log); line != "" {
		msg += ": " + line
	}
	return msg
}

// BindFailure reports whether the daemon output names a bind failure.
func (e *PortConflictError) BindFailure() bool {
	return strings.Contains(e.Log, "Unable to bind") || strings.Contains(e.Log, "address already in use")
}

// StartupExhaustedError is returned when every attempt failed with a
// retryable error.
type StartupExhaustedError struct {
	Attempts int
	Last     error
}

func (e *StartupExhaustedError) Error() string {
	return fmt.Sprintf("node failed to start after %d attempts: %v", e.Attempts, e.Last)
}

func (e *StartupExhaustedError) Unwrap() error {
	return e.Last
}

// TeardownError collects failures while releasing a node.
type TeardownError struct {
	Errs []error
}

func (e *TeardownError) Error() string {
	return "teardown failed: " + errors.Join(e.Errs...).Error()
}

func (e *TeardownError) Unwrap() []error {
	return e.Errs
}

// ResolutionError is returned when no daemon executable could be found.
type ResolutionError struct {
	Tried []string
	Err   error
}

func (e *ResolutionError) Error() string {
	msg := "bitcoind executable not found"
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// retryable reports whether a startup attempt failure may succeed with
// fresh ports and a fresh workdir.
func retryable(err error) bool {
	var conflict *PortConflictError
	var timeout *TimeoutError
	return errors.As(err, &conflict) || errors.As(err, &timeout)
}
