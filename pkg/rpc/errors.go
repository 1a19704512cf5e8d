package rpc

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

var (
	// ErrAuthUnavailable indicates the credential source cannot be read yet,
	// typically because the daemon has not written its cookie file.
	ErrAuthUnavailable = errors.New("rpc credentials not available")

	// ErrUnauthorized indicates the daemon rejected the credentials (HTTP 401).
	ErrUnauthorized = errors.New("rpc credentials rejected")

	// ErrMalformedResponse indicates a reply that is not a JSON-RPC response.
	ErrMalformedResponse = errors.New("malformed rpc response")

	// ErrClientClosed is returned once the owning fixture started tearing down.
	ErrClientClosed = errors.New("rpc client closed")
)

// Bitcoin Core RPC error codes the fixture cares about.
const (
	CodeInWarmup            = -28
	CodeWalletAlreadyLoaded = -35
)

// Error is an error object returned by the daemon.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsConnectionError checks if an error indicates the daemon is not reachable.
//
// Returns true for errors containing:
//   - "connection refused" - nothing listening on the RPC port yet
//   - "connection reset" - daemon closed the socket during startup
//   - "broken pipe" - connection closed mid-communication
//   - "EOF" - server hung up before replying
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.HasSuffix(errStr, "EOF")
}

// IsRetryable reports whether a failed call may succeed if repeated while the
// daemon finishes starting.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthUnavailable) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == CodeInWarmup
	}
	return IsConnectionError(err)
}
