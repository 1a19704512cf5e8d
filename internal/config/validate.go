package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mvp-joe/nodefixture/internal/launcher"
	"github.com/mvp-joe/nodefixture/internal/logging"
	"github.com/mvp-joe/nodefixture/internal/version"
)

var (
	// ErrInvalidAttempts indicates a non-positive attempt count
	ErrInvalidAttempts = errors.New("invalid attempts")

	// ErrInvalidTimeout indicates a non-positive duration
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidP2P indicates an unknown p2p mode
	ErrInvalidP2P = errors.New("invalid p2p mode")

	// ErrInvalidConnect indicates a malformed connect address
	ErrInvalidConnect = errors.New("invalid connect address")

	// ErrInvalidVersion indicates an unparseable release version
	ErrInvalidVersion = errors.New("invalid version")

	// ErrIncompleteCredentials indicates only one of user and password is set
	ErrIncompleteCredentials = errors.New("user and password must be set together")

	// ErrInvalidNetwork indicates a chain name bitcoind does not know
	ErrInvalidNetwork = errors.New("invalid network")

	// ErrInvalidLog indicates an unsupported log level or format
	ErrInvalidLog = errors.New("invalid log settings")
)

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if err := validateNode(&cfg.Node); err != nil {
		errs = append(errs, err)
	}

	if err := validateLog(&cfg.Log); err != nil {
		errs = append(errs, err)
	}

	return joinErrors(errs)
}

func validateNode(n *NodeConfig) error {
	var errs []error

	if n.Attempts < 1 {
		errs = append(errs, fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidAttempts, n.Attempts))
	}
	if n.StartupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: startup_timeout must be positive, got %s", ErrInvalidTimeout, n.StartupTimeout))
	}
	if n.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: probe_interval must be positive, got %s", ErrInvalidTimeout, n.ProbeInterval))
	}
	if n.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: stop_timeout must be positive, got %s", ErrInvalidTimeout, n.StopTimeout))
	}

	if _, err := launcher.ParseChain(n.Network); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidNetwork, err))
	}

	switch n.P2P {
	case P2PNone, P2PListen, "":
	default:
		errs = append(errs, fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidP2P, n.P2P, P2PNone, P2PListen))
	}
	if _, err := n.p2p(); err != nil {
		errs = append(errs, err)
	}

	if n.Version != "" {
		if _, err := version.Parse(n.Version); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidVersion, err))
		}
	}
	if (n.User == "") != (n.Password == "") {
		errs = append(errs, ErrIncompleteCredentials)
	}

	return joinErrors(errs)
}

func validateLog(l *LogConfig) error {
	var errs []error

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidLog, err))
	}
	switch strings.ToLower(l.Format) {
	case "console", "json", "":
	default:
		errs = append(errs, fmt.Errorf("%w: format %q (must be console or json)", ErrInvalidLog, l.Format))
	}

	return joinErrors(errs)
}

// joinErrors combines multiple errors into one; the sentinels stay
// reachable through errors.Is.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	if len(errs) == 1 {
		return errs[0]
	}

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return &validationError{msg: "validation failed:\n  - " + strings.Join(msgs, "\n  - "), errs: errs}
}

type validationError struct {
	msg  string
	errs []error
}

func (e *validationError) Error() string   { return e.msg }
func (e *validationError) Unwrap() []error { return e.errs }
