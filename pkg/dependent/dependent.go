// Package dependent starts a second process wired to a running node, such as
// an indexer or a lightning daemon under test.
package dependent

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mvp-joe/nodefixture/internal/launcher"
	"github.com/mvp-joe/nodefixture/pkg/node"
)

// ErrUnknownPlaceholder is returned for a {name} that is not recognised.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

// ErrNoP2P is returned when {p2p_addr} is used but the node does not listen.
var ErrNoP2P = errors.New("node does not listen for peers")

// Spec describes the dependent process. Args and Env values may contain
// placeholders:
//
//	{rpc_url} {rpc_addr} {rpc_port} {cookie_file} {workdir}
//	{p2p_addr} {network} {rpc_user} {rpc_password}
type Spec struct {
	Executable string
	Args       []string
	Env        []string
	// LogDir defaults to <workdir>/dependent-<executable name>.
	LogDir string
	Tee    io.Writer
}

var placeholder = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// Expand replaces the placeholders in s with values from p. Credentials are
// only read when referenced.
func Expand(s string, p node.ConnectParams) (string, error) {
	var errs []error
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		v, err := value(m[1:len(m)-1], p)
		if err != nil {
			errs = append(errs, err)
			return m
		}
		return v
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

func value(name string, p node.ConnectParams) (string, error) {
	switch name {
	case "rpc_url":
		return p.RPCURL(), nil
	case "rpc_addr":
		return p.RPCSocket.String(), nil
	case "rpc_port":
		return strconv.Itoa(int(p.RPCSocket.Port())), nil
	case "cookie_file":
		return p.CookieFile, nil
	case "workdir":
		return p.WorkDir, nil
	case "network":
		return p.Network, nil
	case "p2p_addr":
		if !p.P2PSocket.IsValid() {
			return "", ErrNoP2P
		}
		return p.P2PSocket.String(), nil
	case "rpc_user", "rpc_password":
		user, password, err := p.RPCCredentials()
		if err != nil {
			return "", err
		}
		if name == "rpc_user" {
			return user, nil
		}
		return password, nil
	default:
		return "", fmt.Errorf("%w: {%s}", ErrUnknownPlaceholder, name)
	}
}

// Env returns BITCOIND_* variables describing p. Credentials are included
// when they can be read.
func Env(p node.ConnectParams) []string {
	env := []string{
		"BITCOIND_RPC_URL=" + p.RPCURL(),
		"BITCOIND_RPC_ADDR=" + p.RPCSocket.String(),
		"BITCOIND_RPC_PORT=" + strconv.Itoa(int(p.RPCSocket.Port())),
		"BITCOIND_COOKIE_FILE=" + p.CookieFile,
		"BITCOIND_WORKDIR=" + p.WorkDir,
		"BITCOIND_NETWORK=" + p.Network,
	}
	if p.P2PSocket.IsValid() {
		env = append(env, "BITCOIND_P2P_ADDR="+p.P2PSocket.String())
	}
	if p.ZMQPubRawBlockSocket.IsValid() {
		env = append(env, "BITCOIND_ZMQ_RAWBLOCK=tcp://"+p.ZMQPubRawBlockSocket.String())
	}
	if p.ZMQPubRawTxSocket.IsValid() {
		env = append(env, "BITCOIND_ZMQ_RAWTX=tcp://"+p.ZMQPubRawTxSocket.String())
	}
	if user, password, err := p.RPCCredentials(); err == nil {
		env = append(env, "BITCOIND_RPC_USER="+user, "BITCOIND_RPC_PASSWORD="+password)
	}
	return env
}

// Command expands spec against p into a launcher spec.
func (s Spec) Command(p node.ConnectParams) (launcher.Spec, error) {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		v, err := Expand(a, p)
		if err != nil {
			return launcher.Spec{}, fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = v
	}

	env := Env(p)
	for _, e := range s.Env {
		v, err := Expand(e, p)
		if err != nil {
			return launcher.Spec{}, fmt.Errorf("env %s: %w", strings.SplitN(e, "=", 2)[0], err)
		}
		env = append(env, v)
	}

	logDir := s.LogDir
	if logDir == "" {
		name := strings.TrimSuffix(filepath.Base(s.Executable), filepath.Ext(s.Executable))
		logDir = filepath.Join(p.WorkDir, "dependent-"+name)
	}

	return launcher.Spec{
		Executable: s.Executable,
		Args:       args,
		Env:        env,
		LogDir:     logDir,
		Tee:        s.Tee,
	}, nil
}

// Start launches the dependent process. The caller owns the returned
// process and should stop it before closing the node.
func Start(s Spec, p node.ConnectParams) (*launcher.Process, error) {
	cmd, err := s.Command(p)
	if err != nil {
		return nil, err
	}
	return launcher.Start(cmd)
}
