package node

import (
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mvp-joe/nodefixture/internal/launcher"
	"github.com/mvp-joe/nodefixture/internal/logging"
	"github.com/mvp-joe/nodefixture/internal/ports"
	"github.com/mvp-joe/nodefixture/internal/registry"
)

// Defaults applied to zero Conf fields.
const (
	DefaultNetwork        = "regtest"
	DefaultAttempts       = 3
	DefaultWallet         = "default"
	DefaultStartupTimeout = 15 * time.Second
	DefaultProbeInterval  = 100 * time.Millisecond
	DefaultStopTimeout    = 5 * time.Second
)

// Conf configures a node. Use DefaultConf and modify the copy.
type Conf struct {
	// Args are extra daemon arguments, e.g. "-txindex".
	Args []string
	// Env is extra environment for the daemon process.
	Env []string

	// ViewStdout also copies the daemon stdout to the caller's stdout.
	ViewStdout bool

	P2P P2P

	// Network is the chain to run: regtest, signet, test (alias testnet),
	// testnet4 or main. It selects the data subdirectory holding the cookie.
	Network string

	// ConfigOptions are extra bitcoin.conf options written into the chain
	// section, e.g. {"txindex": "1"}.
	ConfigOptions map[string]string

	// TmpDir is the base for the temporary workdir (default TEMPDIR_ROOT,
	// then the OS temp dir).
	TmpDir string
	// StaticDir is a persistent workdir that survives Close.
	StaticDir string

	// Attempts is the total number of start attempts.
	Attempts int

	// EnableZMQ configures zmqpubrawblock and zmqpubrawtx publishers.
	EnableZMQ bool

	Credentials Credentials

	// Wallet is created or loaded once the node is ready; empty disables it.
	Wallet string

	StartupTimeout time.Duration
	ProbeInterval  time.Duration
	StopTimeout    time.Duration

	// Ports allocates the daemon ports (default: OS ephemeral ports).
	Ports ports.Allocator

	Logger *zap.Logger

	// Registry records the node so a crashed owner's daemon can be reaped.
	Registry *registry.Registry
}

// DefaultConf returns the default configuration: regtest, cookie auth,
// no p2p, a "default" wallet and three start attempts.
func DefaultConf() *Conf {
	return &Conf{
		Network:        DefaultNetwork,
		Attempts:       DefaultAttempts,
		Wallet:         DefaultWallet,
		StartupTimeout: DefaultStartupTimeout,
		ProbeInterval:  DefaultProbeInterval,
		StopTimeout:    DefaultStopTimeout,
	}
}

// Credentials selects RPC authentication. The zero value is cookie auth.
type Credentials struct {
	Cookie   bool
	User     string
	Password string
}

// UserPass reports whether user/password authentication is configured.
func (c Credentials) UserPass() bool {
	return c.User != "" || c.Password != ""
}

func (c Credentials) validate() error {
	if c.Cookie && c.UserPass() {
		return ErrCredentialConflict
	}
	if c.UserPass() && (c.User == "" || c.Password == "") {
		return ErrIncompleteCredentials
	}
	if strings.Contains(c.User, ":") {
		return fmt.Errorf("%w: user must not contain ':'", ErrIncompleteCredentials)
	}
	return nil
}

type p2pMode int

const (
	p2pNone p2pMode = iota
	p2pListen
	p2pConnect
)

// P2P selects peer-to-peer networking.
type P2P struct {
	mode    p2pMode
	connect netip.AddrPort
	listen  bool
}

var (
	// P2PNone disables p2p listening.
	P2PNone = P2P{}
	// P2PListen listens for peers on a private port.
	P2PListen = P2P{mode: p2pListen}
)

// P2PConnect connects exclusively to addr, optionally also listening.
func P2PConnect(addr netip.AddrPort, listen bool) P2P {
	return P2P{mode: p2pConnect, connect: addr, listen: listen}
}

// Listens reports whether a p2p port is allocated.
func (p P2P) Listens() bool {
	return p.mode == p2pListen || (p.mode == p2pConnect && p.listen)
}

// Connect returns the peer to connect to, if any.
func (p P2P) Connect() (netip.AddrPort, bool) {
	return p.connect, p.mode == p2pConnect
}

func (p P2P) String() string {
	switch p.mode {
	case p2pListen:
		return "listen"
	case p2pConnect:
		return fmt.Sprintf("connect(%s, listen=%t)", p.connect, p.listen)
	default:
		return "none"
	}
}

// reservedArgs are set by the fixture itself.
var reservedArgs = []string{"datadir", "conf", "rpcport", "port", "connect", "listen"}

// argName returns the option name of a daemon argument: "-rpcport=1" -> "rpcport".
func argName(arg string) string {
	name := strings.TrimLeft(arg, "-")
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	return name
}

// validate checks conf without touching the filesystem or spawning anything.
func (c *Conf) validate() error {
	var errs []error

	if c.TmpDir != "" && c.StaticDir != "" {
		errs = append(errs, ErrBothDirsSpecified)
	}
	if err := c.Credentials.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Attempts < 1 {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrInvalidAttempts, c.Attempts))
	}
	if _, err := launcher.ParseChain(c.Network); err != nil {
		errs = append(errs, err)
	}
	if addr, ok := c.P2P.Connect(); ok && !addr.IsValid() {
		errs = append(errs, errors.New("p2p connect address is invalid"))
	}

	for _, arg := range c.Args {
		name := argName(arg)
		switch {
		case name == "rpcuser" || name == "rpcpassword":
			errs = append(errs, fmt.Errorf("%w: %s", ErrRPCUserPasswordArg, arg))
		case isReserved(name):
			errs = append(errs, fmt.Errorf("%w: %s", ErrReservedArg, arg))
		}
	}
	for _, key := range slices.Sorted(maps.Keys(c.ConfigOptions)) {
		switch {
		case key == "rpcuser" || key == "rpcpassword":
			errs = append(errs, fmt.Errorf("%w: %s", ErrRPCUserPasswordArg, key))
		case isReserved(key) || key == "rpcbind" || key == "rpcallowip" || key == "bind":
			errs = append(errs, fmt.Errorf("%w: %s", ErrReservedArg, key))
		}
	}

	return errors.Join(errs...)
}

func isReserved(name string) bool {
	for _, r := range reservedArgs {
		if name == r {
			return true
		}
	}
	return false
}

// withDefaults returns a copy of c with zero fields filled in.
func (c Conf) withDefaults() Conf {
	c.Args = append([]string(nil), c.Args...)
	c.Env = append([]string(nil), c.Env...)
	c.ConfigOptions = maps.Clone(c.ConfigOptions)
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if c.Attempts == 0 {
		c.Attempts = DefaultAttempts
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Ports == nil {
		c.Ports = ports.NewOS()
	}
	if c.Logger == nil {
		c.Logger = logging.FromEnv()
	}
	return c
}
