// Package node runs a disposable bitcoind for tests: private workdir and
// ports, a readiness wait on the RPC interface, and teardown that always
// reclaims the process and its files.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mvp-joe/nodefixture/internal/launcher"
	"github.com/mvp-joe/nodefixture/internal/ports"
	"github.com/mvp-joe/nodefixture/internal/readiness"
	"github.com/mvp-joe/nodefixture/internal/registry"
	"github.com/mvp-joe/nodefixture/internal/version"
	"github.com/mvp-joe/nodefixture/internal/workdir"
	"github.com/mvp-joe/nodefixture/pkg/rpc"
)

// ConfigFileName is the generated daemon configuration inside the workdir.
const ConfigFileName = "bitcoin.conf"

const logTailBytes = 4096

var detector = sync.OnceValues(func() (*version.Detector, error) {
	return version.NewDetector(nil)
})

// Node is a running daemon. The zero value is an unstarted node on which
// Close is a no-op.
type Node struct {
	inst    *instance
	cleanup runtime.Cleanup
}

// instance holds everything teardown needs. It is referenced by the cleanup
// registered on Node and must never point back at the Node.
type instance struct {
	log         *zap.Logger
	stopTimeout time.Duration
	persistent  bool

	state   atomic.Int32
	version version.Version

	dir    *workdir.Dir
	proc   *launcher.Process
	params ConnectParams
	client *rpc.Client
	wallet string

	registry *registry.Registry
	regID    string

	once sync.Once
	err  error
}

// New starts a daemon from exe and blocks until it answers RPC calls. A nil
// conf means DefaultConf. On error nothing is left running and no workdir
// remains.
func New(ctx context.Context, exe string, conf *Conf) (*Node, error) {
	if conf == nil {
		conf = DefaultConf()
	}
	// Copy so later mutation by the caller has no effect.
	c := conf.withDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	chain, err := launcher.ParseChain(c.Network)
	if err != nil {
		return nil, err
	}
	c.Network = chain.Name

	v := detectVersion(ctx, exe, c.Logger)

	var last error
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		inst, err := startAttempt(ctx, exe, &c, chain, v, attempt)
		if err == nil {
			n := &Node{inst: inst}
			n.cleanup = runtime.AddCleanup(n, func(inst *instance) {
				if err := inst.teardown(); err != nil {
					inst.log.Error("implicit teardown failed", zap.Error(err))
				}
			}, inst)
			return n, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}
		last = err
		c.Logger.Warn("node start attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("attempts", c.Attempts),
			zap.Error(err))
	}
	return nil, &StartupExhaustedError{Attempts: c.Attempts, Last: last}
}

func detectVersion(ctx context.Context, exe string, log *zap.Logger) version.Version {
	d, err := detector()
	if err != nil {
		log.Debug("version detection unavailable", zap.Error(err))
		return version.Version{}
	}
	v, err := d.Detect(ctx, exe)
	if err != nil {
		// Spawning reports missing binaries; assume current features otherwise.
		log.Debug("version detection failed", zap.String("exe", exe), zap.Error(err))
		return version.Version{}
	}
	return v
}

// portSet holds the ports allocated for one attempt.
type portSet struct {
	rpc      int
	p2p      int
	zmqBlock int
	zmqTx    int
}

func (p portSet) list() []int {
	out := []int{p.rpc}
	for _, port := range []int{p.p2p, p.zmqBlock, p.zmqTx} {
		if port != 0 {
			out = append(out, port)
		}
	}
	return out
}

func allocatePorts(alloc ports.Allocator, c *Conf) (portSet, error) {
	n := 1
	if c.P2P.Listens() {
		n++
	}
	if c.EnableZMQ {
		n += 2
	}
	got, err := alloc.Allocate(n)
	if err != nil {
		return portSet{}, fmt.Errorf("failed to allocate ports: %w", err)
	}
	if len(got) != n {
		return portSet{}, fmt.Errorf("failed to allocate ports: want %d, got %d", n, len(got))
	}

	ps := portSet{rpc: got[0]}
	got = got[1:]
	if c.P2P.Listens() {
		ps.p2p, got = got[0], got[1:]
	}
	if c.EnableZMQ {
		ps.zmqBlock, ps.zmqTx = got[0], got[1]
	}
	return ps, nil
}

func socket(port int) netip.AddrPort {
	if port == 0 {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(netip.MustParseAddr(ports.LocalIP), uint16(port))
}

// startAttempt runs one full start. On failure it tears down whatever it
// created before returning.
func startAttempt(ctx context.Context, exe string, c *Conf, chain launcher.Chain, v version.Version, attempt int) (inst *instance, err error) {
	inst = &instance{
		log:         c.Logger.With(zap.Int("attempt", attempt)),
		stopTimeout: c.StopTimeout,
		persistent:  c.StaticDir != "",
		version:     v,
		wallet:      c.Wallet,
		registry:    c.Registry,
	}
	inst.state.Store(int32(Starting))

	defer func() {
		if err == nil {
			return
		}
		if tdErr := inst.teardown(); tdErr != nil {
			// The startup error is what the caller needs to see.
			inst.log.Error("rollback after failed start", zap.NamedError("start_error", err), zap.Error(tdErr))
		}
		inst = nil
	}()

	ps, err := allocatePorts(c.Ports, c)
	if err != nil {
		return inst, err
	}

	if c.StaticDir != "" {
		inst.dir, err = workdir.Persistent(c.StaticDir)
	} else {
		inst.dir, err = workdir.Create(c.TmpDir)
	}
	if err != nil {
		return inst, err
	}
	inst.log = inst.log.With(zap.String("workdir", inst.dir.Path()))
	inst.log.Debug("starting node", zap.Ints("ports", ps.list()), zap.Stringer("p2p", c.P2P))

	cookie := filepath.Join(inst.dir.Path(), chain.DataDir, ".cookie")
	inst.params = ConnectParams{
		WorkDir:              inst.dir.Path(),
		CookieFile:           cookie,
		RPCSocket:            socket(ps.rpc),
		P2PSocket:            socket(ps.p2p),
		ZMQPubRawBlockSocket: socket(ps.zmqBlock),
		ZMQPubRawTxSocket:    socket(ps.zmqTx),
		Network:              c.Network,
		Credentials:          c.Credentials,
	}

	cf := launcher.ConfigFile{
		Chain:          chain,
		Sections:       v.SupportsConfigSections(),
		RPCPort:        ps.rpc,
		P2PPort:        ps.p2p,
		ZMQPubRawBlock: ps.zmqBlock,
		ZMQPubRawTx:    ps.zmqTx,
		Extra:          c.ConfigOptions,
	}
	if addr, ok := c.P2P.Connect(); ok {
		cf.Connect = addr.String()
	}
	if c.Credentials.UserPass() {
		cf.RPCAuth, err = launcher.RPCAuth(c.Credentials.User, c.Credentials.Password)
		if err != nil {
			return inst, err
		}
	}
	confPath := inst.dir.Join(ConfigFileName)
	if err := cf.Write(confPath); err != nil {
		return inst, err
	}

	args := append([]string{
		"-datadir=" + inst.dir.Path(),
		"-conf=" + confPath,
	}, c.Args...)

	spec := launcher.Spec{
		Executable: exe,
		Args:       args,
		Env:        c.Env,
		LogDir:     inst.dir.Path(),
	}
	if c.ViewStdout {
		spec.Tee = os.Stdout
	}
	inst.proc, err = launcher.Start(spec)
	if err != nil {
		return inst, err
	}
	inst.log = inst.log.With(zap.Int("pid", inst.proc.Pid()))
	inst.register(ctx)

	inst.client = rpc.New(inst.params.RPCURL(), inst.params.Auth())

	err = readiness.Wait(ctx, func(ctx context.Context) error {
		_, err := inst.client.GetBlockchainInfo(ctx)
		return err
	}, readiness.Options{
		Interval: c.ProbeInterval,
		Timeout:  c.StartupTimeout,
		Exited:   inst.proc.Exited(),
		WatchDir: inst.dir.Path(),
	})
	if errors.Is(err, readiness.ErrExited) {
		return inst, &PortConflictError{
			Ports:    ps.list(),
			ExitCode: inst.proc.ExitCode(),
			Log:      inst.proc.StderrTail(logTailBytes),
		}
	}
	if err != nil {
		return inst, err
	}
	if inst.version.IsZero() {
		inst.version = inst.reportedVersion(ctx)
	}

	if c.Wallet != "" && inst.version.SupportsCreateWallet() {
		if err := inst.client.EnsureWallet(ctx, c.Wallet); err != nil {
			return inst, fmt.Errorf("failed to set up wallet %q: %w", c.Wallet, err)
		}
	}

	inst.state.Store(int32(Ready))
	inst.log.Debug("node ready", zap.String("rpc", inst.params.RPCURL()))
	return inst, nil
}

// reportedVersion asks the running daemon for its version when -version
// could not be parsed.
func (inst *instance) reportedVersion(ctx context.Context) version.Version {
	info, err := inst.client.GetNetworkInfo(ctx)
	if err != nil {
		inst.log.Debug("getnetworkinfo failed", zap.Error(err))
		return version.Version{}
	}
	return version.FromClientVersion(info.Version)
}

func (inst *instance) register(ctx context.Context) {
	if inst.registry == nil {
		return
	}
	id, err := inst.registry.Register(ctx, registry.Entry{
		Pid:       inst.proc.Pid(),
		WorkDir:   inst.dir.Path(),
		Temporary: inst.dir.Temporary(),
		RPCURL:    inst.params.RPCURL(),
	})
	if err != nil {
		inst.log.Warn("failed to register node", zap.Error(err))
		return
	}
	inst.regID = id
}

// teardown releases the instance exactly once; later calls return the
// first result.
func (inst *instance) teardown() error {
	inst.once.Do(func() {
		inst.err = inst.release()
	})
	return inst.err
}

func (inst *instance) release() error {
	inst.state.Store(int32(Stopping))
	var errs []error

	if inst.proc != nil {
		if inst.persistent && inst.proc.Running() && inst.client != nil {
			// A clean stop flushes the chainstate kept in the static dir.
			ctx, cancel := context.WithTimeout(context.Background(), inst.stopTimeout)
			if err := inst.client.Stop(ctx); err != nil {
				inst.log.Debug("rpc stop failed", zap.Error(err))
			} else {
				inst.proc.Wait(inst.stopTimeout)
			}
			cancel()
		}

		forced, err := inst.proc.Shutdown(inst.stopTimeout)
		if forced {
			inst.log.Warn("daemon did not exit after SIGTERM, killed", zap.Duration("timeout", inst.stopTimeout))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if inst.client != nil {
		inst.client.Close()
	}

	if err := inst.dir.Remove(); err != nil {
		errs = append(errs, err)
	}

	if inst.regID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := inst.registry.Unregister(ctx, inst.regID); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	inst.state.Store(int32(Stopped))
	if len(errs) > 0 {
		err := &TeardownError{Errs: errs}
		inst.log.Error("teardown failed", zap.Error(err))
		return err
	}
	inst.log.Debug("node stopped")
	return nil
}

// Close stops the daemon and removes a temporary workdir. It is safe to call
// more than once and from several goroutines; every call returns the result
// of the first.
func (n *Node) Close() error {
	if n == nil || n.inst == nil {
		return nil
	}
	n.cleanup.Stop()
	return n.inst.teardown()
}

// Stop asks the daemon to shut down over RPC and waits for it to exit,
// returning the exit error. Close must still be called to release the workdir.
func (n *Node) Stop(ctx context.Context) error {
	if err := n.live(); err != nil {
		return err
	}
	if err := n.inst.client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop node: %w", err)
	}
	select {
	case <-n.inst.proc.Exited():
		return n.inst.proc.ExitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) live() error {
	if n == nil || n.inst == nil {
		return ErrClosed
	}
	if State(n.inst.state.Load()) >= Stopping {
		return ErrClosed
	}
	return nil
}

// State returns the lifecycle state.
func (n *Node) State() State {
	if n == nil || n.inst == nil {
		return Unstarted
	}
	return State(n.inst.state.Load())
}

// Params returns the connection parameters, or ErrClosed after teardown began.
func (n *Node) Params() (ConnectParams, error) {
	if err := n.live(); err != nil {
		return ConnectParams{}, err
	}
	return n.inst.params, nil
}

// Client returns an RPC client, scoped to the configured wallet if any.
// It stops working once the node is closed.
func (n *Node) Client() *rpc.Client {
	if n == nil || n.inst == nil {
		return nil
	}
	if n.inst.wallet != "" && n.inst.version.SupportsCreateWallet() {
		return n.inst.client.WithWallet(n.inst.wallet)
	}
	return n.inst.client
}

// RPCURL returns the base JSON-RPC URL.
func (n *Node) RPCURL() string {
	if n == nil || n.inst == nil {
		return ""
	}
	return n.inst.params.RPCURL()
}

// RPCURLWithWallet returns the JSON-RPC URL scoped to wallet name.
func (n *Node) RPCURLWithWallet(name string) string {
	return n.RPCURL() + "/wallet/" + name
}

// WorkDir returns the workdir path.
func (n *Node) WorkDir() string {
	if n == nil || n.inst == nil {
		return ""
	}
	return n.inst.params.WorkDir
}

// Pid returns the daemon process id.
func (n *Node) Pid() int {
	if n == nil || n.inst == nil || n.inst.proc == nil {
		return 0
	}
	return n.inst.proc.Pid()
}

// LogFiles returns the paths of the captured daemon stdout and stderr.
func (n *Node) LogFiles() (stdout, stderr string) {
	if n == nil || n.inst == nil || n.inst.proc == nil {
		return "", ""
	}
	return n.inst.proc.StdoutPath(), n.inst.proc.StderrPath()
}

// Version returns the detected daemon version; zero if detection failed.
func (n *Node) Version() version.Version {
	if n == nil || n.inst == nil {
		return version.Version{}
	}
	return n.inst.version
}

// P2PConnect returns a P2P setting that connects another node to this one.
// ok is false when this node does not listen for peers.
func (n *Node) P2PConnect(listen bool) (p P2P, ok bool) {
	params, err := n.Params()
	if err != nil || !params.P2PSocket.IsValid() {
		return P2P{}, false
	}
	return P2PConnect(params.P2PSocket, listen), true
}

// CreateWallet creates (or loads) wallet name and returns a client scoped to it.
func (n *Node) CreateWallet(ctx context.Context, name string) (*rpc.Client, error) {
	if err := n.live(); err != nil {
		return nil, err
	}
	if err := n.inst.client.EnsureWallet(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to create wallet %q: %w", name, err)
	}
	return n.inst.client.WithWallet(name), nil
}

// String describes the node for logs.
func (n *Node) String() string {
	if n == nil || n.inst == nil {
		return "node(unstarted)"
	}
	return "node(pid " + strconv.Itoa(n.Pid()) + ", " + n.RPCURL() + ", " + n.State().String() + ")"
}
