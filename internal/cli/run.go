package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mvp-joe/nodefixture/internal/config"
	"github.com/mvp-joe/nodefixture/internal/launcher"
	"github.com/mvp-joe/nodefixture/internal/registry"
	"github.com/mvp-joe/nodefixture/pkg/dependent"
	"github.com/mvp-joe/nodefixture/pkg/node"
)

var (
	runJSONFlag      bool
	runExeFlag       string
	runVersionFlag   string
	runNetworkFlag   string
	runP2PFlag       string
	runConnectFlag   string
	runZMQFlag       bool
	runWalletFlag    string
	runStaticDirFlag string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [flags] [-- COMMAND [ARGS...]]",
	Short: "Start a disposable node and keep it running until interrupted",
	Long: `Run starts a bitcoind node on free ports, prints its connection
parameters and waits for SIGINT or SIGTERM. The node and its temporary
data directory are removed on exit.

An optional command after -- is started once the node is ready. Its
arguments may reference the node through placeholders, and its environment
carries BITCOIND_RPC_URL, BITCOIND_COOKIE_FILE and friends. The node is
torn down when the command exits.

Placeholders:
  {rpc_url} {rpc_addr} {rpc_port} {cookie_file} {workdir}
  {p2p_addr} {network} {rpc_user} {rpc_password}

Examples:
  # Regtest node with ZMQ, parameters as JSON
  nodefixture run --zmq --json

  # Start an indexer against the node
  nodefixture run -- electrs --daemon-rpc-addr {rpc_addr} --cookie-file {cookie_file}
`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.BoolVar(&runJSONFlag, "json", false, "Print connection parameters as JSON")
	f.StringVar(&runExeFlag, "exe", "", "bitcoind executable (overrides node.exe)")
	f.StringVar(&runVersionFlag, "bitcoind-version", "", "Release to run, downloaded if needed (overrides node.version)")
	f.StringVar(&runNetworkFlag, "network", "", "Chain to run (overrides node.network)")
	f.StringVar(&runP2PFlag, "p2p", "", "P2P mode: none or listen (overrides node.p2p)")
	f.StringVar(&runConnectFlag, "connect", "", "Peer address to connect to (overrides node.connect)")
	f.BoolVar(&runZMQFlag, "zmq", false, "Enable rawblock and rawtx ZMQ publishers")
	f.StringVar(&runWalletFlag, "wallet", "", "Wallet to create or load, empty to disable (overrides node.wallet)")
	f.StringVar(&runStaticDirFlag, "staticdir", "", "Persistent data directory kept after exit")
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("exe", func() { cfg.Node.Exe = runExeFlag })
	set("bitcoind-version", func() { cfg.Node.Version = runVersionFlag })
	set("network", func() { cfg.Node.Network = runNetworkFlag })
	set("p2p", func() { cfg.Node.P2P = runP2PFlag })
	set("connect", func() { cfg.Node.Connect = runConnectFlag })
	set("zmq", func() { cfg.Node.ZMQ = runZMQFlag })
	set("wallet", func() { cfg.Node.Wallet = runWalletFlag })
	set("staticdir", func() { cfg.Node.StaticDir = runStaticDirFlag })
	return config.Validate(cfg)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg, cmd.Flags()); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) > 0 {
		return runWithDependent(ctx, cfg, logger, cmd.OutOrStdout(), dependent.Spec{
			Executable: args[0],
			Args:       args[1:],
			Tee:        os.Stdout,
		})
	}
	return runNode(ctx, cfg, logger, cmd.OutOrStdout(), nil)
}

func runWithDependent(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, spec dependent.Spec) error {
	return runNode(ctx, cfg, logger, out, func(ctx context.Context, p node.ConnectParams) error {
		proc, err := dependent.Start(spec, p)
		if err != nil {
			return err
		}
		log.Printf("Started %s (pid %d)", spec.Executable, proc.Pid())

		select {
		case <-proc.Exited():
			log.Printf("%s exited with code %d", spec.Executable, proc.ExitCode())
			if err := proc.ExitErr(); err != nil {
				return fmt.Errorf("%s failed: %w", spec.Executable, err)
			}
			return nil
		case <-ctx.Done():
			if _, err := proc.Shutdown(cfg.Node.StopTimeout); err != nil {
				return fmt.Errorf("failed to stop %s: %w", spec.Executable, err)
			}
			return nil
		}
	})
}

// runNode starts the node, prints its parameters and blocks in attach (or
// until ctx is done when attach is nil). The node is closed before return.
func runNode(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, attach func(context.Context, node.ConnectParams) error) (err error) {
	resolver := cfg.Resolver()
	resolver.Download.Progress = os.Stderr
	resolver.Download.Logger = logger
	exe, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	conf, err := cfg.NodeConf()
	if err != nil {
		return err
	}
	conf.Logger = logger
	conf.ViewStdout = conf.ViewStdout || verbose

	if cfg.Registry.Enabled {
		reg, err := openRegistry(cfg)
		if err != nil {
			return err
		}
		defer reg.Close()
		conf.Registry = reg
	}

	log.Printf("Starting %s on %s", exe, conf.Network)
	n, err := node.New(ctx, exe, conf)
	if err != nil {
		return err
	}
	defer func() {
		log.Println("Stopping node")
		if cerr := n.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	params, err := n.Params()
	if err != nil {
		return err
	}
	if err := printParams(out, newParamsView(n, params), runJSONFlag); err != nil {
		return err
	}

	if attach != nil {
		return attach(ctx, params)
	}
	<-ctx.Done()
	return nil
}

func openRegistry(cfg *config.Config) (*registry.Registry, error) {
	path := cfg.Registry.Path
	if path == "" {
		p, err := registry.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return registry.Open(path)
}

// exitCode extracts the child exit code for main.
func exitCode(err error) (int, bool) {
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	var spawnErr *launcher.SpawnError
	if errors.As(err, &spawnErr) {
		return 127, true
	}
	return 0, false
}
