package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvp-joe/nodefixture/internal/config"
	"github.com/mvp-joe/nodefixture/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nodefixture",
	Short: "Disposable bitcoind nodes for tests and local development",
	Long: `nodefixture starts throwaway bitcoind regtest nodes on free ports,
waits until they answer RPC, and removes every trace of them on exit.

Settings come from nodefixture.yml in the working directory (or --config),
overridden by NODEFIXTURE_* environment variables. The historical
BITCOIND_EXE, BITCOIND_VERSION and TEMPDIR_ROOT variables are honoured.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code, ok := exitCode(err); ok && code > 0 {
			os.Exit(code)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nodefixture.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the fixture logger; --verbose forces debug level.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
}
