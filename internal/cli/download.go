package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/nodefixture/internal/config"
	"github.com/mvp-joe/nodefixture/internal/download"
	"github.com/mvp-joe/nodefixture/internal/version"
)

var downloadQuietFlag bool

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download [VERSION]",
	Short: "Download and verify a bitcoind release into the cache",
	Long: `Download fetches the release archive for this platform, verifies it
against SHA256SUMS and extracts bitcoind into the cache directory.
An already cached release is not downloaded again.

VERSION defaults to node.version (BITCOIND_VERSION).

Examples:
  nodefixture download 27.1
  BITCOIND_TARBALL_FILE=./bitcoin-27.1-x86_64-linux-gnu.tar.gz nodefixture download 27.1
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().BoolVarP(&downloadQuietFlag, "quiet", "q", false, "Suppress the progress bar")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Node.Version = args[0]
	}

	var progress io.Writer = os.Stderr
	if downloadQuietFlag {
		progress = nil
	}
	return executeDownload(cmd, cfg, progress)
}

func executeDownload(cmd *cobra.Command, cfg *config.Config, progress io.Writer) error {
	if cfg.Node.Version == "" {
		return fmt.Errorf("no version given: pass VERSION or set BITCOIND_VERSION")
	}
	v, err := version.Parse(cfg.Node.Version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", cfg.Node.Version, err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := cfg.DownloadOptions().FromEnv()
	opts.Version = v
	opts.Progress = progress
	opts.Logger = logger

	path, err := download.Ensure(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("failed to install bitcoind %s: %w", v, err)
	}

	if progress != nil {
		log.Printf("bitcoind %s ready", v)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
