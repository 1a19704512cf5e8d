package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/nodefixture/internal/config"
)

var exeDownloadFlag bool

// exeCmd represents the exe command
var exeCmd = &cobra.Command{
	Use:   "exe",
	Short: "Print the bitcoind executable fixtures would use",
	Long: `Exe resolves the daemon executable the same way fixtures do:
node.exe (BITCOIND_EXE), then the cached release selected by node.version
(BITCOIND_VERSION), then bitcoind on PATH.

A release that is not cached is only downloaded with --download.`,
	Args: cobra.NoArgs,
	RunE: runExe,
}

func init() {
	rootCmd.AddCommand(exeCmd)
	exeCmd.Flags().BoolVar(&exeDownloadFlag, "download", false, "Download the selected release if it is not cached")
}

func runExe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return executeExe(cmd, cfg, exeDownloadFlag)
}

func executeExe(cmd *cobra.Command, cfg *config.Config, allowDownload bool) error {
	resolver := cfg.Resolver()
	resolver.AutoDownload = allowDownload
	resolver.Download.Progress = cmd.ErrOrStderr()

	path, err := resolver.Resolve(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
