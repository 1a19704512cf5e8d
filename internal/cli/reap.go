package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/nodefixture/internal/registry"
)

var (
	reapDryRunFlag bool
	reapQuietFlag  bool
)

// reapCmd represents the reap command
var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Kill nodes left behind by crashed test processes",
	Long: `Reap scans the fixture registry for nodes whose owning process is gone.
Each orphan's daemon is killed if still running, its temporary data
directory removed and its registry entry deleted.

Process ids can be reused by the OS, so only reap a registry owned by
the current user.

Examples:
  # Show orphans without touching them
  nodefixture reap --dry-run
`,
	Args: cobra.NoArgs,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)
	reapCmd.Flags().BoolVarP(&reapDryRunFlag, "dry-run", "n", false, "List orphans without killing them")
	reapCmd.Flags().BoolVarP(&reapQuietFlag, "quiet", "q", false, "Suppress output messages")
}

func runReap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer reg.Close()

	out := cmd.OutOrStdout()
	if reapQuietFlag {
		out = io.Discard
	}
	return executeReap(cmd.Context(), reg, registry.ReapOptions{DryRun: reapDryRunFlag}, out)
}

func executeReap(ctx context.Context, reg *registry.Registry, opts registry.ReapOptions, out io.Writer) error {
	reaped, err := reg.Reap(ctx, opts)

	verb := "Reaped"
	if opts.DryRun {
		verb = "Orphaned"
	}
	for _, e := range reaped {
		fmt.Fprintf(out, "%s node pid %d (owner %d) %s\n", verb, e.Pid, e.OwnerPid, e.WorkDir)
	}
	if len(reaped) == 0 {
		fmt.Fprintln(out, "No orphaned nodes")
	}

	if err != nil {
		return fmt.Errorf("reap incomplete: %w", err)
	}
	return nil
}
