package main

import (
	"context"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <archive|name>",
	Short: "Restore a skill from a backup",
	Long: `Restore the skill directories stored in a backup archive. Pass the path of
an archive, or a skill name to use its newest backup.

Example:
  skillsmith restore api-docs
  skillsmith restore .skillsmith/backups/api-docs-20250205T143000.000.tar.gz`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, appOptions{confirm: true}, func(ctx context.Context, a *app) int {
			outcome, err := a.wf.Restore(ctx, args[0])
			return a.report(outcome, err)
		})
	},
}
