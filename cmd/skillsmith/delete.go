package main

import (
	"context"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a skill from every target",
	Long: `Delete a skill from every target that holds it. A backup archive is written
first; restore it with 'skillsmith restore <name>'. The confirmation prompt
uses the confirm_timeout deadline.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, appOptions{needTargets: true, confirm: true}, func(ctx context.Context, a *app) int {
			outcome, err := a.wf.Delete(ctx, args[0])
			return a.report(outcome, err)
		})
	},
}
