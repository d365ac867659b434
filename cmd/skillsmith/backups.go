package main

import (
	"context"

	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:   "backups [name]",
	Short: "List backup archives",
	Long:  `List backup archives, newest first, for one skill or for all of them.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		run(cmd, appOptions{}, func(_ context.Context, a *app) int {
			if _, err := a.wf.ListBackups(name); err != nil {
				a.out.Error(err, "Failed to list backups")
				return 1
			}
			return 0
		})
	},
}
