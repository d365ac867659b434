package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/skillsmith/skillsmith/pkg/session"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [state-file]",
	Short: "Resume an interrupted wizard",
	Long: `Resume a wizard that timed out or was interrupted, then continue to the
Human Gate. Saved states live in <state_dir>/temp/wizard-state-*.json; run
without an argument to list them.

Example:
  skillsmith resume .skillsmith/temp/wizard-state-20250205T143000.000.json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		run(cmd, appOptions{needTargets: true}, func(ctx context.Context, a *app) int {
			return runResume(ctx, a, path)
		})
	},
}

func runResume(ctx context.Context, a *app, path string) int {
	if path == "" {
		a.out.Error(errors.New("no state file given"), "Choose a saved wizard state to resume")
		if err := a.wf.ListStates(); err != nil {
			a.out.Error(err, "Failed to list wizard states")
		}
		return 1
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		a.out.Error(errors.Wrapf(session.ErrStateNotFound, "%s", path), "State file not found")
		if err := a.wf.ListStates(); err != nil {
			a.out.Error(err, "Failed to list wizard states")
		}
		return 1
	}

	outcome, err := a.wf.Resume(ctx, path)
	return a.report(outcome, err)
}
