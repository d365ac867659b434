package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/skillsmith/skillsmith/pkg/config"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/timeout"
)

func init() {
	if err := config.Init(viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "skillsmith",
	Short: "Create agent skills behind a human approval gate",
	Long: `skillsmith composes agent skill documents and writes them into the skill
directories of every configured target (.claude/skills, .gemini/skills, ...).

Nothing is written until the rendered preview has been approved. Existing
skills are backed up before they are replaced, and an interrupted wizard can
be resumed from its saved state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Configure(viper.GetString("log_level"), viper.GetString("log_format"))
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// flagKeys maps persistent flags to their configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"log-format":   "log_format",
	"project-root": "project_root",
	"targets":      "targets",
	"timeout":      "timeout_seconds",
	"editor":       "editor",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			return errors.Errorf("flag --%s is not defined", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "warn", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "fmt", "Log format (fmt, text or json)")
	flags.String("project-root", ".", "Project directory holding the target skill directories")
	flags.StringSlice("targets", nil, "Targets to write to (default: every target directory present in the project)")
	flags.Int("timeout", int(timeout.DefaultTimeout.Seconds()), "Seconds to wait for each answer")
	flags.String("editor", "", "Editor command used by the edit decision")

	if err := bindFlags(viper.GetViper(), flags); err != nil {
		presenter.Error(err, "Failed to bind flags")
		os.Exit(1)
	}

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		presenter.Error(err, "Command failed")
		os.Exit(1)
	}
}
