package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/skillsmith/skillsmith/pkg/sanitize"
)

type UpdateConfig struct {
	Files []string
}

func NewUpdateConfig() *UpdateConfig {
	return &UpdateConfig{Files: []string{}}
}

var updateCmd = &cobra.Command{
	Use:   "update <name> --file [REL=]PATH ...",
	Short: "Replace files of an existing skill",
	Long: `Replace files of an existing skill in every target that holds it. Each
--file takes a path relative to the skill directory and a local file to read
the new content from; a bare PATH replaces the file with the same base name.

A diff of the change is shown before the confirmation prompt and a backup is
written before anything is replaced.

Example:
  skillsmith update api-docs --file SKILL.md=./SKILL.md
  skillsmith update api-docs --file references/guide.md=./notes/guide.md`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getUpdateConfigFromFlags(cmd)
		run(cmd, appOptions{needTargets: true, confirm: true}, func(ctx context.Context, a *app) int {
			replacements, err := readReplacements(config.Files)
			if err != nil {
				a.out.Error(err, "Invalid --file")
				return 1
			}
			outcome, err := a.wf.Update(ctx, args[0], replacements)
			return a.report(outcome, err)
		})
	},
}

func init() {
	defaults := NewUpdateConfig()
	updateCmd.Flags().StringArray("file", defaults.Files, "File to replace as REL=PATH (repeatable)")
}

func getUpdateConfigFromFlags(cmd *cobra.Command) *UpdateConfig {
	config := NewUpdateConfig()

	if files, err := cmd.Flags().GetStringArray("file"); err == nil {
		config.Files = files
	}

	return config
}

// parseFileFlag splits a --file value into the path inside the skill
// directory and the local source path.
func parseFileFlag(value string) (rel, src string, err error) {
	rel, src, found := strings.Cut(value, "=")
	if !found {
		src = value
		rel = filepath.Base(value)
	}
	rel = strings.TrimSpace(rel)
	src = strings.TrimSpace(src)
	if rel == "" || src == "" {
		return "", "", errors.Errorf("expected REL=PATH, got %q", value)
	}
	return filepath.ToSlash(rel), src, nil
}

func readReplacements(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, errors.New("at least one --file is required")
	}
	replacements := make(map[string]string, len(values))
	for _, value := range values {
		rel, src, err := parseFileFlag(value)
		if err != nil {
			return nil, err
		}
		if _, dup := replacements[rel]; dup {
			return nil, errors.Errorf("%s given more than once", rel)
		}
		content, err := os.ReadFile(src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", src)
		}
		if len(content) > sanitize.MaxContentLength {
			return nil, errors.Errorf("%s is %d bytes, the limit is %d", src, len(content), sanitize.MaxContentLength)
		}
		replacements[rel] = string(content)
	}
	return replacements, nil
}
