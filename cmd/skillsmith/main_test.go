package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsmith/skillsmith/pkg/backup"
	"github.com/skillsmith/skillsmith/pkg/config"
	"github.com/skillsmith/skillsmith/pkg/persist"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/session"
	"github.com/skillsmith/skillsmith/pkg/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".claude"), 0o755))

	v := viper.New()
	config.SetDefaults(v)
	v.Set("project_root", root)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func testApp(t *testing.T, cfg *config.Config, input string, opts appOptions) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a, err := newApp(context.Background(), cfg, streams{
		in:     strings.NewReader(input),
		out:    &out,
		errOut: &out,
		color:  presenter.ColorNever,
	}, opts)
	require.NoError(t, err)
	return a, &out
}

func TestRunCreate_Direct(t *testing.T) {
	cfg := testConfig(t)
	a, out := testApp(t, cfg, "approve\n", appOptions{needTargets: true})

	code := runCreate(context.Background(), a, workflow.Input{
		Name:        "api-docs",
		Description: "Generates API documentation",
	})

	assert.Equal(t, 0, code, out.String())
	assert.FileExists(t, filepath.Join(cfg.ProjectRoot, ".claude", "skills", "api-docs", "SKILL.md"))
	assert.FileExists(t, filepath.Join(cfg.LogDir(), "operations.jsonl"))
}

func TestRunCreate_Rejected(t *testing.T) {
	cfg := testConfig(t)
	a, _ := testApp(t, cfg, "reject\n", appOptions{needTargets: true})

	code := runCreate(context.Background(), a, workflow.Input{Name: "api-docs", Description: "Generates API documentation"})

	assert.Equal(t, 1, code)
	assert.NoDirExists(t, filepath.Join(cfg.ProjectRoot, ".claude", "skills", "api-docs"))
}

func TestNewApp_NoTargets(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("project_root", t.TempDir())
	cfg, err := config.Load(v)
	require.NoError(t, err)

	_, err = newApp(context.Background(), cfg, streams{in: strings.NewReader(""), out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}, appOptions{needTargets: true})
	assert.ErrorContains(t, err, "no target directories found")

	_, err = newApp(context.Background(), cfg, streams{in: strings.NewReader(""), out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}, appOptions{})
	assert.NoError(t, err)
}

func TestRunResume_MissingState(t *testing.T) {
	cfg := testConfig(t)
	a, out := testApp(t, cfg, "", appOptions{needTargets: true})

	code := runResume(context.Background(), a, filepath.Join(cfg.TempDir(), "wizard-state-missing.json"))

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "State file not found")
	assert.Contains(t, out.String(), "(none)")
}

func TestRunResume_NoArgument(t *testing.T) {
	cfg := testConfig(t)
	a, out := testApp(t, cfg, "", appOptions{needTargets: true})

	assert.Equal(t, 1, runResume(context.Background(), a, ""))
	assert.Contains(t, out.String(), "Available wizard states")
}

func TestListBackups_Empty(t *testing.T) {
	cfg := testConfig(t)
	a, out := testApp(t, cfg, "", appOptions{})

	archives, err := a.wf.ListBackups("")
	require.NoError(t, err)
	assert.Empty(t, archives)
	assert.Contains(t, out.String(), "(none)")
}

func TestParseFileFlag(t *testing.T) {
	tests := []struct {
		value   string
		rel     string
		src     string
		wantErr bool
	}{
		{value: "SKILL.md=./draft.md", rel: "SKILL.md", src: "./draft.md"},
		{value: "references/guide.md = notes/guide.md", rel: "references/guide.md", src: "notes/guide.md"},
		{value: "notes/SKILL.md", rel: "SKILL.md", src: "notes/SKILL.md"},
		{value: "=draft.md", wantErr: true},
		{value: "SKILL.md=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			rel, src, err := parseFileFlag(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rel, rel)
			assert.Equal(t, tt.src, src)
		})
	}
}

func TestReadReplacements(t *testing.T) {
	dir := t.TempDir()
	draft := filepath.Join(dir, "draft.md")
	require.NoError(t, os.WriteFile(draft, []byte("# Draft\n"), 0o644))

	got, err := readReplacements([]string{"SKILL.md=" + draft})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SKILL.md": "# Draft\n"}, got)

	_, err = readReplacements(nil)
	assert.ErrorContains(t, err, "at least one --file")

	_, err = readReplacements([]string{"SKILL.md=" + draft, "SKILL.md=" + draft})
	assert.ErrorContains(t, err, "more than once")

	_, err = readReplacements([]string{"SKILL.md=" + filepath.Join(dir, "missing.md")})
	assert.ErrorContains(t, err, "failed to read")

	large := filepath.Join(dir, "large.md")
	require.NoError(t, os.WriteFile(large, bytes.Repeat([]byte("a"), 50001), 0o644))
	_, err = readReplacements([]string{"SKILL.md=" + large})
	assert.ErrorContains(t, err, "the limit is")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, out.String(), `"version": "dev"`)
	assert.Contains(t, out.String(), `"goVersion"`)
}

func TestNextAction(t *testing.T) {
	assert.Contains(t, nextAction(errors.Wrap(session.ErrInvalidState, "bad json")), "skillsmith create")
	assert.Contains(t, nextAction(errors.Wrap(backup.ErrBackupNotFound, "api-docs")), "skillsmith backups")
	assert.Contains(t, nextAction(persist.ErrNotFound), "--targets")
	assert.Empty(t, nextAction(errors.New("boom")))
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "warn", "")
	flags.String("log-format", "fmt", "")
	flags.String("project-root", ".", "")
	flags.StringSlice("targets", nil, "")
	flags.Int("timeout", 300, "")
	flags.String("editor", "", "")

	v := viper.New()
	config.SetDefaults(v)
	v.Set("project_root", t.TempDir())
	require.NoError(t, bindFlags(v, flags))
	require.NoError(t, flags.Parse([]string{"--timeout", "45", "--targets", "claude,codex"}))

	assert.Equal(t, 45, v.GetInt("timeout_seconds"))
	assert.Equal(t, []string{"claude", "codex"}, v.GetStringSlice("targets"))
	assert.Equal(t, "warn", v.GetString("log_level"))

	assert.ErrorContains(t, bindFlags(viper.New(), pflag.NewFlagSet("empty", pflag.ContinueOnError)), "is not defined")
}
