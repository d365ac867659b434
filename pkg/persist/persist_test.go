package persist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const document = "---\nname: api-docs\ndescription: Generates docs\n---\n# Api Docs\n"

type fixture struct {
	root    string
	tempDir string
	engine  *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	layout, err := artifact.NewLayout(t.TempDir())
	require.NoError(t, err)
	tempDir := filepath.Join(layout.Root(), ".skillsmith", "temp")
	return &fixture{
		root:    layout.Root(),
		tempDir: tempDir,
		engine:  NewEngine(layout, tempDir, opts...),
	}
}

func (f *fixture) path(parts ...string) string {
	return filepath.Join(append([]string{f.root}, parts...)...)
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := f.path(filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(f.path(filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) assertNoStaging(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "staging root removed")
}

func newPreview(targets ...string) *artifact.Preview {
	return artifact.NewPreview("api-docs", document, "name: api-docs\n", targets, artifact.FrontmatterValidator{Name: "api-docs"})
}

func TestPersist(t *testing.T) {
	f := newFixture(t)
	asset := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(asset, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	p := newPreview("claude", "gemini")
	p.AddResource(artifact.Resource{Type: artifact.ResourceScript, Filename: "gen.sh", Content: "#!/bin/sh\n", Size: 10})
	p.AddResource(artifact.Resource{Type: artifact.ResourceAsset, Filename: "logo.png", SourcePath: asset, Size: 4})
	require.True(t, p.Valid(), p.Problems)

	dirs, err := f.engine.Persist(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{f.path(".claude", "skills", "api-docs"), f.path(".gemini", "skills", "api-docs")}, dirs)
	for _, target := range []string{"claude", "gemini"} {
		base := "." + target + "/skills/api-docs/"
		assert.Equal(t, document, f.read(t, base+"SKILL.md"))
		assert.Equal(t, "name: api-docs\n", f.read(t, base+"metadata.yaml"))
		assert.Equal(t, "\x89PNG", f.read(t, base+"assets/logo.png"))

		info, err := os.Stat(f.path(filepath.FromSlash(base + "scripts/gen.sh")))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
	f.assertNoStaging(t)
}

func TestPersist_ReplacesExistingDirectory(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".claude/skills/api-docs/SKILL.md", "old")
	f.write(t, ".claude/skills/api-docs/references/stale.md", "stale")

	_, err := f.engine.Persist(context.Background(), newPreview("claude"))
	require.NoError(t, err)

	assert.Equal(t, document, f.read(t, ".claude/skills/api-docs/SKILL.md"))
	assert.NoFileExists(t, f.path(".claude", "skills", "api-docs", "references", "stale.md"))
	f.assertNoStaging(t)
}

func TestPersist_StagingFailureLeavesEveryTargetUntouched(t *testing.T) {
	failing := func(path string, data []byte, perm os.FileMode) error {
		if strings.Contains(path, string(filepath.Separator)+"gemini"+string(filepath.Separator)) {
			return errors.New("disk full")
		}
		return os.WriteFile(path, data, perm)
	}
	f := newFixture(t, WithWriteFunc(failing))
	f.write(t, ".claude/skills/api-docs/SKILL.md", "original")

	dirs, err := f.engine.Persist(context.Background(), newPreview("claude", "gemini"))

	require.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, dirs)
	assert.Equal(t, "original", f.read(t, ".claude/skills/api-docs/SKILL.md"))
	assert.NoDirExists(t, f.path(".gemini", "skills", "api-docs"))
	f.assertNoStaging(t)
}

func TestPersist_FinalizeFailureNamesWrittenTargets(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".gemini/skills", "a file where a directory belongs")

	dirs, err := f.engine.Persist(context.Background(), newPreview("claude", "gemini"))

	require.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorContains(t, err, "finalizing gemini")
	assert.Equal(t, []string{f.path(".claude", "skills", "api-docs")}, dirs)
	assert.Equal(t, document, f.read(t, ".claude/skills/api-docs/SKILL.md"))
	f.assertNoStaging(t)
}

func TestPersist_RejectsInvalidPreview(t *testing.T) {
	f := newFixture(t)
	p := artifact.NewPreview("api-docs", "no frontmatter", "", []string{"claude"}, artifact.FrontmatterValidator{Name: "api-docs"})

	_, err := f.engine.Persist(context.Background(), p)

	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.NoDirExists(t, f.path(".claude"))
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".claude/skills/api-docs/SKILL.md", "old")
	f.write(t, ".claude/skills/api-docs/metadata.yaml", "keep me")
	f.write(t, ".qwen/skills/api-docs/SKILL.md", "old")

	dirs, err := f.engine.Update(context.Background(), "api-docs", []string{"claude", "gemini", "qwen"}, map[string]string{
		"SKILL.md":            "new",
		"references/extra.md": "extra",
	})
	require.NoError(t, err)

	assert.Len(t, dirs, 2, "gemini has no artifact and is skipped")
	assert.Equal(t, "new", f.read(t, ".claude/skills/api-docs/SKILL.md"))
	assert.Equal(t, "keep me", f.read(t, ".claude/skills/api-docs/metadata.yaml"))
	assert.Equal(t, "extra", f.read(t, ".qwen/skills/api-docs/references/extra.md"))
	assert.NoDirExists(t, f.path(".gemini"))
	f.assertNoStaging(t)
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Update(context.Background(), "api-docs", []string{"claude"}, map[string]string{"SKILL.md": "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	f.write(t, ".claude/skills/api-docs/SKILL.md", "old")
	for _, rel := range []string{"../escape.md", "/etc/passwd", "scripts/../../x", ""} {
		_, err := f.engine.Update(context.Background(), "api-docs", []string{"claude"}, map[string]string{rel: "x"})
		assert.ErrorIs(t, err, sanitize.ErrInvalidFilename, rel)
	}
	assert.Equal(t, "old", f.read(t, ".claude/skills/api-docs/SKILL.md"))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".claude/skills/api-docs/SKILL.md", "a")
	f.write(t, ".codex/skills/api-docs/SKILL.md", "b")
	f.write(t, ".codex/skills/other/SKILL.md", "c")

	dirs, err := f.engine.Delete(context.Background(), "api-docs", []string{"claude", "codex"})
	require.NoError(t, err)

	assert.Len(t, dirs, 2)
	assert.NoDirExists(t, f.path(".claude", "skills", "api-docs"))
	assert.NoDirExists(t, f.path(".codex", "skills", "api-docs"))
	assert.Equal(t, "c", f.read(t, ".codex/skills/other/SKILL.md"))
	f.assertNoStaging(t)

	_, err = f.engine.Delete(context.Background(), "api-docs", []string{"claude"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_FailureRestoresEveryTarget(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".claude/skills/api-docs/SKILL.md", "a")
	f.write(t, ".claude/skills/api-docs/scripts/run.sh", "run")
	f.write(t, ".codex/skills/api-docs/SKILL.md", "b")

	f.engine.removeAll = func(path string) error {
		if strings.Contains(path, ".codex") {
			// partial removal before failing
			os.Remove(filepath.Join(path, "SKILL.md"))
			return errors.New("permission denied")
		}
		return os.RemoveAll(path)
	}

	_, err := f.engine.Delete(context.Background(), "api-docs", []string{"claude", "codex"})

	require.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorContains(t, err, "all changes rolled back")
	assert.Equal(t, "a", f.read(t, ".claude/skills/api-docs/SKILL.md"))
	assert.Equal(t, "run", f.read(t, ".claude/skills/api-docs/scripts/run.sh"))
	assert.Equal(t, "b", f.read(t, ".codex/skills/api-docs/SKILL.md"))
	f.assertNoStaging(t)
}

func TestCleanStale(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.engine.now = func() time.Time { return now }

	old := now.Add(-25 * time.Hour)
	for _, name := range []string{"create-api-docs-1", "restore-2", "notes"} {
		dir := filepath.Join(f.tempDir, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.Chtimes(dir, old, old))
	}
	fresh := filepath.Join(f.tempDir, "update-api-docs-3")
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	state := filepath.Join(f.tempDir, "wizard-state-20260101T000000.000.json")
	require.NoError(t, os.WriteFile(state, []byte("{}"), 0o600))
	require.NoError(t, os.Chtimes(state, old, old))

	removed, err := f.engine.CleanStale(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, removed)
	assert.NoDirExists(t, filepath.Join(f.tempDir, "create-api-docs-1"))
	assert.NoDirExists(t, filepath.Join(f.tempDir, "restore-2"))
	assert.DirExists(t, filepath.Join(f.tempDir, "notes"))
	assert.DirExists(t, fresh)
	assert.FileExists(t, state)
}

func TestCleanStale_MissingTempDir(t *testing.T) {
	f := newFixture(t)

	removed, err := f.engine.CleanStale(context.Background())

	require.NoError(t, err)
	assert.Zero(t, removed)
}
