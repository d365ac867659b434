package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/audit"
	"github.com/skillsmith/skillsmith/pkg/backup"
	"github.com/skillsmith/skillsmith/pkg/collision"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/persist"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
	"github.com/skillsmith/skillsmith/pkg/timeout"
	"github.com/skillsmith/skillsmith/pkg/utils"
)

func checkName(name string) error {
	if !sanitize.NamePattern.MatchString(name) {
		return errors.Wrapf(sanitize.ErrInvalidName, "%q", name)
	}
	return nil
}

// locate returns the configured targets that currently hold name.
func (w *Workflow) locate(ctx context.Context, name string) (map[string]collision.Info, []string, error) {
	found, err := collision.NewDetector(w.Layout).Detect(ctx, name, w.settings.Targets)
	if err != nil {
		return nil, nil, err
	}
	if len(found) == 0 {
		return nil, nil, errors.Wrapf(persist.ErrNotFound, "skill %q not found in %v", name, w.settings.Targets)
	}
	return found, collision.Targets(found), nil
}

// confirm asks a yes/no question under the prompt deadline. A timeout counts
// as no and is reported through timedOut.
func (w *Workflow) confirm(ctx context.Context, question string) (ok, timedOut bool, err error) {
	for {
		answer, err := w.Prompter.Ask(ctx, question+" [yes/no]:")
		if errors.Is(err, timeout.ErrTimeout) {
			w.Out.Warning("No answer before the deadline. Nothing was changed.")
			return false, true, nil
		}
		if err != nil {
			return false, false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, false, nil
		case "n", "no":
			return false, false, nil
		}
		w.Out.Warning("Please answer yes or no.")
	}
}

// declined records a confirmation that was not given and returns the
// matching outcome.
func (w *Workflow) declined(ctx context.Context, op, name string, timedOut bool) Outcome {
	decision, status := "cancel", StatusCancelled
	if timedOut {
		decision, status = "timeout", StatusTimedOut
	}
	audit.Log(ctx, w.Sink, audit.NewRecord(op, name, decision, nil))
	if !timedOut {
		w.Out.Success("Operation cancelled. Nothing was changed.")
	}
	return Outcome{Status: status, Name: name}
}

// Delete removes name from every configured target that holds it, after a
// confirmation and a backup.
func (w *Workflow) Delete(ctx context.Context, name string) (Outcome, error) {
	if err := checkName(name); err != nil {
		return Outcome{Status: StatusFailed, Name: name}, err
	}
	ctx = logger.WithFields(ctx, logrus.Fields{"artifact": name, "operation": "delete"})
	w.cleanStale(ctx)

	found, targets, err := w.locate(ctx, name)
	if err != nil {
		return Outcome{Status: StatusFailed, Name: name}, err
	}

	w.Out.Banner("Delete Skill: " + name)
	for _, target := range targets {
		size, err := utils.TreeSize(found[target].Dir)
		if err != nil {
			size = found[target].Size
		}
		w.Out.Info(fmt.Sprintf("  %s (%s)", artifact.RelArtifactDir(target, name), presenter.FormatSize(size)))
	}

	ok, timedOut, err := w.confirm(ctx, fmt.Sprintf("Delete '%s' from %d location(s)?", name, len(targets)))
	if err != nil {
		return Outcome{Status: StatusAborted, Name: name}, err
	}
	if !ok {
		return w.declined(ctx, "delete", name, timedOut), nil
	}

	archive, err := w.backupBefore(ctx, "delete", name, targets)
	if err != nil {
		return Outcome{Status: StatusFailed, Name: name}, err
	}

	removed, err := w.Engine.Delete(ctx, name, targets)
	if err != nil {
		audit.Log(ctx, w.Sink, audit.NewRecord("delete", name, "delete_failed", map[string]any{
			"error":       err.Error(),
			"target_clis": targets,
			"backup_path": archive,
		}))
		w.Out.Error(err, "Failed to delete skill")
		w.Out.Info("Restore from the backup with: skillsmith restore " + archive)
		return Outcome{Status: StatusFailed, Name: name, Backup: archive}, err
	}

	audit.Log(ctx, w.Sink, audit.NewRecord("delete", name, "approve", map[string]any{
		"target_clis": targets,
		"backup_path": archive,
	}))
	w.Out.Success(fmt.Sprintf("Skill '%s' deleted from %d location(s).", name, len(removed)))
	w.Out.Info("Undo with: skillsmith restore " + archive)
	return Outcome{Status: StatusDeleted, Name: name, Paths: removed, Backup: archive}, nil
}

// Update replaces files of an existing artifact in every configured target
// that holds it. replacements maps paths relative to the artifact directory
// to their new content. A replacement of the document must pass validation.
func (w *Workflow) Update(ctx context.Context, name string, replacements map[string]string) (Outcome, error) {
	if err := checkName(name); err != nil {
		return Outcome{Status: StatusFailed, Name: name}, err
	}
	if len(replacements) == 0 {
		return Outcome{Status: StatusFailed, Name: name}, errors.New("no files to update")
	}
	for rel := range replacements {
		if err := persist.CheckRelPath(rel); err != nil {
			return Outcome{Status: StatusFailed, Name: name}, errors.Wrapf(err, "replacement %q", rel)
		}
	}
	ctx = logger.WithFields(ctx, logrus.Fields{"artifact": name, "operation": "update"})
	w.cleanStale(ctx)

	found, targets, err := w.locate(ctx, name)
	if err != nil {
		return Outcome{Status: StatusFailed, Name: name}, err
	}

	if doc, ok := replacements[artifact.DocumentFile]; ok {
		if problems := w.validator(name).Validate(doc); len(problems) > 0 {
			w.Out.Warning("The new " + artifact.DocumentFile + " failed validation:")
			for _, problem := range problems {
				w.Out.Info("  • " + problem)
			}
			return Outcome{Status: StatusFailed, Name: name}, errors.Wrapf(persist.ErrPersistFailed, "invalid %s: %s", artifact.DocumentFile, strings.Join(problems, "; "))
		}
	}

	w.Out.Banner("Update Skill: " + name)
	w.showReplacements(found[targets[0]].Dir, replacements)
	w.Out.Info(fmt.Sprintf("Targets: %s", strings.Join(targets, ", ")))

	ok, timedOut, err := w.confirm(ctx, fmt.Sprintf("Apply %d file change(s) to %d location(s)?", len(replacements), len(targets)))
	if err != nil {
		return Outcome{Status: StatusAborted, Name: name}, err
	}
	if !ok {
		return w.declined(ctx, "update", name, timedOut), nil
	}

	archive, err := w.backupBefore(ctx, "update", name, targets)
	if err != nil {
		return Outcome{Status: StatusFailed, Name: name}, err
	}

	written, err := w.Engine.Update(ctx, name, targets, replacements)
	if err != nil {
		audit.Log(ctx, w.Sink, audit.NewRecord("update", name, "update_failed", map[string]any{
			"error":       err.Error(),
			"target_clis": targets,
			"backup_path": archive,
		}))
		w.Out.Error(err, "Failed to update skill")
		w.Out.Info("Restore from the backup with: skillsmith restore " + archive)
		return Outcome{Status: StatusFailed, Name: name, Paths: written, Backup: archive}, err
	}

	audit.Log(ctx, w.Sink, audit.NewRecord("update", name, "approve", map[string]any{
		"target_clis": targets,
		"files":       sortedKeys(replacements),
		"backup_path": archive,
	}))
	w.Out.Success(fmt.Sprintf("Skill '%s' updated in %d location(s).", name, len(written)))
	return Outcome{Status: StatusUpdated, Name: name, Paths: written, Backup: archive}, nil
}

// showReplacements prints a diff of every replaced file against its current
// content in dir.
func (w *Workflow) showReplacements(dir string, replacements map[string]string) {
	for _, rel := range sortedKeys(replacements) {
		current, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if os.IsNotExist(err) {
			w.Out.Section(rel + " [NEW FILE]")
			w.Out.Info(fmt.Sprintf("  %s", presenter.FormatSize(int64(len(replacements[rel])))))
			continue
		}
		w.Out.Section(rel)
		if string(current) == replacements[rel] {
			w.Out.Info("  no changes")
			continue
		}
		if utils.IsBinary(current) || utils.IsBinary([]byte(replacements[rel])) {
			w.Out.Info(fmt.Sprintf("  binary content, %s -> %s", presenter.FormatSize(int64(len(current))), presenter.FormatSize(int64(len(replacements[rel])))))
			continue
		}
		w.Out.Diff(udiff.Unified(rel, rel, string(current), replacements[rel]))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Restore puts an archived artifact back. ref is either a path to an
// archive or an artifact name, in which case its newest archive is used.
func (w *Workflow) Restore(ctx context.Context, ref string) (Outcome, error) {
	archive, err := w.resolveArchive(ref)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	ctx = logger.WithFields(ctx, logrus.Fields{"artifact": archive.Artifact, "operation": "restore"})

	w.Out.Banner("Restore Skill: " + archive.Artifact)
	w.Out.Detail("Backup", archive.Path)
	if !archive.CreatedAt.IsZero() {
		w.Out.Detail("Created", archive.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Out.Detail("Size", presenter.FormatSize(archive.Size))
	w.Out.Warning("Existing skill directories in the backup will be replaced.")

	ok, timedOut, err := w.confirm(ctx, "Restore this backup?")
	if err != nil {
		return Outcome{Status: StatusAborted, Name: archive.Artifact}, err
	}
	if !ok {
		return w.declined(ctx, "restore", archive.Artifact, timedOut), nil
	}

	restored, err := w.Backups.Restore(ctx, archive.Path)
	if err != nil {
		audit.Log(ctx, w.Sink, audit.NewRecord("restore", archive.Artifact, "restore_failed", map[string]any{
			"error":       err.Error(),
			"backup_path": archive.Path,
			"restored":    restored,
		}))
		w.Out.Error(err, "Failed to restore backup")
		return Outcome{Status: StatusFailed, Name: archive.Artifact, Paths: restored, Backup: archive.Path}, err
	}

	audit.Log(ctx, w.Sink, audit.NewRecord("restore", archive.Artifact, "approve", map[string]any{
		"backup_path": archive.Path,
		"restored":    restored,
	}))
	w.Out.Success(fmt.Sprintf("Restored %d location(s) from backup.", len(restored)))
	for _, dir := range restored {
		w.Out.Info("  ✓ " + dir)
	}
	return Outcome{Status: StatusRestored, Name: archive.Artifact, Paths: restored, Backup: archive.Path}, nil
}

func (w *Workflow) resolveArchive(ref string) (backup.Archive, error) {
	if strings.HasSuffix(ref, backup.Extension) || strings.ContainsRune(ref, filepath.Separator) {
		return backup.Inspect(ref)
	}
	return w.Backups.Latest(ref)
}

// ListBackups prints the archives of name, or of every artifact when name
// is empty.
func (w *Workflow) ListBackups(name string) ([]backup.Archive, error) {
	archives, err := w.Backups.List(name)
	if err != nil {
		return nil, err
	}
	title := "Backups"
	if name != "" {
		title += " for " + name
	}
	w.Out.Section(title)
	if len(archives) == 0 {
		w.Out.Info("  (none)")
		return nil, nil
	}
	for _, a := range archives {
		w.Out.Info(fmt.Sprintf("  %s  %s  %s", a.CreatedAt.Local().Format("2006-01-02 15:04:05"), presenter.FormatSize(a.Size), a.Path))
	}
	return archives, nil
}
