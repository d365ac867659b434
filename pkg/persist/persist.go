// Package persist writes artifacts to their target directories as a unit.
//
// Every operation first builds the complete new state of each affected
// artifact directory in a private staging root under the state directory.
// Only when staging has succeeded for every target are the staged
// directories renamed over the live ones. A staging failure removes the
// staging root and leaves every target untouched. A failure while renaming
// leaves the targets finalized before it in their new state; the returned
// error names them.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
	"github.com/skillsmith/skillsmith/pkg/utils"
)

// StaleAfter is the age past which leftover staging directories are removed.
const StaleAfter = 24 * time.Hour

const stagingPattern = "{create,update,delete,restore}-*"

var (
	// ErrPersistFailed is returned when an operation could not be completed.
	// Unless the error says otherwise no target was modified.
	ErrPersistFailed = errors.New("persist failed")
	// ErrNotFound is returned when none of the targets hold the artifact.
	ErrNotFound = errors.New("artifact not found")
)

// WriteFunc writes one staged file.
type WriteFunc func(path string, data []byte, perm os.FileMode) error

// Engine performs staged writes against one project.
type Engine struct {
	layout    *artifact.Layout
	tempDir   string
	writeFile WriteFunc
	removeAll func(string) error
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWriteFunc replaces the function used to write staged files.
func WithWriteFunc(fn WriteFunc) Option {
	return func(e *Engine) {
		e.writeFile = fn
	}
}

// NewEngine creates an Engine staging under tempDir.
func NewEngine(layout *artifact.Layout, tempDir string, opts ...Option) *Engine {
	e := &Engine{
		layout:    layout,
		tempDir:   tempDir,
		writeFile: os.WriteFile,
		removeAll: os.RemoveAll,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func failed(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistFailed, fmt.Sprintf(format, args...), err)
}

type stagedTarget struct {
	target string
	live   string
	staged string
}

func (e *Engine) newStage(op, name string) (string, error) {
	stage := filepath.Join(e.tempDir, fmt.Sprintf("%s-%s-%s", op, name, uuid.NewString()))
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create staging directory")
	}
	return stage, nil
}

// Persist writes the document, metadata and resources of p to every target.
// It returns the finalized artifact directories.
func (e *Engine) Persist(ctx context.Context, p *artifact.Preview) ([]string, error) {
	if !p.Valid() {
		return nil, errors.Wrap(ErrPersistFailed, "preview has validation problems")
	}
	if err := artifact.ValidateTargets(p.Targets); err != nil {
		return nil, failed(err, "invalid targets")
	}

	log := logger.G(ctx).WithField("artifact", p.Name)

	stage, err := e.newStage("create", p.Name)
	if err != nil {
		return nil, failed(err, "staging")
	}
	defer e.cleanup(ctx, stage)

	var staged []stagedTarget
	for _, target := range p.Targets {
		live, err := e.layout.ArtifactDir(target, p.Name)
		if err != nil {
			return nil, failed(err, "target %s", target)
		}
		dir := filepath.Join(stage, target, "skills", p.Name)
		if err := e.stagePreview(dir, p); err != nil {
			return nil, failed(err, "staging %s", target)
		}
		staged = append(staged, stagedTarget{target: target, live: live, staged: dir})
		log.WithField("target", target).Debug("target staged")
	}

	finalized, err := e.finalize(ctx, stage, staged)
	if err != nil {
		return finalized, err
	}
	log.WithField("targets", p.Targets).Info("artifact persisted")
	return finalized, nil
}

func (e *Engine) stagePreview(dir string, p *artifact.Preview) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := e.writeFile(filepath.Join(dir, artifact.DocumentFile), []byte(p.Document), 0o644); err != nil {
		return err
	}
	if err := e.writeFile(filepath.Join(dir, artifact.MetadataFile), []byte(p.Metadata), 0o644); err != nil {
		return err
	}

	for _, r := range p.Resources {
		data, err := r.Data()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, r.RelPath())
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		perm := os.FileMode(0o644)
		if r.Type == artifact.ResourceScript {
			perm = 0o755
		}
		if err := e.writeFile(path, data, perm); err != nil {
			return err
		}
	}
	return nil
}

// finalize renames every staged directory over its live directory. A live
// directory is moved aside first and moved back if its replacement fails.
func (e *Engine) finalize(ctx context.Context, stage string, staged []stagedTarget) ([]string, error) {
	var finalized []string
	for _, s := range staged {
		aside := filepath.Join(stage, "previous", s.target)
		if err := replaceDir(ctx, s.staged, s.live, aside); err != nil {
			return finalized, failed(err, "finalizing %s (already written: %v)", s.target, finalized)
		}
		finalized = append(finalized, s.live)
	}
	return finalized, nil
}

func replaceDir(ctx context.Context, staged, live, aside string) error {
	if err := os.MkdirAll(filepath.Dir(live), 0o755); err != nil {
		return err
	}

	hadLive := utils.Exists(live)
	if hadLive {
		if err := os.MkdirAll(filepath.Dir(aside), 0o755); err != nil {
			return err
		}
		if err := utils.Rename(ctx, live, aside); err != nil {
			return err
		}
	}

	if err := utils.Rename(ctx, staged, live); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err)
		if hadLive {
			if rerr := os.Rename(aside, live); rerr != nil {
				result = multierror.Append(result, errors.Wrapf(rerr, "failed to put back %s", live))
			}
		}
		return result.ErrorOrNil()
	}
	return nil
}

func (e *Engine) cleanup(ctx context.Context, stage string) {
	if err := os.RemoveAll(stage); err != nil {
		logger.G(ctx).WithError(err).WithField("path", stage).Warn("failed to remove staging directory")
	}
}

// Update rewrites the given files of an existing artifact. replacements maps
// a path relative to the artifact directory to its new content. Targets that
// do not hold the artifact are skipped.
func (e *Engine) Update(ctx context.Context, name string, targets []string, replacements map[string]string) ([]string, error) {
	for rel := range replacements {
		if err := CheckRelPath(rel); err != nil {
			return nil, failed(err, "replacement %q", rel)
		}
	}

	existing, err := e.existing(name, targets)
	if err != nil {
		return nil, err
	}

	stage, err := e.newStage("update", name)
	if err != nil {
		return nil, failed(err, "staging")
	}
	defer e.cleanup(ctx, stage)

	var staged []stagedTarget
	for _, s := range existing {
		dir := filepath.Join(stage, s.target, "skills", name)
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, failed(err, "staging %s", s.target)
		}
		if err := utils.CopyTree(s.live, dir); err != nil {
			return nil, failed(err, "staging %s", s.target)
		}
		for rel, content := range replacements {
			path := filepath.Join(dir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, failed(err, "staging %s", s.target)
			}
			if err := e.writeFile(path, []byte(content), 0o644); err != nil {
				return nil, failed(err, "staging %s", s.target)
			}
		}
		s.staged = dir
		staged = append(staged, s)
	}

	finalized, err := e.finalize(ctx, stage, staged)
	if err != nil {
		return finalized, err
	}
	logger.G(ctx).WithField("artifact", name).WithField("files", len(replacements)).Info("artifact updated")
	return finalized, nil
}

// CheckRelPath admits paths relative to an artifact directory that are made
// of plain file names.
func CheckRelPath(rel string) error {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return errors.Wrap(sanitize.ErrInvalidFilename, "path must be relative")
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if _, err := sanitize.ValidateFilename(part); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) existing(name string, targets []string) ([]stagedTarget, error) {
	var found []stagedTarget
	for _, target := range targets {
		live, err := e.layout.ArtifactDir(target, name)
		if err != nil {
			return nil, failed(err, "target %s", target)
		}
		if info, err := os.Stat(live); err == nil && info.IsDir() {
			found = append(found, stagedTarget{target: target, live: live})
		}
	}
	if len(found) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%q in %v", name, targets)
	}
	return found, nil
}

// Delete removes the artifact from every target that holds it. Each
// directory is copied to a temporary backup first; if any removal fails all
// directories are restored from that backup.
func (e *Engine) Delete(ctx context.Context, name string, targets []string) ([]string, error) {
	existing, err := e.existing(name, targets)
	if err != nil {
		return nil, err
	}

	stage, err := e.newStage("delete", name)
	if err != nil {
		return nil, failed(err, "staging")
	}
	defer e.cleanup(ctx, stage)

	for i := range existing {
		backupDir := filepath.Join(stage, existing[i].target, "skills", name)
		if err := os.MkdirAll(filepath.Dir(backupDir), 0o755); err != nil {
			return nil, failed(err, "backing up %s", existing[i].target)
		}
		if err := utils.CopyTree(existing[i].live, backupDir); err != nil {
			return nil, failed(err, "backing up %s", existing[i].target)
		}
		existing[i].staged = backupDir
	}

	var deleted []string
	for i, s := range existing {
		if err := e.removeAll(s.live); err != nil {
			rollbackErr := e.restoreDeleted(existing[:i+1])
			if rollbackErr != nil {
				return nil, failed(multierror.Append(err, rollbackErr), "deleting %s, rollback incomplete", s.target)
			}
			return nil, failed(err, "deleting %s, all changes rolled back", s.target)
		}
		deleted = append(deleted, s.live)
	}

	logger.G(ctx).WithField("artifact", name).WithField("targets", len(deleted)).Info("artifact deleted")
	return deleted, nil
}

func (e *Engine) restoreDeleted(targets []stagedTarget) error {
	var result *multierror.Error
	for _, s := range targets {
		if err := os.RemoveAll(s.live); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := utils.CopyTree(s.staged, s.live); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to restore %s", s.live))
		}
	}
	return result.ErrorOrNil()
}

// CleanStale removes staging directories older than StaleAfter. Other files
// in the temp directory, such as saved wizard sessions, are left alone.
func (e *Engine) CleanStale(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(e.tempDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read temp directory")
	}

	cutoff := e.now().Add(-StaleAfter)
	removed := 0
	var result *multierror.Error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ok, _ := doublestar.Match(stagingPattern, entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(e.tempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		removed++
		logger.G(ctx).WithField("path", path).Debug("removed stale staging directory")
	}
	return removed, result.ErrorOrNil()
}
