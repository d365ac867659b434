// Package workflow wires the create and resume pipelines together:
//
//	wizard or direct input -> renderer -> collision check -> [backup | merge]
//	  -> Human Gate -> persistence
//
// It also drives the maintenance operations (delete, update, restore) that
// mutate an existing artifact behind a timed confirmation and a prior backup.
package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/audit"
	"github.com/skillsmith/skillsmith/pkg/backup"
	"github.com/skillsmith/skillsmith/pkg/collision"
	"github.com/skillsmith/skillsmith/pkg/console"
	"github.com/skillsmith/skillsmith/pkg/editor"
	"github.com/skillsmith/skillsmith/pkg/gate"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/persist"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
	"github.com/skillsmith/skillsmith/pkg/session"
	"github.com/skillsmith/skillsmith/pkg/timeout"
	"github.com/skillsmith/skillsmith/pkg/wizard"
)

// Status is how a workflow run ended.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusDeleted   Status = "deleted"
	StatusRestored  Status = "restored"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
	StatusSuspended Status = "suspended"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Outcome summarizes a run for the command layer.
type Outcome struct {
	Status Status
	Name   string
	// Paths lists the artifact directories written, removed or restored.
	Paths []string
	// Backup is the archive taken before a destructive change.
	Backup string
	// StatePath is set when the wizard saved its progress.
	StatePath string
}

// ExitCode maps the outcome to the process exit code: success and clean
// cancellation exit 0, everything else 1.
func (o Outcome) ExitCode() int {
	switch o.Status {
	case StatusCreated, StatusUpdated, StatusDeleted, StatusRestored, StatusCancelled:
		return 0
	default:
		return 1
	}
}

// Input is the direct, non-interactive form of the wizard answers.
type Input struct {
	Name         string
	Description  string
	Instructions string
	Resources    string
}

// Deps are the collaborators of a Workflow.
type Deps struct {
	Prompter  console.Prompter
	Out       presenter.Presenter
	Layout    *artifact.Layout
	Sanitizer *sanitize.Sanitizer
	Sessions  *session.Store
	Renderer  artifact.Renderer
	// Validator checks documents. When nil the frontmatter rules are applied
	// with the artifact's own name.
	Validator artifact.Validator
	Backups   *backup.Manager
	Engine    *persist.Engine
	Sink      audit.Sink
	// Editor enables the gate's edit decision. It may be nil.
	Editor editor.Editor
}

// Settings are the per-run choices.
type Settings struct {
	Targets  []string
	Template string
	Author   string
}

// Workflow runs the pipelines against one project.
type Workflow struct {
	Deps
	settings Settings
}

// New creates a Workflow.
func New(deps Deps, settings Settings) *Workflow {
	return &Workflow{Deps: deps, settings: settings}
}

// Create runs the create pipeline. Without a description the wizard collects
// the inputs; otherwise in is validated the same way the wizard would.
func (w *Workflow) Create(ctx context.Context, in Input) (Outcome, error) {
	w.cleanStale(ctx)

	if strings.TrimSpace(in.Description) == "" {
		res, err := w.wizard().Run(ctx)
		if outcome, done, err := wizardOutcome(err); done {
			w.reportWizard(outcome)
			return outcome, err
		}
		return w.generate(ctx, "create", res)
	}

	res, err := w.direct(ctx, in)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	return w.generate(ctx, "create", res)
}

// Resume continues the wizard saved at statePath and, once it completes,
// carries on through the rest of the create pipeline.
func (w *Workflow) Resume(ctx context.Context, statePath string) (Outcome, error) {
	w.cleanStale(ctx)

	w.Out.Info("Resuming wizard session...")
	w.Out.Detail("State file", statePath)

	res, err := w.wizard().Resume(ctx, statePath)
	if err != nil {
		outcome, _, err := wizardOutcome(err)
		w.reportWizard(outcome)
		w.recordResume(ctx, "unknown", outcome, statePath, err)
		return outcome, err
	}

	w.Out.Banner("Wizard Complete - Proceeding to Human Gate")
	outcome, err := w.generate(ctx, "resume", res)
	w.recordResume(ctx, res.Name, outcome, statePath, err)
	return outcome, err
}

// ListStates prints the saved wizard states, newest first.
func (w *Workflow) ListStates() error {
	entries, err := w.Sessions.List()
	if err != nil {
		return err
	}
	w.Out.Section("Available wizard states")
	if len(entries) == 0 {
		w.Out.Info("  (none)")
		return nil
	}
	for _, e := range entries {
		w.Out.Info(fmt.Sprintf("  %s (saved: %s)", e.Path, e.SavedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}

func (w *Workflow) validator(name string) artifact.Validator {
	if w.Validator != nil {
		return w.Validator
	}
	return artifact.FrontmatterValidator{Name: name}
}

func (w *Workflow) wizard() *wizard.Wizard {
	return wizard.New(w.Prompter, w.Out, w.Sanitizer, w.Sessions)
}

// wizardOutcome classifies a wizard error. done is false when err is nil and
// the pipeline should continue.
func wizardOutcome(err error) (Outcome, bool, error) {
	if err == nil {
		return Outcome{}, false, nil
	}
	if errors.Is(err, wizard.ErrCancelled) {
		return Outcome{Status: StatusCancelled}, true, nil
	}
	var suspended *wizard.SuspendedError
	if errors.As(err, &suspended) {
		return Outcome{Status: StatusSuspended, StatePath: suspended.StatePath}, true, nil
	}
	return Outcome{Status: StatusFailed}, true, err
}

func (w *Workflow) reportWizard(o Outcome) {
	switch o.Status {
	case StatusCancelled:
		w.Out.Success("Wizard cancelled by user.")
	case StatusSuspended:
		w.Out.Warning("Wizard stopped before completion. Progress saved.")
		w.Out.Info("Resume with: skillsmith resume " + o.StatePath)
	}
}

func (w *Workflow) recordResume(ctx context.Context, name string, o Outcome, statePath string, err error) {
	decision := map[Status]string{
		StatusCreated:   "approve",
		StatusRejected:  "reject",
		StatusCancelled: "cancel",
		StatusTimedOut:  "timeout",
		StatusSuspended: "timeout",
	}[o.Status]
	metadata := map[string]any{"state_path": statePath}
	if decision == "" {
		decision = "error"
		if err != nil {
			metadata["error"] = err.Error()
		}
	}
	audit.Log(ctx, w.Sink, audit.NewRecord("resume", name, decision, metadata))
}

func (w *Workflow) direct(ctx context.Context, in Input) (wizard.Result, error) {
	description, err := w.Sanitizer.ValidateRequired(ctx, in.Description, "description", sanitize.MaxDescriptionLength)
	if err != nil {
		return wizard.Result{}, err
	}

	rawName := in.Name
	if strings.TrimSpace(rawName) == "" {
		rawName = description
	}
	name, err := sanitize.CleanName(rawName)
	if err != nil {
		return wizard.Result{}, err
	}

	instructions, err := w.Sanitizer.ValidateText(ctx, in.Instructions, "instructions", sanitize.MaxContentLength)
	if err != nil {
		return wizard.Result{}, err
	}
	resources, err := w.Sanitizer.ValidateText(ctx, in.Resources, "resources", sanitize.MaxContentLength)
	if err != nil {
		return wizard.Result{}, err
	}

	return wizard.Result{
		Name:         name,
		Description:  description,
		Instructions: instructions,
		Resources:    resources,
	}, nil
}

// generate renders the inputs and takes the preview through collision
// handling and the gate.
func (w *Workflow) generate(ctx context.Context, op string, res wizard.Result) (Outcome, error) {
	ctx = logger.WithFields(ctx, logrus.Fields{"artifact": res.Name, "operation": op})
	outcome := Outcome{Name: res.Name}

	targets := w.settings.Targets
	if err := artifact.ValidateTargets(targets); err != nil {
		outcome.Status = StatusFailed
		return outcome, err
	}

	rendered, err := w.Renderer.Render(artifact.RenderRequest{
		Name:         res.Name,
		Description:  res.Description,
		Instructions: res.Instructions,
		Resources:    res.Resources,
		Template:     w.settings.Template,
		Author:       w.settings.Author,
		Targets:      targets,
	})
	if err != nil {
		outcome.Status = StatusFailed
		return outcome, err
	}

	validator := w.validator(res.Name)
	p := artifact.NewPreview(res.Name, rendered.Document, rendered.Metadata, targets, validator)
	logger.G(ctx).WithField("status", p.Status).WithField("targets", targets).Debug("preview generated")

	if err := gate.Check(p); err != nil {
		audit.Log(ctx, w.Sink, audit.NewRecord(op, p.Name, "abort", map[string]any{
			"reason":   "validation_failed",
			"problems": p.Problems,
		}))
		w.Out.Error(err, "Generated skill failed validation")
		w.Out.Info("Nothing was written. Adjust the inputs or template and try again.")
		outcome.Status = StatusFailed
		return outcome, err
	}

	proceed, err := w.handleCollisions(ctx, op, p, &outcome)
	if err != nil || !proceed {
		return outcome, err
	}

	var opts []gate.Option
	opts = append(opts, gate.WithOperation(op))
	if w.Editor != nil {
		opts = append(opts, gate.WithEditor(w.Editor))
	}
	g := gate.New(w.Prompter, w.Out, w.Engine, validator, w.Sink, opts...)

	result, err := g.Run(ctx, p)
	outcome.Paths = result.Written
	switch {
	case result.Decision == gate.DecisionApprove && err == nil:
		outcome.Status = StatusCreated
	case result.Decision == gate.DecisionApprove:
		outcome.Status = StatusFailed
	case result.Decision == gate.DecisionReject:
		outcome.Status = StatusRejected
	case result.Decision == gate.DecisionTimeout:
		outcome.Status = StatusTimedOut
	default:
		outcome.Status = StatusAborted
	}
	return outcome, err
}

// handleCollisions resolves existing artifacts before the gate. It returns
// false when the pipeline must stop; outcome is filled in accordingly.
func (w *Workflow) handleCollisions(ctx context.Context, op string, p *artifact.Preview, outcome *Outcome) (bool, error) {
	collisions, err := collision.NewDetector(w.Layout).Detect(ctx, p.Name, p.Targets)
	if err != nil {
		outcome.Status = StatusFailed
		return false, err
	}
	if len(collisions) == 0 {
		return true, nil
	}

	decision, err := collision.NewResolver(w.Prompter, w.Out).Resolve(ctx, collisions)
	if err != nil {
		outcome.Status = StatusAborted
		return false, err
	}
	logger.G(ctx).WithField("decision", decision.Action).WithField("targets", decision.Targets).Info("collision resolved")

	switch decision.Action {
	case collision.ActionCancel:
		audit.Log(ctx, w.Sink, audit.NewRecord(op, p.Name, "collision_cancel", map[string]any{
			"target_clis": decision.Targets,
			"timed_out":   decision.TimedOut,
		}))
		w.Out.Success("Operation cancelled.")
		w.Out.Info(fmt.Sprintf("Existing skill '%s' preserved in %d location(s).", p.Name, len(decision.Targets)))
		outcome.Status = StatusCancelled
		return false, nil

	case collision.ActionOverwrite:
		archive, err := w.backupBefore(ctx, "overwrite", p.Name, decision.Targets)
		outcome.Backup = archive
		if err != nil {
			outcome.Status = StatusFailed
			return false, err
		}
		return true, nil

	case collision.ActionMerge:
		archive, err := w.backupBefore(ctx, "merge", p.Name, decision.Targets)
		outcome.Backup = archive
		if err != nil {
			outcome.Status = StatusFailed
			return false, err
		}
		return w.merge(ctx, p, collisions, decision.Targets, outcome)
	}

	return false, errors.Errorf("unknown collision action %q", decision.Action)
}

// backupBefore archives the targets that are about to be replaced. A failed
// backup aborts the operation that asked for it.
func (w *Workflow) backupBefore(ctx context.Context, op, name string, targets []string) (string, error) {
	archive, err := w.Backups.Create(ctx, name, targets)
	if err != nil {
		audit.Log(ctx, w.Sink, audit.NewRecord(op, name, "backup_failed", map[string]any{
			"error":       err.Error(),
			"target_clis": targets,
		}))
		w.Out.Error(err, "Backup creation failed")
		w.Out.Warning("Operation aborted. Existing skill preserved.")
		return "", err
	}

	audit.Log(ctx, w.Sink, audit.NewRecord(op, name, "backup_created", map[string]any{
		"backup_path": archive,
		"target_clis": targets,
	}))
	w.Out.Success("Backup created:")
	w.Out.Info("  " + archive)
	return archive, nil
}

// merge combines the existing document of the first colliding target with
// the generated one. The merged document replaces the preview's.
func (w *Workflow) merge(ctx context.Context, p *artifact.Preview, collisions map[string]collision.Info, targets []string, outcome *Outcome) (bool, error) {
	existingPath := collisions[targets[0]].Path
	existing, err := os.ReadFile(existingPath)
	if err != nil {
		outcome.Status = StatusFailed
		return false, errors.Wrapf(err, "failed to read %s", existingPath)
	}

	result, err := collision.NewMerger(w.Prompter, w.Out).Merge(ctx, string(existing), p.Document)
	if err != nil {
		audit.Log(ctx, w.Sink, audit.NewRecord("merge", p.Name, "merge_abort", map[string]any{
			"reason":      err.Error(),
			"target_clis": targets,
		}))
		if errors.Is(err, timeout.ErrTimeout) {
			w.Out.Warning("Merge timed out. No files were changed.")
			outcome.Status = StatusTimedOut
			return false, nil
		}
		outcome.Status = StatusAborted
		return false, err
	}

	p.SetDocument(result.Document, w.validator(p.Name))
	audit.Log(ctx, w.Sink, audit.NewRecord("merge", p.Name, "merge_complete", map[string]any{
		"target_clis":       targets,
		"sections_prompted": result.Prompts,
		"sections_replaced": result.Replaced,
	}))
	w.Out.Success("Merge complete!")
	return true, nil
}

func (w *Workflow) cleanStale(ctx context.Context) {
	removed, err := w.Engine.CleanStale(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to clean stale staging directories")
		return
	}
	if removed > 0 {
		logger.G(ctx).WithField("removed", removed).Info("removed stale staging directories")
	}
}
