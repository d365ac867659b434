// Package gate implements the Human Gate: nothing is written to a target
// directory until a person has looked at the rendered preview and approved
// it within the prompt deadline.
//
// The gate runs as a loop over four states. Presenting prints the preview,
// awaiting collects one decision, and the decision either ends the loop
// (approve, reject, timeout, abort) or changes the preview (expand, edit)
// and returns to presenting.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/audit"
	"github.com/skillsmith/skillsmith/pkg/console"
	"github.com/skillsmith/skillsmith/pkg/editor"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/timeout"
)

// ErrValidation is returned when a preview cannot be presented.
var ErrValidation = errors.New("preview is not ready for approval")

// Decision is the terminal outcome of a gate run.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionTimeout Decision = "timeout"
	DecisionAbort   Decision = "abort"
)

type choice string

const (
	choiceApprove choice = "approve"
	choiceExpand  choice = "expand"
	choiceEdit    choice = "edit"
	choiceReject  choice = "reject"
)

var choices = []choice{choiceApprove, choiceExpand, choiceEdit, choiceReject}

// Persister writes an approved preview.
type Persister interface {
	Persist(ctx context.Context, p *artifact.Preview) ([]string, error)
}

// Result is what a gate run ended with.
type Result struct {
	Decision Decision
	Preview  *artifact.Preview
	// Written lists the artifact directories created on approval.
	Written []string
}

// Gate presents previews and routes the decision.
type Gate struct {
	prompter  console.Prompter
	out       presenter.Presenter
	persister Persister
	validator artifact.Validator
	sink      audit.Sink
	editor    editor.Editor
	operation string
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithEditor enables the edit decision.
func WithEditor(e editor.Editor) Option {
	return func(g *Gate) {
		g.editor = e
	}
}

// WithOperation sets the operation name recorded in the audit log.
func WithOperation(op string) Option {
	return func(g *Gate) {
		g.operation = op
	}
}

// New creates a Gate.
func New(prompter console.Prompter, out presenter.Presenter, persister Persister, validator artifact.Validator, sink audit.Sink, opts ...Option) *Gate {
	g := &Gate{
		prompter:  prompter,
		out:       out,
		persister: persister,
		validator: validator,
		sink:      sink,
		operation: "create",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check reports why p cannot be presented, wrapping ErrValidation.
func Check(p *artifact.Preview) error {
	if p == nil {
		return errors.Wrap(ErrValidation, "no preview")
	}
	if !p.Valid() {
		return errors.Wrapf(ErrValidation, "%s", strings.Join(p.Problems, "; "))
	}
	if len(p.Targets) == 0 {
		return errors.Wrap(ErrValidation, "preview has no targets")
	}
	return nil
}

// Run presents p and loops until a terminal decision. Expansion and editing
// change p in place. A prompt timeout cancels the run and is reported as
// DecisionTimeout with a nil error. Persistence failures are returned
// together with DecisionApprove.
func (g *Gate) Run(ctx context.Context, p *artifact.Preview) (Result, error) {
	if err := Check(p); err != nil {
		return Result{}, err
	}
	ctx = logger.WithFields(ctx, logrus.Fields{"artifact": p.Name})

	for {
		g.present(p)

		start := g.now()
		c, err := g.await(ctx)
		if err != nil {
			return g.interrupted(ctx, p, err)
		}
		elapsed := g.now().Sub(start)
		logger.G(ctx).WithField("decision", c).WithField("response_time", elapsed.Seconds()).Debug("gate decision")

		switch c {
		case choiceApprove:
			return g.approve(ctx, p, elapsed)

		case choiceReject:
			g.record(ctx, p, "reject", map[string]any{"response_time": elapsed.Seconds()})
			g.out.Success("Operation cancelled. No files were created.")
			return Result{Decision: DecisionReject, Preview: p}, nil

		case choiceExpand:
			added, err := g.expand(ctx, p)
			if err != nil {
				return g.interrupted(ctx, p, err)
			}
			if added == 0 {
				g.out.Warning("No resources added. Returning to Human Gate.")
			} else {
				g.out.Success(fmt.Sprintf("Added %d resource(s) to skill.", added))
			}

		case choiceEdit:
			outcome, err := g.edit(ctx, p)
			if err != nil {
				return g.interrupted(ctx, p, err)
			}
			if outcome == editAborted {
				g.record(ctx, p, "edit_abort", map[string]any{"reason": "validation_failed"})
				g.out.Success("Operation cancelled.")
				return Result{Decision: DecisionAbort, Preview: p}, nil
			}
		}
	}
}

func (g *Gate) await(ctx context.Context) (choice, error) {
	for {
		answer, err := g.prompter.Ask(ctx, "Choose [approve/expand/edit/reject]:")
		if err != nil {
			return "", err
		}
		answer = strings.ToLower(answer)
		for _, c := range choices {
			if answer == string(c) {
				return c, nil
			}
		}
		g.out.Warning(fmt.Sprintf("Invalid choice '%s'. Please choose: approve, expand, edit, reject", answer))
	}
}

func (g *Gate) approve(ctx context.Context, p *artifact.Preview, elapsed time.Duration) (Result, error) {
	written, err := g.persister.Persist(ctx, p)
	if err != nil {
		g.record(ctx, p, "approve_failed", map[string]any{
			"error":       err.Error(),
			"target_clis": p.Targets,
			"written":     written,
		})
		g.out.Error(err, "Failed to create skill")
		if len(written) == 0 {
			g.out.Info("All staged changes have been rolled back.")
		} else {
			g.out.Warning(fmt.Sprintf("%d location(s) were already written and were not rolled back:", len(written)))
			for _, dir := range written {
				g.out.Info("  " + dir)
			}
		}
		return Result{Decision: DecisionApprove, Preview: p, Written: written}, err
	}

	g.record(ctx, p, "approve", map[string]any{
		"target_clis":   p.Targets,
		"response_time": elapsed.Seconds(),
		"total_files":   p.TotalFiles(),
	})

	g.out.Success(fmt.Sprintf("Skill '%s' created successfully!", p.Name))
	g.out.Section("Created files")
	for _, target := range p.Targets {
		for _, f := range p.Files[target] {
			g.out.Info("  ✓ " + f.Path)
		}
	}
	g.out.Detail("Targets", fmt.Sprint(len(p.Targets)))
	g.out.Detail("Files", fmt.Sprint(p.TotalFiles()))
	g.out.Detail("Size", presenter.FormatSize(p.TotalSize()))

	return Result{Decision: DecisionApprove, Preview: p, Written: written}, nil
}

// interrupted ends the run after a failed prompt. Timeouts cancel the
// operation; anything else, such as closed input, aborts it.
func (g *Gate) interrupted(ctx context.Context, p *artifact.Preview, err error) (Result, error) {
	if errors.Is(err, timeout.ErrTimeout) {
		g.record(ctx, p, "timeout", map[string]any{
			"timeout_seconds": int(g.prompter.Timeout().Seconds()),
		})
		g.out.Warning(fmt.Sprintf("Human Gate timed out after %s.", g.prompter.Timeout()))
		g.out.Info("Operation automatically cancelled. No files were created.")
		return Result{Decision: DecisionTimeout, Preview: p}, nil
	}

	g.record(ctx, p, "abort", map[string]any{"reason": err.Error()})
	return Result{Decision: DecisionAbort, Preview: p}, err
}

func (g *Gate) record(ctx context.Context, p *artifact.Preview, decision string, metadata map[string]any) {
	audit.Log(ctx, g.sink, audit.NewRecord(g.operation, p.Name, decision, metadata))
}
