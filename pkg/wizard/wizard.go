// Package wizard collects the inputs of a new skill one step at a time.
//
// The wizard walks four input steps (name, description, instructions,
// resources) followed by a review screen. Typing "back" returns to the most
// recently completed step. When a prompt times out or the session is
// interrupted, progress is written through the session store and can be
// resumed later with Resume.
package wizard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/console"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
	"github.com/skillsmith/skillsmith/pkg/session"
	"github.com/skillsmith/skillsmith/pkg/timeout"
)

// DefaultMaxAttempts bounds invalid answers per step.
const DefaultMaxAttempts = 3

const reviewBodyLimit = 100

var (
	// ErrCancelled is returned when the user answers "no" at review.
	ErrCancelled = errors.New("wizard cancelled")
	// ErrMaxAttemptsExceeded is returned after too many invalid answers to one step.
	ErrMaxAttemptsExceeded = errors.New("maximum attempts exceeded")

	errBack = errors.New("back")
)

// SuspendedError reports that the wizard stopped early and saved its progress.
type SuspendedError struct {
	StatePath string
	Cause     error
}

func (e *SuspendedError) Error() string {
	if errors.Is(e.Cause, timeout.ErrTimeout) {
		return fmt.Sprintf("wizard timed out; progress saved to %s", e.StatePath)
	}
	return fmt.Sprintf("wizard interrupted (%v); progress saved to %s", e.Cause, e.StatePath)
}

func (e *SuspendedError) Unwrap() error {
	return e.Cause
}

// Result holds the validated inputs of a completed wizard.
type Result struct {
	Name         string
	Description  string
	Instructions string
	Resources    string
}

func resultFrom(in session.Inputs) Result {
	return Result{
		Name:         in["skill_name"],
		Description:  in["description"],
		Instructions: in["instructions"],
		Resources:    in["resources"],
	}
}

// Wizard drives the input steps.
type Wizard struct {
	prompter    console.Prompter
	out         presenter.Presenter
	sanitizer   *sanitize.Sanitizer
	store       *session.Store
	maxAttempts int
	now         func() time.Time
}

// New creates a Wizard.
func New(prompter console.Prompter, out presenter.Presenter, sanitizer *sanitize.Sanitizer, store *session.Store) *Wizard {
	return &Wizard{
		prompter:    prompter,
		out:         out,
		sanitizer:   sanitizer,
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// Run starts a new wizard.
func (w *Wizard) Run(ctx context.Context) (Result, error) {
	s := session.New(w.now())
	return w.drive(ctx, s, "")
}

// Resume continues the wizard saved at path. The state file is removed once
// the wizard completes or is suspended again under a new file.
func (w *Wizard) Resume(ctx context.Context, path string) (Result, error) {
	s, err := w.store.Load(path)
	if err != nil {
		return Result{}, err
	}

	w.out.Success("Resuming wizard from saved state")
	w.out.Detail("Last step completed", fmt.Sprintf("%d", s.CurrentStep-1))
	w.out.Detail("Started at", s.StartTime.Local().Format(time.RFC1123))

	return w.drive(ctx, s, path)
}

func (w *Wizard) drive(ctx context.Context, s *session.Session, resumedFrom string) (Result, error) {
	ctx = logger.WithFields(ctx, map[string]any{"component": "wizard"})

	err := w.loop(ctx, s)
	switch {
	case err == nil:
		if resumedFrom != "" {
			if err := w.store.Delete(resumedFrom); err != nil {
				logger.G(ctx).WithError(err).Warn("failed to remove completed wizard state")
			}
		}
		return resultFrom(s.CollectedInputs), nil
	case isSuspension(err):
		return Result{}, w.suspend(ctx, s, resumedFrom, err)
	default:
		return Result{}, err
	}
}

func isSuspension(err error) bool {
	return errors.Is(err, timeout.ErrTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, console.ErrClosed)
}

func (w *Wizard) suspend(ctx context.Context, s *session.Session, previous string, cause error) error {
	path, err := w.store.Save(s)
	if err != nil {
		return errors.Wrapf(err, "wizard stopped (%v) and progress could not be saved", cause)
	}
	if previous != "" && previous != path {
		if err := w.store.Delete(previous); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to remove superseded wizard state")
		}
	}

	logger.G(ctx).WithField("path", path).WithField("step", s.CurrentStep).Info("wizard state saved")
	return &SuspendedError{StatePath: path, Cause: cause}
}

func (w *Wizard) loop(ctx context.Context, s *session.Session) error {
	for {
		if s.CurrentStep > session.TotalSteps {
			done, err := w.review(ctx, s)
			if err != nil || done {
				return err
			}
			continue
		}

		value, err := w.step(ctx, s)
		if errors.Is(err, errBack) {
			s.Back()
			continue
		}
		if err != nil {
			return err
		}
		s.Complete(value)
	}
}

type stepSpec struct {
	title    string
	intro    string
	hints    []string
	label    string
	validate func(ctx context.Context, raw string, s *session.Session) (string, error)
}

func (w *Wizard) steps() []stepSpec {
	return []stepSpec{
		{
			title: "Skill Name",
			intro: "Enter a descriptive name for your skill.",
			hints: []string{
				"(e.g. 'Code Review', 'API Documentation', 'Testing Strategy')",
				"Natural language is fine; it will be formatted automatically.",
			},
			label:    "Skill name:",
			validate: w.validateName,
		},
		{
			title: "Description",
			intro: "Describe what your skill does in 1-2 sentences.",
			hints: []string{
				fmt.Sprintf("(maximum %d characters)", sanitize.MaxDescriptionLength),
			},
			label: "Description:",
			validate: func(ctx context.Context, raw string, _ *session.Session) (string, error) {
				return w.sanitizer.ValidateRequired(ctx, raw, "description", sanitize.MaxDescriptionLength)
			},
		},
		{
			title: "Instructions",
			intro: "Enter the main instructions for using this skill.",
			hints: []string{"(optional - press Enter to use the description, or type 'back')"},
			label: "Instructions [optional]:",
			validate: func(ctx context.Context, raw string, s *session.Session) (string, error) {
				text, err := w.sanitizer.ValidateText(ctx, raw, "instructions", sanitize.MaxContentLength)
				if err != nil || text != "" {
					return text, err
				}
				return s.CollectedInputs["description"], nil
			},
		},
		{
			title: "Resources",
			intro: "Describe any scripts, references or assets this skill needs.",
			hints: []string{"(optional - press Enter to skip, or type 'back')"},
			label: "Resources [optional]:",
			validate: func(ctx context.Context, raw string, _ *session.Session) (string, error) {
				text, err := w.sanitizer.ValidateText(ctx, raw, "resources", sanitize.MaxContentLength)
				if err != nil || text != "" {
					return text, err
				}
				return "none", nil
			},
		},
	}
}

func (w *Wizard) validateName(ctx context.Context, raw string, _ *session.Session) (string, error) {
	text, err := w.sanitizer.ValidateRequired(ctx, raw, "skill_name", sanitize.MaxNameLength*4)
	if err != nil {
		return "", err
	}
	name, err := sanitize.CleanName(text)
	if err != nil {
		return "", err
	}
	if name != text {
		w.out.Hint(fmt.Sprintf("Auto-formatted to: %s", name))
	}
	return name, nil
}

func (w *Wizard) step(ctx context.Context, s *session.Session) (string, error) {
	spec := w.steps()[s.CurrentStep-1]

	w.out.Banner(fmt.Sprintf("Step %d of %d: %s", s.CurrentStep, session.TotalSteps, spec.title))
	w.out.Info(spec.intro)
	for _, h := range spec.hints {
		w.out.Hint(h)
	}
	if prev := s.Value(s.CurrentStep); prev != "" {
		w.out.Hint(fmt.Sprintf("Current value: %s", prev))
	}

	var lastErr error
	for attempts := 0; attempts < w.maxAttempts; {
		answer, err := w.prompter.Ask(ctx, spec.label)
		if err != nil {
			return "", err
		}

		if strings.EqualFold(answer, "back") {
			if s.CanGoBack() {
				return "", errBack
			}
			w.out.Warning("Already at the first step; cannot go back.")
			continue
		}

		value, err := spec.validate(ctx, answer, s)
		if err == nil {
			return value, nil
		}

		attempts++
		lastErr = err
		w.out.Error(err, "")
		if remaining := w.maxAttempts - attempts; remaining > 0 {
			w.out.Info(fmt.Sprintf("Please try again (%d attempts remaining)", remaining))
		}
	}

	return "", errors.Wrapf(ErrMaxAttemptsExceeded, "%s: %v", spec.title, lastErr)
}

func (w *Wizard) review(ctx context.Context, s *session.Session) (bool, error) {
	in := s.CollectedInputs

	w.out.Banner("Review")
	w.out.Detail("Skill Name", in["skill_name"])
	w.out.Detail("Description", in["description"])
	w.out.Detail("Instructions", truncate(in["instructions"], reviewBodyLimit))
	w.out.Detail("Resources", in["resources"])

	for {
		answer, err := w.prompter.Ask(ctx, "Proceed to generation? [yes/no/back]:")
		if err != nil {
			return false, err
		}

		switch strings.ToLower(answer) {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, ErrCancelled
		case "back":
			s.Back()
			return false, nil
		default:
			w.out.Warning("Please answer yes, no or back.")
		}
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
