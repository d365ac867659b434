package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/audit"
	"github.com/skillsmith/skillsmith/pkg/backup"
	"github.com/skillsmith/skillsmith/pkg/config"
	"github.com/skillsmith/skillsmith/pkg/console"
	"github.com/skillsmith/skillsmith/pkg/editor"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/persist"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
	"github.com/skillsmith/skillsmith/pkg/session"
	"github.com/skillsmith/skillsmith/pkg/workflow"
)

// streams are the terminal endpoints of one invocation.
type streams struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	color  presenter.ColorMode
}

func stdStreams() streams {
	return streams{in: os.Stdin, out: os.Stdout, errOut: os.Stderr, color: presenter.ColorAuto}
}

// appOptions select what a command needs from the app.
type appOptions struct {
	// needTargets resolves the target list; commands that only read backups
	// work without any target directory.
	needTargets bool
	// confirm uses the confirmation deadline for every prompt.
	confirm  bool
	template string
}

type app struct {
	cfg *config.Config
	out presenter.Presenter
	wf  *workflow.Workflow
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func newApp(ctx context.Context, cfg *config.Config, s streams, opts appOptions) (*app, error) {
	out := presenter.NewWithOptions(s.out, s.errOut, s.color)

	layout, err := artifact.NewLayout(cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}

	var targets []string
	if opts.needTargets {
		targets, err = cfg.ResolveTargets(layout)
		if err != nil {
			return nil, err
		}
	}

	sink, err := audit.NewFileSink(cfg.LogDir())
	if err != nil {
		return nil, err
	}

	deadline := cfg.Timeout()
	if opts.confirm {
		deadline = cfg.ConfirmDeadline()
	}
	prompter := console.New(s.in, s.out, console.WithTimeout(deadline))

	template := cfg.Template
	if opts.template != "" {
		template = opts.template
	}

	deps := workflow.Deps{
		Prompter:  prompter,
		Out:       out,
		Layout:    layout,
		Sanitizer: sanitize.New(sink),
		Sessions:  session.NewStore(cfg.TempDir()),
		Renderer:  artifact.NewTemplateRenderer(cfg.TemplateDir),
		Backups:   backup.NewManager(layout, cfg.BackupDir(), cfg.TempDir()),
		Engine:    persist.NewEngine(layout, cfg.TempDir()),
		Sink:      sink,
	}
	if command, err := editor.Detect(cfg.Editor); err == nil {
		deps.Editor = editor.New(command)
	} else {
		logger.G(ctx).WithError(err).Debug("edit decision disabled")
	}

	wf := workflow.New(deps, workflow.Settings{
		Targets:  targets,
		Template: template,
		Author:   cfg.Author,
	})

	logger.G(ctx).
		WithField("project_root", cfg.ProjectRoot).
		WithField("targets", targets).
		WithField("timeout", deadline).
		Debug("skillsmith initialized")

	return &app{cfg: cfg, out: out, wf: wf}, nil
}

// run loads the configuration, builds the app and exits with the code fn
// returns.
func run(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) int) {
	ctx, cancel := interruptible(cmd.Context())
	code := execute(ctx, stdStreams(), opts, fn)
	cancel()
	if code != 0 {
		os.Exit(code)
	}
}

func execute(ctx context.Context, s streams, opts appOptions, fn func(ctx context.Context, a *app) int) int {
	cfg, err := loadConfig()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return 1
	}
	a, err := newApp(ctx, cfg, s, opts)
	if err != nil {
		presenter.Error(err, "Failed to initialize")
		return 1
	}
	return fn(ctx, a)
}

// interruptible cancels the returned context on SIGINT or SIGTERM. A
// cancelled prompt suspends the wizard or aborts the gate.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// report prints the final status of an outcome and returns the exit code.
func (a *app) report(outcome workflow.Outcome, err error) int {
	if err != nil {
		a.out.Error(err, "Operation failed")
		if hint := nextAction(err); hint != "" {
			a.out.Info(hint)
		}
		return 1
	}
	return outcome.ExitCode()
}

func nextAction(err error) string {
	switch {
	case sanitize.IsSecurityError(err):
		return "The input was rejected for security reasons. Rephrase it and try again."
	case sanitize.IsValidationError(err):
		return "Fix the input and run the command again."
	case errors.Is(err, session.ErrInvalidState):
		return "The state file may be corrupted. Starting a fresh wizard with 'skillsmith create' is recommended."
	case errors.Is(err, backup.ErrBackupFailed):
		return "Nothing was changed. Check that the backup directory is writable and try again."
	case errors.Is(err, persist.ErrPersistFailed):
		return "Staged changes were rolled back. Check the error above and try again."
	case errors.Is(err, persist.ErrNotFound):
		return "Check the skill name and the --targets flag."
	case errors.Is(err, backup.ErrBackupNotFound):
		return "List available backups with 'skillsmith backups'."
	}
	return ""
}
