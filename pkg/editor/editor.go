// Package editor opens text in the user's external editor and returns the
// edited result.
package editor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/logger"
)

// ErrEditorFailed is returned when no editor is available, it cannot be
// started, or it exits abnormally.
var ErrEditorFailed = errors.New("editor failed")

// Editor edits text.
type Editor interface {
	Edit(ctx context.Context, content, ext string) (string, error)
}

var (
	getenv   = os.Getenv
	lookPath = exec.LookPath

	gitEditor = func() string {
		out, err := exec.Command("git", "config", "--get", "core.editor").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}

	fallbacks = []string{"vim", "nano", "vi"}
)

// Detect picks the editor command: configured, then $VISUAL, $EDITOR, git's
// core.editor, and finally the first of vim, nano and vi found on PATH.
func Detect(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if editor := getenv("VISUAL"); editor != "" {
		return editor, nil
	}
	if editor := getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	if editor := gitEditor(); editor != "" {
		return editor, nil
	}
	for _, name := range fallbacks {
		if _, err := lookPath(name); err == nil {
			return name, nil
		}
	}
	return "", errors.Wrap(ErrEditorFailed, "no editor found, set $EDITOR or the editor config key")
}

// ExternalEditor runs an editor command on a temporary file.
type ExternalEditor struct {
	command []string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// New creates an ExternalEditor for command, which may carry arguments such
// as "code --wait".
func New(command string) *ExternalEditor {
	return &ExternalEditor{
		command: strings.Fields(command),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
}

// Command returns the editor command line.
func (e *ExternalEditor) Command() string {
	return strings.Join(e.command, " ")
}

// Edit writes content to a temporary file with extension ext, blocks until
// the editor exits and returns the file content. Exit codes 0 and 1 are
// treated as success since several editors exit 1 after a normal session.
func (e *ExternalEditor) Edit(ctx context.Context, content, ext string) (string, error) {
	if len(e.command) == 0 {
		return "", errors.Wrap(ErrEditorFailed, "no editor command")
	}

	tempFile, err := os.CreateTemp("", "skillsmith-edit-*"+ext)
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary file")
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		return "", errors.Wrap(err, "failed to write temporary file")
	}
	if err := tempFile.Close(); err != nil {
		return "", errors.Wrap(err, "failed to write temporary file")
	}

	args := append(append([]string(nil), e.command[1:]...), tempFile.Name())
	cmd := exec.CommandContext(ctx, e.command[0], args...)
	cmd.Stdin = e.stdin
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr

	logger.G(ctx).WithField("editor", e.Command()).WithField("path", tempFile.Name()).Debug("opening editor")

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", errors.Wrapf(ErrEditorFailed, "could not start %q: %v", e.command[0], err)
		}
		if code := exitErr.ExitCode(); code != 1 {
			return "", errors.Wrapf(ErrEditorFailed, "%s exited with code %d", e.command[0], code)
		}
	}

	edited, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return "", errors.Wrap(err, "failed to read edited file")
	}
	return string(edited), nil
}
