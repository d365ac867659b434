package editor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubLookups(t *testing.T, git string, onPath ...string) {
	t.Helper()
	origGit, origLook := gitEditor, lookPath
	t.Cleanup(func() {
		gitEditor, lookPath = origGit, origLook
	})

	gitEditor = func() string { return git }
	lookPath = func(name string) (string, error) {
		for _, p := range onPath {
			if p == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		visual     string
		editor     string
		git        string
		onPath     []string
		want       string
	}{
		{"configured wins", "code --wait", "nvim", "nano", "emacs", nil, "code --wait"},
		{"visual before editor", "", "nvim", "nano", "emacs", nil, "nvim"},
		{"editor", "", "", "nano", "emacs", nil, "nano"},
		{"git core.editor", "", "", "", "emacs", nil, "emacs"},
		{"vim on path", "", "", "", "", []string{"vi", "vim"}, "vim"},
		{"nano before vi", "", "", "", "", []string{"vi", "nano"}, "nano"},
		{"vi last", "", "", "", "", []string{"vi"}, "vi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VISUAL", tt.visual)
			t.Setenv("EDITOR", tt.editor)
			stubLookups(t, tt.git, tt.onPath...)

			got, err := Detect(tt.configured)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_NothingAvailable(t *testing.T) {
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", "")
	stubLookups(t, "")

	_, err := Detect("")

	assert.ErrorIs(t, err, ErrEditorFailed)
}

func fakeEditor(t *testing.T, script string) *ExternalEditor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script editors need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-editor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	e := New(path)
	var out bytes.Buffer
	e.stdin, e.stdout, e.stderr = bytes.NewReader(nil), &out, &out
	return e
}

func TestEdit(t *testing.T) {
	e := fakeEditor(t, `printf 'edited\n' >> "$1"`)

	got, err := e.Edit(context.Background(), "original\n", ".md")

	require.NoError(t, err)
	assert.Equal(t, "original\nedited\n", got)
}

func TestEdit_ExitCodes(t *testing.T) {
	got, err := fakeEditor(t, `printf 'x' > "$1"; exit 1`).Edit(context.Background(), "a", ".md")
	require.NoError(t, err, "exit code 1 is a normal session end")
	assert.Equal(t, "x", got)

	_, err = fakeEditor(t, "exit 3").Edit(context.Background(), "a", ".md")
	assert.ErrorIs(t, err, ErrEditorFailed)
	assert.ErrorContains(t, err, "exited with code 3")
}

func TestEdit_MissingBinary(t *testing.T) {
	e := New(filepath.Join(t.TempDir(), "no-such-editor"))

	_, err := e.Edit(context.Background(), "a", ".md")

	assert.ErrorIs(t, err, ErrEditorFailed)
}

func TestEdit_CommandWithArguments(t *testing.T) {
	e := fakeEditor(t, `printf '%s' "$1" > "$2"`)
	e.command = append(e.command, "--wait")

	got, err := e.Edit(context.Background(), "a", ".md")

	require.NoError(t, err)
	assert.Equal(t, "--wait", got)
	assert.Contains(t, e.Command(), "--wait")
}

func TestEdit_EmptyCommand(t *testing.T) {
	_, err := New("   ").Edit(context.Background(), "a", ".md")

	assert.ErrorIs(t, err, ErrEditorFailed)
}
