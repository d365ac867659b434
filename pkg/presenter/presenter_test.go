package presenter

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptions(t *testing.T) {
	var output, errorOutput bytes.Buffer
	presenter := NewWithOptions(&output, &errorOutput, ColorNever)

	assert.Equal(t, &output, presenter.output)
	assert.Equal(t, &errorOutput, presenter.errorOutput)
	assert.Equal(t, ColorNever, presenter.colorMode)
	assert.False(t, presenter.IsQuiet())
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		setting  string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"always", "", "always", ColorAlways},
		{"force", "", "force", ColorAlways},
		{"never", "", "never", ColorNever},
		{"off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"unknown value", "", "sometimes", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("NO_COLOR")
			os.Unsetenv("SKILLSMITH_COLOR")
			if tt.noColor != "" {
				t.Setenv("NO_COLOR", tt.noColor)
			}
			if tt.setting != "" {
				t.Setenv("SKILLSMITH_COLOR", tt.setting)
			}

			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestError(t *testing.T) {
	var errorOutput bytes.Buffer
	presenter := NewWithOptions(nil, &errorOutput, ColorNever)

	presenter.Error(errors.New("disk full"), "Failed to persist skill")
	assert.Contains(t, errorOutput.String(), "[ERROR] Failed to persist skill: disk full")

	errorOutput.Reset()
	presenter.Error(errors.New("disk full"), "")
	assert.Equal(t, "[ERROR] disk full\n", errorOutput.String())

	errorOutput.Reset()
	presenter.Error(nil, "context")
	assert.Empty(t, errorOutput.String())
}

func TestStatusLines(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Success("Skill created")
	presenter.Warning("Backup skipped")
	presenter.Info("plain line")
	presenter.Hint("(optional)")

	result := output.String()
	assert.Contains(t, result, "✓ Skill created")
	assert.Contains(t, result, "⚠ Backup skipped")
	assert.Contains(t, result, "plain line\n")
	assert.Contains(t, result, "(optional)\n")
}

func TestQuietMode(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)
	presenter.SetQuiet(true)

	presenter.Success("a")
	presenter.Warning("b")
	presenter.Info("c")
	presenter.Hint("d")
	presenter.Section("e")
	presenter.Separator()

	assert.Empty(t, output.String())
	assert.True(t, presenter.IsQuiet())
}

func TestSection(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Section("Files to create")

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Files to create", lines[0])
	assert.Equal(t, strings.Repeat("-", len("Files to create")), lines[1])
}

func TestBannerAndDetail(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Banner("Wizard Review")
	presenter.Detail("Skill Name", "api-docs")

	result := output.String()
	assert.Contains(t, result, strings.Repeat("=", bannerWidth))
	assert.Contains(t, result, "Wizard Review\n")
	assert.Contains(t, result, "Skill Name: api-docs\n")
}

func TestDiffSkipsFileHeaders(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Diff("--- existing\n+++ new\n@@ -1,2 +1,2 @@\n keep\n-old\n+new\n")

	assert.Equal(t, "@@ -1,2 +1,2 @@\n keep\n-old\n+new\n", output.String())
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "345 bytes", FormatSize(345))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}
