package gate

import (
	"fmt"
	"strings"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/utils"
)

// PreviewLines is the number of document lines shown before truncation.
const PreviewLines = 50

func (g *Gate) present(p *artifact.Preview) {
	Render(g.out, p)
}

// Render prints p with its file list, totals, the first PreviewLines lines
// of the document, its resources and the option bar.
func Render(out presenter.Presenter, p *artifact.Preview) {
	out.Banner("HUMAN GATE: Skill Preview - " + p.Name)

	if p.Valid() {
		out.Success("Valid")
	} else {
		out.Warning("Invalid")
		for _, problem := range p.Problems {
			out.Info("  - " + problem)
		}
	}
	out.Info("")

	out.Section("Files to create")
	for _, target := range p.Targets {
		for _, f := range p.Files[target] {
			out.Info(fmt.Sprintf("  %s (%s)", f.Path, presenter.FormatSize(f.Size)))
		}
	}
	out.Info("")
	out.Info(fmt.Sprintf("Total: %d targets, %d files, %s", len(p.Targets), p.TotalFiles(), presenter.FormatSize(p.TotalSize())))
	out.Info("")

	out.Section("Content Preview")
	shown, remaining := head(p.Document, PreviewLines)
	out.Info(strings.TrimRight(utils.ContentWithLineNumber(shown, 1), "\n"))
	if remaining > 0 {
		out.Warning(fmt.Sprintf("... [%d more lines]", remaining))
	}
	out.Separator()

	if len(p.Resources) > 0 {
		out.Section("JIT Resources")
		for _, r := range p.Resources {
			out.Info(fmt.Sprintf("  [%s] %s (%s)", r.Type, r.Filename, presenter.FormatSize(r.Size)))
		}
		out.Info("")
	}

	out.Info("Options: [approve] [expand] [edit] [reject]")
}

// head returns the first n lines of s and how many lines were left out.
func head(s string, n int) ([]string, int) {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	if len(lines) <= n {
		return lines, 0
	}
	return lines[:n], len(lines) - n
}
