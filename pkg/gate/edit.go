package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	"github.com/skillsmith/skillsmith/pkg/artifact"
)

const maxShownProblems = 5

type editOutcome int

const (
	// editReturned means the gate is shown again; the preview may or may
	// not have changed.
	editReturned editOutcome = iota
	editAborted
)

// edit opens the document in the external editor and replaces it in p only
// once the edited text validates. p is not touched on any other path.
func (g *Gate) edit(ctx context.Context, p *artifact.Preview) (editOutcome, error) {
	if g.editor == nil {
		g.out.Warning("No editor available. Returning to Human Gate.")
		return editReturned, nil
	}

	g.out.Banner("Inline Editing Mode")
	g.out.Info(fmt.Sprintf("Opening %s for '%s' in editor...", artifact.DocumentFile, p.Name))

	content := p.Document
	for {
		edited, err := g.editor.Edit(ctx, content, ".md")
		if err != nil {
			g.out.Error(err, "Editor error")
			g.out.Info("Returning to Human Gate without changes.")
			return editReturned, nil
		}

		if edited == p.Document {
			g.out.Warning("No changes detected. Returning to Human Gate.")
			return editReturned, nil
		}

		problems := g.validator.Validate(edited)
		if len(problems) == 0 {
			g.out.Diff(udiff.Unified(artifact.DocumentFile, artifact.DocumentFile, p.Document, edited))
			p.SetDocument(edited, g.validator)
			g.out.Success("Validation passed! Displaying updated preview...")
			return editReturned, nil
		}

		g.showProblems(problems)

		next, err := g.afterInvalidEdit(ctx)
		if err != nil {
			return editReturned, err
		}
		switch next {
		case "retry-edit":
			content = edited
		case "discard-changes":
			g.out.Success("Changes discarded. Returning to original preview.")
			return editReturned, nil
		case "abort":
			return editAborted, nil
		}
	}
}

func (g *Gate) showProblems(problems []string) {
	g.out.Warning("Validation failed after editing:")
	for i, problem := range problems {
		if i == maxShownProblems {
			g.out.Info(fmt.Sprintf("  ... and %d more errors", len(problems)-maxShownProblems))
			break
		}
		g.out.Info("  • " + problem)
	}
}

func (g *Gate) afterInvalidEdit(ctx context.Context) (string, error) {
	g.out.Section("Options")
	g.out.Info("  [retry-edit]      - Fix validation errors in editor")
	g.out.Info("  [discard-changes] - Discard edits and return to original")
	g.out.Info("  [abort]           - Cancel entire operation")

	for {
		answer, err := g.prompter.Ask(ctx, "Choose [retry-edit/discard-changes/abort]:")
		if err != nil {
			return "", err
		}
		switch answer = strings.ToLower(answer); answer {
		case "retry-edit", "discard-changes", "abort":
			return answer, nil
		}
		g.out.Warning(fmt.Sprintf("Invalid choice '%s'. Please choose: retry-edit, discard-changes, abort", answer))
	}
}
