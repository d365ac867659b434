package collision

import (
	"context"
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/console"
	"github.com/skillsmith/skillsmith/pkg/presenter"
)

const previewLimit = 200

// MergeResult is the outcome of a section merge.
type MergeResult struct {
	Document string
	// Prompts counts the sections the user was asked about.
	Prompts int
	// Replaced lists the keys where the new text was chosen.
	Replaced []string
}

// Merger walks the user through a section-by-section merge.
type Merger struct {
	prompter console.Prompter
	out      presenter.Presenter
}

// NewMerger creates a Merger.
func NewMerger(prompter console.Prompter, out presenter.Presenter) *Merger {
	return &Merger{prompter: prompter, out: out}
}

// Merge combines existing and incoming. Sections with identical text are
// kept silently; for every other section the user picks the existing or the
// new text. The result holds frontmatter, preamble, the sections of existing
// in their order, then sections only incoming has, in incoming order. A
// failed prompt aborts the merge and no partial document is returned.
func (m *Merger) Merge(ctx context.Context, existing, incoming string) (*MergeResult, error) {
	if existing == incoming {
		return &MergeResult{Document: existing}, nil
	}

	oldDoc, newDoc := SplitSections(existing), SplitSections(incoming)
	oldParts, newParts := index(oldDoc.parts()), index(newDoc.parts())

	order := []string{frontmatterKey, preambleKey}
	for _, s := range oldDoc.Sections {
		order = append(order, s.Key)
	}
	for _, s := range newDoc.Sections {
		if _, ok := oldParts[s.Key]; !ok {
			order = append(order, s.Key)
		}
	}

	m.out.Banner("Merge Mode: Section-by-Section Approval")
	m.out.Hint("Each changed section is shown; keep the existing text or use the new one.")

	result := &MergeResult{}
	texts := make([]string, 0, len(order))
	for _, key := range order {
		oldText, newText := oldParts[key], newParts[key]
		if oldText == newText {
			if oldText != "" {
				m.out.Success(fmt.Sprintf("Section '%s': no changes", key))
			}
			texts = append(texts, oldText)
			continue
		}

		useNew, err := m.choose(ctx, key, oldText, newText)
		result.Prompts++
		if err != nil {
			return nil, errors.Wrapf(err, "merge aborted at section '%s'", key)
		}
		if useNew {
			result.Replaced = append(result.Replaced, key)
			texts = append(texts, newText)
			m.out.Success(fmt.Sprintf("Using new content for '%s'", key))
		} else {
			texts = append(texts, oldText)
			m.out.Success(fmt.Sprintf("Keeping existing content for '%s'", key))
		}
	}

	result.Document = join(texts)
	return result, nil
}

func index(parts []Section) map[string]string {
	out := make(map[string]string, len(parts))
	for _, p := range parts {
		out[p.Key] = p.Text
	}
	return out
}

func (m *Merger) choose(ctx context.Context, key, oldText, newText string) (bool, error) {
	m.out.Banner("Section: " + key)
	switch {
	case oldText == "":
		m.out.Success("[NEW SECTION]")
		m.out.Info(clip(newText))
	case newText == "":
		m.out.Warning("[DELETED]")
		m.out.Info(clip(oldText))
	default:
		m.out.Diff(udiff.Unified("existing", "new", oldText, newText))
	}

	for {
		answer, err := m.prompter.Ask(ctx, "Keep [existing] or use [new]?")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "existing", "e", "keep":
			return false, nil
		case "new", "n", "use":
			return true, nil
		default:
			m.out.Warning(fmt.Sprintf("Invalid choice '%s'. Please choose 'existing' or 'new'", answer))
		}
	}
}

func clip(s string) string {
	s = strings.TrimRight(s, "\n")
	if r := []rune(s); len(r) > previewLimit {
		return string(r[:previewLimit]) + "..."
	}
	return s
}
