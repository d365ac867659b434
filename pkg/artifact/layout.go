package artifact

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/sanitize"
)

// KnownTargets is the registry of supported targets in display order.
var KnownTargets = []string{"claude", "gemini", "codex", "copilot", "opencode", "cursor", "qwen"}

// IsKnownTarget reports whether target is in the registry.
func IsKnownTarget(target string) bool {
	return slices.Contains(KnownTargets, target)
}

// RelSkillsDir is the project-relative skills directory of target.
func RelSkillsDir(target string) string {
	return filepath.Join("."+target, "skills")
}

// RelArtifactDir is the project-relative directory of artifact name for target.
func RelArtifactDir(target, name string) string {
	return filepath.Join(RelSkillsDir(target), name)
}

// Layout resolves artifact directories inside one project.
type Layout struct {
	guard *sanitize.PathGuard
}

// NewLayout creates a layout rooted at projectRoot.
func NewLayout(projectRoot string) (*Layout, error) {
	guard, err := sanitize.NewPathGuard(projectRoot)
	if err != nil {
		return nil, err
	}
	return &Layout{guard: guard}, nil
}

// Root returns the canonical project root.
func (l *Layout) Root() string {
	return l.guard.Root()
}

// SkillsDir returns the absolute skills directory of target.
func (l *Layout) SkillsDir(target string) string {
	return filepath.Join(l.Root(), RelSkillsDir(target))
}

// ArtifactDir returns the confined absolute directory of name for target.
func (l *Layout) ArtifactDir(target, name string) (string, error) {
	if !IsKnownTarget(target) {
		return "", errors.Errorf("unknown target %q", target)
	}
	return l.guard.Resolve(RelSkillsDir(target), name)
}

// DetectTargets returns the registry targets whose .<target> directory exists.
func (l *Layout) DetectTargets() []string {
	var found []string
	for _, target := range KnownTargets {
		info, err := os.Stat(filepath.Join(l.Root(), "."+target))
		if err == nil && info.IsDir() {
			found = append(found, target)
		}
	}
	return found
}

// ValidateTargets rejects empty and unknown target lists.
func ValidateTargets(targets []string) error {
	if len(targets) == 0 {
		return errors.New("no targets selected")
	}
	for _, t := range targets {
		if !IsKnownTarget(t) {
			return errors.Errorf("unknown target %q (known: %v)", t, KnownTargets)
		}
	}
	return nil
}
