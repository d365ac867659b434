package sanitize

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// DefaultAllowedDirs lists the project-relative directories artifacts may be
// written to.
var DefaultAllowedDirs = []string{
	".{claude,gemini,codex,copilot,opencode,cursor,qwen}/skills",
}

// PathGuard builds artifact paths confined to a project root.
type PathGuard struct {
	root    string
	allowed []string
}

// NewPathGuard canonicalizes root. With no patterns DefaultAllowedDirs is used.
func NewPathGuard(root string, allowed ...string) (*PathGuard, error) {
	canonical, err := canonicalize(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve project root %s", root)
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedDirs
	}
	for _, pattern := range allowed {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("invalid allow-list pattern %q", pattern)
		}
	}
	return &PathGuard{root: canonical, allowed: allowed}, nil
}

// Root returns the canonical project root.
func (g *PathGuard) Root() string {
	return g.root
}

// Resolve returns the canonical absolute path of artifact name inside skillsDir
// (relative to the root). name must already be a cleaned name. An artifact
// directory that is itself a symlink is rejected with ErrPathEscape.
func (g *PathGuard) Resolve(skillsDir, name string) (string, error) {
	if !NamePattern.MatchString(name) {
		return "", errors.Wrapf(ErrInvalidName, "%q is not a cleaned name", name)
	}

	dir, err := canonicalize(filepath.Join(g.root, skillsDir))
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %s", skillsDir)
	}

	rel, err := filepath.Rel(g.root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrPathEscape, "%s resolves outside %s", skillsDir, g.root)
	}

	if !g.isAllowed(filepath.ToSlash(rel)) {
		return "", errors.Wrapf(ErrPathEscape, "%s is not a permitted skills directory", rel)
	}

	full := filepath.Join(dir, name)
	info, err := os.Lstat(full)
	if err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to inspect %s", full)
	}
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.Wrapf(ErrPathEscape, "%s is a symbolic link", filepath.Join(rel, name))
	}
	return full, nil
}

func (g *PathGuard) isAllowed(rel string) bool {
	for _, pattern := range g.allowed {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// canonicalize returns the absolute form of path with symlinks resolved for
// the longest prefix that exists.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	existing := abs
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}
