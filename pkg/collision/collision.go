// Package collision finds existing artifacts a new one would replace and
// asks the user how to resolve the conflict: overwrite, merge section by
// section, or cancel.
package collision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/console"
	"github.com/skillsmith/skillsmith/pkg/logger"
	"github.com/skillsmith/skillsmith/pkg/presenter"
	"github.com/skillsmith/skillsmith/pkg/timeout"
)

// Info describes the existing artifact of one target.
type Info struct {
	Name     string
	Target   string
	Dir      string
	Path     string
	Created  string
	Modified time.Time
	Author   string
	Version  string
	Size     int64
}

// Action is a collision resolution choice.
type Action string

const (
	ActionOverwrite Action = "overwrite"
	ActionMerge     Action = "merge"
	ActionCancel    Action = "cancel"
)

// Decision is an immutable resolution for a set of targets.
type Decision struct {
	Action    Action
	Timestamp time.Time
	Targets   []string
	// TimedOut is set when the decision was forced to cancel by the prompt deadline.
	TimedOut bool
}

// Detector looks for existing artifacts.
type Detector struct {
	layout *artifact.Layout
}

// NewDetector creates a Detector over layout.
func NewDetector(layout *artifact.Layout) *Detector {
	return &Detector{layout: layout}
}

// Detect returns the targets among targets that already hold an artifact
// called name.
func (d *Detector) Detect(ctx context.Context, name string, targets []string) (map[string]Info, error) {
	found := make(map[string]Info)
	for _, target := range targets {
		dir, err := d.layout.ArtifactDir(target, name)
		if err != nil {
			return nil, err
		}

		docPath := filepath.Join(dir, artifact.DocumentFile)
		stat, err := os.Stat(docPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to inspect %s", docPath)
		}

		info := Info{
			Name:     name,
			Target:   target,
			Dir:      dir,
			Path:     docPath,
			Modified: stat.ModTime(),
			Size:     stat.Size(),
		}
		d.fillMetadata(ctx, &info)
		found[target] = info
	}
	return found, nil
}

func (d *Detector) fillMetadata(ctx context.Context, info *Info) {
	md, err := artifact.ReadMetadata(info.Path)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("path", info.Path).Debug("existing artifact has no readable frontmatter")
	}
	info.Created, info.Author, info.Version = md.Created, md.Author, md.Version

	if info.Created != "" && info.Author != "" && info.Version != "" {
		return
	}

	data, err := os.ReadFile(filepath.Join(info.Dir, artifact.MetadataFile))
	if err != nil {
		return
	}
	var meta struct {
		Created string `yaml:"created"`
		Author  string `yaml:"author"`
		Version string `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		logger.G(ctx).WithError(err).WithField("dir", info.Dir).Debug("unreadable metadata file")
		return
	}
	if info.Created == "" {
		info.Created = meta.Created
	}
	if info.Author == "" {
		info.Author = meta.Author
	}
	if info.Version == "" {
		info.Version = meta.Version
	}
}

// Targets returns the targets of collisions in sorted order.
func Targets(collisions map[string]Info) []string {
	targets := make([]string, 0, len(collisions))
	for t := range collisions {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// Resolver asks the user to resolve collisions.
type Resolver struct {
	prompter console.Prompter
	out      presenter.Presenter
	now      func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(prompter console.Prompter, out presenter.Presenter) *Resolver {
	return &Resolver{prompter: prompter, out: out, now: time.Now}
}

// Resolve shows the collisions and loops until a valid action is entered.
// When the prompt deadline passes the decision is cancel with TimedOut set.
func (r *Resolver) Resolve(ctx context.Context, collisions map[string]Info) (Decision, error) {
	targets := Targets(collisions)
	if len(targets) == 0 {
		return Decision{}, errors.New("no collisions to resolve")
	}

	name := collisions[targets[0]].Name
	r.out.Banner("Collision Detected")
	r.out.Warning(fmt.Sprintf("Skill '%s' already exists in %d location(s):", name, len(targets)))
	for _, target := range targets {
		info := collisions[target]
		r.out.Info("")
		r.out.Info("  " + artifact.RelArtifactDir(target, name) + "/" + artifact.DocumentFile)
		if info.Created != "" {
			r.out.Detail("    Created", info.Created)
		}
		r.out.Detail("    Modified", info.Modified.Format("2006-01-02 15:04:05"))
		if info.Version != "" {
			r.out.Detail("    Version", info.Version)
		}
		if info.Author != "" {
			r.out.Detail("    Author", info.Author)
		}
		r.out.Detail("    Size", presenter.FormatSize(info.Size))
	}

	r.out.Info("")
	r.out.Section("Resolution options")
	r.out.Info("  [overwrite] - Replace existing skill (creates backup)")
	r.out.Info("  [merge]     - Selectively merge changes section by section")
	r.out.Info("  [cancel]    - Abort operation (preserve existing)")

	decide := func(action Action) Decision {
		return Decision{Action: action, Timestamp: r.now(), Targets: targets}
	}

	for {
		answer, err := r.prompter.Ask(ctx, "Choose action:")
		if errors.Is(err, timeout.ErrTimeout) {
			r.out.Warning("No decision before the deadline; existing skill preserved.")
			d := decide(ActionCancel)
			d.TimedOut = true
			return d, nil
		}
		if err != nil {
			return Decision{}, err
		}

		switch strings.ToLower(answer) {
		case "overwrite", "o":
			return decide(ActionOverwrite), nil
		case "merge", "m":
			return decide(ActionMerge), nil
		case "cancel", "c":
			return decide(ActionCancel), nil
		default:
			r.out.Warning(fmt.Sprintf("Invalid choice '%s'. Choose: overwrite, merge, cancel", answer))
		}
	}
}
