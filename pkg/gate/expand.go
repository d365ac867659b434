package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/sanitize"
)

// ContentTerminator ends multi-line resource content.
const ContentTerminator = "END"

// expand collects resources until the user types done and adds them to p.
// It returns how many were added.
func (g *Gate) expand(ctx context.Context, p *artifact.Preview) (int, error) {
	g.out.Banner("Expand Skill: Add Optional Resources")
	g.out.Info("Available resource types:")
	g.out.Info("  [scripts]    - Executable scripts")
	g.out.Info("  [references] - Detailed documentation")
	g.out.Info("  [assets]     - Static files (configs, templates, etc.)")
	g.out.Info("  [done]       - Finish adding resources")

	added := 0
	for {
		answer, err := g.prompter.Ask(ctx, "Resource type [scripts/references/assets/done]:")
		if err != nil {
			return added, err
		}
		answer = strings.ToLower(answer)
		if answer == "done" {
			return added, nil
		}

		kind, err := artifact.ParseResourceType(answer)
		if err != nil {
			g.out.Warning(fmt.Sprintf("Invalid resource type '%s'. Choose: scripts, references, assets, done", answer))
			continue
		}

		r, ok, err := g.collectResource(ctx, kind)
		if err != nil {
			return added, err
		}
		if !ok {
			continue
		}
		if hasResource(p, r) {
			g.out.Warning(fmt.Sprintf("%s already added. Skipping.", r.RelPath()))
			continue
		}

		p.AddResource(r)
		added++
		g.out.Success(fmt.Sprintf("Added %s resource: %s", kind, r.Filename))
	}
}

func hasResource(p *artifact.Preview, r artifact.Resource) bool {
	for _, existing := range p.Resources {
		if existing.RelPath() == r.RelPath() {
			return true
		}
	}
	return false
}

// collectResource asks for the file name and then the content or, for
// assets, a file path. ok is false when the input was rejected and the
// resource skipped.
func (g *Gate) collectResource(ctx context.Context, kind artifact.ResourceType) (artifact.Resource, bool, error) {
	g.out.Hint(fmt.Sprintf("--- Adding %s resource ---", kind))

	raw, err := g.prompter.Ask(ctx, "Filename:")
	if err != nil {
		return artifact.Resource{}, false, err
	}
	filename, err := sanitize.ValidateFilename(raw)
	if err != nil {
		g.out.Warning(err.Error() + ". Skipping.")
		return artifact.Resource{}, false, nil
	}

	if kind == artifact.ResourceAsset {
		return g.collectAsset(ctx, filename)
	}

	content, err := g.prompter.ReadBlock(ctx, fmt.Sprintf("Enter content (type %s on a new line to finish):", ContentTerminator), ContentTerminator)
	if err != nil {
		return artifact.Resource{}, false, err
	}
	if strings.TrimSpace(content) == "" {
		g.out.Warning("Content cannot be empty. Skipping.")
		return artifact.Resource{}, false, nil
	}
	if len(content) > sanitize.MaxContentLength {
		g.out.Warning(fmt.Sprintf("Content exceeds %d characters. Skipping.", sanitize.MaxContentLength))
		return artifact.Resource{}, false, nil
	}

	return artifact.Resource{
		Type:     kind,
		Filename: filename,
		Content:  content,
		Size:     int64(len(content)),
	}, true, nil
}

func (g *Gate) collectAsset(ctx context.Context, filename string) (artifact.Resource, bool, error) {
	path, err := g.prompter.Ask(ctx, "File path:")
	if err != nil {
		return artifact.Resource{}, false, err
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		g.out.Warning(fmt.Sprintf("File not found: %s. Skipping.", path))
		return artifact.Resource{}, false, nil
	case err != nil:
		g.out.Warning(fmt.Sprintf("Cannot read %s: %v. Skipping.", path, err))
		return artifact.Resource{}, false, nil
	case !info.Mode().IsRegular():
		g.out.Warning(fmt.Sprintf("Path is not a file: %s. Skipping.", path))
		return artifact.Resource{}, false, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return artifact.Resource{}, false, err
	}
	return artifact.Resource{
		Type:       artifact.ResourceAsset,
		Filename:   filename,
		SourcePath: abs,
		Size:       info.Size(),
	}, true, nil
}
