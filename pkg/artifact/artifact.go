// Package artifact models a skill artifact: a SKILL.md document with YAML
// frontmatter, a metadata.yaml file and optional bundled resources, written
// once per target under .<target>/skills/<name>/.
package artifact

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DocumentFile is the name of the skill document inside an artifact directory.
	DocumentFile = "SKILL.md"
	// MetadataFile is the name of the metadata document inside an artifact directory.
	MetadataFile = "metadata.yaml"
)

// ResourceType classifies a bundled resource.
type ResourceType string

const (
	ResourceScript    ResourceType = "script"
	ResourceReference ResourceType = "reference"
	ResourceAsset     ResourceType = "asset"
)

// ParseResourceType accepts the singular or plural form of a resource type.
func ParseResourceType(s string) (ResourceType, error) {
	switch s {
	case "script", "scripts":
		return ResourceScript, nil
	case "reference", "references":
		return ResourceReference, nil
	case "asset", "assets":
		return ResourceAsset, nil
	}
	return "", errors.Errorf("unknown resource type %q", s)
}

// Dir returns the subdirectory resources of this type are stored in.
func (t ResourceType) Dir() string {
	return string(t) + "s"
}

// Resource is one bundled file. Scripts and references carry inline Content;
// assets reference a SourcePath that is copied at persistence time.
type Resource struct {
	Type       ResourceType
	Filename   string
	Content    string
	SourcePath string
	Size       int64
}

// RelPath is the resource path relative to the artifact directory.
func (r Resource) RelPath() string {
	return filepath.Join(r.Type.Dir(), r.Filename)
}

// Data returns the resource bytes, reading SourcePath when set.
func (r Resource) Data() ([]byte, error) {
	if r.SourcePath == "" {
		return []byte(r.Content), nil
	}
	data, err := os.ReadFile(r.SourcePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read asset %s", r.SourcePath)
	}
	return data, nil
}

// Status is the validation status of a Preview.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
)

// FileEntry is a file that persisting the preview will write.
type FileEntry struct {
	Path string
	Size int64
}

// Preview is a fully rendered artifact awaiting a human decision.
type Preview struct {
	ID        string
	Name      string
	Document  string
	Metadata  string
	Targets   []string
	Status    Status
	Problems  []string
	Files     map[string][]FileEntry
	CreatedAt time.Time
	Resources []Resource
}

// NewPreview builds a preview and validates it with v.
func NewPreview(name, document, metadata string, targets []string, v Validator) *Preview {
	p := &Preview{
		ID:        uuid.NewString(),
		Name:      name,
		Document:  document,
		Metadata:  metadata,
		Targets:   append([]string(nil), targets...),
		CreatedAt: time.Now(),
	}
	p.Revalidate(v)
	return p
}

// Valid reports whether the preview passed validation.
func (p *Preview) Valid() bool {
	return p.Status == StatusValid
}

// Revalidate runs v over the document and refreshes status and file sizes.
func (p *Preview) Revalidate(v Validator) {
	p.Problems = nil
	if v != nil {
		p.Problems = v.Validate(p.Document)
	}
	p.Status = StatusValid
	if len(p.Problems) > 0 {
		p.Status = StatusInvalid
	}
	p.refreshFiles()
}

// SetDocument replaces the document text and revalidates.
func (p *Preview) SetDocument(document string, v Validator) {
	p.Document = document
	p.Revalidate(v)
}

// AddResource appends r and accounts for its files.
func (p *Preview) AddResource(r Resource) {
	p.Resources = append(p.Resources, r)
	p.refreshFiles()
}

// TotalFiles is the number of files across all targets.
func (p *Preview) TotalFiles() int {
	n := 0
	for _, files := range p.Files {
		n += len(files)
	}
	return n
}

// TotalSize is the number of bytes across all targets.
func (p *Preview) TotalSize() int64 {
	var n int64
	for _, files := range p.Files {
		for _, f := range files {
			n += f.Size
		}
	}
	return n
}

// Clone returns a deep copy.
func (p *Preview) Clone() *Preview {
	c := *p
	c.Targets = append([]string(nil), p.Targets...)
	c.Problems = append([]string(nil), p.Problems...)
	c.Resources = append([]Resource(nil), p.Resources...)
	c.Files = make(map[string][]FileEntry, len(p.Files))
	for target, files := range p.Files {
		c.Files[target] = append([]FileEntry(nil), files...)
	}
	return &c
}

func (p *Preview) refreshFiles() {
	p.Files = make(map[string][]FileEntry, len(p.Targets))
	for _, target := range p.Targets {
		dir := RelArtifactDir(target, p.Name)
		files := []FileEntry{
			{Path: filepath.Join(dir, DocumentFile), Size: int64(len(p.Document))},
			{Path: filepath.Join(dir, MetadataFile), Size: int64(len(p.Metadata))},
		}
		for _, r := range p.Resources {
			files = append(files, FileEntry{Path: filepath.Join(dir, r.RelPath()), Size: r.Size})
		}
		p.Files[target] = files
	}
}
