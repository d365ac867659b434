package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aymerick/raymond"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTemplate is the built-in template name.
	DefaultTemplate = "base"
	// DefaultAuthor is written to metadata when no author is configured.
	DefaultAuthor = "skillsmith"
	// InitialVersion is the version of a newly created artifact.
	InitialVersion = "1.0.0"

	documentTemplateFile = "SKILL.md.template"
	metadataTemplateFile = "metadata.yaml.template"
)

// RenderRequest carries everything a template may reference.
type RenderRequest struct {
	Name         string
	Description  string
	Instructions string
	Resources    string
	Template     string
	Author       string
	Targets      []string
}

// Rendered is a finished document and metadata pair.
type Rendered struct {
	Document string
	Metadata string
}

// Renderer turns a request into finished text. Implementations have no side
// effects.
type Renderer interface {
	Render(req RenderRequest) (*Rendered, error)
}

const baseDocumentTemplate = `---
name: {{name}}
description: {{yaml description}}
---

# {{title}}

{{{description}}}

## When to Use

Use this skill when you need to {{{lowerFirst description}}}

## Instructions

{{{instructions}}}
{{#if resources}}

## Resources

{{{resources}}}
{{/if}}
`

// TemplateRenderer renders Handlebars templates. The "base" template is
// built in; other names are looked up as <Dir>/<name>/SKILL.md.template with
// an optional metadata.yaml.template next to it.
type TemplateRenderer struct {
	Dir string
	Now func() time.Time
}

// NewTemplateRenderer returns a renderer that resolves templates in dir.
func NewTemplateRenderer(dir string) *TemplateRenderer {
	return &TemplateRenderer{Dir: dir, Now: time.Now}
}

func (r *TemplateRenderer) Render(req RenderRequest) (*Rendered, error) {
	if req.Template == "" {
		req.Template = DefaultTemplate
	}
	if req.Author == "" {
		req.Author = DefaultAuthor
	}
	if strings.TrimSpace(req.Instructions) == "" {
		req.Instructions = req.Description
	}
	if strings.EqualFold(strings.TrimSpace(req.Resources), "none") {
		req.Resources = ""
	}

	docSource, metaSource, err := r.load(req.Template)
	if err != nil {
		return nil, err
	}

	data := r.context(req)

	document, err := execTemplate(docSource, data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to render %s from template %q", DocumentFile, req.Template)
	}

	var metadata string
	if metaSource != "" {
		metadata, err = execTemplate(metaSource, data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to render %s from template %q", MetadataFile, req.Template)
		}
	} else {
		metadata, err = defaultMetadata(req, data["created"].(string))
		if err != nil {
			return nil, err
		}
	}

	return &Rendered{Document: document, Metadata: metadata}, nil
}

func (r *TemplateRenderer) load(name string) (doc, meta string, err error) {
	if r.Dir != "" {
		dir := filepath.Join(r.Dir, name)
		content, readErr := os.ReadFile(filepath.Join(dir, documentTemplateFile))
		if readErr == nil {
			doc = string(content)
			if m, err := os.ReadFile(filepath.Join(dir, metadataTemplateFile)); err == nil {
				meta = string(m)
			}
			return doc, meta, nil
		}
		if !os.IsNotExist(readErr) {
			return "", "", errors.Wrapf(readErr, "failed to read template %q", name)
		}
	}

	if name == DefaultTemplate {
		return baseDocumentTemplate, "", nil
	}
	return "", "", errors.Errorf("template %q not found", name)
}

func (r *TemplateRenderer) context(req RenderRequest) map[string]any {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return map[string]any{
		"name":         req.Name,
		"title":        Title(req.Name),
		"description":  req.Description,
		"instructions": req.Instructions,
		"resources":    req.Resources,
		"author":       req.Author,
		"version":      InitialVersion,
		"created":      now().UTC().Format(time.RFC3339),
		"targets":      req.Targets,
		"template":     req.Template,
	}
}

func execTemplate(source string, data map[string]any) (string, error) {
	tpl, err := raymond.Parse(source)
	if err != nil {
		return "", err
	}
	tpl.RegisterHelper("yaml", func(value string) raymond.SafeString {
		return raymond.SafeString(yamlScalar(value))
	})
	tpl.RegisterHelper("lowerFirst", func(value string) string {
		r, size := utf8.DecodeRuneInString(value)
		if r == utf8.RuneError {
			return value
		}
		return string(unicode.ToLower(r)) + value[size:]
	})
	return tpl.Exec(data)
}

// yamlScalar renders s as a single YAML scalar safe to place after "key: ".
func yamlScalar(s string) string {
	out, err := yaml.Marshal(s)
	if err != nil {
		return `""`
	}
	return strings.TrimRight(string(out), "\n")
}

type metadataDocument struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Author      string   `yaml:"author"`
	Created     string   `yaml:"created"`
	Template    string   `yaml:"template"`
	Category    string   `yaml:"category"`
	Platforms   []string `yaml:"platforms,omitempty"`
}

func defaultMetadata(req RenderRequest, created string) (string, error) {
	out, err := yaml.Marshal(metadataDocument{
		Name:        req.Name,
		Description: req.Description,
		Version:     InitialVersion,
		Author:      req.Author,
		Created:     created,
		Template:    req.Template,
		Category:    "development",
		Platforms:   req.Targets,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode metadata")
	}
	return string(out), nil
}

// Title turns a hyphenated name into a heading: "api-docs" becomes "Api Docs".
func Title(name string) string {
	words := strings.Split(name, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
