package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// Metadata is the subset of frontmatter fields the workflow reads back from
// existing artifacts.
type Metadata struct {
	Name        string
	Description string
	Author      string
	Version     string
	Created     string
}

// SplitFrontmatter splits doc into its frontmatter block (both delimiter lines
// included, exactly as written) and the remaining body. ok is false when doc
// does not open with a closed frontmatter block, in which case body is doc.
func SplitFrontmatter(doc string) (front, body string, ok bool) {
	if !strings.HasPrefix(doc, "---\n") && !strings.HasPrefix(doc, "---\r\n") {
		return "", doc, false
	}

	offset := strings.Index(doc, "\n") + 1
	for offset < len(doc) {
		end := strings.Index(doc[offset:], "\n")
		line := doc[offset:]
		next := len(doc)
		if end >= 0 {
			line = doc[offset : offset+end]
			next = offset + end + 1
		}
		if strings.TrimRight(line, "\r") == "---" {
			return doc[:next], doc[next:], true
		}
		offset = next
	}
	return "", doc, false
}

// ParseFrontmatter extracts the frontmatter of a markdown document as a map.
func ParseFrontmatter(content []byte) (map[string]any, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	data, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "invalid frontmatter")
	}
	if len(data) == 0 {
		return nil, errors.New("missing frontmatter")
	}
	return data, nil
}

// ReadMetadata parses the frontmatter of an existing SKILL.md file. Missing
// optional fields are left empty.
func ReadMetadata(path string) (Metadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to read skill file")
	}

	data, err := ParseFrontmatter(content)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		Name:        stringField(data, "name"),
		Description: stringField(data, "description"),
		Author:      stringField(data, "author"),
		Version:     stringField(data, "version"),
		Created:     stringField(data, "created"),
	}, nil
}

// ReadDocument returns the SKILL.md text of the artifact in dir.
func ReadDocument(dir string) (string, error) {
	content, err := os.ReadFile(filepath.Join(dir, DocumentFile))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", DocumentFile)
	}
	return string(content), nil
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
