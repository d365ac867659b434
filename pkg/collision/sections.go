package collision

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/skillsmith/skillsmith/pkg/artifact"
)

const (
	frontmatterKey = "[frontmatter]"
	preambleKey    = "[preamble]"
)

var headingRe = regexp.MustCompile(`^#{1,6}\s+(.+?)(?:\s+#+)?\s*$`)

// Section is a block of a markdown document. Text is kept exactly as it
// appears in the source, heading line included.
type Section struct {
	Key  string
	Text string
}

// Document is a markdown document split for merging.
type Document struct {
	Frontmatter string
	Preamble    string
	Sections    []Section
}

// SplitSections splits doc into frontmatter, the text before the first
// heading, and one section per heading keyed by the heading text. Headings
// inside fenced code blocks do not start sections. Repeated headings get
// " (2)", " (3)" ... suffixes. Joining the parts in order yields doc.
func SplitSections(doc string) Document {
	var d Document
	front, body, ok := artifact.SplitFrontmatter(doc)
	if ok {
		d.Frontmatter = front
	}

	lines := strings.SplitAfter(body, "\n")
	var (
		current *Section
		buf     strings.Builder
		fence   string
		seen    = map[string]int{}
	)

	flush := func() {
		if current == nil {
			d.Preamble = buf.String()
		} else {
			current.Text = buf.String()
			d.Sections = append(d.Sections, *current)
		}
		buf.Reset()
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)

		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			buf.WriteString(line)
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fence = trimmed[:3]
			buf.WriteString(line)
			continue
		}

		if m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r\n")); m != nil {
			flush()
			key := m[1]
			seen[key]++
			if n := seen[key]; n > 1 {
				key = fmt.Sprintf("%s (%d)", key, n)
			}
			current = &Section{Key: key}
		}
		buf.WriteString(line)
	}
	flush()

	return d
}

// parts returns the document as ordered (key, text) pairs with frontmatter
// and preamble first when present.
func (d Document) parts() []Section {
	var out []Section
	if d.Frontmatter != "" {
		out = append(out, Section{Key: frontmatterKey, Text: d.Frontmatter})
	}
	if d.Preamble != "" {
		out = append(out, Section{Key: preambleKey, Text: d.Preamble})
	}
	return append(out, d.Sections...)
}

// join concatenates texts, inserting a newline where a part does not end
// with one so headings always start on their own line.
func join(texts []string) string {
	var b strings.Builder
	for i, t := range texts {
		if t == "" {
			continue
		}
		if i > 0 && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString(t)
	}
	return b.String()
}
