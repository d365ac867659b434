package artifact

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/skillsmith/skillsmith/pkg/sanitize"
)

const (
	// MaxDocumentLines bounds the length of SKILL.md.
	MaxDocumentLines = 500
	// MaxDescriptionLength bounds the frontmatter description.
	MaxDescriptionLength = 1024
)

// Validator reports problems with a document. An empty result means valid.
type Validator interface {
	Validate(document string) []string
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(document string) []string

func (f ValidatorFunc) Validate(document string) []string {
	return f(document)
}

// FrontmatterValidator checks the Agent Skills document rules: YAML
// frontmatter with a well-formed name and a bounded description, and a
// bounded document length. When Name is set the frontmatter name must equal it.
type FrontmatterValidator struct {
	Name string
}

func (v FrontmatterValidator) Validate(document string) []string {
	var problems []string

	if n := strings.Count(strings.TrimRight(document, "\n"), "\n") + 1; n > MaxDocumentLines {
		problems = append(problems, fmt.Sprintf("document has %d lines, maximum is %d", n, MaxDocumentLines))
	}

	front, _, ok := SplitFrontmatter(document)
	if !ok {
		return append(problems, "missing YAML frontmatter (document must start with ---)")
	}

	yamlText := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(front), "---"), "---")
	var fields map[string]any
	if err := yaml.Unmarshal([]byte(yamlText), &fields); err != nil {
		return append(problems, fmt.Sprintf("frontmatter is not valid YAML: %v", err))
	}

	name, _ := fields["name"].(string)
	switch {
	case name == "":
		problems = append(problems, "frontmatter is missing 'name'")
	case !sanitize.NamePattern.MatchString(name) || len(name) > sanitize.MaxNameLength:
		problems = append(problems, fmt.Sprintf("name %q must be lowercase letters, digits and single hyphens (max %d)", name, sanitize.MaxNameLength))
	case v.Name != "" && name != v.Name:
		problems = append(problems, fmt.Sprintf("name %q does not match artifact name %q", name, v.Name))
	}

	description, _ := fields["description"].(string)
	switch {
	case strings.TrimSpace(description) == "":
		problems = append(problems, "frontmatter is missing 'description'")
	case utf8.RuneCountInString(description) > MaxDescriptionLength:
		problems = append(problems, fmt.Sprintf("description is %d characters, maximum is %d", utf8.RuneCountInString(description), MaxDescriptionLength))
	}

	return problems
}
