// Package sanitize cleans and bounds-checks raw user input.
//
// Names are normalized into a lowercase hyphenated form. Free text is length
// checked and scanned for prompt-injection and traversal signatures; every
// rejection of that kind is reported to the audit sink without the offending
// text. Filesystem paths built from names are canonicalized and confined to
// the project's target skill directories.
package sanitize

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/audit"
	"github.com/skillsmith/skillsmith/pkg/logger"
)

const (
	// MaxNameLength bounds cleaned artifact names.
	MaxNameLength = 64
	// MaxDescriptionLength bounds the description entered in the wizard.
	MaxDescriptionLength = 1024
	// MaxContentLength bounds instructions and resource content.
	MaxContentLength = 50000
	// MaxFilenameLength bounds resource file names.
	MaxFilenameLength = 255
)

var (
	// ErrInvalidName is returned when a name is empty after cleaning.
	ErrInvalidName = errors.New("invalid name")
	// ErrTooLong is returned when input exceeds its field limit.
	ErrTooLong = errors.New("input too long")
	// ErrEmpty is returned when required input is blank.
	ErrEmpty = errors.New("input is empty")
	// ErrSuspiciousInput is returned when input matches an injection signature.
	ErrSuspiciousInput = errors.New("suspicious input detected")
	// ErrPathEscape is returned when a resolved path leaves the allowed directories.
	ErrPathEscape = errors.New("path escapes allowed directories")
	// ErrInvalidFilename is returned for resource file names that are not plain names.
	ErrInvalidFilename = errors.New("invalid filename")
)

// NamePattern is the shape of every cleaned name.
var NamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

var (
	separatorRun = regexp.MustCompile(`[\s_-]+`)
	disallowed   = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRun    = regexp.MustCompile(`-{2,}`)
	filenameRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

var injectionSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|all|above)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(previous|all)\s+(instructions|prompts)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all|previous)`),
	regexp.MustCompile(`(?i)you\s+are\s+now`),
	regexp.MustCompile(`(?i)act\s+as\s+a`),
	regexp.MustCompile(`(?i)pretend\s+to\s+be`),
	regexp.MustCompile(`(?i)show\s+(me\s+)?(your|the)\s+(system|initial)\s+prompt`),
	regexp.MustCompile(`(?i)what\s+(are|is)\s+your\s+instructions`),
	regexp.MustCompile(`[A-Za-z0-9+/=]{50,}`),
	regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|UNION)\b.*\b(FROM|INTO|TABLE)\b`),
	regexp.MustCompile(`\.\./|\.\.\\`),
}

// CleanName lowercases raw, turns whitespace and underscore runs into single
// hyphens, drops every other character outside [a-z0-9-], trims hyphens and
// truncates to MaxNameLength. CleanName(CleanName(x)) == CleanName(x).
func CleanName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = separatorRun.ReplaceAllString(name, "-")
	name = disallowed.ReplaceAllString(name, "")
	name = hyphenRun.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if len(name) > MaxNameLength {
		name = strings.TrimRight(name[:MaxNameLength], "-")
	}

	if !NamePattern.MatchString(name) {
		return "", errors.Wrapf(ErrInvalidName, "%q has no usable characters (use letters, digits and hyphens)", raw)
	}
	return name, nil
}

// DetectInjection reports whether text matches any injection signature or
// contains a null byte.
func DetectInjection(text string) bool {
	if strings.ContainsRune(text, 0) {
		return true
	}
	for _, sig := range injectionSignatures {
		if sig.MatchString(text) {
			return true
		}
	}
	return false
}

// Sanitizer validates free text and reports security rejections.
type Sanitizer struct {
	sink audit.Sink
}

// New returns a Sanitizer reporting to sink. A nil sink disables reporting.
func New(sink audit.Sink) *Sanitizer {
	return &Sanitizer{sink: sink}
}

// ValidateText trims raw and checks it against maxLength (in characters) and
// the injection signatures. Suspicious input is never cleaned up and passed
// on; it is rejected and recorded with its field and length only.
func (s *Sanitizer) ValidateText(ctx context.Context, raw, field string, maxLength int) (string, error) {
	text := strings.TrimSpace(raw)

	if n := utf8.RuneCountInString(text); maxLength > 0 && n > maxLength {
		return "", errors.Wrapf(ErrTooLong, "%s is %d characters, maximum is %d", field, n, maxLength)
	}

	if DetectInjection(text) {
		logger.G(ctx).WithField("field", field).
			WithField("input_length", len(raw)).
			Warn("rejected suspicious input")
		audit.LogSecurity(ctx, s.sink, audit.SecurityEvent{
			Field:           field,
			InputLength:     len(raw),
			PatternDetected: true,
		})
		return "", errors.Wrapf(ErrSuspiciousInput, "%s contains a disallowed pattern", field)
	}

	return text, nil
}

// ValidateRequired is ValidateText for fields that may not be blank.
func (s *Sanitizer) ValidateRequired(ctx context.Context, raw, field string, maxLength int) (string, error) {
	text, err := s.ValidateText(ctx, raw, field, maxLength)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.Wrapf(ErrEmpty, "%s is required", field)
	}
	return text, nil
}

// ValidateFilename accepts plain file names such as "deploy.sh" and rejects
// anything that could address another directory.
func ValidateFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.Wrap(ErrInvalidFilename, "filename is required")
	case len(name) > MaxFilenameLength:
		return "", errors.Wrapf(ErrInvalidFilename, "filename longer than %d characters", MaxFilenameLength)
	case strings.Contains(name, ".."), !filenameRe.MatchString(name):
		return "", errors.Wrapf(ErrInvalidFilename, "%q must be a plain file name", name)
	}
	return name, nil
}

// IsSecurityError reports whether err is a rejection that must never be retried
// with the same input.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrSuspiciousInput) || errors.Is(err, ErrPathEscape)
}

// IsValidationError reports whether err is an input problem the user can fix
// by entering something else.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrTooLong) ||
		errors.Is(err, ErrEmpty) ||
		errors.Is(err, ErrInvalidFilename)
}
