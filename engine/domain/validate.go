package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns that should never appear in a research query.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),
	regexp.MustCompile(`(?i)<\s*script\b`),
}

// Session ids and module names become path segments and NATS subject tokens.
var identRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

const (
	minQueryLength = 3
	maxQueryLength = 500
)

// ValidateQuery validates a research query.
func ValidateQuery(q string) error {
	text := strings.TrimSpace(q)
	n := utf8.RuneCountInString(text)
	if n < minQueryLength {
		return NewValidationError("query", text, ErrQueryTooShort)
	}
	if n > maxQueryLength {
		return NewValidationError("query", text[:64], ErrQueryTooLong)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("query", text, ErrQueryInjection)
		}
	}
	return nil
}

// ValidateSessionID checks that id is safe to use as a directory name.
func ValidateSessionID(id string) error {
	if !identRegex.MatchString(id) {
		return NewValidationError("session_id", id, ErrInvalidSession)
	}
	return nil
}

// ValidateContext rejects blank keys and oversized values.
func ValidateContext(ctx map[string]string) error {
	for k, v := range ctx {
		if strings.TrimSpace(k) == "" {
			return NewValidationError("context", k, ErrInvalidContext)
		}
		if utf8.RuneCountInString(v) > maxQueryLength {
			return NewValidationError("context."+k, v[:64], ErrInvalidContext)
		}
	}
	return nil
}

// ValidateModuleSpecs checks names are well-formed and unique.
func ValidateModuleSpecs(specs []ModuleSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if !identRegex.MatchString(s.Name) {
			return NewValidationError("module.name", s.Name, ErrUnknownModule)
		}
		if seen[s.Name] {
			return NewValidationError("module.name", s.Name, ErrDuplicateModule)
		}
		seen[s.Name] = true
	}
	return nil
}
