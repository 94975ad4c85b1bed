// Package redact scrubs sensitive substrings from tool arguments and results
// before they are logged or returned across the application boundary.
// Uses RE2 regex (Go's regexp package) for guaranteed linear-time matching.
// Safe for concurrent use after construction.
package redact

import (
	"regexp"

	"github.com/rs/zerolog/log"
)

// Pattern is a single named redaction rule. Mask replaces the whole match.
type Pattern struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Mask    string `yaml:"mask,omitempty" json:"mask,omitempty"`
}

type compiledPattern struct {
	name  string
	regex *regexp.Regexp
	mask  string
}

// Redactor applies an ordered list of compiled patterns to text.
type Redactor struct {
	patterns []compiledPattern
}

// builtinPatterns are always active, in this order. Masks never re-match any
// pattern, which keeps Redact idempotent.
var builtinPatterns = []Pattern{
	{Name: "aws-access-key", Pattern: `AKIA[0-9A-Z]{16}`},
	{Name: "github-token", Pattern: `(ghp_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{36,})`},
	{Name: "private-key", Pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{Name: "jwt", Pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
	{Name: "bearer-token", Pattern: `Bearer [A-Za-z0-9\-._~+/]+=*`},
	{Name: "api-key", Pattern: `(?i)(api[_-]?key|apikey|secret[_-]?key)"?\s*[:=]\s*"?[^\s"\[,}]+`},
	{Name: "ssn", Pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
}

// New builds a redactor from the built-in patterns followed by any custom
// patterns. Custom patterns with invalid regexes are skipped with a warning.
func New(custom []Pattern) *Redactor {
	r := &Redactor{}

	for _, p := range builtinPatterns {
		r.add(p)
	}
	for _, p := range custom {
		r.add(p)
	}

	return r
}

func (r *Redactor) add(p Pattern) {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		log.Warn().Str("pattern", p.Name).Err(err).Msg("skipping invalid redaction pattern")
		return
	}

	mask := p.Mask
	if mask == "" {
		mask = "[REDACTED:" + p.Name + "]"
	}

	r.patterns = append(r.patterns, compiledPattern{
		name:  p.Name,
		regex: re,
		mask:  mask,
	})
}

// Redact replaces every match of every pattern, in pattern order, with the
// pattern's mask. Redacting already-redacted text is a no-op.
func (r *Redactor) Redact(text string) string {
	for _, p := range r.patterns {
		text = p.regex.ReplaceAllString(text, p.mask)
	}
	return text
}

// RedactBytes is Redact over a byte slice, for JSON payloads.
func (r *Redactor) RedactBytes(data []byte) []byte {
	return []byte(r.Redact(string(data)))
}

// Count returns the number of active patterns.
func (r *Redactor) Count() int {
	return len(r.patterns)
}
