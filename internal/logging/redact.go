package logging

import (
	"log/slog"
	"strings"
)

// redactedPlaceholder replaces secret material wherever it would otherwise surface.
const redactedPlaceholder = "[REDACTED]"

// Secret wraps a sensitive string so it cannot leak through formatting verbs.
// Log attributes, %s, %v and %#v all render the placeholder instead of the value.
type Secret string

// String implements fmt.Stringer and always returns the redacted placeholder.
func (s Secret) String() string { return redactedPlaceholder }

// GoString implements fmt.GoStringer so %#v does not expose the value either.
func (s Secret) GoString() string { return redactedPlaceholder }

// LogValue keeps slog from serializing the underlying value.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redactedPlaceholder) }

// Reveal returns the wrapped value. Callers must not pass the result to a logger.
func (s Secret) Reveal() string { return string(s) }

// Redactor rewrites known secret values out of arbitrary text before it
// reaches a log sink or the run store.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a Redactor for the given secrets. Empty and
// single-character values are skipped so the replacer cannot shred normal text.
func NewRedactor(secrets []Secret) *Redactor {
	pairs := make([]string, 0, len(secrets)*2)
	for _, s := range secrets {
		v := s.Reveal()
		if len(v) < 2 {
			continue
		}
		pairs = append(pairs, v, redactedPlaceholder)
	}
	if len(pairs) == 0 {
		return &Redactor{}
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact returns text with every known secret value replaced.
func (r *Redactor) Redact(text string) string {
	if r == nil || r.replacer == nil {
		return text
	}
	return r.replacer.Replace(text)
}
