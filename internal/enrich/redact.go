package enrich

import "regexp"

// Placeholders substituted for redacted values.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type redaction struct {
	pattern     *regexp.Regexp
	placeholder string
}

// Patterns are applied in order; earlier, more specific patterns run first.
var redactions = []redaction{
	// Credentials embedded in URLs
	{regexp.MustCompile(`(?i)[a-z][a-z0-9+.-]*://[^/@\s]+@`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`), RedactedCredentialPlaceholder},
	// JWTs before generic tokens so the bearer value is recognisable
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},
	// Google API keys
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|key|access|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(AKIA|AccessKey(Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), "[STACK_TRACE_REDACTED]"},
	{regexp.MustCompile(`(/[\w.-]+){2,}`), RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`), RedactedPathPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
}

// RedactString removes sensitive values and internal tags from s so it can
// be logged or returned to a client.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	s = Strip(s)
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.placeholder)
	}
	return s
}

// RedactError returns err's message with sensitive values removed.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactString(err.Error())
}
