package relay

import (
	"encoding/json"
	"regexp"
	"unicode/utf8"
)

// maxAuditBytes bounds how much of a destructive call's arguments is written to the audit log.
const maxAuditBytes = 512

// Sanitizer redacts credentials from text before it is logged.
type Sanitizer struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
	description string
}

// NewSanitizer creates a sanitizer for the secrets that tend to appear in Revit scripts.
func NewSanitizer() (result *Sanitizer) {
	patterns := []*redactPattern{
		{
			regex:       regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+)?PRIVATE\s+KEY-----[\s\S]+?-----END\s+(RSA\s+|EC\s+)?PRIVATE\s+KEY-----`),
			replacement: `***PRIVATE_KEY_REDACTED***`,
			description: "Private keys",
		},
		{
			regex:       regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
			replacement: `***JWT_REDACTED***`,
			description: "JWT tokens",
		},
		{
			regex:       regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9\-_\.]{20,})`),
			replacement: `Bearer ***REDACTED***`,
			description: "Bearer tokens",
		},
		{
			regex:       regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?token|access[_-]?token)(["']?\s*[=:]\s*)["']?[A-Za-z0-9\-_]{16,}["']?`),
			replacement: `$1$2***REDACTED***`,
			description: "API keys and tokens",
		},
		{
			regex:       regexp.MustCompile(`(?i)(secret|password|passwd|pwd)(["']?\s*[=:]\s*)["']?[^\s"',)]{8,}["']?`),
			replacement: `$1$2***REDACTED***`,
			description: "Passwords and secrets",
		},
		{
			regex:       regexp.MustCompile(`(?i)(Server|Data Source)=[^;"']+;([^"']*?)(Password|Pwd)=[^;"']+`),
			replacement: `$1=***HOST***;$2$3=***REDACTED***`,
			description: "Database connection strings",
		},
	}

	result = &Sanitizer{
		patterns: patterns,
	}

	return result
}

// Sanitize removes sensitive information from the input string.
func (s *Sanitizer) Sanitize(input string) (result string) {
	result, _ = s.SanitizeWithReport(input)
	return result
}

// SanitizeWithReport sanitizes input and names each kind of secret it redacted.
func (s *Sanitizer) SanitizeWithReport(input string) (sanitized string, redactions []string) {
	sanitized = input

	for _, pattern := range s.patterns {
		if pattern.regex.MatchString(sanitized) {
			redactions = append(redactions, pattern.description)
			sanitized = pattern.regex.ReplaceAllString(sanitized, pattern.replacement)
		}
	}

	return sanitized, redactions
}

// auditPreview renders args as JSON with every string value sanitized,
// truncated on a rune boundary.
func (s *Sanitizer) auditPreview(args Arguments) (preview string, redactions []string) {
	clean := make(map[string]any, len(args))
	for key, value := range args {
		text, ok := value.(string)
		if !ok {
			clean[key] = value
			continue
		}

		sanitized, found := s.SanitizeWithReport(text)
		clean[key] = sanitized
		redactions = append(redactions, found...)
	}

	encoded, err := json.Marshal(clean)
	if err != nil {
		preview = "<unencodable arguments>"
		return preview, redactions
	}

	preview = string(encoded)
	if len(preview) <= maxAuditBytes {
		return preview, redactions
	}

	cut := maxAuditBytes
	for cut > 0 && !utf8.RuneStart(preview[cut]) {
		cut--
	}

	preview = preview[:cut] + "…"
	return preview, redactions
}
