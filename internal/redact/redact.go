// Package redact strips credentials, signed URL parameters, file paths and
// similar details from text before it is persisted on a task or returned to
// a client. Provider and database errors end up in user-visible failure
// messages, so everything written to error_message passes through here.
package redact

import "regexp"

// Placeholders substituted for redacted content
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order; earlier rules see the original text.
var rules = []rule{
	// Connection strings with user info
	{
		regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?|kafka|mysql|amqp)://[^@\s]+@`),
		"$1://" + RedactedCredentialPlaceholder + "@",
	},
	// Bearer tokens, JWT or opaque
	{
		regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9_\-.~+/]+=*`),
		"$1 " + RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		"[REDACTED_JWT]",
	},
	// key=value credentials
	{
		regexp.MustCompile(`(?i)\b(password|passwd|pwd|api[_-]?key|secret|token)(\s*[=:]\s*)['"]?[^'"&\s]{3,}['"]?`),
		"$1$2" + RedactedCredentialPlaceholder,
	},
	// Signed storage URLs
	{
		regexp.MustCompile(`(?i)([?&](?:x-amz-signature|x-amz-credential|x-amz-security-token|x-goog-signature|x-goog-credential|signature|sig|key)=)[^&\s"]+`),
		"${1}" + RedactionPlaceholder,
	},
	// AWS access key ids
	{
		regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`),
		RedactedKeyPlaceholder,
	},
	// Stack traces run to the end of the message
	{
		regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*`),
		"[STACK_TRACE_REDACTED]",
	},
	{
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		"[REDACTED_EMAIL]",
	},
	// SQL statements echoed by drivers. Upper case only, so prose such as
	// "failed to update task" survives.
	{
		regexp.MustCompile(`\b(?:SELECT|INSERT INTO|UPDATE|DELETE FROM)\s[^;]*`),
		"[REDACTED_SQL]",
	},
	// Absolute paths. The leading boundary keeps URL paths intact.
	{
		regexp.MustCompile(`(^|[\s"'(=])(?:/[\w.-]+){2,}`),
		"${1}" + RedactedPathPlaceholder,
	},
	{
		regexp.MustCompile(`[A-Za-z]:\\[^\\]+(?:\\[^\\]+)+`),
		RedactedPathPlaceholder,
	},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
