package errors

import (
	"regexp"
	"strings"
)

// sensitiveKeyPattern matches metadata keys that must never reach a log
// sink or an error message, mirroring the teacher's pkg/util/redact idiom.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(secret|password|token|api[_-]?key|private[_-]?key|authorization)`)

var (
	uuidPattern      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	numberPattern    = regexp.MustCompile(`\b\d+\b`)
)

// SanitizeMetadata drops any key that looks sensitive and returns a copy
// safe to attach to a log entry or alert payload.
func SanitizeMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	clean := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if sensitiveKeyPattern.MatchString(k) {
			continue
		}
		if s, ok := v.(string); ok && sensitiveKeyPattern.MatchString(s) {
			continue
		}
		clean[k] = v
	}
	return clean
}

// SanitizeMessage strips anything resembling a secret value from a free
// text error or outcome description before it is logged.
func SanitizeMessage(msg string) string {
	lines := strings.Split(msg, "\n")
	for i, line := range lines {
		if sensitiveKeyPattern.MatchString(line) {
			lines[i] = "[redacted]"
		}
	}
	return strings.Join(lines, "\n")
}

// Normalize replaces UUIDs, timestamps, and bare numbers with placeholders
// so that otherwise-identical errors group under one aggregate key (§7
// Aggregation).
func Normalize(msg string) string {
	msg = uuidPattern.ReplaceAllString(msg, "<uuid>")
	msg = timestampPattern.ReplaceAllString(msg, "<timestamp>")
	msg = numberPattern.ReplaceAllString(msg, "<n>")
	return msg
}
