package crypto

import (
	"sort"
	"strings"

	"github.com/auditrail/auditrail/internal/domain/event"
)

// Canonicalize renders an event's critical fields as the deterministic
// `k1:v1|k2:v2|...` string spec §4.2 and §6 define, with field names
// sorted lexicographically. A nil TargetResourceId/TargetResourceType
// renders as event.AbsentFieldSentinel, distinct from an explicitly empty
// string, so hashes differ per boundary B1.
func Canonicalize(e *event.Event) string {
	values := e.CriticalFieldValues()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+values[k])
	}
	return strings.Join(parts, "|")
}
