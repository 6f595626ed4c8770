// Package pattern implements sliding-window rule evaluation over recent
// events (C5): five independent detectors, each owning a bounded ring
// buffer keyed by its grouping key, evaluated synchronously as events
// arrive. Grounded on the teacher's pkg/security webhook rate limiter's
// windowed-counter idiom (count events in a trailing window, trigger past
// a threshold) generalized from a single rate limit to five distinct
// detection rules.
package pattern

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/auditrail/auditrail/internal/domain/event"
)

// Severity mirrors alert.Severity without importing it, keeping pattern
// detection independent of the alert engine's package.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Type names a detector (§4.5's table).
type Type string

const (
	TypeFailedAuth          Type = "FAILED_AUTH"
	TypeUnauthorizedAccess  Type = "UNAUTHORIZED_ACCESS"
	TypeDataVelocity        Type = "DATA_VELOCITY"
	TypeBulkOperation       Type = "BULK_OPERATION"
	TypeOffHours            Type = "OFF_HOURS"
)

// SuspiciousPattern is what a detector emits when its threshold trips.
type SuspiciousPattern struct {
	Type           Type
	OrganizationID string
	GroupKey       string
	EventCount     int
	Severity       Severity
	DetectedAt     time.Time
	Metadata       map[string]interface{}
}

// Config holds one detector's window/threshold/enabled state.
type Config struct {
	Enabled   bool
	Window    time.Duration
	Threshold int
}

var unauthorizedPattern = regexp.MustCompile(`(?i)unauthorized|access denied|forbidden`)
var dataActionPattern = regexp.MustCompile(`^(data\.read|fhir\.)`)
var bulkActionPattern = regexp.MustCompile(`(?i)data\.export|data\.import|bulk`)
var offHoursActionPattern = regexp.MustCompile(`^(data\.|fhir\.)`)

func groupKeyOrUnknown(e *event.Event) string {
	if e.PrincipalID != "" {
		return e.PrincipalID
	}
	if e.SessionContext.IPAddress != "" {
		return e.SessionContext.IPAddress
	}
	return "unknown"
}

func inOffHours(t time.Time, start, end int) bool {
	hour := t.UTC().Hour()
	if start <= end {
		return hour >= start && hour < end
	}
	// wraps midnight, e.g. [22, 6)
	return hour >= start || hour < end
}

// recordCountThreshold is recordCount's single-event trigger (§4.5
// BULK_OPERATION: "recordCount > 10"), held as a decimal so the
// comparison below never goes through a float.
var recordCountThreshold = decimal.NewFromInt(10)

// recordCount reads details.recordCount as a decimal.Decimal rather than
// a float64, since upstream systems report record counts (and, via the
// same details map, monetary amounts) as arbitrary-precision decimal
// strings or JSON numbers that a float64 would round.
func recordCount(e *event.Event) decimal.Decimal {
	if e.Details == nil {
		return decimal.Zero
	}
	v, ok := e.Details["recordCount"]
	if !ok {
		return decimal.Zero
	}
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case float64:
		return decimal.NewFromFloat(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func recordCountExceeds(e *event.Event) bool {
	return recordCount(e).GreaterThan(recordCountThreshold)
}

func matchesData(action string, targetResourceType *string) bool {
	return dataActionPattern.MatchString(action) || (targetResourceType != nil && *targetResourceType != "")
}
