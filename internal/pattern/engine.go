package pattern

import (
	"time"

	"github.com/auditrail/auditrail/internal/domain/event"
)

// EngineConfig bundles every detector's Config plus the off-hours window
// boundaries, mirroring config.PatternDetectionConfig.
type EngineConfig struct {
	FailedAuth         Config
	UnauthorizedAccess Config
	DataVelocity       Config
	BulkOperation      Config
	OffHoursStart      int
	OffHoursEnd        int
}

// Engine evaluates every enabled detector against each observed event.
// Detectors run in field order; per §4.5's tie-break rule the first to
// trigger on a given event wins alert attribution, but every detector
// still emits its own independent pattern.
type Engine struct {
	cfg EngineConfig

	failedAuth         *slidingWindow
	unauthorizedAccess *slidingWindow
	dataVelocity       *slidingWindow
	bulkOperation      *slidingWindow
}

// NewEngine builds an Engine with one ring buffer per windowed detector.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		cfg:                cfg,
		failedAuth:         newSlidingWindow(cfg.FailedAuth.Window),
		unauthorizedAccess: newSlidingWindow(cfg.UnauthorizedAccess.Window),
		dataVelocity:       newSlidingWindow(cfg.DataVelocity.Window),
		bulkOperation:      newSlidingWindow(cfg.BulkOperation.Window),
	}
}

// Observe evaluates e against every enabled detector, returning any
// patterns that tripped their threshold.
func (en *Engine) Observe(e *event.Event) []*SuspiciousPattern {
	now := e.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var results []*SuspiciousPattern

	if en.cfg.FailedAuth.Enabled && e.Action == "auth.login.failure" && e.Status == event.StatusFailure {
		key := groupKeyOrUnknown(e)
		count := en.failedAuth.Observe(key, now)
		if count >= en.cfg.FailedAuth.Threshold {
			results = append(results, &SuspiciousPattern{
				Type: TypeFailedAuth, OrganizationID: e.OrganizationID, GroupKey: key,
				EventCount: count, Severity: SeverityHigh, DetectedAt: now,
				Metadata: map[string]interface{}{"patternType": TypeFailedAuth, "eventCount": count, "source": key},
			})
		}
	}

	if en.cfg.UnauthorizedAccess.Enabled && e.Status == event.StatusFailure && unauthorizedPattern.MatchString(e.OutcomeDescription) {
		key := e.PrincipalID
		count := en.unauthorizedAccess.Observe(key, now)
		if count >= en.cfg.UnauthorizedAccess.Threshold {
			results = append(results, &SuspiciousPattern{
				Type: TypeUnauthorizedAccess, OrganizationID: e.OrganizationID, GroupKey: key,
				EventCount: count, Severity: SeverityCritical, DetectedAt: now,
				Metadata: map[string]interface{}{"patternType": TypeUnauthorizedAccess, "eventCount": count},
			})
		}
	}

	if en.cfg.DataVelocity.Enabled && e.Status == event.StatusSuccess && matchesData(e.Action, e.TargetResourceType) {
		key := e.PrincipalID
		count := en.dataVelocity.Observe(key, now)
		if count >= en.cfg.DataVelocity.Threshold {
			results = append(results, &SuspiciousPattern{
				Type: TypeDataVelocity, OrganizationID: e.OrganizationID, GroupKey: key,
				EventCount: count, Severity: SeverityMedium, DetectedAt: now,
				Metadata: map[string]interface{}{"patternType": TypeDataVelocity, "eventCount": count, "accessCount": count},
			})
		}
	}

	if en.cfg.BulkOperation.Enabled && (bulkActionPattern.MatchString(e.Action) || recordCountExceeds(e)) {
		count := en.bulkOperation.Observe("", now)
		if count >= en.cfg.BulkOperation.Threshold {
			results = append(results, &SuspiciousPattern{
				Type: TypeBulkOperation, OrganizationID: e.OrganizationID, GroupKey: "",
				EventCount: count, Severity: SeverityMedium, DetectedAt: now,
				Metadata: map[string]interface{}{"patternType": TypeBulkOperation, "eventCount": count},
			})
		}
	}

	if e.Status == event.StatusSuccess && offHoursActionPattern.MatchString(e.Action) && inOffHours(now, en.cfg.OffHoursStart, en.cfg.OffHoursEnd) {
		results = append(results, &SuspiciousPattern{
			Type: TypeOffHours, OrganizationID: e.OrganizationID, GroupKey: "",
			EventCount: 1, Severity: SeverityLow, DetectedAt: now,
			Metadata: map[string]interface{}{"patternType": TypeOffHours, "eventCount": 1},
		})
	}

	return results
}
