// Package compliance implements the compliance reporter (C8): HIPAA/GDPR/
// custom report construction, the independent integrity verification
// report, and the export pipeline (serialize -> compress -> encrypt ->
// checksum). Grounded on the teacher's domain/services/audit.Service,
// whose GenerateComplianceReport and ExportAuditLogs methods this package
// generalizes from a single WORM report shape into the spec's three report
// types and four export formats.
package compliance

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/auditrail/auditrail/internal/domain/event"
	"github.com/auditrail/auditrail/internal/store"
)

// ReportType names which extension a report carries.
type ReportType string

const (
	ReportHIPAA  ReportType = "HIPAA"
	ReportGDPR   ReportType = "GDPR"
	ReportCustom ReportType = "CUSTOM"
)

// Metadata is the envelope every report type shares (§4.8).
type Metadata struct {
	ReportID    string                 `json:"reportId"`
	ReportType  ReportType             `json:"reportType"`
	GeneratedAt time.Time              `json:"generatedAt"`
	GeneratedBy string                 `json:"generatedBy"`
	Criteria    store.QueryFilter      `json:"-" xml:"-"`
	TotalEvents int                    `json:"totalEvents"`
}

// TimeRange bounds the events a report covers.
type TimeRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Summary is the envelope's shared statistics block (§4.8).
type Summary struct {
	ByStatus             map[string]int `json:"byStatus"`
	ByAction             map[string]int `json:"byAction"`
	ByDataClassification map[string]int `json:"byDataClassification"`
	UniquePrincipals     int            `json:"uniquePrincipals"`
	UniqueResources      int            `json:"uniqueResources"`
	IntegrityViolations  int            `json:"integrityViolations"`
	TimeRange            TimeRange      `json:"timeRange"`
}

// SanitizedEvent is an audit row stripped for external reporting (§4.9
// sanitization: no hash/signature/retention bookkeeping).
type SanitizedEvent struct {
	ID                 uuid.UUID              `json:"id"`
	Timestamp          time.Time              `json:"timestamp"`
	Action             string                 `json:"action"`
	Status             string                 `json:"status"`
	PrincipalID        string                 `json:"principalId"`
	OrganizationID     string                 `json:"organizationId"`
	TargetResourceType string                 `json:"targetResourceType,omitempty"`
	TargetResourceID   string                 `json:"targetResourceId,omitempty"`
	OutcomeDescription string                 `json:"outcomeDescription,omitempty"`
	DataClassification string                 `json:"dataClassification"`
	Details            map[string]interface{} `json:"details,omitempty"`
}

// HIPAASpecific is §4.8's HIPAA extension.
type HIPAASpecific struct {
	PHIAccessEvents             int `json:"phiAccessEvents"`
	PHIModificationEvents       int `json:"phiModificationEvents"`
	UnauthorizedAttempts        int `json:"unauthorizedAttempts"`
	EmergencyAccess             int `json:"emergencyAccess"`
	BreakGlassEvents            int `json:"breakGlassEvents"`
	MinimumNecessaryViolations  int `json:"minimumNecessaryViolations"`
}

// RiskAssessment accompanies a HIPAA report.
type RiskAssessment struct {
	HighRiskEvents      int      `json:"highRiskEvents"`
	SuspiciousPatterns  int      `json:"suspiciousPatterns"`
	Recommendations     []string `json:"recommendations"`
}

// DataSubjectRightsCounts is GDPR's data subject rights breakdown.
type DataSubjectRightsCounts struct {
	AccessRequests        int `json:"accessRequests"`
	RectificationRequests int `json:"rectificationRequests"`
	ErasureRequests       int `json:"erasureRequests"`
	PortabilityRequests   int `json:"portabilityRequests"`
	ObjectionRequests     int `json:"objectionRequests"`
}

// GDPRSpecific is §4.8's GDPR extension.
type GDPRSpecific struct {
	PersonalDataEvents    int                     `json:"personalDataEvents"`
	DataSubjectRights     DataSubjectRightsCounts `json:"dataSubjectRights"`
	ConsentEvents         int                     `json:"consentEvents"`
	DataBreaches          int                     `json:"dataBreaches"`
	CrossBorderTransfers  int                     `json:"crossBorderTransfers"`
	RetentionViolations   int                     `json:"retentionViolations"`
}

// Report is the full envelope: metadata, summary, sanitized events, and
// whichever extension applies.
type Report struct {
	Metadata             Metadata                 `json:"metadata"`
	Summary              Summary                  `json:"summary"`
	Events               []SanitizedEvent         `json:"events"`
	HIPAASpecific        *HIPAASpecific           `json:"hipaaSpecific,omitempty"`
	RiskAssessment       *RiskAssessment          `json:"riskAssessment,omitempty"`
	GDPRSpecific         *GDPRSpecific            `json:"gdprSpecific,omitempty"`
	LegalBasisBreakdown  map[string]int           `json:"legalBasisBreakdown,omitempty"`
}

var phiActionPattern = regexp.MustCompile(`^(data\.|fhir\.)`)
var breachActionPattern = regexp.MustCompile(`^data\.breach\.`)
var consentActionPattern = regexp.MustCompile(`^gdpr\.consent\.`)

// Generator builds reports from the audit store.
type Generator struct {
	events store.AuditStore
}

// NewGenerator builds a Generator over an audit store.
func NewGenerator(events store.AuditStore) *Generator {
	return &Generator{events: events}
}

func sanitize(e *event.Event) SanitizedEvent {
	return SanitizedEvent{
		ID: e.ID, Timestamp: e.Timestamp, Action: e.Action, Status: string(e.Status),
		PrincipalID: e.PrincipalID, OrganizationID: e.OrganizationID,
		TargetResourceType: stringOrEmpty(e.TargetResourceType), TargetResourceID: stringOrEmpty(e.TargetResourceID),
		OutcomeDescription: e.OutcomeDescription, DataClassification: string(e.DataClassification),
		Details: decimalizeAmounts(e.Details),
	}
}

// decimalizeAmounts rewrites any "*amount*"-named detail field into a
// decimal.Decimal before a report is exported, so monetary values in
// details round-trip through JSON export without the precision loss a
// float64 would introduce; the CSV export has no details column, so they
// do not appear there. Non-numeric or unrecognized values are left
// untouched.
func decimalizeAmounts(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if strings.Contains(strings.ToLower(k), "amount") {
			if d, ok := toDecimal(v); ok {
				out[k] = d
				continue
			}
		}
		out[k] = v
	}
	return out
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// stringOrEmpty flattens an optional critical field back to a plain
// string for external reporting, where absent-vs-empty no longer matters.
func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (g *Generator) fetchAll(ctx context.Context, criteria store.QueryFilter) ([]*event.Event, error) {
	var all []*event.Event
	offset := 0
	const pageSize = 500
	for {
		page, err := g.events.Query(ctx, criteria, store.Pagination{Limit: pageSize, Offset: offset, SortBy: store.SortByTimestamp, SortOrder: store.SortAsc})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if len(page.Events) < pageSize {
			break
		}
		offset += pageSize
	}
	return all, nil
}

func summarize(events []*event.Event) Summary {
	summary := Summary{
		ByStatus:             map[string]int{},
		ByAction:             map[string]int{},
		ByDataClassification: map[string]int{},
	}
	principals := map[string]bool{}
	resources := map[string]bool{}

	for _, e := range events {
		summary.ByStatus[string(e.Status)]++
		summary.ByAction[e.Action]++
		summary.ByDataClassification[string(e.DataClassification)]++
		if e.PrincipalID != "" {
			principals[e.PrincipalID] = true
		}
		if e.TargetResourceID != nil && *e.TargetResourceID != "" {
			resources[*e.TargetResourceID] = true
		}
		if summary.TimeRange.Earliest.IsZero() || e.Timestamp.Before(summary.TimeRange.Earliest) {
			summary.TimeRange.Earliest = e.Timestamp
		}
		if e.Timestamp.After(summary.TimeRange.Latest) {
			summary.TimeRange.Latest = e.Timestamp
		}
	}
	summary.UniquePrincipals = len(principals)
	summary.UniqueResources = len(resources)
	return summary
}

// GenerateCustom builds a bare envelope with no extension, for arbitrary
// criteria-driven reports.
func (g *Generator) GenerateCustom(ctx context.Context, criteria store.QueryFilter, generatedBy string) (*Report, error) {
	events, err := g.fetchAll(ctx, criteria)
	if err != nil {
		return nil, err
	}
	return g.buildEnvelope(ReportCustom, criteria, generatedBy, events), nil
}

func (g *Generator) buildEnvelope(t ReportType, criteria store.QueryFilter, generatedBy string, events []*event.Event) *Report {
	sanitized := make([]SanitizedEvent, 0, len(events))
	for _, e := range events {
		sanitized = append(sanitized, sanitize(e))
	}
	return &Report{
		Metadata: Metadata{
			ReportID: uuid.NewString(), ReportType: t, GeneratedAt: time.Now().UTC(),
			GeneratedBy: generatedBy, Criteria: criteria, TotalEvents: len(events),
		},
		Summary: summarize(events),
		Events:  sanitized,
	}
}

// GenerateHIPAA builds a HIPAA report with its PHI-specific extension.
func (g *Generator) GenerateHIPAA(ctx context.Context, criteria store.QueryFilter, generatedBy string) (*Report, error) {
	events, err := g.fetchAll(ctx, criteria)
	if err != nil {
		return nil, err
	}
	report := g.buildEnvelope(ReportHIPAA, criteria, generatedBy, events)

	hipaa := &HIPAASpecific{}
	highRisk := 0
	for _, e := range events {
		if e.DataClassification != event.ClassificationPHI {
			continue
		}
		if phiActionPattern.MatchString(e.Action) {
			if e.Status == event.StatusSuccess {
				hipaa.PHIAccessEvents++
			}
		}
		if e.Status == event.StatusFailure {
			hipaa.UnauthorizedAttempts++
			highRisk++
		}
		if e.Action == "data.write" || e.Action == "data.update" || e.Action == "data.delete" {
			hipaa.PHIModificationEvents++
		}
		if _, ok := e.Details["emergencyAccess"]; ok {
			hipaa.EmergencyAccess++
		}
		if _, ok := e.Details["breakGlass"]; ok {
			hipaa.BreakGlassEvents++
		}
	}
	report.HIPAASpecific = hipaa
	report.RiskAssessment = &RiskAssessment{HighRiskEvents: highRisk}
	return report, nil
}

// GenerateGDPR builds a GDPR report with its data-subject-rights extension.
func (g *Generator) GenerateGDPR(ctx context.Context, criteria store.QueryFilter, generatedBy string) (*Report, error) {
	events, err := g.fetchAll(ctx, criteria)
	if err != nil {
		return nil, err
	}
	report := g.buildEnvelope(ReportGDPR, criteria, generatedBy, events)

	gdpr := &GDPRSpecific{}
	legalBasis := map[string]int{}
	for _, e := range events {
		if e.DataClassification == event.ClassificationPHI || e.DataClassification == event.ClassificationConfidential {
			gdpr.PersonalDataEvents++
		}
		switch e.Action {
		case "gdpr.data.export":
			gdpr.DataSubjectRights.AccessRequests++
			gdpr.DataSubjectRights.PortabilityRequests++
		case "gdpr.data.rectify":
			gdpr.DataSubjectRights.RectificationRequests++
		case "gdpr.data.delete":
			gdpr.DataSubjectRights.ErasureRequests++
		case "gdpr.data.object":
			gdpr.DataSubjectRights.ObjectionRequests++
		}
		if breachActionPattern.MatchString(e.Action) {
			gdpr.DataBreaches++
		}
		if consentActionPattern.MatchString(e.Action) {
			gdpr.ConsentEvents++
		}
		if basis, ok := e.Details["legalBasis"].(string); ok {
			legalBasis[basis]++
		}
		if region, ok := e.Details["crossBorderTransfer"].(bool); ok && region {
			gdpr.CrossBorderTransfers++
		}
	}
	report.GDPRSpecific = gdpr
	report.LegalBasisBreakdown = legalBasis
	return report, nil
}

// VerifyIntegrity runs the independent integrity verification report
// (§4.8's "Integrity verification report").
func (g *Generator) VerifyIntegrity(ctx context.Context, criteria store.QueryFilter) (*store.IntegrityVerificationReport, error) {
	return g.events.VerifyIntegrity(ctx, criteria)
}
