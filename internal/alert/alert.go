// Package alert implements the alert engine (C6): deduplication, pluggable
// delivery, lifecycle transitions, and statistics, grounded on the
// teacher's pkg/security webhook replay-protection idiom (redis-backed
// cooldown keys, base64-hashed dedup identity) and its multi-provider
// email adapter for the notification side.
package alert

import (
	"context"
	"time"
)

// Severity ranks an alert. Order for sorting is CRITICAL < HIGH < MEDIUM <
// LOW per §4.6.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Rank returns the sort rank of a severity; unknown severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Status is an alert's lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// Alert is the persisted alert record (§4.6 "Persistence").
type Alert struct {
	ID               string
	OrganizationID   string
	Source           string
	Type             string
	Title            string
	Description      string
	Severity         Severity
	Status           Status
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AcknowledgedAt   *time.Time
	AcknowledgedBy   string
	ResolvedAt       *time.Time
	ResolvedBy       string
	ResolutionNotes  string
}

// Raiser is the narrow capability other components (the DLQ scanner, the
// pattern engine) need: fire an alert without knowing about dedup,
// persistence, or notification fan-out.
type Raiser interface {
	RaiseSystemAlert(ctx context.Context, alertType, title string, metadata map[string]interface{}) error
}

// Sink receives every persisted alert; DatabaseSink is authoritative for
// state, the rest (webhook, email) are best-effort notification fan-out
// (§4.6 "Handlers are pluggable").
type Sink interface {
	Handle(ctx context.Context, a *Alert) error
}

// StatisticsFilter narrows the statistics query to one org and time range.
type StatisticsFilter struct {
	OrganizationID string
	From, To       time.Time
}

// Statistics is the §4.6 "Statistics endpoint" response shape.
type Statistics struct {
	ByStatus   map[Status]int
	BySeverity map[Severity]int
	ByType     map[string]int
	BySource   map[string]int
	Trend      []TrendPoint
}

// TrendPoint is one bucket of the statistics trend series.
type TrendPoint struct {
	Bucket time.Time
	Count  int
}

// ListFilter narrows an alert query; §4.6 requires OrganizationID on
// every query ("multi-tenant enforced").
type ListFilter struct {
	OrganizationID string
	Statuses       []Status
	Severities     []Severity
	SortBy         string // createdAt | updatedAt | severity
	SortDescending bool
	Limit, Offset  int
}

// Repository is the alert persistence surface (dlq_entry's sibling table,
// alerts, in the store's logical schema).
type Repository interface {
	Insert(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, organizationID, id string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	List(ctx context.Context, filter ListFilter) ([]*Alert, int, error)
	Statistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error)
	DeleteResolvedOlderThan(ctx context.Context, organizationID string, cutoff time.Time) (int, error)
}
