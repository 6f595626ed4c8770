// Package store defines the persistence capability (C4) for the audit log
// and retention policies behind one Store interface, so callers never see
// sqlx or lib/pq directly — the teacher's repositories.* pattern (one
// narrow struct per table, sqlx.DB underneath) generalized into a single
// Store capability per DESIGN NOTES §9. Alerts, pseudonym mappings,
// scheduled reports, report executions and the DLQ are persisted by
// internal/store/postgres behind interfaces declared in their own
// packages, not through Store.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auditrail/auditrail/internal/domain/event"
)

// SortField is the allowed set of query sort columns (§4.4).
type SortField string

const (
	SortByTimestamp SortField = "timestamp"
	SortByStatus    SortField = "status"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryFilter narrows an audit_log query per §4.4's "Query API".
type QueryFilter struct {
	From, To                 time.Time
	PrincipalIDs             []string
	OrganizationIDs          []string
	Actions                  []string
	DataClassifications      []event.DataClassification
	Statuses                 []event.Status
	ResourceTypes            []string
	VerifiedOnly             bool
	IncludeIntegrityFailures bool
}

// Pagination controls result windowing and ordering; results are
// stable-ordered on (SortBy, id) so pagination is deterministic (§4.4).
type Pagination struct {
	Limit     int
	Offset    int
	SortBy    SortField
	SortOrder SortOrder
}

// Page is one page of audit events plus the total matching count.
type Page struct {
	Events []*event.Event
	Total  int
}

// IntegrityFailure names one event whose recomputed hash disagreed with
// its stored hash.
type IntegrityFailure struct {
	EventID        uuid.UUID
	StoredHash     string
	RecomputedHash string
}

// IntegrityVerificationReport aggregates a streaming integrity check over
// a range of events (§4.4 "Integrity verification query").
type IntegrityVerificationReport struct {
	Total              int
	Verified           int
	Failed             int
	AlgorithmHistogram map[string]int
	Latency            time.Duration
	Failures           []IntegrityFailure
}

// RetentionPolicy is the retention_policy logical row (§3.4).
type RetentionPolicy struct {
	Name               string
	DataClassification event.DataClassification
	RetentionDays      int
	ArchiveAfterDays   int
	DeleteAfterDays    int
	IsActive           bool
}

// RetentionResult reports what one policy's enforcement pass did.
type RetentionResult struct {
	PolicyName string
	Archived   int
	Deleted    int
}

// AuditStore is the audit_log read/write surface.
type AuditStore interface {
	Insert(ctx context.Context, e *event.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*event.Event, error)
	Query(ctx context.Context, filter QueryFilter, page Pagination) (*Page, error)
	VerifyIntegrity(ctx context.Context, filter QueryFilter) (*IntegrityVerificationReport, error)
	UpdatePrincipalAndSession(ctx context.Context, id uuid.UUID, principalID, ip, userAgent string) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// RetentionStore persists and enforces retention policies (§4.4
// "Retention enforcement").
type RetentionStore interface {
	ListActivePolicies(ctx context.Context) ([]RetentionPolicy, error)
	UpsertPolicy(ctx context.Context, p RetentionPolicy) error
	Enforce(ctx context.Context, p RetentionPolicy, now time.Time) (RetentionResult, error)
}

// Store bundles every capability C4 exposes; components depend on the
// narrower interfaces above where only one facet is needed.
type Store interface {
	AuditStore
	RetentionStore
}
