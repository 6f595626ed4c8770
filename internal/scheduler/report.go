package scheduler

import (
	"time"

	"github.com/auditrail/auditrail/internal/compliance"
	"github.com/auditrail/auditrail/internal/store"
)

// DeliveryMethod is a scheduled report's delivery channel (§4.10).
type DeliveryMethod string

const (
	DeliveryEmail   DeliveryMethod = "email"
	DeliveryWebhook DeliveryMethod = "webhook"
	DeliveryStorage DeliveryMethod = "storage"
)

// RetryConfig bounds delivery retry (§4.10 "retry with exponential
// backoff up to retryConfig.maxRetries").
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DeliveryConfig parameterizes one delivery attempt.
type DeliveryConfig struct {
	Method      DeliveryMethod
	Recipients  []string // email: to; webhook: ignored; storage: ignored
	CC, BCC     []string
	WebhookURL  string
	Headers     map[string]string
	StoragePath string // path template, e.g. "reports/{organizationId}/{reportId}.{ext}"
	Retry       RetryConfig
}

// ReportConfig is a scheduled_report row (§6 persisted layouts).
type ReportConfig struct {
	ID             string
	Name           string
	OrganizationID string
	ReportType     compliance.ReportType
	Criteria       store.QueryFilter
	Schedule       ScheduleConfig
	Delivery       DeliveryConfig
	ExportFormat   compliance.Format
	Enabled        bool
	NextRun        time.Time
	LastRun        *time.Time
	CreatedBy      string
}

// ExecutionStatus is a report_execution row's lifecycle state.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// DeliveryAttempt records one try at delivering an execution's export.
type DeliveryAttempt struct {
	AttemptedAt time.Time
	Succeeded   bool
	Error       string
}

// Execution is a report_execution row.
type Execution struct {
	ID               string
	ReportConfigID   string
	StartedAt        time.Time
	CompletedAt      *time.Time
	Status           ExecutionStatus
	RecordCount      int
	DownloadRef      string
	FailureReason    string
	DeliveryAttempts []DeliveryAttempt
}

// ExecutionFilter pages through one config's execution history.
type ExecutionFilter struct {
	ReportConfigID string
	Limit, Offset  int
}

// ListFilter selects scheduled report configs.
type ListFilter struct {
	OrganizationID string
	EnabledOnly    bool
}
