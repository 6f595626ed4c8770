// Package event defines the immutable audit event record described in
// spec.md §3.1, grounded on the teacher's internal/domain/entities.AuditLog
// shape (id/user/action/resource/metadata/hash fields) but generalized
// from a single-tenant WORM log into the multi-tenant, classification-aware
// record the specification requires.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Status is the terminal outcome of the action the event records.
type Status string

const (
	StatusAttempt Status = "attempt"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// DataClassification ranks the sensitivity of the data an event touches,
// driving retention policy resolution (§3.4) and HIPAA/GDPR report
// sectioning (§4.8).
type DataClassification string

const (
	ClassificationPublic       DataClassification = "PUBLIC"
	ClassificationInternal     DataClassification = "INTERNAL"
	ClassificationConfidential DataClassification = "CONFIDENTIAL"
	ClassificationPHI          DataClassification = "PHI"
)

// SignatureAlgorithm enumerates the algorithms a Signer may use (§3.1).
type SignatureAlgorithm string

const (
	SigHMACSHA256                SignatureAlgorithm = "HMAC-SHA256"
	SigRSASSA_PSS_SHA256         SignatureAlgorithm = "RSASSA_PSS_SHA_256"
	SigRSASSA_PSS_SHA384         SignatureAlgorithm = "RSASSA_PSS_SHA_384"
	SigRSASSA_PSS_SHA512         SignatureAlgorithm = "RSASSA_PSS_SHA_512"
	SigRSASSA_PKCS1_V1_5_SHA256  SignatureAlgorithm = "RSASSA_PKCS1_V1_5_SHA_256"
	SigRSASSA_PKCS1_V1_5_SHA384  SignatureAlgorithm = "RSASSA_PKCS1_V1_5_SHA_384"
	SigRSASSA_PKCS1_V1_5_SHA512  SignatureAlgorithm = "RSASSA_PKCS1_V1_5_SHA_512"
)

// DefaultHashAlgorithm is the only hash algorithm the platform currently
// produces (§3.1).
const DefaultHashAlgorithm = "SHA-256"

// SessionContext carries request-origin metadata that is pseudonymizable
// under GDPR erasure (§3.1, §4.9).
type SessionContext struct {
	SessionID string `json:"sessionId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Event is the immutable audit record. Fields annotated "critical" make up
// the nine-field set that the integrity hash is computed over (§3.1 I2).
type Event struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"` // critical

	Action             string             `json:"action" db:"action"`                         // critical
	Status             Status             `json:"status" db:"status"`                         // critical
	PrincipalID        string             `json:"principalId" db:"principal_id"`             // critical
	OrganizationID     string             `json:"organizationId" db:"organization_id"`       // critical
	// TargetResourceType/TargetResourceID are pointers because they are
	// optional (§3.1): a nil pointer ("absent") must canonicalize and hash
	// differently from a non-nil pointer to "" ("explicitly empty"), per
	// spec §8 B1.
	TargetResourceType *string            `json:"targetResourceType,omitempty" db:"target_resource_type"` // critical
	TargetResourceID   *string            `json:"targetResourceId,omitempty" db:"target_resource_id"`     // critical
	OutcomeDescription string             `json:"outcomeDescription,omitempty" db:"outcome_description"` // critical

	DataClassification DataClassification     `json:"dataClassification" db:"data_classification"` // critical
	SessionContext     SessionContext         `json:"sessionContext,omitempty" db:"-"`
	Details            map[string]interface{} `json:"details,omitempty" db:"-"`
	CorrelationID      string                 `json:"correlationId,omitempty" db:"correlation_id"`
	RetentionPolicy    string                 `json:"retentionPolicy,omitempty" db:"retention_policy"`

	Hash               string             `json:"hash,omitempty" db:"hash"`
	HashAlgorithm      string             `json:"hashAlgorithm,omitempty" db:"hash_algorithm"`
	Signature          string             `json:"signature,omitempty" db:"signature"`
	SignatureAlgorithm SignatureAlgorithm `json:"signatureAlgorithm,omitempty" db:"signature_algorithm"`

	ArchivedAt *time.Time `json:"archivedAt,omitempty" db:"archived_at"`
}

// CriticalFields is the I2 field set, addressed by name so canonicalization
// (internal/crypto) and validation both refer to a single source of truth.
var CriticalFields = []string{
	"action",
	"dataClassification",
	"organizationId",
	"outcomeDescription",
	"principalId",
	"status",
	"targetResourceId",
	"targetResourceType",
	"timestamp",
}

// AbsentFieldSentinel renders a nil optional critical field in the
// canonical string. It must be a value no legitimate field content can
// ever equal (including ""), so that "absent" and "explicitly empty"
// hash differently (§8 B1).
const AbsentFieldSentinel = "\x00absent\x00"

// CriticalFieldValues returns the nine critical fields as a map keyed by
// the names in CriticalFields, rendering each in canonical textual form.
// A nil TargetResourceID/TargetResourceType renders as AbsentFieldSentinel,
// distinct from a non-nil pointer to "" (§8 B1).
func (e *Event) CriticalFieldValues() map[string]string {
	targetResourceID := AbsentFieldSentinel
	if e.TargetResourceID != nil {
		targetResourceID = *e.TargetResourceID
	}
	targetResourceType := AbsentFieldSentinel
	if e.TargetResourceType != nil {
		targetResourceType = *e.TargetResourceType
	}
	return map[string]string{
		"action":              e.Action,
		"dataClassification":  string(e.DataClassification),
		"organizationId":      e.OrganizationID,
		"outcomeDescription":  e.OutcomeDescription,
		"principalId":         e.PrincipalID,
		"status":              string(e.Status),
		"targetResourceId":    targetResourceID,
		"targetResourceType":  targetResourceType,
		"timestamp":           e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Clone returns a deep-enough copy for mutation paths (pseudonymization,
// archival) that must not alias the caller's Details/SessionContext maps.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// IsComplianceCritical reports whether the event's action belongs to the
// literal compliance-critical action set carved out in spec §4.9, whose
// rows must survive GDPR erasure (pseudonymized, not deleted).
func (e *Event) IsComplianceCritical() bool {
	return IsComplianceCriticalAction(e.Action)
}

var complianceCriticalLiterals = map[string]bool{
	"auth.login.success":          true,
	"auth.login.failure":          true,
	"auth.logout":                 true,
	"data.access.unauthorized":    true,
	"data.breach.detected":        true,
}

var complianceCriticalPrefixes = []string{
	"gdpr.",
	"security.",
	"compliance.",
	"system.backup.",
}

// IsComplianceCriticalAction implements the literal action set from
// spec §4.9 exactly: a handful of fully-qualified actions plus four
// dot-prefixed families.
func IsComplianceCriticalAction(action string) bool {
	if complianceCriticalLiterals[action] {
		return true
	}
	for _, prefix := range complianceCriticalPrefixes {
		if len(action) > len(prefix) && action[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
