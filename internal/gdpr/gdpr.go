// Package gdpr implements the GDPR controller (C9): data-subject export,
// pseudonymization, and delete-with-audit-trail, grounded on the
// teacher's domain/services/audit.Service context-propagation idiom
// (WithAuditContext threading principal/session metadata) generalized
// into the spec's three pseudonymization strategies and compliance-
// critical preservation rule.
package gdpr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/auditrail/auditrail/internal/compliance"
	"github.com/auditrail/auditrail/internal/crypto"
	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/store"
)

// Strategy is a pseudonymization strategy (§4.9).
type Strategy string

const (
	StrategyHash       Strategy = "hash"
	StrategyToken      Strategy = "token"
	StrategyEncryption Strategy = "encryption"
)

// PseudonymMapping is the pseudonym_mapping logical row.
type PseudonymMapping struct {
	PseudonymID        string
	EncryptedOriginal  string
	Strategy           Strategy
	OrganizationID     string
	CreatedAt          time.Time
}

// MappingStore persists the pseudonym_mapping table; pseudonymId is
// UNIQUE per §4.4's required index.
type MappingStore interface {
	FindByOriginalHash(ctx context.Context, originalHash string) (*PseudonymMapping, bool, error)
	Insert(ctx context.Context, m PseudonymMapping, originalHash string) error
	FindByPseudonymID(ctx context.Context, pseudonymID string) (*PseudonymMapping, bool, error)
}

// AuditLogger writes the gdpr.* audit events every GDPR operation emits;
// implemented by whatever submits events into the C1->C3 pipeline.
type AuditLogger interface {
	LogEvent(ctx context.Context, e *event.Event) error
}

// DeleteResult is the count pair §4.9's delete-with-audit-trail logs.
type DeleteResult struct {
	RecordsDeleted             int
	ComplianceRecordsPreserved int
}

// Controller implements export, pseudonymize, delete-with-audit-trail.
type Controller struct {
	events     store.AuditStore
	mappings   MappingStore
	encryptor  crypto.Encryptor
	audit      AuditLogger
	reports    *compliance.Generator
	salt       string
}

// New builds a Controller.
func New(events store.AuditStore, mappings MappingStore, encryptor crypto.Encryptor, audit AuditLogger, salt string) *Controller {
	return &Controller{
		events: events, mappings: mappings, encryptor: encryptor, audit: audit,
		reports: compliance.NewGenerator(events), salt: salt,
	}
}

// ExportRequest parameterizes Articles 15/20 export.
type ExportRequest struct {
	PrincipalID    string
	OrganizationID string
	From, To       time.Time
	Format         compliance.Format
	RequestedBy    string
}

// Export runs Articles 15/20: query by principal+org, strip internal
// fields, serialize, and log gdpr.data.export.
func (c *Controller) Export(ctx context.Context, req ExportRequest) (*compliance.ExportResult, error) {
	if req.PrincipalID == "" || req.OrganizationID == "" {
		return nil, aerrors.Validation("gdpr", "export requires principalId and organizationId", "principalId", "organizationId")
	}

	criteria := store.QueryFilter{
		PrincipalIDs:    []string{req.PrincipalID},
		OrganizationIDs: []string{req.OrganizationID},
		From:            req.From,
		To:              req.To,
	}
	report, err := c.reports.GenerateCustom(ctx, criteria, req.RequestedBy)
	if err != nil {
		return nil, err
	}

	format := req.Format
	if format == "" {
		format = compliance.FormatJSON
	}
	result, err := compliance.Export(report, compliance.ExportConfig{Format: format})
	if err != nil {
		return nil, err
	}

	c.logEvent(ctx, "gdpr.data.export", req.PrincipalID, req.OrganizationID, map[string]interface{}{
		"exportId":    result.ExportID,
		"totalEvents": report.Metadata.TotalEvents,
	})
	return result, nil
}

// Pseudonymize rewrites a principal's identity in the audit store per the
// chosen strategy, KMS-encrypting the original id for later reversal
// (§4.9).
func (c *Controller) Pseudonymize(ctx context.Context, eventID uuid.UUID, organizationID, originalID string, strategy Strategy, requestedBy string) (string, error) {
	originalHash := hashOriginal(originalID, c.salt)

	var pseudonymID string
	if strategy == StrategyHash {
		if existing, ok, err := c.mappings.FindByOriginalHash(ctx, originalHash); err != nil {
			return "", err
		} else if ok {
			pseudonymID = existing.PseudonymID
		}
	}

	if pseudonymID == "" {
		var err error
		pseudonymID, err = c.newPseudonym(strategy, originalID)
		if err != nil {
			return "", err
		}

		encrypted, err := c.encryptor.Encrypt(ctx, originalID)
		if err != nil {
			return "", err
		}

		if err := c.mappings.Insert(ctx, PseudonymMapping{
			PseudonymID: pseudonymID, EncryptedOriginal: encrypted, Strategy: strategy,
			OrganizationID: organizationID, CreatedAt: time.Now().UTC(),
		}, originalHash); err != nil {
			return "", err
		}
	}

	if err := c.events.UpdatePrincipalAndSession(ctx, eventID, pseudonymID, "", ""); err != nil {
		return "", err
	}

	c.logEvent(ctx, "gdpr.data.pseudonymize", pseudonymID, organizationID, map[string]interface{}{
		"strategy": strategy, "requestedBy": requestedBy,
	})
	return pseudonymID, nil
}

func (c *Controller) newPseudonym(strategy Strategy, originalID string) (string, error) {
	switch strategy {
	case StrategyHash:
		sum := sha256.Sum256([]byte(originalID + c.salt))
		return "pseudo-" + hex.EncodeToString(sum[:])[:16], nil
	case StrategyToken:
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", aerrors.Wrap(aerrors.KindCrypto, "gdpr", err)
		}
		return "pseudo-" + hex.EncodeToString(buf), nil
	case StrategyEncryption:
		enc := base64.URLEncoding.EncodeToString([]byte(originalID))
		if len(enc) > 16 {
			enc = enc[:16]
		}
		return "pseudo-enc-" + enc, nil
	default:
		return "", aerrors.New(aerrors.KindValidation, "gdpr", "unknown pseudonymization strategy: "+string(strategy))
	}
}

// GetOriginalID decrypts a pseudonym mapping back to its original id.
// Failures (not found, decryption failure) return NOT_FOUND (§4.9); a
// decryption failure is not logged.
func (c *Controller) GetOriginalID(ctx context.Context, pseudonymID string) (string, error) {
	mapping, ok, err := c.mappings.FindByPseudonymID(ctx, pseudonymID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", aerrors.New(aerrors.KindNotFound, "gdpr", "pseudonym mapping not found")
	}

	original, err := c.encryptor.Decrypt(ctx, mapping.EncryptedOriginal)
	if err != nil {
		return "", aerrors.New(aerrors.KindNotFound, "gdpr", "pseudonym mapping could not be decrypted")
	}
	return original, nil
}

// DeleteWithAuditTrail implements §4.9's delete-with-audit-trail:
// preserveComplianceAudits (default true) pseudonymizes compliance-
// critical rows and deletes the rest; otherwise everything is deleted.
func (c *Controller) DeleteWithAuditTrail(ctx context.Context, principalID, organizationID, requestedBy string, preserveComplianceAudits bool) (*DeleteResult, error) {
	page, err := c.events.Query(ctx, store.QueryFilter{PrincipalIDs: []string{principalID}, OrganizationIDs: []string{organizationID}}, store.Pagination{Limit: 10000})
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{}
	for _, e := range page.Events {
		if preserveComplianceAudits && e.IsComplianceCritical() {
			if _, err := c.Pseudonymize(ctx, e.ID, organizationID, principalID, StrategyHash, requestedBy); err != nil {
				return nil, err
			}
			result.ComplianceRecordsPreserved++
			continue
		}
		if err := c.events.DeleteByID(ctx, e.ID); err != nil {
			return nil, err
		}
		result.RecordsDeleted++
	}

	c.logEvent(ctx, "gdpr.data.delete", principalID, organizationID, map[string]interface{}{
		"recordsDeleted":             result.RecordsDeleted,
		"complianceRecordsPreserved": result.ComplianceRecordsPreserved,
		"requestedBy":                requestedBy,
	})
	return result, nil
}

func hashOriginal(originalID, salt string) string {
	sum := sha256.Sum256([]byte(originalID + salt))
	return hex.EncodeToString(sum[:])
}

func (c *Controller) logEvent(ctx context.Context, action, principalID, organizationID string, details map[string]interface{}) {
	if c.audit == nil {
		return
	}
	e := &event.Event{
		ID: uuid.New(), Timestamp: time.Now().UTC(), Action: action, Status: event.StatusSuccess,
		PrincipalID: principalID, OrganizationID: organizationID,
		DataClassification: event.ClassificationConfidential, Details: details,
	}
	c.audit.LogEvent(ctx, e)
}
