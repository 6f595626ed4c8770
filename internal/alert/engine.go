package alert

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/kv"
)

const cooldownKeyPrefix = "alerts:alert_cooldown:"
const defaultCooldown = 300 * time.Second
const defaultCleanupRetentionDays = 90

// Engine deduplicates, persists, and dispatches alerts, and manages their
// lifecycle (§4.6).
type Engine struct {
	repo     Repository
	kv       kv.Store
	sinks    []Sink
	cooldown time.Duration
}

// NewEngine builds an Engine. The database sink, if present in sinks, is
// authoritative for alert state; others are best-effort notifications.
func NewEngine(repo Repository, store kv.Store, sinks []Sink, cooldown time.Duration) *Engine {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Engine{repo: repo, kv: store, sinks: sinks, cooldown: cooldown}
}

func dedupKey(source, title string, severity Severity) string {
	raw := source + "|" + title + "|" + string(severity)
	return cooldownKeyPrefix + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Raise deduplicates by (source, title, severity) cooldown, persists, and
// fans the alert out to every sink (§4.6 "Deduplication", "Persistence").
// A deduplicated alert is dropped silently, matching §4.6's "if present,
// drop" wording.
func (e *Engine) Raise(ctx context.Context, a *Alert) (*Alert, error) {
	if a.OrganizationID == "" {
		return nil, aerrors.Validation("alert", "alert metadata must contain organizationId", "organizationId")
	}

	key := dedupKey(a.Source, a.Title, a.Severity)
	onCooldown, err := e.kv.Exists(ctx, key)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}
	if onCooldown {
		return nil, nil
	}
	if err := e.kv.SetEx(ctx, key, "1", e.cooldown); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.Status = StatusActive
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := e.repo.Insert(ctx, a); err != nil {
		return nil, err
	}

	for _, sink := range e.sinks {
		if err := sink.Handle(ctx, a); err != nil {
			continue
		}
	}
	return a, nil
}

// RaiseSystemAlert implements Raiser for callers (DLQ scanner, pattern
// engine) that don't need the full Alert shape.
func (e *Engine) RaiseSystemAlert(ctx context.Context, alertType, title string, metadata map[string]interface{}) error {
	orgID, _ := metadata["organizationId"].(string)
	if orgID == "" {
		orgID = "_system"
	}
	_, err := e.Raise(ctx, &Alert{
		OrganizationID: orgID,
		Source:         "system",
		Type:           alertType,
		Title:          title,
		Description:    title,
		Severity:       SeverityHigh,
		Metadata:       metadata,
	})
	return err
}

// Acknowledge transitions active -> acknowledged. Idempotent: acking an
// already-acknowledged alert is a no-op success (§4.6).
func (e *Engine) Acknowledge(ctx context.Context, organizationID, id, by string) (*Alert, error) {
	a, err := e.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusAcknowledged {
		return a, nil
	}
	if a.Status != StatusActive {
		return nil, aerrors.New(aerrors.KindConflict, "alert", "alert is not active")
	}
	now := time.Now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = by
	a.UpdatedAt = now
	return a, e.repo.Update(ctx, a)
}

// Resolve transitions active|acknowledged -> resolved. Idempotent.
func (e *Engine) Resolve(ctx context.Context, organizationID, id, by, notes string) (*Alert, error) {
	a, err := e.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusResolved {
		return a, nil
	}
	if a.Status != StatusActive && a.Status != StatusAcknowledged {
		return nil, aerrors.New(aerrors.KindConflict, "alert", "alert cannot be resolved from its current status")
	}
	now := time.Now().UTC()
	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.ResolvedBy = by
	a.ResolutionNotes = notes
	a.UpdatedAt = now
	return a, e.repo.Update(ctx, a)
}

// Dismiss transitions active -> dismissed. Idempotent.
func (e *Engine) Dismiss(ctx context.Context, organizationID, id string) (*Alert, error) {
	a, err := e.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusDismissed {
		return a, nil
	}
	if a.Status != StatusActive {
		return nil, aerrors.New(aerrors.KindConflict, "alert", "alert is not active")
	}
	a.Status = StatusDismissed
	a.UpdatedAt = time.Now().UTC()
	return a, e.repo.Update(ctx, a)
}

// List runs a multi-tenant-enforced alert query.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]*Alert, int, error) {
	if filter.OrganizationID == "" {
		return nil, 0, aerrors.Validation("alert", "alert queries require organizationId", "organizationId")
	}
	return e.repo.List(ctx, filter)
}

// Statistics returns the §4.6 statistics endpoint response.
func (e *Engine) Statistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error) {
	if filter.OrganizationID == "" {
		return nil, aerrors.Validation("alert", "alert statistics require organizationId", "organizationId")
	}
	return e.repo.Statistics(ctx, filter)
}

// Cleanup deletes resolved alerts older than retentionDays (default 90),
// per org, per §4.6 "Cleanup".
func (e *Engine) Cleanup(ctx context.Context, organizationID string, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = defaultCleanupRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	return e.repo.DeleteResolvedOlderThan(ctx, organizationID, cutoff)
}
