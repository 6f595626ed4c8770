package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/auditrail/auditrail/internal/crypto"
	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/store"
)

// AuditRepository implements store.AuditStore over audit_log, following
// the teacher's WithdrawalSecurityStore shape: a bare *sqlx.DB and raw SQL
// per method.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository builds an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// auditRow mirrors audit_log's columns for sqlx scanning; Details and
// SessionContext are stored as JSONB and handled separately.
type auditRow struct {
	ID                 uuid.UUID  `db:"id"`
	Timestamp          time.Time  `db:"timestamp"`
	Action             string     `db:"action"`
	Status             string     `db:"status"`
	PrincipalID        string     `db:"principal_id"`
	OrganizationID     string     `db:"organization_id"`
	TargetResourceType *string    `db:"target_resource_type"`
	TargetResourceID   *string    `db:"target_resource_id"`
	OutcomeDescription string     `db:"outcome_description"`
	DataClassification string     `db:"data_classification"`
	SessionContext     []byte     `db:"session_context"`
	Details            []byte     `db:"details"`
	CorrelationID      string     `db:"correlation_id"`
	RetentionPolicy    string     `db:"retention_policy"`
	Hash               string     `db:"hash"`
	HashAlgorithm      string     `db:"hash_algorithm"`
	Signature          string     `db:"signature"`
	SignatureAlgorithm string     `db:"signature_algorithm"`
	ArchivedAt         *time.Time `db:"archived_at"`
}

// Insert writes a sealed event. Called once per message by the worker
// pool after integrity verification succeeds.
func (r *AuditRepository) Insert(ctx context.Context, e *event.Event) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "store", err)
	}
	session, err := marshalJSON(e.SessionContext)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "store", err)
	}

	const q = `
		INSERT INTO audit_log (
			id, timestamp, action, status, principal_id, organization_id,
			target_resource_type, target_resource_id, outcome_description,
			data_classification, session_context, details, correlation_id,
			retention_policy, hash, hash_algorithm, signature, signature_algorithm
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)`

	_, err = r.db.ExecContext(ctx, q,
		e.ID, e.Timestamp, e.Action, string(e.Status), e.PrincipalID, e.OrganizationID,
		e.TargetResourceType, e.TargetResourceID, e.OutcomeDescription,
		string(e.DataClassification), session, details, e.CorrelationID,
		e.RetentionPolicy, e.Hash, e.HashAlgorithm, e.Signature, string(e.SignatureAlgorithm),
	)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	return nil
}

// GetByID fetches one event by primary key.
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	var row auditRow
	const q = `SELECT * FROM audit_log WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, aerrors.New(aerrors.KindNotFound, "store", "audit event not found")
		}
		return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	return rowToEvent(&row)
}

// Query runs a filtered, paginated search over audit_log, stable-ordered
// on (sortBy, id) per §4.4.
func (r *AuditRepository) Query(ctx context.Context, filter store.QueryFilter, page store.Pagination) (*store.Page, error) {
	where, args := buildWhere(filter)

	sortCol := "timestamp"
	if page.SortBy == store.SortByStatus {
		sortCol = "status"
	}
	order := "ASC"
	if page.SortOrder == store.SortDesc {
		order = "DESC"
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_log %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}

	query := fmt.Sprintf(
		"SELECT * FROM audit_log %s ORDER BY %s %s, id %s LIMIT %d OFFSET %d",
		where, sortCol, order, order, limit, offset,
	)
	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}

	events := make([]*event.Event, 0, len(rows))
	for i := range rows {
		e, err := rowToEvent(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return &store.Page{Events: events, Total: total}, nil
}

func buildWhere(filter store.QueryFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	pos := 1

	add := func(clause string, arg interface{}) {
		clauses = append(clauses, fmt.Sprintf(clause, pos))
		args = append(args, arg)
		pos++
	}

	if !filter.From.IsZero() {
		add("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("timestamp <= $%d", filter.To)
	}
	if len(filter.PrincipalIDs) > 0 {
		add("principal_id = ANY($%d)", stringsArray(filter.PrincipalIDs))
	}
	if len(filter.OrganizationIDs) > 0 {
		add("organization_id = ANY($%d)", stringsArray(filter.OrganizationIDs))
	}
	if len(filter.Actions) > 0 {
		add("action = ANY($%d)", stringsArray(filter.Actions))
	}
	if len(filter.DataClassifications) > 0 {
		vals := make([]string, len(filter.DataClassifications))
		for i, c := range filter.DataClassifications {
			vals[i] = string(c)
		}
		add("data_classification = ANY($%d)", stringsArray(vals))
	}
	if len(filter.Statuses) > 0 {
		vals := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			vals[i] = string(s)
		}
		add("status = ANY($%d)", stringsArray(vals))
	}
	if len(filter.ResourceTypes) > 0 {
		add("target_resource_type = ANY($%d)", stringsArray(filter.ResourceTypes))
	}
	if filter.VerifiedOnly {
		clauses = append(clauses, "hash <> ''")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func stringsArray(values []string) interface{} {
	return pqStringArray(values)
}

// VerifyIntegrity streams matching events, recomputing each hash and
// comparing to the stored value (§4.4 "Integrity verification query").
func (r *AuditRepository) VerifyIntegrity(ctx context.Context, filter store.QueryFilter) (*store.IntegrityVerificationReport, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT * FROM audit_log %s ORDER BY timestamp ASC", where)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	defer rows.Close()

	report := &store.IntegrityVerificationReport{AlgorithmHistogram: map[string]int{}}
	start := time.Now()

	for rows.Next() {
		var row auditRow
		if err := rows.StructScan(&row); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
		}
		e, err := rowToEvent(&row)
		if err != nil {
			return nil, err
		}

		report.Total++
		report.AlgorithmHistogram[e.HashAlgorithm]++

		recomputed := crypto.Hash(crypto.Canonicalize(e))
		if recomputed == e.Hash {
			report.Verified++
		} else {
			report.Failed++
			report.Failures = append(report.Failures, store.IntegrityFailure{
				EventID:        e.ID,
				StoredHash:     e.Hash,
				RecomputedHash: recomputed,
			})
		}
	}
	report.Latency = time.Since(start)
	return report, nil
}

// UpdatePrincipalAndSession is the only mutation I1 permits beyond
// archival/deletion: GDPR pseudonymization rewriting principalId and
// session IP/user agent in place.
func (r *AuditRepository) UpdatePrincipalAndSession(ctx context.Context, id uuid.UUID, principalID, ip, userAgent string) error {
	const q = `
		UPDATE audit_log
		SET principal_id = $2,
		    session_context = jsonb_set(jsonb_set(COALESCE(session_context, '{}'), '{ipAddress}', to_jsonb($3::text)), '{userAgent}', to_jsonb($4::text))
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, principalID, ip, userAgent)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	return nil
}

// DeleteByID removes a row outright; used only by GDPR deletion and
// retention's delete phase, never by ordinary application code.
func (r *AuditRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE id = $1`, id)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	return nil
}

func rowToEvent(row *auditRow) (*event.Event, error) {
	e := &event.Event{
		ID:                 row.ID,
		Timestamp:          row.Timestamp,
		Action:             row.Action,
		Status:             event.Status(row.Status),
		PrincipalID:        row.PrincipalID,
		OrganizationID:     row.OrganizationID,
		TargetResourceType: row.TargetResourceType,
		TargetResourceID:   row.TargetResourceID,
		OutcomeDescription: row.OutcomeDescription,
		DataClassification: event.DataClassification(row.DataClassification),
		CorrelationID:      row.CorrelationID,
		RetentionPolicy:    row.RetentionPolicy,
		Hash:               row.Hash,
		HashAlgorithm:      row.HashAlgorithm,
		Signature:          row.Signature,
		SignatureAlgorithm: event.SignatureAlgorithm(row.SignatureAlgorithm),
		ArchivedAt:         row.ArchivedAt,
	}
	if len(row.Details) > 0 {
		if err := unmarshalJSON(row.Details, &e.Details); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
		}
	}
	if len(row.SessionContext) > 0 {
		if err := unmarshalJSON(row.SessionContext, &e.SessionContext); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
		}
	}
	return e, nil
}
