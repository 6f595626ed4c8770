package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/auditrail/auditrail/internal/gdpr"
)

// PseudonymRepository implements gdpr.MappingStore over the
// pseudonym_mapping table (§4.4's required unique index on pseudonymId,
// plus an index on originalHash so hash-strategy lookups can dedupe).
type PseudonymRepository struct {
	db *sqlx.DB
}

// NewPseudonymRepository builds a PseudonymRepository.
func NewPseudonymRepository(db *sqlx.DB) *PseudonymRepository {
	return &PseudonymRepository{db: db}
}

type pseudonymRow struct {
	PseudonymID       string    `db:"pseudonym_id"`
	EncryptedOriginal string    `db:"encrypted_original"`
	Strategy          string    `db:"strategy"`
	OrganizationID    string    `db:"organization_id"`
	OriginalHash      string    `db:"original_hash"`
	CreatedAt         time.Time `db:"created_at"`
}

func (r *pseudonymRow) toMapping() gdpr.PseudonymMapping {
	return gdpr.PseudonymMapping{
		PseudonymID:       r.PseudonymID,
		EncryptedOriginal: r.EncryptedOriginal,
		Strategy:          gdpr.Strategy(r.Strategy),
		OrganizationID:    r.OrganizationID,
		CreatedAt:         r.CreatedAt,
	}
}

// FindByOriginalHash looks up an existing mapping for the hash strategy's
// dedup path (same input + strategy reuses the prior pseudonym).
func (r *PseudonymRepository) FindByOriginalHash(ctx context.Context, originalHash string) (*gdpr.PseudonymMapping, bool, error) {
	var row pseudonymRow
	err := r.db.GetContext(ctx, &row, `
		SELECT pseudonym_id, encrypted_original, strategy, organization_id, original_hash, created_at
		FROM pseudonym_mapping WHERE original_hash = $1 AND strategy = 'hash'`, originalHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m := row.toMapping()
	return &m, true, nil
}

// Insert persists a new pseudonym mapping row.
func (r *PseudonymRepository) Insert(ctx context.Context, m gdpr.PseudonymMapping, originalHash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pseudonym_mapping (pseudonym_id, encrypted_original, strategy, organization_id, original_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pseudonym_id) DO NOTHING`,
		m.PseudonymID, m.EncryptedOriginal, string(m.Strategy), m.OrganizationID, originalHash, m.CreatedAt)
	return err
}

// FindByPseudonymID resolves a pseudonym back to its stored mapping row.
func (r *PseudonymRepository) FindByPseudonymID(ctx context.Context, pseudonymID string) (*gdpr.PseudonymMapping, bool, error) {
	var row pseudonymRow
	err := r.db.GetContext(ctx, &row, `
		SELECT pseudonym_id, encrypted_original, strategy, organization_id, original_hash, created_at
		FROM pseudonym_mapping WHERE pseudonym_id = $1`, pseudonymID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m := row.toMapping()
	return &m, true, nil
}
