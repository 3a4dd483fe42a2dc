package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinic-secops/internal/models"
)

const principalColumns = `id, role, email, display_name, department, locked, lock_reason, locked_at, created_at`

// DirectoryRepository is the local identity directory: principals, API credentials,
// treating relationships and patient consents.
type DirectoryRepository struct {
	db *DB
}

func NewDirectoryRepository(db *DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) GetPrincipal(ctx context.Context, id string) (*models.Principal, error) {
	p, err := scanPrincipal(r.db.conn.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// FindResponder picks the longest-standing unlocked principal with role in department.
func (r *DirectoryRepository) FindResponder(ctx context.Context, role, department string) (*models.Principal, error) {
	p, err := scanPrincipal(r.db.conn.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE role = ? AND department = ? AND locked = 0
		 ORDER BY created_at ASC, id ASC LIMIT 1`, role, department))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// LockPrincipal marks a principal locked. Locking an already-locked principal changes
// nothing and reports changed=false.
func (r *DirectoryRepository) LockPrincipal(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	changed := false
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE principals SET locked = 1, lock_reason = ?, locked_at = ? WHERE id = ? AND locked = 0`,
			reason, toMillis(now), id)
		if err != nil {
			return fmt.Errorf("failed to lock principal: %w", err)
		}
		if changed, err = affectedOne(res); err != nil || changed {
			return err
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check principal: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return nil
	})
	return changed, err
}

func (r *DirectoryRepository) UpsertPrincipal(ctx context.Context, p *models.Principal) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			role = excluded.role,
			email = excluded.email,
			display_name = excluded.display_name,
			department = excluded.department`,
		p.ID, p.Role, p.Email, p.DisplayName, p.Department, boolInt(p.Locked), nullString(p.LockReason),
		nullMillis(p.LockedAt), toMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert principal: %w", err)
	}
	return nil
}

// AddCredential registers an API credential digest for a principal. A nil expiry never lapses.
func (r *DirectoryRepository) AddCredential(ctx context.Context, tokenHash, principalID string, expiresAt *time.Time) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO credentials (token_hash, principal_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (token_hash) DO UPDATE SET principal_id = excluded.principal_id, expires_at = excluded.expires_at`,
		tokenHash, principalID, nullMillis(expiresAt))
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// ResolveCredential maps a live credential digest to its principal.
func (r *DirectoryRepository) ResolveCredential(ctx context.Context, tokenHash string, now time.Time) (*models.Principal, error) {
	p, err := scanPrincipal(r.db.conn.QueryRowContext(ctx,
		`SELECT p.id, p.role, p.email, p.display_name, p.department, p.locked, p.lock_reason, p.locked_at, p.created_at
		 FROM credentials c JOIN principals p ON p.id = c.principal_id
		 WHERE c.token_hash = ? AND (c.expires_at IS NULL OR c.expires_at > ?)`,
		tokenHash, toMillis(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *DirectoryRepository) AddRelationship(ctx context.Context, doctorID, patientID string, now time.Time) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO treating_relationships (doctor_id, patient_id, active, created_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (doctor_id, patient_id) DO UPDATE SET active = 1`,
		doctorID, patientID, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to store treating relationship: %w", err)
	}
	return nil
}

func (r *DirectoryRepository) HasTreatingRelationship(ctx context.Context, doctorID, patientID string) (bool, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM treating_relationships WHERE doctor_id = ? AND patient_id = ? AND active = 1`,
		doctorID, patientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check treating relationship: %w", err)
	}
	return n > 0, nil
}

func (r *DirectoryRepository) UpsertConsent(ctx context.Context, c *models.Consent) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO consents (patient_id, consent_type, granted, expires_at, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (patient_id, consent_type) DO UPDATE SET
			granted = excluded.granted,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		c.PatientID, c.ConsentType, boolInt(c.Granted), nullMillis(c.ExpiresAt), toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to store consent: %w", err)
	}
	return nil
}

func (r *DirectoryRepository) GetConsent(ctx context.Context, patientID, consentType string) (*models.Consent, error) {
	var (
		c         models.Consent
		granted   int
		expiresAt sql.NullInt64
		createdAt int64
	)
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT patient_id, consent_type, granted, expires_at, created_at FROM consents
		 WHERE patient_id = ? AND consent_type = ?`, patientID, consentType).
		Scan(&c.PatientID, &c.ConsentType, &granted, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consent: %w", err)
	}
	c.Granted = granted == 1
	c.ExpiresAt = timePtr(expiresAt)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func (r *DirectoryRepository) ListConsents(ctx context.Context, patientID string) ([]*models.Consent, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT patient_id, consent_type, granted, expires_at, created_at FROM consents
		 WHERE patient_id = ? ORDER BY consent_type`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	var consents []*models.Consent
	for rows.Next() {
		var (
			c         models.Consent
			granted   int
			expiresAt sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&c.PatientID, &c.ConsentType, &granted, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan consent: %w", err)
		}
		c.Granted = granted == 1
		c.ExpiresAt = timePtr(expiresAt)
		c.CreatedAt = fromMillis(createdAt)
		consents = append(consents, &c)
	}
	return consents, rows.Err()
}

// ConsentedPatients returns the subset of patientIDs holding a valid consent of consentType.
func (r *DirectoryRepository) ConsentedPatients(ctx context.Context, patientIDs []string, consentType string, now time.Time) (map[string]bool, error) {
	out := make(map[string]bool, len(patientIDs))
	for _, id := range patientIDs {
		c, err := r.GetConsent(ctx, id, consentType)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.ValidAt(now) {
			out[id] = true
		}
	}
	return out, nil
}

func (r *DirectoryRepository) CountExpiredConsents(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consents WHERE expires_at IS NOT NULL AND expires_at <= ?`, toMillis(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired consents: %w", err)
	}
	return n, nil
}

func scanPrincipal(row rowScanner) (*models.Principal, error) {
	var (
		p         models.Principal
		locked    int
		reason    sql.NullString
		lockedAt  sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&p.ID, &p.Role, &p.Email, &p.DisplayName, &p.Department, &locked, &reason,
		&lockedAt, &createdAt); err != nil {
		return nil, err
	}
	p.Locked = locked == 1
	p.LockReason = stringPtr(reason)
	p.LockedAt = timePtr(lockedAt)
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}
