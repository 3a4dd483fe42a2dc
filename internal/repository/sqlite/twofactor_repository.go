package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinic-secops/internal/models"
)

// ErrAlreadyEnabled is returned when a pending secret would overwrite an enabled enrollment.
var ErrAlreadyEnabled = errors.New("two-factor already enabled")

const twoFactorColumns = `principal_id, method, state, secret_ciphertext, secret_dek, secret_key_id,
	verified_at, created_at, updated_at`

type TwoFactorRepository struct {
	db *DB
}

func NewTwoFactorRepository(db *DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

func (r *TwoFactorRepository) Get(ctx context.Context, principalID, method string) (*models.TwoFactorCredential, error) {
	c, err := scanTwoFactor(r.db.conn.QueryRowContext(ctx,
		`SELECT `+twoFactorColumns+` FROM two_factor_credentials WHERE principal_id = ? AND method = ?`,
		principalID, method))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (r *TwoFactorRepository) ListByPrincipal(ctx context.Context, principalID string) ([]*models.TwoFactorCredential, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+twoFactorColumns+` FROM two_factor_credentials WHERE principal_id = ? ORDER BY method`,
		principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list two-factor credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.TwoFactorCredential
	for rows.Next() {
		c, err := scanTwoFactor(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// UpsertPending stores a fresh pending secret, replacing any earlier pending or disabled
// one. An enabled enrollment is never overwritten.
func (r *TwoFactorRepository) UpsertPending(ctx context.Context, c *models.TwoFactorCredential, now time.Time) error {
	res, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO two_factor_credentials (`+twoFactorColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
		 ON CONFLICT (principal_id, method) DO UPDATE SET
			state = excluded.state,
			secret_ciphertext = excluded.secret_ciphertext,
			secret_dek = excluded.secret_dek,
			secret_key_id = excluded.secret_key_id,
			verified_at = NULL,
			updated_at = excluded.updated_at
		 WHERE two_factor_credentials.state != ?`,
		c.PrincipalID, c.Method, models.TwoFactorPending, c.SecretCiphertext, c.SecretDEK, c.SecretKeyID,
		toMillis(now), toMillis(now), models.TwoFactorEnabled)
	if err != nil {
		return fmt.Errorf("failed to store pending two-factor secret: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyEnabled
	}
	c.State = models.TwoFactorPending
	c.VerifiedAt = nil
	c.UpdatedAt = now
	return nil
}

// Enable flips a pending enrollment to enabled and installs a fresh backup code batch.
// secretCiphertext must still match the stored one so a concurrent re-setup wins.
func (r *TwoFactorRepository) Enable(ctx context.Context, principalID, method, secretCiphertext string, codeHashes []string, now time.Time) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE two_factor_credentials SET state = ?, verified_at = ?, updated_at = ?
			 WHERE principal_id = ? AND method = ? AND state = ? AND secret_ciphertext = ?`,
			models.TwoFactorEnabled, toMillis(now), toMillis(now),
			principalID, method, models.TwoFactorPending, secretCiphertext)
		if err != nil {
			return fmt.Errorf("failed to enable two-factor: %w", err)
		}
		if ok, err := affectedOne(res); err != nil {
			return err
		} else if !ok {
			return ErrConflict
		}
		return replaceCodes(ctx, tx, principalID, method, codeHashes, now)
	})
}

// ConsumeBackupCode deletes a matching code. The delete itself is the check, so two
// concurrent uses of one code cannot both succeed.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, principalID, method, codeHash string) (int, error) {
	remaining := 0
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE principal_id = ? AND method = ? AND code_hash = ?`,
			principalID, method, codeHash)
		if err != nil {
			return fmt.Errorf("failed to consume backup code: %w", err)
		}
		if ok, err := affectedOne(res); err != nil {
			return err
		} else if !ok {
			return ErrNotFound
		}
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM backup_codes WHERE principal_id = ? AND method = ?`,
			principalID, method).Scan(&remaining)
	})
	return remaining, err
}

// ReplaceBackupCodes swaps the whole batch of an enabled enrollment.
func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, principalID, method string, codeHashes []string, now time.Time) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM two_factor_credentials WHERE principal_id = ? AND method = ?`,
			principalID, method).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load two-factor state: %w", err)
		}
		if models.TwoFactorState(state) != models.TwoFactorEnabled {
			return ErrConflict
		}
		return replaceCodes(ctx, tx, principalID, method, codeHashes, now)
	})
}

func replaceCodes(ctx context.Context, tx *sql.Tx, principalID, method string, codeHashes []string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE principal_id = ? AND method = ?`, principalID, method); err != nil {
		return fmt.Errorf("failed to clear backup codes: %w", err)
	}
	for i, h := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (principal_id, method, code_hash, position, created_at) VALUES (?, ?, ?, ?, ?)`,
			principalID, method, h, i, toMillis(now)); err != nil {
			return fmt.Errorf("failed to store backup code: %w", err)
		}
	}
	return nil
}

// Disable clears the secret and every backup code. ErrNotFound means never set up.
func (r *TwoFactorRepository) Disable(ctx context.Context, principalID, method string, now time.Time) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE two_factor_credentials
			 SET state = ?, secret_ciphertext = '', secret_dek = '', secret_key_id = '', verified_at = NULL, updated_at = ?
			 WHERE principal_id = ? AND method = ?`,
			models.TwoFactorDisabled, toMillis(now), principalID, method)
		if err != nil {
			return fmt.Errorf("failed to disable two-factor: %w", err)
		}
		if ok, err := affectedOne(res); err != nil {
			return err
		} else if !ok {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE principal_id = ? AND method = ?`, principalID, method); err != nil {
			return fmt.Errorf("failed to clear backup codes: %w", err)
		}
		return nil
	})
}

func (r *TwoFactorRepository) CountBackupCodes(ctx context.Context, principalID, method string) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE principal_id = ? AND method = ?`,
		principalID, method).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return n, nil
}

func scanTwoFactor(row rowScanner) (*models.TwoFactorCredential, error) {
	var (
		c          models.TwoFactorCredential
		state      string
		verifiedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&c.PrincipalID, &c.Method, &state, &c.SecretCiphertext, &c.SecretDEK,
		&c.SecretKeyID, &verifiedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.State = models.TwoFactorState(state)
	c.VerifiedAt = timePtr(verifiedAt)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}
