package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinic-secops/internal/models"
	"clinic-secops/internal/util"

	"go.uber.org/zap"
)

var (
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInactive = errors.New("session inactive")
)

const sessionColumns = `id, principal_id, role, token_hash, ip_address, browser, os, device_type,
	device_fingerprint, location, created_at, last_activity, expires_at, idle_timeout_seconds,
	is_active, terminated_at, termination_reason`

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateWithCap expires stale rows, evicts least-recently-active sessions until the
// principal is below maxConcurrent, and inserts s, all in one transaction.
func (r *SessionRepository) CreateWithCap(ctx context.Context, s *models.Session, maxConcurrent int, now time.Time) ([]*models.Session, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	var evicted []*models.Session
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := expireStale(ctx, tx, s.PrincipalID, now); err != nil {
			return err
		}

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE principal_id = ? AND is_active = 1 AND expires_at > ?`,
			s.PrincipalID, toMillis(now)).Scan(&active); err != nil {
			return fmt.Errorf("failed to count active sessions: %w", err)
		}

		for ; active >= maxConcurrent; active-- {
			victim, err := scanSession(tx.QueryRowContext(ctx,
				`SELECT `+sessionColumns+` FROM sessions
				 WHERE principal_id = ? AND is_active = 1 AND expires_at > ?
				 ORDER BY last_activity ASC, created_at ASC, id ASC LIMIT 1`,
				s.PrincipalID, toMillis(now)))
			if err != nil {
				return fmt.Errorf("failed to select eviction candidate: %w", err)
			}

			res, err := tx.ExecContext(ctx,
				`UPDATE sessions SET is_active = 0, terminated_at = ?, termination_reason = ?
				 WHERE id = ? AND is_active = 1`,
				toMillis(now), models.ReasonLimitExceeded, victim.ID)
			if err != nil {
				return fmt.Errorf("failed to evict session: %w", err)
			}
			if ok, err := affectedOne(res); err != nil {
				return err
			} else if !ok {
				return ErrConflict
			}

			reason := models.ReasonLimitExceeded
			victim.IsActive = false
			victim.TerminatedAt = &now
			victim.TerminationReason = &reason
			evicted = append(evicted, victim)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.PrincipalID, s.Role, s.TokenHash, s.IPAddress, s.Browser, s.OS, s.DeviceType,
			s.DeviceFingerprint, s.Location, toMillis(s.CreatedAt), toMillis(s.LastActivity),
			toMillis(s.ExpiresAt), int64(s.IdleTimeout/time.Second), 1, nil, nil); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.IsActive = true
	return evicted, nil
}

func expireStale(ctx context.Context, tx *sql.Tx, principalID string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, terminated_at = expires_at, termination_reason = ?
		 WHERE principal_id = ? AND is_active = 1 AND expires_at <= ?`,
		models.ReasonExpired, principalID, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListActive returns live sessions ordered by last activity, most recent first.
func (r *SessionRepository) ListActive(ctx context.Context, principalID string, now time.Time) ([]*models.Session, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE principal_id = ? AND is_active = 1 AND expires_at > ?
		 ORDER BY last_activity DESC, created_at DESC`,
		principalID, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	s, err := scanSession(r.db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Terminate deactivates one session owned by principalID. Already-inactive sessions
// are left as they are and reported with terminated=false.
func (r *SessionRepository) Terminate(ctx context.Context, principalID, sessionID, reason string, now time.Time) (bool, error) {
	terminated := false
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT principal_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != principalID) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load session owner: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET is_active = 0, terminated_at = ?, termination_reason = ?
			 WHERE id = ? AND principal_id = ? AND is_active = 1`,
			toMillis(now), reason, sessionID, principalID)
		if err != nil {
			return fmt.Errorf("failed to terminate session: %w", err)
		}
		terminated, err = affectedOne(res)
		return err
	})
	return terminated, err
}

// TerminateOthers deactivates every active session of principalID except keepID.
func (r *SessionRepository) TerminateOthers(ctx context.Context, principalID, keepID, reason string, now time.Time) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, terminated_at = ?, termination_reason = ?
		 WHERE principal_id = ? AND id != ? AND is_active = 1`,
		toMillis(now), reason, principalID, keepID)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate other sessions: %w", err)
	}
	return res.RowsAffected()
}

// TerminateAll deactivates every active session of principalID.
func (r *SessionRepository) TerminateAll(ctx context.Context, principalID, reason string, now time.Time) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, terminated_at = ?, termination_reason = ?
		 WHERE principal_id = ? AND is_active = 1`,
		toMillis(now), reason, principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions: %w", err)
	}
	return res.RowsAffected()
}

// Touch slides the idle expiry of the session holding tokenHash. An expired session is
// deactivated in the same transaction and ErrSessionExpired is returned after commit.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error) {
	var (
		session *models.Session
		expired bool
	)
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, tokenHash))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !s.IsActive {
			return ErrSessionInactive
		}

		if !s.ActiveAt(now) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE sessions SET is_active = 0, terminated_at = ?, termination_reason = ?
				 WHERE id = ? AND is_active = 1`,
				toMillis(s.ExpiresAt), models.ReasonExpired, s.ID); err != nil {
				return fmt.Errorf("failed to expire session: %w", err)
			}
			expired = true
			return nil
		}

		s.LastActivity = now
		s.ExpiresAt = now.Add(s.IdleTimeout)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity = ?, expires_at = ? WHERE id = ? AND is_active = 1`,
			toMillis(s.LastActivity), toMillis(s.ExpiresAt), s.ID); err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (r *SessionRepository) CountActive(ctx context.Context, principalID string, now time.Time) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE principal_id = ? AND is_active = 1 AND expires_at > ?`,
		principalID, toMillis(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (r *SessionRepository) CountAllActive(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE is_active = 1 AND expires_at > ?`, toMillis(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// SweepExpired flags every lapsed session inactive. Correctness never depends on it.
func (r *SessionRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, terminated_at = expires_at, termination_reason = ?
		 WHERE is_active = 1 AND expires_at <= ?`,
		models.ReasonExpired, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		util.Debug("Expired sessions swept", zap.Int64("count", n))
	}
	return n, err
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s            models.Session
		createdAt    int64
		lastActivity int64
		expiresAt    int64
		idleSeconds  int64
		active       int
		terminatedAt sql.NullInt64
		reason       sql.NullString
	)
	if err := row.Scan(&s.ID, &s.PrincipalID, &s.Role, &s.TokenHash, &s.IPAddress, &s.Browser, &s.OS,
		&s.DeviceType, &s.DeviceFingerprint, &s.Location, &createdAt, &lastActivity, &expiresAt,
		&idleSeconds, &active, &terminatedAt, &reason); err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.LastActivity = fromMillis(lastActivity)
	s.ExpiresAt = fromMillis(expiresAt)
	s.IdleTimeout = time.Duration(idleSeconds) * time.Second
	s.IsActive = active == 1
	s.TerminatedAt = timePtr(terminatedAt)
	s.TerminationReason = stringPtr(reason)
	return &s, nil
}
