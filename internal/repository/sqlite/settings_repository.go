package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinic-secops/internal/models"
)

// SettingsRepository stores JSON documents under string keys.
type SettingsRepository struct {
	db *DB
}

func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string, now time.Time) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// ProfileRepository serves the read-only behaviour baselines used by risk scoring.
type ProfileRepository struct {
	db *DB
}

func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Get(ctx context.Context, principalID string) (*models.BehaviorProfile, error) {
	var (
		p         models.BehaviorProfile
		hours     string
		ips       string
		devices   string
		actions   string
		updatedAt int64
	)
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT principal_id, typical_hours, typical_ips, typical_devices, typical_actions, anomaly_threshold, updated_at
		 FROM behavior_profiles WHERE principal_id = ?`, principalID).
		Scan(&p.PrincipalID, &hours, &ips, &devices, &actions, &p.AnomalyThreshold, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load behaviour profile: %w", err)
	}
	p.TypicalHours = decodeInts(hours)
	p.TypicalIPs = decodeStrings(ips)
	p.TypicalDevices = decodeStrings(devices)
	p.TypicalActions = decodeStrings(actions)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, p *models.BehaviorProfile) error {
	hours := p.TypicalHours
	if hours == nil {
		hours = []int{}
	}
	encHours, err := encodeJSON(hours)
	if err != nil {
		return err
	}
	ips, err := encodeJSON(nonNil(p.TypicalIPs))
	if err != nil {
		return err
	}
	devices, err := encodeJSON(nonNil(p.TypicalDevices))
	if err != nil {
		return err
	}
	actions, err := encodeJSON(nonNil(p.TypicalActions))
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx,
		`INSERT INTO behavior_profiles (principal_id, typical_hours, typical_ips, typical_devices, typical_actions, anomaly_threshold, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (principal_id) DO UPDATE SET
			typical_hours = excluded.typical_hours,
			typical_ips = excluded.typical_ips,
			typical_devices = excluded.typical_devices,
			typical_actions = excluded.typical_actions,
			anomaly_threshold = excluded.anomaly_threshold,
			updated_at = excluded.updated_at`,
		p.PrincipalID, encHours, ips, devices, actions, p.AnomalyThreshold, toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to store behaviour profile: %w", err)
	}
	return nil
}
