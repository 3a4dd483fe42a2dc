package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clinic-secops/internal/models"
	"clinic-secops/internal/util"

	"go.uber.org/zap"
)

const (
	auditColumns = `id, event_type, actor_id, action, resource_type, resource_id, success, risk_score,
	ip_address, user_agent, purpose, metadata, created_at`

	defaultAuditLimit = 100
	maxAuditLimit     = 10000
)

// AuditRepository is insert-only; triggers reject UPDATE and DELETE on the table.
type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := encodeJSON(metadata)
	if err != nil {
		return err
	}
	if _, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO audit_events (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, e.ActorID, e.Action, e.ResourceType, e.ResourceID, boolInt(e.Success),
		e.RiskScore, e.IPAddress, e.UserAgent, e.Purpose, raw, toMillis(e.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query returns matching events newest first.
func (r *AuditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	where, args := auditWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events`+where+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *AuditRepository) Count(ctx context.Context, filter models.AuditFilter) (int, error) {
	where, args := auditWhere(filter)
	var n int
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}

// CountByType groups matching events by event type.
func (r *AuditRepository) CountByType(ctx context.Context, filter models.AuditFilter) (map[string]int, error) {
	where, args := auditWhere(filter)
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM audit_events`+where+` GROUP BY event_type`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group audit events: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			eventType string
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, err
		}
		counts[eventType] = n
	}
	return counts, rows.Err()
}

// ForResource returns every event about one resource, oldest first.
func (r *AuditRepository) ForResource(ctx context.Context, resourceType, resourceID string) ([]*models.AuditEvent, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE resource_type = ? AND resource_id = ?
		 ORDER BY created_at ASC, id ASC`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource audit trail: %w", err)
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func auditWhere(f models.AuditFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if f.EventType != "" {
		add("event_type = ?", f.EventType)
	}
	if f.ActorID != "" {
		add("actor_id = ?", f.ActorID)
	}
	if f.ResourceType != "" {
		add("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = ?", f.ResourceID)
	}
	if f.Success != nil {
		add("success = ?", boolInt(*f.Success))
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", toMillis(f.Since))
	}
	if !f.Until.IsZero() {
		add("created_at < ?", toMillis(f.Until))
	}
	if f.WithoutPurpose {
		clauses = append(clauses, "trim(purpose) = ''")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanAuditEvent(row rowScanner) (*models.AuditEvent, error) {
	var (
		e         models.AuditEvent
		success   int
		metadata  string
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.EventType, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
		&success, &e.RiskScore, &e.IPAddress, &e.UserAgent, &e.Purpose, &metadata, &createdAt); err != nil {
		return nil, err
	}
	e.Success = success == 1
	e.CreatedAt = fromMillis(createdAt)
	e.Metadata = map[string]interface{}{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			util.Warn("Corrupt audit metadata", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
	return &e, nil
}
