package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/models"
)

const incidentColumns = `id, incident_type, severity, status, title, description, affected_principals,
	affected_systems, detection_method, indicators, reporter_id, assignee_id, resolution,
	escalation_reason, created_at, updated_at, escalated_at, resolved_at, closed_at`

const defaultIncidentLimit = 100

var activeStatuses = []interface{}{models.StatusOpen, models.StatusInvestigating, models.StatusEscalated}

// IncidentChange is a guarded mutation of one incident. The update only lands while the
// stored status (and severity, when FromSeverity is set) still equal the guards.
type IncidentChange struct {
	FromStatus       string
	ToStatus         string
	FromSeverity     string
	ToSeverity       string
	Resolution       *string
	EscalationReason *string
	Notes            []models.IncidentNote
	Actions          []models.IncidentAction
}

type IncidentRepository struct {
	db *DB
}

func NewIncidentRepository(db *DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

func (r *IncidentRepository) Create(ctx context.Context, inc *models.Incident) error {
	affected, err := encodeJSON(nonNil(inc.AffectedPrincipals))
	if err != nil {
		return err
	}
	systems, err := encodeJSON(nonNil(inc.AffectedSystems))
	if err != nil {
		return err
	}
	indicators, err := encodeJSON(nonNil(inc.Indicators))
	if err != nil {
		return err
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incidents (`+incidentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inc.ID, inc.Type, inc.Severity, inc.Status, inc.Title, inc.Description, affected, systems,
			inc.DetectionMethod, indicators, inc.ReporterID, nullString(inc.AssigneeID),
			nullString(inc.Resolution), nullString(inc.EscalationReason), toMillis(inc.CreatedAt),
			toMillis(inc.UpdatedAt), nullMillis(inc.EscalatedAt), nullMillis(inc.ResolvedAt),
			nullMillis(inc.ClosedAt)); err != nil {
			return fmt.Errorf("failed to insert incident: %w", err)
		}
		if err := insertActions(ctx, tx, inc.ID, inc.ResponseActions); err != nil {
			return err
		}
		return insertNotes(ctx, tx, inc.ID, inc.Notes)
	})
}

func (r *IncidentRepository) Get(ctx context.Context, id string) (*models.Incident, error) {
	inc, err := scanIncident(r.db.conn.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

// List returns incidents newest first, children included.
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	return r.query(ctx, where, args, filter.Limit)
}

func (r *IncidentRepository) ListActive(ctx context.Context) ([]*models.Incident, error) {
	return r.query(ctx, []string{"status IN (?, ?, ?)"}, append([]interface{}{}, activeStatuses...), -1)
}

// Search matches the query against id, title, description and type.
func (r *IncidentRepository) Search(ctx context.Context, query string, limit int) ([]*models.Incident, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return r.query(ctx,
		[]string{`(lower(id) LIKE ? ESCAPE '\' OR lower(title) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\' OR incident_type LIKE ? ESCAPE '\')`},
		[]interface{}{pattern, pattern, pattern, pattern}, limit)
}

func (r *IncidentRepository) query(ctx context.Context, where []string, args []interface{}, limit int) ([]*models.Incident, error) {
	q := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if limit == 0 {
		limit = defaultIncidentLimit
	}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	var incidents []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, inc := range incidents {
		if err := r.loadChildren(ctx, inc); err != nil {
			return nil, err
		}
	}
	return incidents, nil
}

// Apply performs a guarded status/severity change and appends notes and actions in one
// transaction. ErrConflict means the guard no longer holds; ErrNotFound means no incident.
func (r *IncidentRepository) Apply(ctx context.Context, id string, ch IncidentChange, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{toMillis(now)}

	if ch.ToStatus != "" {
		sets = append(sets, "status = ?")
		args = append(args, ch.ToStatus)
		switch ch.ToStatus {
		case models.StatusEscalated:
			sets = append(sets, "escalated_at = ?")
			args = append(args, toMillis(now))
		case models.StatusResolved:
			sets = append(sets, "resolved_at = ?")
			args = append(args, toMillis(now))
		case models.StatusClosed:
			sets = append(sets, "closed_at = ?")
			args = append(args, toMillis(now))
		}
	}
	if ch.ToSeverity != "" {
		sets = append(sets, "severity = ?")
		args = append(args, ch.ToSeverity)
	}
	if ch.Resolution != nil {
		sets = append(sets, "resolution = ?")
		args = append(args, *ch.Resolution)
	}
	if ch.EscalationReason != nil {
		sets = append(sets, "escalation_reason = ?")
		args = append(args, *ch.EscalationReason)
	}

	q := `UPDATE incidents SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, ch.FromStatus)
	if ch.FromSeverity != "" {
		q += " AND severity = ?"
		args = append(args, ch.FromSeverity)
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("failed to update incident: %w", err)
		}
		ok, err := affectedOne(res)
		if err != nil {
			return err
		}
		if !ok {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents WHERE id = ?`, id).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check incident: %w", err)
			}
			if exists == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		if err := insertNotes(ctx, tx, id, ch.Notes); err != nil {
			return err
		}
		return insertActions(ctx, tx, id, ch.Actions)
	})
}

// AppendActions records response actions on an incident that is not closed.
func (r *IncidentRepository) AppendActions(ctx context.Context, id string, actions []models.IncidentAction, now time.Time) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE incidents SET updated_at = ? WHERE id = ? AND status != ?`,
			toMillis(now), id, models.StatusClosed)
		if err != nil {
			return fmt.Errorf("failed to touch incident: %w", err)
		}
		if ok, err := affectedOne(res); err != nil {
			return err
		} else if !ok {
			return ErrConflict
		}
		return insertActions(ctx, tx, id, actions)
	})
}

// CountActiveBySeverity returns open/investigating/escalated counts keyed by severity.
func (r *IncidentRepository) CountActiveBySeverity(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM incidents WHERE status IN (?, ?, ?) GROUP BY severity`,
		activeStatuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			severity string
			n        int
		)
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		counts[severity] = n
	}
	return counts, rows.Err()
}

// CountActiveInvolving counts active incidents listing principalID as affected.
func (r *IncidentRepository) CountActiveInvolving(ctx context.Context, principalID string) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT incidents.id) FROM incidents, json_each(incidents.affected_principals) AS p
		 WHERE p.value = ? AND incidents.status IN (?, ?, ?)`,
		append([]interface{}{principalID}, activeStatuses...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count incidents for principal: %w", err)
	}
	return n, nil
}

func (r *IncidentRepository) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE created_at >= ?`, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return n, nil
}

func (r *IncidentRepository) loadChildren(ctx context.Context, inc *models.Incident) error {
	notes, err := r.db.conn.QueryContext(ctx,
		`SELECT author_id, note, created_at FROM incident_notes WHERE incident_id = ? ORDER BY seq`, inc.ID)
	if err != nil {
		return fmt.Errorf("failed to load incident notes: %w", err)
	}
	inc.Notes = []models.IncidentNote{}
	for notes.Next() {
		var (
			n  models.IncidentNote
			at int64
		)
		if err := notes.Scan(&n.AuthorID, &n.Note, &at); err != nil {
			notes.Close()
			return err
		}
		n.CreatedAt = fromMillis(at)
		inc.Notes = append(inc.Notes, n)
	}
	notes.Close()
	if err := notes.Err(); err != nil {
		return err
	}

	actions, err := r.db.conn.QueryContext(ctx,
		`SELECT action, source, created_at FROM incident_actions WHERE incident_id = ? ORDER BY seq`, inc.ID)
	if err != nil {
		return fmt.Errorf("failed to load incident actions: %w", err)
	}
	defer actions.Close()
	inc.ResponseActions = []models.IncidentAction{}
	for actions.Next() {
		var (
			a  models.IncidentAction
			at int64
		)
		if err := actions.Scan(&a.Action, &a.Source, &at); err != nil {
			return err
		}
		a.CreatedAt = fromMillis(at)
		inc.ResponseActions = append(inc.ResponseActions, a)
	}
	return actions.Err()
}

func insertNotes(ctx context.Context, tx *sql.Tx, incidentID string, notes []models.IncidentNote) error {
	for _, n := range notes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incident_notes (incident_id, author_id, note, created_at) VALUES (?, ?, ?, ?)`,
			incidentID, n.AuthorID, n.Note, toMillis(n.CreatedAt)); err != nil {
			return fmt.Errorf("failed to append incident note: %w", err)
		}
	}
	return nil
}

func insertActions(ctx context.Context, tx *sql.Tx, incidentID string, actions []models.IncidentAction) error {
	for _, a := range actions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incident_actions (incident_id, action, source, created_at) VALUES (?, ?, ?, ?)`,
			incidentID, a.Action, a.Source, toMillis(a.CreatedAt)); err != nil {
			return fmt.Errorf("failed to append incident action: %w", err)
		}
	}
	return nil
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc         models.Incident
		affected    string
		systems     string
		indicators  string
		assignee    sql.NullString
		resolution  sql.NullString
		escalation  sql.NullString
		createdAt   int64
		updatedAt   int64
		escalatedAt sql.NullInt64
		resolvedAt  sql.NullInt64
		closedAt    sql.NullInt64
	)
	if err := row.Scan(&inc.ID, &inc.Type, &inc.Severity, &inc.Status, &inc.Title, &inc.Description,
		&affected, &systems, &inc.DetectionMethod, &indicators, &inc.ReporterID, &assignee, &resolution,
		&escalation, &createdAt, &updatedAt, &escalatedAt, &resolvedAt, &closedAt); err != nil {
		return nil, err
	}
	inc.AffectedPrincipals = decodeStrings(affected)
	inc.AffectedSystems = decodeStrings(systems)
	inc.Indicators = decodeStrings(indicators)
	inc.AssigneeID = stringPtr(assignee)
	inc.Resolution = stringPtr(resolution)
	inc.EscalationReason = stringPtr(escalation)
	inc.CreatedAt = fromMillis(createdAt)
	inc.UpdatedAt = fromMillis(updatedAt)
	inc.EscalatedAt = timePtr(escalatedAt)
	inc.ResolvedAt = timePtr(resolvedAt)
	inc.ClosedAt = timePtr(closedAt)
	return &inc, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
