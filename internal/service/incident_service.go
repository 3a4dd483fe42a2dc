package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"clinic-secops/internal/hashing"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/stream"
	"clinic-secops/internal/util"

	"go.uber.org/zap"
)

const (
	responderRole       = models.RoleAdmin
	responderDepartment = "security"
	notifyTimeout       = 10 * time.Second
	defaultSearchLimit  = 20
	maxSearchLimit      = 100
)

// allowedTransitions is the forward-only incident status graph. Closed is terminal.
var allowedTransitions = map[string][]string{
	models.StatusOpen:          {models.StatusInvestigating, models.StatusEscalated},
	models.StatusInvestigating: {models.StatusEscalated, models.StatusResolved},
	models.StatusEscalated:     {models.StatusResolved},
	models.StatusResolved:      {models.StatusClosed},
}

func canTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var validStatuses = map[string]bool{
	models.StatusOpen:          true,
	models.StatusInvestigating: true,
	models.StatusEscalated:     true,
	models.StatusResolved:      true,
	models.StatusClosed:        true,
}

type CreateIncidentRequest struct {
	Type               string   `json:"incident_type"`
	Severity           string   `json:"severity"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AffectedPrincipals []string `json:"affected_users"`
	AffectedSystems    []string `json:"affected_systems"`
	DetectionMethod    string   `json:"detection_method"`
	Indicators         []string `json:"indicators"`
	ReporterID         string   `json:"-"`
}

type CreatedIncident struct {
	IncidentCreated    bool             `json:"incident_created"`
	IncidentID         string           `json:"incident_id"`
	Incident           *models.Incident `json:"incident"`
	ResponseActions    []string         `json:"response_actions"`
	ContainmentActions []string         `json:"containment_actions,omitempty"`
	Message            string           `json:"message"`
}

type UpdateIncidentRequest struct {
	IncidentID        string   `json:"incident_id"`
	Status            string   `json:"status"`
	Note              string   `json:"notes"`
	Resolution        string   `json:"resolution"`
	AdditionalActions []string `json:"additional_actions"`
}

type UpdatedIncident struct {
	IncidentID string `json:"incident_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	Message    string `json:"message"`
}

type EscalatedIncident struct {
	IncidentID       string `json:"incident_id"`
	PreviousSeverity string `json:"previous_severity"`
	NewSeverity      string `json:"new_severity"`
	Message          string `json:"message"`
}

type ContainmentResult struct {
	IncidentID   string   `json:"incident_id"`
	ActionsTaken []string `json:"actions_taken"`
	Message      string   `json:"message"`
}

// IncidentService owns incident rows and drives their lifecycle.
type IncidentService struct {
	incidents *sqlite.IncidentRepository
	directory Directory
	sessions  *SessionService
	audit     *AuditService
	notifier  Notifier
	publisher *stream.Publisher
	searcher  IncidentSearcher
	settings  *Settings
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewIncidentService(
	incidents *sqlite.IncidentRepository,
	directory Directory,
	sessions *SessionService,
	audit *AuditService,
	notifier Notifier,
	publisher *stream.Publisher,
	searcher IncidentSearcher,
	settings *Settings,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
) *IncidentService {
	return &IncidentService{
		incidents: incidents,
		directory: directory,
		sessions:  sessions,
		audit:     audit,
		notifier:  notifier,
		publisher: publisher,
		searcher:  searcher,
		settings:  settings,
		metrics:   m,
		logger:    logger,
		now:       now,
	}
}

// NewIncidentID renders INC-<UTC yyyyMMddHHmmss>-<5 base36 chars>.
func NewIncidentID(at time.Time) (string, error) {
	suffix, err := hashing.RandomString(hashing.UpperAlphanumeric, 5)
	if err != nil {
		return "", err
	}
	return "INC-" + at.UTC().Format("20060102150405") + "-" + suffix, nil
}

// Create opens an incident with its response checklist. High and critical incidents are
// assigned to the security team; critical ones are contained before Create returns.
func (s *IncidentService) Create(ctx context.Context, req CreateIncidentRequest) (*CreatedIncident, error) {
	req.Type = strings.TrimSpace(req.Type)
	req.Title = strings.TrimSpace(req.Title)
	if req.Type == "" || req.Severity == "" || req.Title == "" {
		return nil, newError(ErrValidation, "Missing required fields: incident_type, severity, title")
	}
	if !models.ValidSeverity(req.Severity) {
		return nil, newError(ErrValidation, "Invalid severity: %s", req.Severity)
	}

	now := s.now().UTC()
	id, err := NewIncidentID(now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate incident id: %w", err)
	}

	templates := s.settings.IncidentTemplates(ctx)
	checklist := templates.Checklist(req.Type, req.Severity)
	actions := make([]models.IncidentAction, 0, len(checklist))
	for _, a := range checklist {
		actions = append(actions, models.IncidentAction{Action: a, Source: models.ActionSourceTemplate, CreatedAt: now})
	}

	incident := &models.Incident{
		ID:                 id,
		Type:               req.Type,
		Severity:           req.Severity,
		Status:             models.StatusOpen,
		Title:              req.Title,
		Description:        req.Description,
		AffectedPrincipals: dedupe(req.AffectedPrincipals),
		AffectedSystems:    dedupe(req.AffectedSystems),
		DetectionMethod:    req.DetectionMethod,
		Indicators:         dedupe(req.Indicators),
		ResponseActions:    actions,
		Notes:              []models.IncidentNote{},
		ReporterID:         req.ReporterID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if models.SeverityRank(req.Severity) >= models.SeverityRank(models.SeverityHigh) {
		incident.AssigneeID = s.findResponder(ctx, id)
	}

	if err := s.incidents.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	s.metrics.IncidentsCreated.WithLabelValues(incident.Type, incident.Severity).Inc()
	s.metrics.IncidentsActive.Inc()
	s.logger.Info("Incident created",
		zap.String("incident_id", id),
		zap.String("type", incident.Type),
		zap.String("severity", incident.Severity))

	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventIncidentCreated,
		ActorID:      req.ReporterID,
		Action:       "create_incident",
		ResourceType: ResourceIncident,
		ResourceID:   id,
		Metadata: map[string]interface{}{
			"incident_id":   id,
			"severity":      incident.Severity,
			"incident_type": incident.Type,
		},
	})
	if incident.AssigneeID != nil {
		s.notify(*incident.AssigneeID, "security_incident", map[string]interface{}{
			"incident_id": id,
			"severity":    incident.Severity,
			"title":       incident.Title,
		})
	}

	result := &CreatedIncident{
		IncidentCreated: true,
		IncidentID:      id,
		Incident:        incident,
		ResponseActions: checklist,
		Message:         "Incident created successfully",
	}
	if incident.Severity == models.SeverityCritical {
		result.Message = "Critical incident created - automated response initiated"
		taken, err := s.AutomatedContainment(ctx, incident)
		if err != nil {
			s.logger.Error("Automated containment failed", zap.String("incident_id", id), zap.Error(err))
			result.Message = "Critical incident created - automated response failed"
		}
		result.ContainmentActions = taken
	}

	s.publish(ctx, id)
	return result, nil
}

func (s *IncidentService) findResponder(ctx context.Context, incidentID string) *string {
	responder, err := s.directory.FindResponder(ctx, responderRole, responderDepartment)
	if err != nil {
		if !errors.Is(err, sqlite.ErrNotFound) {
			s.logger.Warn("Responder lookup failed", zap.String("incident_id", incidentID), zap.Error(err))
		} else {
			s.logger.Warn("No security responder available", zap.String("incident_id", incidentID))
		}
		return nil
	}
	return &responder.ID
}

// Update appends a note and actions, and moves status along the allowed graph.
func (s *IncidentService) Update(ctx context.Context, actorID string, req UpdateIncidentRequest) (*UpdatedIncident, error) {
	incident, err := s.get(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}

	target := strings.TrimSpace(req.Status)
	if target != "" && !validStatuses[target] {
		return nil, newError(ErrValidation, "Invalid status: %s", target)
	}
	if incident.Status == models.StatusClosed {
		if target == "" {
			target = models.StatusClosed
		}
		return nil, &TransitionError{From: incident.Status, To: target}
	}
	if target == incident.Status {
		target = ""
	}
	if target != "" && !canTransition(incident.Status, target) {
		return nil, &TransitionError{From: incident.Status, To: target}
	}
	resolution := strings.TrimSpace(req.Resolution)
	if target == models.StatusResolved && resolution == "" {
		return nil, newError(ErrValidation, "Resolution is required to resolve an incident")
	}

	now := s.now().UTC()
	change := sqlite.IncidentChange{FromStatus: incident.Status, ToStatus: target}
	if target == models.StatusResolved {
		change.Resolution = &resolution
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		change.Notes = []models.IncidentNote{{AuthorID: actorID, Note: note, CreatedAt: now}}
	}
	for _, a := range req.AdditionalActions {
		if a = strings.TrimSpace(a); a != "" {
			change.Actions = append(change.Actions, models.IncidentAction{Action: a, Source: models.ActionSourceManual, CreatedAt: now})
		}
	}

	if err := s.apply(ctx, incident, change, target, now); err != nil {
		return nil, err
	}

	newStatus := incident.Status
	if target != "" {
		newStatus = target
		if incidentActive(incident.Status) && !incidentActive(target) {
			s.metrics.IncidentsActive.Dec()
		}
	}
	metadata := map[string]interface{}{
		"incident_id": incident.ID,
		"old_status":  incident.Status,
		"new_status":  newStatus,
	}
	if change.Resolution != nil {
		metadata["resolution"] = *change.Resolution
	}
	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventIncidentUpdated,
		ActorID:      actorID,
		Action:       "update_incident",
		ResourceType: ResourceIncident,
		ResourceID:   incident.ID,
		Metadata:     metadata,
	})
	s.publish(ctx, incident.ID)

	return &UpdatedIncident{
		IncidentID: incident.ID,
		OldStatus:  incident.Status,
		NewStatus:  newStatus,
		Message:    "Incident updated successfully",
	}, nil
}

// Escalate moves the incident to escalated and raises severity one step.
func (s *IncidentService) Escalate(ctx context.Context, actorID, incidentID, reason string) (*EscalatedIncident, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(ErrValidation, "escalation_reason is required")
	}
	incident, err := s.get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !incidentActive(incident.Status) {
		return nil, &TransitionError{From: incident.Status, To: models.StatusEscalated}
	}

	now := s.now().UTC()
	next := models.NextSeverity(incident.Severity)
	change := sqlite.IncidentChange{
		FromStatus:       incident.Status,
		ToStatus:         models.StatusEscalated,
		FromSeverity:     incident.Severity,
		ToSeverity:       next,
		EscalationReason: &reason,
		Notes: []models.IncidentNote{{
			AuthorID:  actorID,
			Note:      "Incident escalated: " + reason,
			CreatedAt: now,
		}},
	}
	if err := s.apply(ctx, incident, change, models.StatusEscalated, now); err != nil {
		return nil, err
	}

	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventIncidentUpdated,
		ActorID:      actorID,
		Action:       "escalate_incident",
		ResourceType: ResourceIncident,
		ResourceID:   incident.ID,
		Metadata: map[string]interface{}{
			"incident_id":       incident.ID,
			"old_status":        incident.Status,
			"new_status":        models.StatusEscalated,
			"previous_severity": incident.Severity,
			"new_severity":      next,
			"escalation_reason": reason,
		},
	})
	if incident.AssigneeID != nil {
		s.notify(*incident.AssigneeID, "incident_escalated", map[string]interface{}{
			"incident_id": incident.ID,
			"severity":    next,
			"reason":      reason,
		})
	}
	s.publish(ctx, incident.ID)

	return &EscalatedIncident{
		IncidentID:       incident.ID,
		PreviousSeverity: incident.Severity,
		NewSeverity:      next,
		Message:          "Incident escalated successfully",
	}, nil
}

// apply runs a guarded change and reports a lost race as a transition error naming the
// status that won.
func (s *IncidentService) apply(ctx context.Context, incident *models.Incident, change sqlite.IncidentChange, target string, now time.Time) error {
	err := s.incidents.Apply(ctx, incident.ID, change, now)
	if errors.Is(err, sqlite.ErrNotFound) {
		return newError(ErrNotFound, "Incident not found")
	}
	if errors.Is(err, sqlite.ErrConflict) {
		current := incident.Status
		if reloaded, getErr := s.incidents.Get(ctx, incident.ID); getErr == nil {
			current = reloaded.Status
		}
		if target == "" {
			target = current
		}
		return &TransitionError{From: current, To: target}
	}
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	return nil
}

// Contain runs automated containment on demand.
func (s *IncidentService) Contain(ctx context.Context, incidentID string) (*ContainmentResult, error) {
	incident, err := s.get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.StatusClosed {
		return nil, newError(ErrInvalidTransition, "Closed incidents cannot be modified")
	}
	taken, err := s.AutomatedContainment(ctx, incident)
	if err != nil {
		return nil, err
	}
	if len(taken) == 0 {
		return &ContainmentResult{
			IncidentID:   incident.ID,
			ActionsTaken: []string{},
			Message:      "No automated response applies to this incident",
		}, nil
	}
	s.publish(ctx, incident.ID)
	return &ContainmentResult{IncidentID: incident.ID, ActionsTaken: taken, Message: "Automated response completed"}, nil
}

// AutomatedContainment locks the affected principals of access-related incidents and
// terminates all their sessions. Locking an already locked principal changes nothing.
func (s *IncidentService) AutomatedContainment(ctx context.Context, incident *models.Incident) ([]string, error) {
	tmpl := s.settings.IncidentTemplates(ctx).For(incident.Type)
	if !tmpl.Contain || len(incident.AffectedPrincipals) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	reason := "Security incident: " + incident.ID
	affected := incident.AffectedPrincipals
	locked, terminated, contained := 0, 0, 0
	var failure error
	for _, principalID := range affected {
		changed, err := s.directory.LockPrincipal(ctx, principalID, reason, now)
		switch {
		case errors.Is(err, sqlite.ErrNotFound):
			s.logger.Warn("Affected principal not in directory",
				zap.String("incident_id", incident.ID), util.Principal(principalID))
		case err != nil:
			failure = fmt.Errorf("failed to lock %s: %w", principalID, err)
		case changed:
			locked++
		}
		if failure != nil {
			break
		}

		n, err := s.sessions.TerminateAllForPrincipal(ctx, principalID, reason)
		if err != nil {
			failure = err
			break
		}
		terminated += n
		contained++
	}
	if failure != nil && locked == 0 && contained == 0 {
		return nil, failure
	}

	taken := []string{fmt.Sprintf("Locked %d affected user account(s)", locked)}
	if contained == len(affected) {
		taken = append(taken, "Terminated all active sessions for affected users")
	} else {
		taken = append(taken, fmt.Sprintf("Terminated active sessions for %d of %d affected user(s)", contained, len(affected)))
	}

	recipient := ""
	if incident.AssigneeID != nil {
		recipient = *incident.AssigneeID
	} else if id := s.findResponder(ctx, incident.ID); id != nil {
		recipient = *id
	}
	if recipient != "" {
		s.notify(recipient, "containment_executed", map[string]interface{}{
			"incident_id":     incident.ID,
			"affected_users":  affected,
			"locked_accounts": locked,
		})
		taken = append(taken, "Sent notifications to security team")
	}

	actions := make([]models.IncidentAction, 0, len(taken))
	for _, a := range taken {
		actions = append(actions, models.IncidentAction{Action: a, Source: models.ActionSourceContainment, CreatedAt: now})
	}
	if err := s.incidents.AppendActions(ctx, incident.ID, actions, now); err != nil {
		return nil, fmt.Errorf("failed to record containment actions: %w", err)
	}
	s.metrics.Containments.Inc()

	metadata := map[string]interface{}{
		"incident_id":           incident.ID,
		"actions_taken":         taken,
		"affected_users":        affected,
		"sessions_terminated":   terminated,
		"accounts_newly_locked": locked,
	}
	if failure != nil {
		metadata["error"] = failure.Error()
	}
	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventAutomatedResponse,
		Action:       "automated_containment",
		ResourceType: ResourceIncident,
		ResourceID:   incident.ID,
		Success:      boolPtr(failure == nil),
		Metadata:     metadata,
	})
	if failure != nil {
		s.logger.Error("Automated containment stopped early",
			zap.String("incident_id", incident.ID),
			zap.Int("locked", locked),
			zap.Int("contained", contained),
			zap.Error(failure))
		return taken, failure
	}
	s.logger.Info("Automated containment executed",
		zap.String("incident_id", incident.ID),
		zap.Int("locked", locked),
		zap.Int("sessions_terminated", terminated))
	return taken, nil
}

// GetActive groups open, investigating and escalated incidents by severity.
func (s *IncidentService) GetActive(ctx context.Context) (*models.ActiveIncidents, error) {
	incidents, err := s.incidents.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active incidents: %w", err)
	}
	sort.SliceStable(incidents, func(i, j int) bool {
		return models.SeverityRank(incidents[i].Severity) > models.SeverityRank(incidents[j].Severity)
	})

	out := &models.ActiveIncidents{
		Incidents: incidents,
		BySeverity: map[string][]*models.Incident{
			models.SeverityCritical: {},
			models.SeverityHigh:     {},
			models.SeverityMedium:   {},
			models.SeverityLow:      {},
		},
		Total: len(incidents),
	}
	if out.Incidents == nil {
		out.Incidents = []*models.Incident{}
	}
	for _, inc := range incidents {
		out.BySeverity[inc.Severity] = append(out.BySeverity[inc.Severity], inc)
	}
	out.CriticalCount = len(out.BySeverity[models.SeverityCritical])
	out.RequiresImmediateAttention = out.CriticalCount + len(out.BySeverity[models.SeverityHigh])
	s.metrics.IncidentsActive.Set(float64(out.Total))
	return out, nil
}

// GetByID returns the incident with a timeline merged from its own timestamps, notes and
// the audit events that reference it, oldest first.
func (s *IncidentService) GetByID(ctx context.Context, incidentID string) (*models.IncidentDetail, error) {
	incident, err := s.get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	related, err := s.audit.events.ForResource(ctx, ResourceIncident, incident.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load incident audit trail: %w", err)
	}

	timeline := []models.TimelineEntry{{
		Timestamp:   incident.CreatedAt,
		Event:       "Incident Created",
		Description: fmt.Sprintf("%s incident reported: %s", incident.Severity, incident.Title),
		ActorID:     incident.ReporterID,
	}}
	if incident.EscalatedAt != nil {
		desc := "Incident escalated"
		if incident.EscalationReason != nil {
			desc += ": " + *incident.EscalationReason
		}
		timeline = append(timeline, models.TimelineEntry{Timestamp: *incident.EscalatedAt, Event: "Incident Escalated", Description: desc})
	}
	if incident.ResolvedAt != nil {
		desc := "Incident resolved"
		if incident.Resolution != nil {
			desc += ": " + *incident.Resolution
		}
		timeline = append(timeline, models.TimelineEntry{Timestamp: *incident.ResolvedAt, Event: "Incident Resolved", Description: desc})
	}
	if incident.ClosedAt != nil {
		timeline = append(timeline, models.TimelineEntry{Timestamp: *incident.ClosedAt, Event: "Incident Closed", Description: "Incident closed"})
	}
	for _, n := range incident.Notes {
		timeline = append(timeline, models.TimelineEntry{Timestamp: n.CreatedAt, Event: "Note Added", Description: n.Note, ActorID: n.AuthorID})
	}
	for _, e := range related {
		timeline = append(timeline, models.TimelineEntry{Timestamp: e.CreatedAt, Event: e.EventType, Description: e.Action, ActorID: e.ActorID})
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})

	return &models.IncidentDetail{Incident: incident, Timeline: timeline}, nil
}

func (s *IncidentService) List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	if filter.Status != "" && !validStatuses[filter.Status] {
		return nil, newError(ErrValidation, "Invalid status: %s", filter.Status)
	}
	if filter.Severity != "" && !models.ValidSeverity(filter.Severity) {
		return nil, newError(ErrValidation, "Invalid severity: %s", filter.Severity)
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	incidents, err := s.incidents.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return nonNilIncidents(incidents), nil
}

// Search uses the full-text index when configured and the store otherwise.
func (s *IncidentService) Search(ctx context.Context, query string, limit int) ([]*models.Incident, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newError(ErrValidation, "query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	if s.searcher != nil {
		ids, err := s.searcher.SearchIncidents(ctx, query, limit)
		if err == nil {
			incidents := make([]*models.Incident, 0, len(ids))
			for _, id := range ids {
				inc, err := s.incidents.Get(ctx, id)
				if errors.Is(err, sqlite.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("failed to load incident: %w", err)
				}
				incidents = append(incidents, inc)
			}
			return incidents, nil
		}
		s.logger.Warn("Incident index search failed, using store", zap.Error(err))
	}

	incidents, err := s.incidents.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search incidents: %w", err)
	}
	return nonNilIncidents(incidents), nil
}

func (s *IncidentService) get(ctx context.Context, id string) (*models.Incident, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError(ErrValidation, "incident_id is required")
	}
	incident, err := s.incidents.Get(ctx, id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, newError(ErrNotFound, "Incident not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident: %w", err)
	}
	return incident, nil
}

// publish sends the committed state of the incident to the stream sinks.
func (s *IncidentService) publish(ctx context.Context, id string) {
	if s.publisher == nil {
		return
	}
	incident, err := s.incidents.Get(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to reload incident for publishing", zap.String("incident_id", id), zap.Error(err))
		return
	}
	s.publisher.PublishIncident(incident)
}

// notify is fire-and-forget; delivery runs on its own deadline.
func (s *IncidentService) notify(principalID, template string, data map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, principalID, template, data); err != nil {
			s.logger.Warn("Notification failed",
				util.Principal(principalID),
				zap.String("template", template),
				zap.Error(err))
		}
	}()
}

func incidentActive(status string) bool {
	return status == models.StatusOpen || status == models.StatusInvestigating || status == models.StatusEscalated
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func nonNilIncidents(incidents []*models.Incident) []*models.Incident {
	if incidents == nil {
		return []*models.Incident{}
	}
	return incidents
}
