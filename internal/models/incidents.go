package models

import "time"

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusEscalated     = "escalated"
	StatusResolved      = "resolved"
	StatusClosed        = "closed"
)

const (
	IncidentUnauthorizedAccess = "unauthorized_access"
	IncidentDataBreach         = "data_breach"
	IncidentMalwareDetected    = "malware_detected"
	IncidentSuspiciousBehavior = "suspicious_behavior"
	IncidentHighRiskAction     = "high_risk_action"
)

var severityOrder = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// SeverityRank returns the position on the ordered scale, or -1 when unknown.
func SeverityRank(severity string) int {
	for i, s := range severityOrder {
		if s == severity {
			return i
		}
	}
	return -1
}

// NextSeverity bumps one step; critical stays critical.
func NextSeverity(severity string) string {
	rank := SeverityRank(severity)
	if rank < 0 || rank == len(severityOrder)-1 {
		return SeverityCritical
	}
	return severityOrder[rank+1]
}

func ValidSeverity(severity string) bool {
	return SeverityRank(severity) >= 0
}

// Incident is a tracked security event. Rows are never deleted.
type Incident struct {
	ID                 string           `json:"incident_id" db:"id"`
	Type               string           `json:"incident_type" db:"incident_type"`
	Severity           string           `json:"severity" db:"severity"`
	Status             string           `json:"status" db:"status"`
	Title              string           `json:"title" db:"title"`
	Description        string           `json:"description" db:"description"`
	AffectedPrincipals []string         `json:"affected_users" db:"affected_principals"`
	AffectedSystems    []string         `json:"affected_systems" db:"affected_systems"`
	DetectionMethod    string           `json:"detection_method" db:"detection_method"`
	Indicators         []string         `json:"indicators" db:"indicators"`
	ResponseActions    []IncidentAction `json:"response_actions"`
	Notes              []IncidentNote   `json:"notes"`
	ReporterID         string           `json:"reported_by" db:"reporter_id"`
	AssigneeID         *string          `json:"assigned_to,omitempty" db:"assignee_id"`
	Resolution         *string          `json:"resolution,omitempty" db:"resolution"`
	EscalationReason   *string          `json:"escalation_reason,omitempty" db:"escalation_reason"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
	EscalatedAt        *time.Time       `json:"escalated_at,omitempty" db:"escalated_at"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	ClosedAt           *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
}

func (i *Incident) IsActive() bool {
	return i.Status == StatusOpen || i.Status == StatusInvestigating || i.Status == StatusEscalated
}

type IncidentNote struct {
	AuthorID  string    `json:"author_id" db:"author_id"`
	Note      string    `json:"note" db:"note"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
}

const (
	ActionSourceTemplate    = "template"
	ActionSourceManual      = "manual"
	ActionSourceContainment = "containment"
)

type IncidentAction struct {
	Action    string    `json:"action" db:"action"`
	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
}

type TimelineEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Event       string    `json:"event"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id,omitempty"`
}

// IncidentDetail is an incident with its merged, time-ordered timeline.
type IncidentDetail struct {
	Incident *Incident       `json:"incident"`
	Timeline []TimelineEntry `json:"timeline"`
}

// ActiveIncidents groups open/investigating/escalated incidents by severity.
type ActiveIncidents struct {
	Incidents                  []*Incident            `json:"incidents"`
	BySeverity                 map[string][]*Incident `json:"by_severity"`
	Total                      int                    `json:"total"`
	CriticalCount              int                    `json:"critical_count"`
	RequiresImmediateAttention int                    `json:"requires_immediate_attention"`
}

// IncidentFilter narrows incident listings; zero values are ignored.
type IncidentFilter struct {
	Status   string `json:"status"`
	Severity string `json:"severity"`
	Limit    int    `json:"limit"`
}
