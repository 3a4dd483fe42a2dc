package service

import "clinic-secops/internal/models"

const (
	finalResponseAction = "Update incident status regularly"
	defaultTemplateKey  = "default"
)

// ResponseTemplate is the declarative playbook for one incident type. Contain marks
// access-related types whose affected principals are locked out automatically.
type ResponseTemplate struct {
	Actions         []string `json:"actions"`
	CriticalActions []string `json:"critical_actions,omitempty"`
	Contain         bool     `json:"contain"`
}

// IncidentTemplates is keyed by incident type; "default" covers unknown types.
type IncidentTemplates map[string]ResponseTemplate

func DefaultIncidentTemplates() IncidentTemplates {
	return IncidentTemplates{
		models.IncidentUnauthorizedAccess: {
			Actions: []string{
				"Lock affected user account",
				"Review access logs for the past 24 hours",
				"Notify security team",
			},
			CriticalActions: []string{
				"Force password reset for affected users",
				"Terminate all active sessions",
			},
			Contain: true,
		},
		models.IncidentDataBreach: {
			Actions: []string{
				"Isolate affected systems",
				"Notify management immediately",
				"Preserve evidence and logs",
				"Begin breach assessment",
			},
			CriticalActions: []string{
				"Notify PDPC (Personal Data Protection Commission)",
				"Prepare patient notification",
			},
		},
		models.IncidentMalwareDetected: {
			Actions: []string{
				"Quarantine affected system",
				"Run full system scan",
				"Check for lateral movement",
			},
		},
		models.IncidentSuspiciousBehavior: {
			Actions: []string{
				"Monitor user activity",
				"Review recent actions",
				"Enable enhanced logging",
			},
			Contain: true,
		},
		defaultTemplateKey: {
			Actions: []string{
				"Document incident details",
				"Begin investigation",
			},
		},
	}
}

func (t IncidentTemplates) For(incidentType string) ResponseTemplate {
	if tmpl, ok := t[incidentType]; ok {
		return tmpl
	}
	return t[defaultTemplateKey]
}

// Checklist is the initial response-action list; it always ends with the status reminder.
func (t IncidentTemplates) Checklist(incidentType, severity string) []string {
	tmpl := t.For(incidentType)
	actions := append([]string{}, tmpl.Actions...)
	if severity == models.SeverityCritical {
		actions = append(actions, tmpl.CriticalActions...)
	}
	return append(actions, finalResponseAction)
}
