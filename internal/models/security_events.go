package models

import "time"

const (
	EventLogin               = "login"
	EventDataAccess          = "data_access"
	EventDataExport          = "data_export"
	EventUserCreation        = "user_creation"
	EventPermissionChange    = "permission_change"
	EventMedicalRecordAccess = "medical_record_access"
	EventPrescriptionCreate  = "prescription_create"
	EventDataDeletion        = "data_deletion"
	EventRiskAssessment      = "risk_assessment"
	EventIncidentCreated     = "incident_created"
	EventIncidentUpdated     = "incident_updated"
	EventAutomatedResponse   = "automated_response"
	EventComplianceCheck     = "compliance_check"
	EventAuditExport         = "audit_export"
	EventSessionCreated      = "session_created"
	EventSessionTerminated   = "session_terminated"
	EventTwoFactor           = "two_factor"
)

// AuditEvent is an append-only record of an action, enriched at write time.
type AuditEvent struct {
	ID           string                 `json:"id" db:"id"`
	EventType    string                 `json:"event_type" db:"event_type"`
	ActorID      string                 `json:"actor_id" db:"actor_id"`
	Action       string                 `json:"action" db:"action"`
	ResourceType string                 `json:"resource_type" db:"resource_type"`
	ResourceID   string                 `json:"resource_id" db:"resource_id"`
	Success      bool                   `json:"success" db:"success"`
	RiskScore    int                    `json:"risk_score" db:"risk_score"`
	IPAddress    string                 `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent    string                 `json:"user_agent,omitempty" db:"user_agent"`
	Purpose      string                 `json:"purpose,omitempty" db:"purpose"`
	Metadata     map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
}

// AuditFilter narrows audit queries; zero values are ignored.
type AuditFilter struct {
	EventType    string    `json:"event_type"`
	ActorID      string    `json:"actor_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Success      *bool     `json:"success"`
	Since        time.Time `json:"since"`
	Until        time.Time `json:"until"`
	Limit        int       `json:"limit"`

	WithoutPurpose bool `json:"-"`
}
