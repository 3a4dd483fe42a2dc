package models

const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

type RiskFactor struct {
	Name   string      `json:"factor"`
	Value  interface{} `json:"value"`
	Points int         `json:"points"`
}

type RiskDecision struct {
	Allowed          bool   `json:"allowed"`
	RequiresMFA      bool   `json:"requires_mfa"`
	RequiresApproval bool   `json:"requires_approval"`
	Blocked          bool   `json:"blocked"`
	Message          string `json:"message"`
}

// RiskAssessment is computed per request and persisted only as audit metadata.
type RiskAssessment struct {
	PrincipalID     string       `json:"principal_id"`
	ActionType      string       `json:"action_type"`
	Score           int          `json:"risk_score"`
	Level           string       `json:"risk_level"`
	Factors         []RiskFactor `json:"risk_factors"`
	Decision        RiskDecision `json:"decision"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// PrincipalRisk is the account-level risk profile of one principal.
type PrincipalRisk struct {
	PrincipalID     string       `json:"principal_id"`
	Score           int          `json:"risk_score"`
	Level           string       `json:"risk_level"`
	Factors         []RiskFactor `json:"risk_factors"`
	Recommendations []string     `json:"recommendations"`
}

// AnomalyReport compares one observed login against the principal's baseline.
type AnomalyReport struct {
	PrincipalID    string   `json:"principal_id"`
	IsAnomaly      bool     `json:"is_anomaly"`
	Score          int      `json:"risk_score"`
	Anomalies      []string `json:"anomalies"`
	ActionRequired bool     `json:"action_required"`
	Reason         string   `json:"reason,omitempty"`
	IncidentID     string   `json:"incident_id,omitempty"`
}
