package models

import "time"

// Principal is the identity-directory view of an authenticated actor.
type Principal struct {
	ID          string     `json:"id" db:"id"`
	Role        string     `json:"role" db:"role"`
	Email       string     `json:"email" db:"email"`
	DisplayName string     `json:"display_name" db:"display_name"`
	Department  string     `json:"department,omitempty" db:"department"`
	Locked      bool       `json:"locked" db:"locked"`
	LockReason  *string    `json:"lock_reason,omitempty" db:"lock_reason"`
	LockedAt    *time.Time `json:"locked_at,omitempty" db:"locked_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Consent is a patient's recorded permission for one kind of data use.
type Consent struct {
	PatientID   string     `json:"patient_id" db:"patient_id"`
	ConsentType string     `json:"consent_type" db:"consent_type"`
	Granted     bool       `json:"granted" db:"granted"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

func (c *Consent) ValidAt(now time.Time) bool {
	return c.Granted && (c.ExpiresAt == nil || now.Before(*c.ExpiresAt))
}

// BehaviorProfile is the learned baseline for a principal; read-only here.
type BehaviorProfile struct {
	PrincipalID      string    `json:"principal_id" db:"principal_id"`
	TypicalHours     []int     `json:"typical_hours" db:"typical_hours"`
	TypicalIPs       []string  `json:"typical_ips" db:"typical_ips"`
	TypicalDevices   []string  `json:"typical_devices" db:"typical_devices"`
	TypicalActions   []string  `json:"typical_actions" db:"typical_actions"`
	AnomalyThreshold int       `json:"anomaly_threshold" db:"anomaly_threshold"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
