package models

import "time"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
)

const (
	ReasonLimitExceeded    = "Session limit exceeded"
	ReasonUserTerminated   = "User requested termination"
	ReasonOthersTerminated = "User terminated all other sessions"
	ReasonExpired          = "Session expired"
)

// Session is one principal's authenticated device context. Only the keyed digest of
// the bearer token is stored.
type Session struct {
	ID                string        `json:"id" db:"id"`
	PrincipalID       string        `json:"principal_id" db:"principal_id"`
	Role              string        `json:"role" db:"role"`
	TokenHash         string        `json:"-" db:"token_hash"`
	IPAddress         string        `json:"ip_address" db:"ip_address"`
	Browser           string        `json:"browser" db:"browser"`
	OS                string        `json:"os" db:"os"`
	DeviceType        string        `json:"device_type" db:"device_type"`
	DeviceFingerprint string        `json:"-" db:"device_fingerprint"`
	Location          string        `json:"location" db:"location"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	LastActivity      time.Time     `json:"last_activity" db:"last_activity"`
	ExpiresAt         time.Time     `json:"expires_at" db:"expires_at"`
	IdleTimeout       time.Duration `json:"-" db:"idle_timeout_seconds"`
	IsActive          bool          `json:"is_active" db:"is_active"`
	TerminatedAt      *time.Time    `json:"terminated_at,omitempty" db:"terminated_at"`
	TerminationReason *string       `json:"termination_reason,omitempty" db:"termination_reason"`
}

// ActiveAt applies lazy expiry: a row flagged active is only live before its expiry.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// SessionView is the redacted form returned to callers.
type SessionView struct {
	ID           string    `json:"id"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	DeviceType   string    `json:"device_type"`
	IPAddress    string    `json:"ip_address"`
	Location     string    `json:"location"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

func (s *Session) View(currentID string) SessionView {
	return SessionView{
		ID:           s.ID,
		Browser:      s.Browser,
		OS:           s.OS,
		DeviceType:   s.DeviceType,
		IPAddress:    s.IPAddress,
		Location:     s.Location,
		LastActivity: s.LastActivity,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		IsCurrent:    s.ID == currentID,
	}
}
