package models

import "time"

const MethodTOTP = "totp"

type TwoFactorState string

const (
	TwoFactorUnconfigured TwoFactorState = "unconfigured"
	TwoFactorPending      TwoFactorState = "pending_verification"
	TwoFactorEnabled      TwoFactorState = "enabled"
	TwoFactorDisabled     TwoFactorState = "disabled"
)

// TwoFactorCredential is one (principal, method) enrollment. The secret is held
// envelope-encrypted and is cleared on disable.
type TwoFactorCredential struct {
	PrincipalID      string         `json:"principal_id" db:"principal_id"`
	Method           string         `json:"method" db:"method"`
	State            TwoFactorState `json:"state" db:"state"`
	SecretCiphertext string         `json:"-" db:"secret_ciphertext"`
	SecretDEK        string         `json:"-" db:"secret_dek"`
	SecretKeyID      string         `json:"-" db:"secret_key_id"`
	VerifiedAt       *time.Time     `json:"verified_at,omitempty" db:"verified_at"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

func (c *TwoFactorCredential) Enabled() bool {
	return c.State == TwoFactorEnabled
}

type TwoFactorMethodStatus struct {
	Method     string         `json:"method"`
	IsEnabled  bool           `json:"is_enabled"`
	State      TwoFactorState `json:"state"`
	VerifiedAt *time.Time     `json:"verified_at,omitempty"`
}

type TwoFactorStatus struct {
	Enabled bool                    `json:"enabled"`
	Methods []TwoFactorMethodStatus `json:"methods"`
}
