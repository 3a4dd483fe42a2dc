package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// SeedFile is the optional TOML document named by SETTINGS_FILE. Settings values are
// stored as JSON keyed by their top-level table name.
type SeedFile struct {
	Settings      map[string]interface{} `toml:"settings"`
	Principals    []SeedPrincipal        `toml:"principals"`
	Credentials   []SeedCredential       `toml:"credentials"`
	Relationships []SeedRelationship     `toml:"relationships"`
	Consents      []SeedConsent          `toml:"consents"`
	Profiles      []SeedProfile          `toml:"profiles"`
}

type SeedPrincipal struct {
	ID          string `toml:"id"`
	Role        string `toml:"role"`
	Email       string `toml:"email"`
	DisplayName string `toml:"display_name"`
	Department  string `toml:"department"`
}

type SeedCredential struct {
	Token       string `toml:"token"`
	PrincipalID string `toml:"principal_id"`
	TTLHours    int    `toml:"ttl_hours"`
}

type SeedRelationship struct {
	DoctorID  string `toml:"doctor_id"`
	PatientID string `toml:"patient_id"`
}

type SeedConsent struct {
	PatientID   string `toml:"patient_id"`
	ConsentType string `toml:"consent_type"`
	Granted     bool   `toml:"granted"`
	ExpiresIn   string `toml:"expires_in"`
}

type SeedProfile struct {
	PrincipalID      string   `toml:"principal_id"`
	TypicalHours     []int    `toml:"typical_hours"`
	TypicalIPs       []string `toml:"typical_ips"`
	TypicalDevices   []string `toml:"typical_devices"`
	TypicalActions   []string `toml:"typical_actions"`
	AnomalyThreshold int      `toml:"anomaly_threshold"`
}

// LoadSeedFile decodes the seed document at path.
func LoadSeedFile(path string) (*SeedFile, error) {
	var seed SeedFile
	meta, err := toml.DecodeFile(path, &seed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("seed file %s has unknown keys: %v", path, undecoded)
	}
	for i, p := range seed.Principals {
		if p.ID == "" || p.Role == "" {
			return nil, fmt.Errorf("seed principal %d: id and role are required", i)
		}
	}
	return &seed, nil
}
