package sqlite

import (
	"context"
	"fmt"
	"time"

	"clinic-secops/internal/config"
	"clinic-secops/internal/models"
	"clinic-secops/internal/util"

	"go.uber.org/zap"
)

// ApplySeed upserts everything in seed. credentialDigest turns a raw credential token into
// the digest stored in the credentials table.
func ApplySeed(ctx context.Context, db *DB, seed *config.SeedFile, credentialDigest func(string) string, now time.Time) error {
	settings := NewSettingsRepository(db)
	directory := NewDirectoryRepository(db)
	profiles := NewProfileRepository(db)

	for key, value := range seed.Settings {
		raw, err := encodeJSON(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		if err := settings.Set(ctx, key, raw, now); err != nil {
			return err
		}
	}

	for _, sp := range seed.Principals {
		if err := directory.UpsertPrincipal(ctx, &models.Principal{
			ID:          sp.ID,
			Role:        sp.Role,
			Email:       sp.Email,
			DisplayName: sp.DisplayName,
			Department:  sp.Department,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
	}

	for _, sc := range seed.Credentials {
		var expiresAt *time.Time
		if sc.TTLHours > 0 {
			t := now.Add(time.Duration(sc.TTLHours) * time.Hour)
			expiresAt = &t
		}
		if err := directory.AddCredential(ctx, credentialDigest(sc.Token), sc.PrincipalID, expiresAt); err != nil {
			return err
		}
	}

	for _, rel := range seed.Relationships {
		if err := directory.AddRelationship(ctx, rel.DoctorID, rel.PatientID, now); err != nil {
			return err
		}
	}

	for _, sc := range seed.Consents {
		consent := &models.Consent{
			PatientID:   sc.PatientID,
			ConsentType: sc.ConsentType,
			Granted:     sc.Granted,
			CreatedAt:   now,
		}
		if sc.ExpiresIn != "" {
			d, err := time.ParseDuration(sc.ExpiresIn)
			if err != nil {
				return fmt.Errorf("consent %s/%s: invalid expires_in: %w", sc.PatientID, sc.ConsentType, err)
			}
			t := now.Add(d)
			consent.ExpiresAt = &t
		}
		if err := directory.UpsertConsent(ctx, consent); err != nil {
			return err
		}
	}

	for _, sp := range seed.Profiles {
		threshold := sp.AnomalyThreshold
		if threshold == 0 {
			threshold = 50
		}
		if err := profiles.Upsert(ctx, &models.BehaviorProfile{
			PrincipalID:      sp.PrincipalID,
			TypicalHours:     sp.TypicalHours,
			TypicalIPs:       sp.TypicalIPs,
			TypicalDevices:   sp.TypicalDevices,
			TypicalActions:   sp.TypicalActions,
			AnomalyThreshold: threshold,
			UpdatedAt:        now,
		}); err != nil {
			return err
		}
	}

	util.Info("Seed data applied",
		zap.Int("settings", len(seed.Settings)),
		zap.Int("principals", len(seed.Principals)),
		zap.Int("credentials", len(seed.Credentials)),
		zap.Int("consents", len(seed.Consents)))
	return nil
}
