package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinic-secops/internal/models"

	"go.uber.org/zap"
)

const (
	SettingSessionTimeout      = "session_timeout"
	SettingMaxSessions         = "max_concurrent_sessions"
	SettingRiskThresholds      = "risk_thresholds"
	SettingRiskWeights         = "risk_weights"
	SettingAuditAlertThreshold = "audit_alert_threshold"
	SettingIncidentTemplates   = "incident_response_templates"
)

const (
	fallbackTimeoutMinutes = 30
	fallbackMaxSessions    = 3
	defaultAlertThreshold  = 70
)

var defaultSessionTimeouts = map[string]int{
	"patient_minutes": 30,
	"doctor_minutes":  60,
	"admin_minutes":   120,
	"staff_minutes":   30,
}

var defaultMaxSessions = map[string]int{
	models.RolePatient: 3,
	models.RoleDoctor:  2,
	models.RoleAdmin:   2,
	models.RoleStaff:   3,
}

// Settings reads named configuration values. A missing or unreadable value is a
// configuration error: it is logged and the documented default is used.
type Settings struct {
	store  SettingsStore
	logger *zap.Logger
}

func NewSettings(store SettingsStore, logger *zap.Logger) *Settings {
	return &Settings{store: store, logger: logger}
}

// SessionPolicy returns the idle timeout and concurrency cap for role.
func (s *Settings) SessionPolicy(ctx context.Context, role string) (time.Duration, int) {
	timeouts := copyInts(defaultSessionTimeouts)
	s.decode(ctx, SettingSessionTimeout, &timeouts)
	limits := copyInts(defaultMaxSessions)
	s.decode(ctx, SettingMaxSessions, &limits)

	minutes, ok := timeouts[role+"_minutes"]
	if !ok || minutes <= 0 {
		s.configurationError(SettingSessionTimeout, fmt.Sprintf("no timeout for role %q", role))
		minutes = fallbackTimeoutMinutes
	}
	maxSessions, ok := limits[role]
	if !ok || maxSessions <= 0 {
		s.configurationError(SettingMaxSessions, fmt.Sprintf("no session cap for role %q", role))
		maxSessions = fallbackMaxSessions
	}
	return time.Duration(minutes) * time.Minute, maxSessions
}

func (s *Settings) RiskThresholds(ctx context.Context) RiskThresholds {
	t := DefaultRiskThresholds()
	s.decode(ctx, SettingRiskThresholds, &t)
	return t
}

// RiskWeights overlays stored weights on the defaults; action entries are merged.
func (s *Settings) RiskWeights(ctx context.Context) RiskWeights {
	w := DefaultRiskWeights()
	var stored RiskWeights
	if !s.decodeQuiet(ctx, SettingRiskWeights, &stored) {
		return w
	}
	for action, points := range stored.ActionBase {
		w.ActionBase[action] = points
	}
	overlayNonZero(&w, stored)
	return w
}

func (s *Settings) AuditAlertThreshold(ctx context.Context) int {
	threshold := defaultAlertThreshold
	s.decode(ctx, SettingAuditAlertThreshold, &threshold)
	return threshold
}

// IncidentTemplates merges stored templates over the built-in table by incident type.
func (s *Settings) IncidentTemplates(ctx context.Context) IncidentTemplates {
	templates := DefaultIncidentTemplates()
	var stored IncidentTemplates
	if !s.decodeQuiet(ctx, SettingIncidentTemplates, &stored) {
		return templates
	}
	for incidentType, tmpl := range stored {
		templates[incidentType] = tmpl
	}
	return templates
}

// decode fills dst from key, logging a configuration error when the key is absent.
func (s *Settings) decode(ctx context.Context, key string, dst interface{}) bool {
	raw, found, err := s.lookup(ctx, key)
	if err != nil {
		s.configurationError(key, err.Error())
		return false
	}
	if !found {
		s.configurationError(key, "setting not found")
		return false
	}
	return s.unmarshal(key, raw, dst)
}

// decodeQuiet is decode for optional overrides whose absence is normal.
func (s *Settings) decodeQuiet(ctx context.Context, key string, dst interface{}) bool {
	raw, found, err := s.lookup(ctx, key)
	if err != nil {
		s.configurationError(key, err.Error())
		return false
	}
	if !found {
		return false
	}
	return s.unmarshal(key, raw, dst)
}

func (s *Settings) lookup(ctx context.Context, key string) (string, bool, error) {
	if s.store == nil {
		return "", false, nil
	}
	return s.store.Get(ctx, key)
}

func (s *Settings) unmarshal(key, raw string, dst interface{}) bool {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.configurationError(key, "malformed value: "+err.Error())
		return false
	}
	return true
}

func (s *Settings) configurationError(key, detail string) {
	s.logger.Warn("Using default setting",
		zap.String("key", key),
		zap.Error(fmt.Errorf("%w: %s", ErrConfiguration, detail)))
}

func overlayNonZero(dst *RiskWeights, src RiskWeights) {
	pick := func(d *int, v int) {
		if v != 0 {
			*d = v
		}
	}
	pick(&dst.DefaultAction, src.DefaultAction)
	pick(&dst.OffHours, src.OffHours)
	pick(&dst.OffHoursStart, src.OffHoursStart)
	pick(&dst.OffHoursEnd, src.OffHoursEnd)
	pick(&dst.Weekend, src.Weekend)
	pick(&dst.WeekendMinBase, src.WeekendMinBase)
	pick(&dst.UnusualAction, src.UnusualAction)
	pick(&dst.UnusualTime, src.UnusualTime)
	pick(&dst.NewIP, src.NewIP)
	pick(&dst.NewDevice, src.NewDevice)
	pick(&dst.FailureEach, src.FailureEach)
	pick(&dst.FailureCap, src.FailureCap)
	pick(&dst.RapidActions, src.RapidActions)
	pick(&dst.RapidThreshold, src.RapidThreshold)
	pick(&dst.Sensitive, src.Sensitive)
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
