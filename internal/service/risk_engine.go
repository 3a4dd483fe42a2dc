package service

import (
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/models"
	"clinic-secops/internal/util"
)

// RiskWeights are the point values of the additive risk model.
type RiskWeights struct {
	ActionBase     map[string]int `json:"action_base"`
	DefaultAction  int            `json:"default_action"`
	OffHours       int            `json:"off_hours"`
	OffHoursStart  int            `json:"off_hours_start"`
	OffHoursEnd    int            `json:"off_hours_end"`
	Weekend        int            `json:"weekend"`
	WeekendMinBase int            `json:"weekend_min_base"`
	UnusualAction  int            `json:"unusual_action"`
	UnusualTime    int            `json:"unusual_time"`
	NewIP          int            `json:"new_ip"`
	NewDevice      int            `json:"new_device"`
	FailureEach    int            `json:"failure_each"`
	FailureCap     int            `json:"failure_cap"`
	RapidActions   int            `json:"rapid_actions"`
	RapidThreshold int            `json:"rapid_threshold"`
	Sensitive      int            `json:"sensitive"`
}

func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		ActionBase: map[string]int{
			"export_medical_records": 50,
			"delete_patient":         45,
			"download_bulk_data":     45,
			"modify_prescription":    40,
			"change_user_role":       40,
			"access_all_patients":    35,
			"access_medical_record":  25,
			"view_prescription":      15,
			"book_appointment":       5,
		},
		DefaultAction:  10,
		OffHours:       20,
		OffHoursStart:  8,
		OffHoursEnd:    22,
		Weekend:        10,
		WeekendMinBase: 30,
		UnusualAction:  15,
		UnusualTime:    10,
		NewIP:          30,
		NewDevice:      25,
		FailureEach:    5,
		FailureCap:     25,
		RapidActions:   20,
		RapidThreshold: 10,
		Sensitive:      15,
	}
}

// IsOffHours reports whether a local hour falls outside [OffHoursStart, OffHoursEnd].
func (w RiskWeights) IsOffHours(hour int) bool {
	return hour < w.OffHoursStart || hour > w.OffHoursEnd
}

// RiskThresholds map a score to a level and to the gating decision.
type RiskThresholds struct {
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
	MFA      int `json:"mfa"`
	Approval int `json:"approval"`
	Block    int `json:"block"`
}

func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Medium: 40, High: 60, Critical: 80, MFA: 60, Approval: 80, Block: 90}
}

func (t RiskThresholds) Level(score int) string {
	switch {
	case score >= t.Critical:
		return models.RiskCritical
	case score >= t.High:
		return models.RiskHigh
	case score >= t.Medium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (t RiskThresholds) Decide(score int) models.RiskDecision {
	d := models.RiskDecision{
		Allowed:          score < t.Block,
		RequiresMFA:      score >= t.MFA,
		RequiresApproval: score >= t.Approval,
		Blocked:          score >= t.Block,
	}
	switch {
	case d.Blocked:
		d.Message = "Action blocked due to high risk"
	case d.RequiresApproval:
		d.Message = "Action requires administrator approval"
	case d.RequiresMFA:
		d.Message = "Please complete MFA verification"
	default:
		d.Message = "Action permitted"
	}
	return d
}

// RiskInput is everything the engine looks at. History counts are gathered by the caller.
type RiskInput struct {
	PrincipalID       string
	ActionType        string
	At                time.Time
	IPAddress         string
	DeviceFingerprint string
	Profile           *models.BehaviorProfile
	RecentFailures    int
	RecentActions     int
}

// Assess sums independent factor points. The score is not capped.
func Assess(in RiskInput, w RiskWeights, t RiskThresholds) models.RiskAssessment {
	var (
		score   int
		factors []models.RiskFactor
	)
	add := func(name string, value interface{}, points int) {
		score += points
		factors = append(factors, models.RiskFactor{Name: name, Value: value, Points: points})
	}

	base, ok := w.ActionBase[in.ActionType]
	if !ok {
		base = w.DefaultAction
	}
	add("action_type", in.ActionType, base)

	local := in.At.In(util.Singapore)
	hour := local.Hour()
	if w.IsOffHours(hour) {
		add("off_hours", fmt.Sprintf("%d:00", hour), w.OffHours)
	}
	if weekday := local.Weekday(); (weekday == time.Saturday || weekday == time.Sunday) && base > w.WeekendMinBase {
		add("weekend_critical_access", true, w.Weekend)
	}

	if p := in.Profile; p != nil {
		if !containsString(p.TypicalActions, in.ActionType) {
			add("unusual_action", in.ActionType, w.UnusualAction)
		}
		if !containsInt(p.TypicalHours, hour) {
			add("unusual_time", hour, w.UnusualTime)
		}
		if in.IPAddress != "" && !containsString(p.TypicalIPs, in.IPAddress) {
			add("new_ip", in.IPAddress, w.NewIP)
		}
		if in.DeviceFingerprint != "" && !containsString(p.TypicalDevices, in.DeviceFingerprint) {
			add("new_device", true, w.NewDevice)
		}
	}

	if in.RecentFailures > 0 {
		points := in.RecentFailures * w.FailureEach
		if points > w.FailureCap {
			points = w.FailureCap
		}
		add("recent_failures", in.RecentFailures, points)
	}
	if in.RecentActions > w.RapidThreshold {
		add("rapid_actions", in.RecentActions, w.RapidActions)
	}
	if strings.Contains(in.ActionType, "export") || strings.Contains(in.ActionType, "download") {
		add("pdpa_sensitive", "data_export", w.Sensitive)
	}

	return models.RiskAssessment{
		PrincipalID: in.PrincipalID,
		ActionType:  in.ActionType,
		Score:       score,
		Level:       t.Level(score),
		Factors:     factors,
		Decision:    t.Decide(score),
	}
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
