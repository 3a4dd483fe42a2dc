package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/util"

	"go.uber.org/zap"
)

const (
	ConsentDataAccess       = "data_access"
	ConsentDataExport       = "data_export"
	ConsentGeneralTreatment = "general_treatment"

	accessFramework = "Singapore PDPA"
	exportFramework = "Singapore PDPA + Healthcare Regulations"

	maxExportFields         = 20
	maxUnapprovedExportSize = 10
)

// actionConsents lists the consent types any one of which covers an action.
var actionConsents = map[string][]string{
	"access_medical_record":   {ConsentDataAccess, ConsentGeneralTreatment},
	"share_with_third_party":  {"data_sharing", "third_party_disclosure"},
	"export_data":             {ConsentDataExport},
	"marketing_communication": {"marketing"},
	"research_participation":  {"research"},
}

var exportRoles = map[string]bool{
	models.RoleDoctor: true,
	models.RoleAdmin:  true,
}

type AccessCheck struct {
	ActorID      string `json:"-"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	OwnerID      string `json:"owner_id"`
	Purpose      string `json:"purpose"`
}

type AccessCompliance struct {
	Compliant                 bool     `json:"compliant"`
	Violations                []string `json:"violations"`
	Warnings                  []string `json:"warnings"`
	Framework                 string   `json:"compliance_framework"`
	AccessAllowed             bool     `json:"access_allowed"`
	RequiresAdditionalConsent bool     `json:"requires_additional_consent"`
}

type ExportCheck struct {
	ActorID     string   `json:"-"`
	ExportType  string   `json:"export_type"`
	PatientIDs  []string `json:"patient_ids"`
	DataFields  []string `json:"data_fields"`
	Destination string   `json:"destination"`
	Purpose     string   `json:"purpose"`
}

type ExportCompliance struct {
	Compliant        bool     `json:"compliant"`
	Violations       []string `json:"violations"`
	Warnings         []string `json:"warnings"`
	ExportAllowed    bool     `json:"export_allowed"`
	RequiresApproval bool     `json:"requires_approval"`
	Framework        string   `json:"compliance_framework"`
}

type ConsentStatus struct {
	HasConsent      bool     `json:"has_consent"`
	ConsentTypes    []string `json:"consent_types"`
	ExpiredConsents int      `json:"expired_consents"`
	Warnings        []string `json:"warnings"`
	ActionAllowed   bool     `json:"action_allowed"`
	RenewalRequired bool     `json:"renewal_required"`
}

type ComplianceScore struct {
	Score                int       `json:"compliance_score"`
	Level                string    `json:"compliance_level"`
	ViolationsCount      int       `json:"violations_count"`
	NoPurposeAccessCount int       `json:"no_purpose_access_count"`
	ExpiredConsentsCount int       `json:"expired_consents_count"`
	Days                 int       `json:"days"`
	AuditedAt            time.Time `json:"audited_at"`
}

// ComplianceService runs PDPA purpose and consent checks. Every access and export check is
// itself written to the audit log.
type ComplianceService struct {
	directory Directory
	events    *sqlite.AuditRepository
	audit     *AuditService
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewComplianceService(
	directory Directory,
	events *sqlite.AuditRepository,
	audit *AuditService,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
) *ComplianceService {
	return &ComplianceService{
		directory: directory,
		events:    events,
		audit:     audit,
		metrics:   m,
		logger:    logger,
		now:       now,
	}
}

// CheckAccessCompliance validates purpose limitation and, for medical records, the treating
// relationship. Missing consent only warns.
func (s *ComplianceService) CheckAccessCompliance(ctx context.Context, check AccessCheck) (*AccessCompliance, error) {
	if check.ResourceType == "" || check.ResourceID == "" {
		return nil, newError(ErrValidation, "Missing required fields: resource_type, resource_id")
	}
	owner := check.OwnerID
	if owner == "" {
		owner = check.ResourceID
	}
	violations, warnings := []string{}, []string{}

	actor, err := s.directory.GetPrincipal(ctx, check.ActorID)
	if errors.Is(err, sqlite.ErrNotFound) {
		violations = append(violations, "User not found or unauthorized")
	} else if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}

	if !util.IsMeaningfulPurpose(check.Purpose) {
		violations = append(violations, "PDPA Violation: No valid purpose specified for data access")
	}

	if actor != nil && check.ResourceType == ResourceMedicalRecord && owner != actor.ID {
		switch actor.Role {
		case models.RoleDoctor:
			ok, err := s.directory.HasTreatingRelationship(ctx, actor.ID, owner)
			if err != nil {
				return nil, err
			}
			if !ok {
				violations = append(violations, "PDPA Violation: No treating relationship exists with patient")
			}
		case models.RolePatient:
			violations = append(violations, "PDPA Violation: Cannot access other patients medical records")
		}
	}
	if check.ResourceType == ResourceMedicalRecord {
		warnings = append(warnings, "Accessing highly sensitive medical data - ensure PDPA compliance")
	}

	if check.ResourceType == ResourceMedicalRecord || check.ResourceType == ResourcePatientData {
		consented, err := s.hasValidConsent(ctx, owner, ConsentDataAccess)
		if err != nil {
			return nil, err
		}
		if !consented {
			warnings = append(warnings, "No explicit consent recorded for this data access")
		}
	}

	compliant := len(violations) == 0
	s.metrics.ComplianceChecks.WithLabelValues("access", fmt.Sprint(compliant)).Inc()
	if !compliant {
		s.logger.Info("Compliance violation",
			util.Principal(check.ActorID),
			zap.String("check", "access"),
			zap.Strings("violations", violations))
	}
	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventComplianceCheck,
		ActorID:      check.ActorID,
		Action:       "data_access",
		ResourceType: check.ResourceType,
		ResourceID:   check.ResourceID,
		Success:      boolPtr(compliant),
		Purpose:      check.Purpose,
		Metadata: map[string]interface{}{
			"purpose":              check.Purpose,
			"violations":           violations,
			"warnings":             warnings,
			"compliance_framework": "PDPA_Singapore",
		},
	})

	return &AccessCompliance{
		Compliant:                 compliant,
		Violations:                violations,
		Warnings:                  warnings,
		Framework:                 accessFramework,
		AccessAllowed:             compliant,
		RequiresAdditionalConsent: len(warnings) > 0,
	}, nil
}

// CheckExportCompliance validates purpose, role and per-patient export consent. Large
// field sets and unmarked destinations only warn.
func (s *ComplianceService) CheckExportCompliance(ctx context.Context, check ExportCheck) (*ExportCompliance, error) {
	patients := dedupe(check.PatientIDs)
	violations, warnings := []string{}, []string{}

	if !util.IsMeaningfulPurpose(check.Purpose) {
		violations = append(violations, "PDPA Violation: No valid purpose specified for data export")
	}
	if len(check.DataFields) > maxExportFields {
		warnings = append(warnings, "Large number of data fields being exported - ensure necessity")
	}

	if len(patients) > 1 {
		consented, err := s.directory.ConsentedPatients(ctx, patients, ConsentDataExport, s.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to check export consent: %w", err)
		}
		missing := 0
		for _, id := range patients {
			if !consented[id] {
				missing++
			}
		}
		if missing > 0 {
			violations = append(violations, fmt.Sprintf("PDPA Violation: Missing export consent for %d patients", missing))
		}
	}

	actor, err := s.directory.GetPrincipal(ctx, check.ActorID)
	if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	if actor == nil || !exportRoles[actor.Role] {
		violations = append(violations, "Authorization: User role not authorized for data export")
	}

	dest := strings.ToLower(check.Destination)
	if dest != "" && !strings.Contains(dest, "secure") && !strings.Contains(dest, "encrypted") {
		warnings = append(warnings, "Export destination may not be secure - ensure PDPA compliance")
	}

	compliant := len(violations) == 0
	s.metrics.ComplianceChecks.WithLabelValues("export", fmt.Sprint(compliant)).Inc()
	if !compliant {
		s.logger.Info("Compliance violation",
			util.Principal(check.ActorID),
			zap.String("check", "export"),
			zap.Strings("violations", violations))
	}
	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventComplianceCheck,
		ActorID:      check.ActorID,
		Action:       "data_export",
		ResourceType: ResourcePatientData,
		Success:      boolPtr(compliant),
		Purpose:      check.Purpose,
		Metadata: map[string]interface{}{
			"export_type":     check.ExportType,
			"patient_count":   len(patients),
			"fields_exported": check.DataFields,
			"destination":     check.Destination,
			"violations":      violations,
			"warnings":        warnings,
		},
	})

	return &ExportCompliance{
		Compliant:        compliant,
		Violations:       violations,
		Warnings:         warnings,
		ExportAllowed:    compliant,
		RequiresApproval: len(warnings) > 0 || len(patients) > maxUnapprovedExportSize,
		Framework:        exportFramework,
	}, nil
}

// CheckConsent reports whether a patient's consents cover action.
func (s *ComplianceService) CheckConsent(ctx context.Context, patientID, consentType, action string) (*ConsentStatus, error) {
	if patientID == "" || action == "" {
		return nil, newError(ErrValidation, "Missing required fields: patient_id, action")
	}
	consents, err := s.directory.ListConsents(ctx, patientID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := &ConsentStatus{ConsentTypes: []string{}, Warnings: []string{}}
	hasType := false
	for _, c := range consents {
		if !c.Granted {
			continue
		}
		status.ConsentTypes = append(status.ConsentTypes, c.ConsentType)
		if !c.ValidAt(now) {
			status.ExpiredConsents++
			continue
		}
		if c.ConsentType == consentType || c.ConsentType == ConsentGeneralTreatment {
			hasType = true
		}
		if containsString(actionConsents[action], c.ConsentType) {
			status.ActionAllowed = true
		}
	}
	status.HasConsent = hasType && status.ActionAllowed
	status.RenewalRequired = status.ExpiredConsents > 0
	if status.RenewalRequired {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("%d consent(s) have expired - renewal required", status.ExpiredConsents))
	}
	return status, nil
}

// ComplianceScore deducts for failed checks, purpose-less data access and expired consents.
func (s *ComplianceService) ComplianceScore(ctx context.Context, days int) (*ComplianceScore, error) {
	if days <= 0 {
		days = 30
	}
	now := s.now().UTC()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)

	failed := false
	violations, err := s.events.Count(ctx, models.AuditFilter{
		EventType: models.EventComplianceCheck,
		Success:   &failed,
		Since:     since,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count compliance violations: %w", err)
	}
	noPurpose, err := s.events.Count(ctx, models.AuditFilter{
		EventType:      models.EventDataAccess,
		Since:          since,
		WithoutPurpose: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count purpose-less access: %w", err)
	}
	expired, err := s.directory.CountExpiredConsents(ctx, now)
	if err != nil {
		return nil, err
	}

	score := 100 - (violations*5 + noPurpose*2 + expired)
	if score < 0 {
		score = 0
	}
	return &ComplianceScore{
		Score:                score,
		Level:                complianceLevel(score),
		ViolationsCount:      violations,
		NoPurposeAccessCount: noPurpose,
		ExpiredConsentsCount: expired,
		Days:                 days,
		AuditedAt:            now,
	}, nil
}

func complianceLevel(score int) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 75:
		return "good"
	case score >= 60:
		return "fair"
	default:
		return "poor"
	}
}

func (s *ComplianceService) hasValidConsent(ctx context.Context, patientID, consentType string) (bool, error) {
	c, err := s.directory.GetConsent(ctx, patientID, consentType)
	if errors.Is(err, sqlite.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.ValidAt(s.now().UTC()), nil
}
