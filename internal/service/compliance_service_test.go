package service

import (
	"testing"
	"time"

	"clinic-secops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportComplianceCountsMissingConsent(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "doc-1", models.RoleDoctor)
	patients := []string{"pat-1", "pat-2", "pat-3", "pat-4", "pat-5", "pat-1"}
	for _, id := range patients[:3] {
		f.consent(t, id, ConsentDataExport, nil)
	}

	got, err := f.services.Compliance().CheckExportCompliance(f.ctx, ExportCheck{
		ActorID:     "doc-1",
		ExportType:  "csv",
		PatientIDs:  patients,
		DataFields:  []string{"name", "diagnosis"},
		Destination: "secure-sftp",
		Purpose:     "Quarterly care review",
	})
	require.NoError(t, err)
	assert.False(t, got.Compliant)
	assert.False(t, got.ExportAllowed)
	assert.Equal(t, []string{"PDPA Violation: Missing export consent for 2 patients"}, got.Violations)
	assert.Empty(t, got.Warnings)
	assert.False(t, got.RequiresApproval)

	events := f.auditEvents(t, models.EventComplianceCheck)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.EqualValues(t, 5, events[0].Metadata["patient_count"])
}

func TestExportComplianceRoleAndWarnings(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "staff-1", models.RoleStaff)
	fields := make([]string, 21)
	for i := range fields {
		fields[i] = "field"
	}

	got, err := f.services.Compliance().CheckExportCompliance(f.ctx, ExportCheck{
		ActorID:     "staff-1",
		PatientIDs:  []string{"pat-1"},
		DataFields:  fields,
		Destination: "usb-drive",
		Purpose:     "Billing reconciliation",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Authorization: User role not authorized for data export"}, got.Violations)
	assert.Equal(t, []string{
		"Large number of data fields being exported - ensure necessity",
		"Export destination may not be secure - ensure PDPA compliance",
	}, got.Warnings)
	assert.True(t, got.RequiresApproval)
}

func TestAccessComplianceForDoctor(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "doc-1", models.RoleDoctor)
	f.principal(t, "pat-1", models.RolePatient)
	svc := f.services.Compliance()

	check := AccessCheck{
		ActorID:      "doc-1",
		ResourceType: ResourceMedicalRecord,
		ResourceID:   "rec-1",
		OwnerID:      "pat-1",
		Purpose:      "Follow-up consultation",
	}
	got, err := svc.CheckAccessCompliance(f.ctx, check)
	require.NoError(t, err)
	assert.Equal(t, []string{"PDPA Violation: No treating relationship exists with patient"}, got.Violations)

	require.NoError(t, f.directory.AddRelationship(f.ctx, "doc-1", "pat-1", testEpoch))
	f.consent(t, "pat-1", ConsentDataAccess, nil)

	got, err = svc.CheckAccessCompliance(f.ctx, check)
	require.NoError(t, err)
	assert.True(t, got.Compliant)
	assert.True(t, got.AccessAllowed)
	assert.Equal(t, accessFramework, got.Framework)
	assert.Equal(t, []string{"Accessing highly sensitive medical data - ensure PDPA compliance"}, got.Warnings)
	assert.True(t, got.RequiresAdditionalConsent)
}

func TestAccessComplianceViolations(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	svc := f.services.Compliance()

	got, err := svc.CheckAccessCompliance(f.ctx, AccessCheck{
		ActorID:      "pat-1",
		ResourceType: ResourceMedicalRecord,
		ResourceID:   "rec-7",
		OwnerID:      "pat-2",
		Purpose:      "n/a",
	})
	require.NoError(t, err)
	assert.False(t, got.AccessAllowed)
	assert.Equal(t, []string{
		"PDPA Violation: No valid purpose specified for data access",
		"PDPA Violation: Cannot access other patients medical records",
	}, got.Violations)
	assert.Contains(t, got.Warnings, "No explicit consent recorded for this data access")

	got, err = svc.CheckAccessCompliance(f.ctx, AccessCheck{
		ActorID:      "pat-1",
		ResourceType: ResourceMedicalRecord,
		ResourceID:   "pat-1",
		Purpose:      "Reviewing my results",
	})
	require.NoError(t, err)
	assert.True(t, got.Compliant)

	got, err = svc.CheckAccessCompliance(f.ctx, AccessCheck{
		ActorID:      "ghost",
		ResourceType: ResourcePatientData,
		ResourceID:   "pat-1",
		Purpose:      "Reviewing results",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"User not found or unauthorized"}, got.Violations)

	_, err = svc.CheckAccessCompliance(f.ctx, AccessCheck{ActorID: "pat-1", ResourceType: ResourceMedicalRecord})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCheckConsent(t *testing.T) {
	f := newFixture(t)
	expired := testEpoch.Add(-time.Hour)
	f.consent(t, "pat-1", ConsentDataAccess, &expired)
	f.consent(t, "pat-1", ConsentGeneralTreatment, nil)
	svc := f.services.Compliance()

	got, err := svc.CheckConsent(f.ctx, "pat-1", ConsentDataAccess, "access_medical_record")
	require.NoError(t, err)
	assert.True(t, got.HasConsent)
	assert.True(t, got.ActionAllowed)
	assert.ElementsMatch(t, []string{ConsentDataAccess, ConsentGeneralTreatment}, got.ConsentTypes)
	assert.Equal(t, 1, got.ExpiredConsents)
	assert.True(t, got.RenewalRequired)
	assert.Equal(t, []string{"1 consent(s) have expired - renewal required"}, got.Warnings)

	got, err = svc.CheckConsent(f.ctx, "pat-1", ConsentDataExport, "export_data")
	require.NoError(t, err)
	assert.False(t, got.ActionAllowed)
	assert.False(t, got.HasConsent)

	_, err = svc.CheckConsent(f.ctx, "pat-1", ConsentDataAccess, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestComplianceScore(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "pat-1", models.RolePatient)
	svc := f.services.Compliance()

	got, err := svc.ComplianceScore(f.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, "excellent", got.Level)
	assert.Equal(t, 30, got.Days)

	for i := 0; i < 2; i++ {
		_, err := svc.CheckAccessCompliance(f.ctx, AccessCheck{ActorID: "pat-1", ResourceType: ResourcePatientData, ResourceID: "pat-1"})
		require.NoError(t, err)
	}
	_, err = f.services.Audit().Record(f.ctx, AuditRecord{EventType: models.EventDataAccess, ActorID: "pat-1", Action: "view"})
	require.NoError(t, err)
	expired := testEpoch.Add(-time.Hour)
	f.consent(t, "pat-1", ConsentDataAccess, &expired)

	got, err = svc.ComplianceScore(f.ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ViolationsCount)
	assert.Equal(t, 1, got.NoPurposeAccessCount)
	assert.Equal(t, 1, got.ExpiredConsentsCount)
	assert.Equal(t, 100-(2*5+2+1), got.Score)
	assert.Equal(t, "good", got.Level)
}

func TestComplianceLevel(t *testing.T) {
	assert.Equal(t, "excellent", complianceLevel(90))
	assert.Equal(t, "good", complianceLevel(75))
	assert.Equal(t, "fair", complianceLevel(60))
	assert.Equal(t, "poor", complianceLevel(59))
}
