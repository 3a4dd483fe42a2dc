package handler

import (
	"strconv"
	"strings"

	"clinic-secops/internal/models"
	"clinic-secops/internal/service"
)

func (h *Handler) auditActions() map[string]action {
	return map[string]action{
		"record":           h.recordEvent,
		"check_access":     h.checkAccess,
		"check_export":     h.checkExport,
		"check_consent":    h.checkConsent,
		"compliance_score": adminOnly(h.complianceScore),
		"activity_summary": h.activitySummary,
		"query":            adminOnly(h.queryAudit),
		"export":           adminOnly(h.exportAudit),
	}
}

func (h *Handler) dashboardActions() map[string]action {
	return map[string]action{
		"metrics": adminOnly(h.dashboardMetrics),
	}
}

func (h *Handler) recordEvent(c *call) (interface{}, error) {
	var rec service.AuditRecord
	if err := c.bind(&rec); err != nil {
		return nil, err
	}
	rec.ActorID = c.principalID()
	rec.IPAddress = c.ip
	rec.UserAgent = c.userAgent
	return h.audit.Record(c.ctx, rec)
}

func (h *Handler) checkAccess(c *call) (interface{}, error) {
	var check service.AccessCheck
	if err := c.bind(&check); err != nil {
		return nil, err
	}
	check.ActorID = c.principalID()
	return h.compliance.CheckAccessCompliance(c.ctx, check)
}

func (h *Handler) checkExport(c *call) (interface{}, error) {
	var check service.ExportCheck
	if err := c.bind(&check); err != nil {
		return nil, err
	}
	check.ActorID = c.principalID()
	return h.compliance.CheckExportCompliance(c.ctx, check)
}

func (h *Handler) checkConsent(c *call) (interface{}, error) {
	var req struct {
		PatientID   string `json:"patient_id"`
		ConsentType string `json:"consent_type"`
		Action      string `json:"action"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.compliance.CheckConsent(c.ctx, req.PatientID, req.ConsentType, req.Action)
}

func (h *Handler) complianceScore(c *call) (interface{}, error) {
	var req struct {
		TimeRange string `json:"time_range"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	days, err := parseDays(req.TimeRange, 30)
	if err != nil {
		return nil, err
	}
	return h.compliance.ComplianceScore(c.ctx, days)
}

func (h *Handler) activitySummary(c *call) (interface{}, error) {
	var req struct {
		UserID string `json:"user_id"`
		Days   int    `json:"days"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	subject, err := c.subject(req.UserID)
	if err != nil {
		return nil, err
	}
	return h.audit.ActivitySummary(c.ctx, subject, req.Days)
}

func (h *Handler) queryAudit(c *call) (interface{}, error) {
	var filter models.AuditFilter
	if err := c.bind(&filter); err != nil {
		return nil, err
	}
	events, err := h.audit.Query(c.ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"records": events, "total": len(events)}, nil
}

func (h *Handler) exportAudit(c *call) (interface{}, error) {
	var req struct {
		models.AuditFilter
		Format string `json:"format"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.audit.Export(c.ctx, c.principalID(), req.AuditFilter, req.Format)
}

func (h *Handler) dashboardMetrics(c *call) (interface{}, error) {
	var req struct {
		TimeRange string `json:"time_range"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.dashboard.Metrics(c.ctx, req.TimeRange)
}

// parseDays reads ranges written as "30d" or "30".
func parseDays(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
	if err != nil || days <= 0 {
		return 0, &service.Error{Kind: service.ErrValidation, Message: "Invalid time_range: " + value}
	}
	return days, nil
}
