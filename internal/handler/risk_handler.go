package handler

import (
	"clinic-secops/internal/service"
)

func (h *Handler) riskActions() map[string]action {
	return map[string]action{
		"assess":         h.assessAction,
		"assess_user":    h.assessPrincipal,
		"detect_anomaly": h.detectAnomaly,
	}
}

func (h *Handler) assessAction(c *call) (interface{}, error) {
	var req service.AssessActionRequest
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	req.PrincipalID = c.principalID()
	if req.IPAddress == "" {
		req.IPAddress = c.ip
	}
	if req.UserAgent == "" {
		req.UserAgent = c.userAgent
	}
	return h.risk.AssessAction(c.ctx, req)
}

func (h *Handler) assessPrincipal(c *call) (interface{}, error) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	subject, err := c.subject(req.UserID)
	if err != nil {
		return nil, err
	}
	return h.risk.AssessPrincipal(c.ctx, subject)
}

func (h *Handler) detectAnomaly(c *call) (interface{}, error) {
	var req service.DetectAnomalyRequest
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	subject, err := c.subject(req.PrincipalID)
	if err != nil {
		return nil, err
	}
	req.PrincipalID = subject
	if req.IPAddress == "" {
		req.IPAddress = c.ip
	}
	return h.risk.DetectAnomaly(c.ctx, req)
}
