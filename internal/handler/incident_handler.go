package handler

import (
	"clinic-secops/internal/models"
	"clinic-secops/internal/service"
)

// Any authenticated principal may report an incident; everything else is for administrators.
func (h *Handler) incidentActions() map[string]action {
	return map[string]action{
		"create":     h.createIncident,
		"update":     adminOnly(h.updateIncident),
		"escalate":   adminOnly(h.escalateIncident),
		"contain":    adminOnly(h.containIncident),
		"get":        adminOnly(h.getIncident),
		"get_active": adminOnly(h.activeIncidents),
		"list":       adminOnly(h.listIncidents),
		"search":     adminOnly(h.searchIncidents),
	}
}

func adminOnly(next action) action {
	return func(c *call) (interface{}, error) {
		if err := c.requireAdmin(); err != nil {
			return nil, err
		}
		return next(c)
	}
}

type incidentRef struct {
	IncidentID string `json:"incident_id"`
}

func (h *Handler) createIncident(c *call) (interface{}, error) {
	var req service.CreateIncidentRequest
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	req.ReporterID = c.principalID()
	return h.incidents.Create(c.ctx, req)
}

func (h *Handler) updateIncident(c *call) (interface{}, error) {
	var req service.UpdateIncidentRequest
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.incidents.Update(c.ctx, c.principalID(), req)
}

func (h *Handler) escalateIncident(c *call) (interface{}, error) {
	var req struct {
		IncidentID string `json:"incident_id"`
		Reason     string `json:"escalation_reason"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.incidents.Escalate(c.ctx, c.principalID(), req.IncidentID, req.Reason)
}

func (h *Handler) containIncident(c *call) (interface{}, error) {
	var req incidentRef
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.incidents.Contain(c.ctx, req.IncidentID)
}

func (h *Handler) getIncident(c *call) (interface{}, error) {
	var req incidentRef
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.incidents.GetByID(c.ctx, req.IncidentID)
}

func (h *Handler) activeIncidents(c *call) (interface{}, error) {
	return h.incidents.GetActive(c.ctx)
}

func (h *Handler) listIncidents(c *call) (interface{}, error) {
	var filter models.IncidentFilter
	if err := c.bind(&filter); err != nil {
		return nil, err
	}
	incidents, err := h.incidents.List(c.ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"incidents": incidents, "total": len(incidents)}, nil
}

func (h *Handler) searchIncidents(c *call) (interface{}, error) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	incidents, err := h.incidents.Search(c.ctx, req.Query, req.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"incidents": incidents, "total": len(incidents)}, nil
}
