package handler

import (
	"clinic-secops/internal/service"
)

func (h *Handler) sessionActions() map[string]action {
	return map[string]action{
		"create":           h.createSession,
		"list":             h.listSessions,
		"terminate":        h.terminateSession,
		"terminate_others": h.terminateOtherSessions,
		"check_limit":      h.checkSessionLimit,
	}
}

func (h *Handler) createSession(c *call) (interface{}, error) {
	var req service.CreateSessionRequest
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	req.PrincipalID = c.principalID()
	req.Role = c.identity.Principal.Role
	if req.IPAddress == "" {
		req.IPAddress = c.ip
	}
	if req.UserAgent == "" {
		req.UserAgent = c.userAgent
	}
	return h.sessions.CreateSession(c.ctx, req)
}

func (h *Handler) listSessions(c *call) (interface{}, error) {
	views, err := h.sessions.ListActiveSessions(c.ctx, c.principalID(), c.identity.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessions": views, "total": len(views)}, nil
}

func (h *Handler) terminateSession(c *call) (interface{}, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	changed, err := h.sessions.TerminateSession(c.ctx, c.principalID(), req.SessionID)
	if err != nil {
		return nil, err
	}
	message := "Session terminated successfully"
	if !changed {
		message = "Session already inactive"
	}
	return map[string]interface{}{"terminated": changed, "message": message}, nil
}

func (h *Handler) terminateOtherSessions(c *call) (interface{}, error) {
	n, err := h.sessions.TerminateAllOtherSessions(c.ctx, c.principalID(), c.identity.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"terminated_count": n,
		"message":          "All other sessions terminated",
	}, nil
}

func (h *Handler) checkSessionLimit(c *call) (interface{}, error) {
	return h.sessions.CheckSessionLimit(c.ctx, c.principalID(), c.identity.Principal.Role)
}
