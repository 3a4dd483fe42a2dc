package handler

func (h *Handler) twoFactorActions() map[string]action {
	return map[string]action{
		"setup":                   h.setupTwoFactor,
		"verify":                  h.verifyTwoFactor,
		"use_backup_code":         h.useBackupCode,
		"disable":                 h.disableTwoFactor,
		"regenerate_backup_codes": h.regenerateBackupCodes,
		"status":                  h.twoFactorStatus,
	}
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) setupTwoFactor(c *call) (interface{}, error) {
	return h.twoFactor.BeginSetup(c.ctx, c.principalID())
}

func (h *Handler) verifyTwoFactor(c *call) (interface{}, error) {
	var req codeRequest
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.twoFactor.Verify(c.ctx, c.principalID(), req.Code)
}

func (h *Handler) useBackupCode(c *call) (interface{}, error) {
	var req codeRequest
	if err := c.bind(&req); err != nil {
		return nil, err
	}
	return h.twoFactor.ConsumeBackupCode(c.ctx, c.principalID(), req.Code)
}

func (h *Handler) disableTwoFactor(c *call) (interface{}, error) {
	if err := h.twoFactor.Disable(c.ctx, c.principalID()); err != nil {
		return nil, err
	}
	return map[string]interface{}{"disabled": true, "message": "2FA disabled successfully"}, nil
}

func (h *Handler) regenerateBackupCodes(c *call) (interface{}, error) {
	codes, err := h.twoFactor.RegenerateBackupCodes(c.ctx, c.principalID())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"backup_codes": codes,
		"message":      "Backup codes regenerated. Previous codes are no longer valid.",
	}, nil
}

func (h *Handler) twoFactorStatus(c *call) (interface{}, error) {
	return h.twoFactor.GetStatus(c.ctx, c.principalID())
}
