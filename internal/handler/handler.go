package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"clinic-secops/internal/metrics"
	"clinic-secops/internal/service"
	"clinic-secops/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// call is everything an action sees of its request.
type call struct {
	ctx       context.Context
	identity  *service.Identity
	data      json.RawMessage
	ip        string
	userAgent string
}

type action func(c *call) (interface{}, error)

// Handler serves the action-discriminated component endpoints.
type Handler struct {
	sessions   *service.SessionService
	twoFactor  *service.TwoFactorService
	risk       *service.RiskService
	incidents  *service.IncidentService
	audit      *service.AuditService
	compliance *service.ComplianceService
	dashboard  *service.DashboardService
	identity   *service.IdentityService
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewHandler(services *service.ServiceFactory, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:   services.Sessions(),
		twoFactor:  services.TwoFactor(),
		risk:       services.Risk(),
		incidents:  services.Incidents(),
		audit:      services.Audit(),
		compliance: services.Compliance(),
		dashboard:  services.Dashboard(),
		identity:   services.Identity(),
		metrics:    m,
		logger:     logger,
	}
}

// RegisterRoutes mounts one POST endpoint per component.
func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/sessions", h.component("sessions", h.sessionActions()))
	router.Post("/two-factor", h.component("two-factor", h.twoFactorActions()))
	router.Post("/risk", h.component("risk", h.riskActions()))
	router.Post("/incidents", h.component("incidents", h.incidentActions()))
	router.Post("/audit", h.component("audit", h.auditActions()))
	router.Post("/dashboard", h.component("dashboard", h.dashboardActions()))
}

func (h *Handler) component(name string, actions map[string]action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			h.metrics.RequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}()

		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Missing authorization header")
			return
		}

		var req Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			h.metrics.Requests.WithLabelValues(name, "", codeValidation).Inc()
			writeError(w, http.StatusBadRequest, codeValidation, "Invalid request body")
			return
		}
		run, ok := actions[req.Action]
		if !ok {
			h.metrics.Requests.WithLabelValues(name, "", codeValidation).Inc()
			writeError(w, http.StatusBadRequest, codeValidation, "Invalid action specified")
			return
		}

		data, err := run(&call{
			ctx:       r.Context(),
			identity:  id,
			data:      req.Data,
			ip:        clientIP(r),
			userAgent: r.UserAgent(),
		})
		if err != nil {
			status, code, message := classify(err)
			h.metrics.Requests.WithLabelValues(name, req.Action, code).Inc()
			if code == codeInternal {
				h.logger.Error("Action failed",
					zap.String("component", name),
					zap.String("action", req.Action),
					util.Principal(id.Principal.ID),
					zap.Error(err))
			} else {
				h.logger.Debug("Action rejected",
					zap.String("component", name),
					zap.String("action", req.Action),
					zap.String("code", code),
					zap.Error(err))
			}
			writeError(w, status, code, message)
			return
		}

		h.metrics.Requests.WithLabelValues(name, req.Action, "OK").Inc()
		writeData(w, data)
	}
}

// bind decodes action data into v. Absent data leaves v at its zero value.
func (c *call) bind(v interface{}) error {
	if len(bytes.TrimSpace(c.data)) == 0 || bytes.Equal(bytes.TrimSpace(c.data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(c.data, v); err != nil {
		return &service.Error{Kind: service.ErrValidation, Message: fmt.Sprintf("Invalid data: %v", err)}
	}
	return nil
}

func (c *call) principalID() string {
	return c.identity.Principal.ID
}

func (c *call) requireAdmin() error {
	if !c.identity.Principal.IsAdmin() {
		return &service.Error{Kind: service.ErrForbidden, Message: "Administrator role required"}
	}
	return nil
}

// subject resolves the principal an action is about: the caller by default, anyone for
// administrators.
func (c *call) subject(requested string) (string, error) {
	if requested == "" || requested == c.principalID() {
		return c.principalID(), nil
	}
	if err := c.requireAdmin(); err != nil {
		return "", err
	}
	return requested, nil
}
