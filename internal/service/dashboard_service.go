package service

import (
	"context"
	"fmt"
	"time"

	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sourceStore     = "store"
	sourceAnalytics = "clickhouse"
)

var dashboardRanges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

type DashboardMetrics struct {
	FailedLogins        int            `json:"failed_logins"`
	AuditEvents         int            `json:"audit_events"`
	ActiveIncidents     int            `json:"active_incidents"`
	IncidentsBySeverity map[string]int `json:"incidents_by_severity"`
	IncidentsCreated    int            `json:"incidents_created"`
	ActiveSessions      int            `json:"active_sessions"`
	TimeRange           string         `json:"time_range"`
	Source              string         `json:"source"`
}

// DashboardService projects read-only security metrics over a time range.
type DashboardService struct {
	sessions  *sqlite.SessionRepository
	incidents *sqlite.IncidentRepository
	events    *sqlite.AuditRepository
	analytics AuditAnalytics
	logger    *zap.Logger
	now       func() time.Time
}

func NewDashboardService(
	sessions *sqlite.SessionRepository,
	incidents *sqlite.IncidentRepository,
	events *sqlite.AuditRepository,
	analytics AuditAnalytics,
	logger *zap.Logger,
	now func() time.Time,
) *DashboardService {
	return &DashboardService{
		sessions:  sessions,
		incidents: incidents,
		events:    events,
		analytics: analytics,
		logger:    logger,
		now:       now,
	}
}

// Metrics computes every projection concurrently. Audit totals come from the analytics
// store when it answers, otherwise from the relational store.
func (s *DashboardService) Metrics(ctx context.Context, timeRange string) (*DashboardMetrics, error) {
	if timeRange == "" {
		timeRange = "24h"
	}
	window, ok := dashboardRanges[timeRange]
	if !ok {
		return nil, newError(ErrValidation, "Invalid time_range: %s", timeRange)
	}
	now := s.now().UTC()
	since := now.Add(-window)

	out := &DashboardMetrics{TimeRange: timeRange, Source: sourceStore}
	var bySeverity map[string]int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, failedLogins, fromAnalytics, err := s.auditCounts(gctx, since)
		if err != nil {
			return err
		}
		out.AuditEvents, out.FailedLogins = total, failedLogins
		if fromAnalytics {
			out.Source = sourceAnalytics
		}
		return nil
	})
	g.Go(func() error {
		counts, err := s.incidents.CountActiveBySeverity(gctx)
		if err != nil {
			return err
		}
		bySeverity = counts
		return nil
	})
	g.Go(func() error {
		n, err := s.incidents.CountCreatedSince(gctx, since)
		if err != nil {
			return err
		}
		out.IncidentsCreated = n
		return nil
	})
	g.Go(func() error {
		n, err := s.sessions.CountAllActive(gctx, now)
		if err != nil {
			return fmt.Errorf("failed to count active sessions: %w", err)
		}
		out.ActiveSessions = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.IncidentsBySeverity = map[string]int{
		models.SeverityCritical: bySeverity[models.SeverityCritical],
		models.SeverityHigh:     bySeverity[models.SeverityHigh],
		models.SeverityMedium:   bySeverity[models.SeverityMedium],
		models.SeverityLow:      bySeverity[models.SeverityLow],
	}
	for _, n := range out.IncidentsBySeverity {
		out.ActiveIncidents += n
	}
	return out, nil
}

func (s *DashboardService) auditCounts(ctx context.Context, since time.Time) (int, int, bool, error) {
	if s.analytics != nil {
		total, failedLogins, err := s.analytics.AuditCounts(ctx, since)
		if err == nil {
			return total, failedLogins, true, nil
		}
		s.logger.Warn("Analytics store unavailable, counting relational store", zap.Error(err))
	}

	total, err := s.events.Count(ctx, models.AuditFilter{Since: since})
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to count audit events: %w", err)
	}
	failed := false
	failedLogins, err := s.events.Count(ctx, models.AuditFilter{
		EventType: models.EventLogin,
		Success:   &failed,
		Since:     since,
	})
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to count failed logins: %w", err)
	}
	return total, failedLogins, false, nil
}
