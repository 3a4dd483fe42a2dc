package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinic-secops/internal/client"
	"clinic-secops/internal/models"
)

const clickhouseAuditTable = `
CREATE TABLE IF NOT EXISTS audit_events (
	event_id      String,
	event_type    LowCardinality(String),
	actor_id      String,
	action        String,
	resource_type LowCardinality(String),
	resource_id   String,
	success       UInt8,
	risk_score    Int32,
	ip_address    String,
	metadata      String,
	created_at    DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(created_at)
ORDER BY (event_type, created_at, event_id)`

const clickhouseIncidentTable = `
CREATE TABLE IF NOT EXISTS incident_snapshots (
	incident_id   String,
	incident_type LowCardinality(String),
	severity      LowCardinality(String),
	status        LowCardinality(String),
	updated_at    DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY incident_id`

// ClickHouseSink feeds the analytics tables that back the dashboard projections.
type ClickHouseSink struct {
	ch *client.ClickHouseClient
}

func NewClickHouseSink(ctx context.Context, ch *client.ClickHouseClient) (*ClickHouseSink, error) {
	for _, ddl := range []string{clickhouseAuditTable, clickhouseIncidentTable} {
		if err := ch.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("failed to create analytics table: %w", err)
		}
	}
	return &ClickHouseSink{ch: ch}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) PublishAudit(ctx context.Context, event *models.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	var success uint8
	if event.Success {
		success = 1
	}
	return s.ch.BatchInsert(ctx, "INSERT INTO audit_events", [][]interface{}{{
		event.ID, event.EventType, event.ActorID, event.Action, event.ResourceType, event.ResourceID,
		success, int32(event.RiskScore), event.IPAddress, string(metadata), event.CreatedAt,
	}})
}

func (s *ClickHouseSink) PublishIncident(ctx context.Context, incident *models.Incident) error {
	return s.ch.BatchInsert(ctx, "INSERT INTO incident_snapshots", [][]interface{}{{
		incident.ID, incident.Type, incident.Severity, incident.Status, incident.UpdatedAt,
	}})
}

// AuditCounts returns the total audit events and failed logins recorded since `since`.
func (s *ClickHouseSink) AuditCounts(ctx context.Context, since time.Time) (int, int, error) {
	var total, failedLogins uint64
	err := s.ch.QueryRow(ctx, []interface{}{&total, &failedLogins},
		`SELECT count(), countIf(event_type = ? AND success = 0) FROM audit_events WHERE created_at >= ?`,
		models.EventLogin, since)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read audit analytics: %w", err)
	}
	return int(total), int(failedLogins), nil
}
