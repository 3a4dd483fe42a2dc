package scylla

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"clinic-secops/internal/bucketing"
	"clinic-secops/internal/models"
	"clinic-secops/internal/util"
)

// AuditArchiveRepository keeps a long-term copy of audit events partitioned by actor
// bucket and UTC day.
type AuditArchiveRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewAuditArchiveRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *AuditArchiveRepository {
	return &AuditArchiveRepository{client: client, buckets: buckets}
}

func (r *AuditArchiveRepository) Archive(ctx context.Context, event *models.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	assignment := r.buckets.Assign(event.ActorID, event.CreatedAt)

	query := r.client.Session.Query(r.client.Prepared.InsertAuditEvent.Statement(),
		assignment.EventBucket, assignment.DateBucket, event.CreatedAt, event.ID, event.ActorID,
		event.EventType, event.Action, event.ResourceType, event.ResourceID, event.Success,
		event.RiskScore, event.IPAddress, event.Purpose, string(metadata))

	if err := r.client.ExecuteWithRetry(ctx, query, 2); err != nil {
		util.Error("Failed to archive audit event",
			zap.String("event_id", event.ID),
			zap.Int("actor_bucket", assignment.EventBucket),
			zap.Error(err))
		return fmt.Errorf("failed to archive audit event: %w", err)
	}
	return nil
}
