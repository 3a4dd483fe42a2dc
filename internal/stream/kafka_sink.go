package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"clinic-secops/internal/bucketing"
	"clinic-secops/internal/client"
	"clinic-secops/internal/models"
)

// KafkaSink publishes audit events and incident snapshots as JSON. Audit messages are
// keyed by actor bucket so one principal's events keep their order.
type KafkaSink struct {
	producer      *client.KafkaProducer
	buckets       *bucketing.BucketingManager
	auditTopic    string
	incidentTopic string
}

func NewKafkaSink(producer *client.KafkaProducer, buckets *bucketing.BucketingManager, auditTopic, incidentTopic string) *KafkaSink {
	return &KafkaSink{
		producer:      producer,
		buckets:       buckets,
		auditTopic:    auditTopic,
		incidentTopic: incidentTopic,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) PublishAudit(ctx context.Context, event *models.AuditEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	return s.producer.ProduceMessage(ctx, s.auditTopic, s.buckets.PartitionKey(event.ActorID), value,
		map[string]string{"event_type": event.EventType, "event_id": event.ID})
}

func (s *KafkaSink) PublishIncident(ctx context.Context, incident *models.Incident) error {
	value, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to encode incident: %w", err)
	}
	return s.producer.ProduceMessage(ctx, s.incidentTopic, []byte(incident.ID), value,
		map[string]string{"severity": incident.Severity, "status": incident.Status})
}
