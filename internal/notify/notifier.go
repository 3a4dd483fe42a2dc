package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clinic-secops/internal/client"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/util"
)

// Message is the envelope handed to the delivery service.
type Message struct {
	PrincipalID string                 `json:"principal_id"`
	Template    string                 `json:"template"`
	Data        map[string]interface{} `json:"data"`
	QueuedAt    time.Time              `json:"queued_at"`
}

// KafkaNotifier queues notifications on a topic consumed by the delivery service.
type KafkaNotifier struct {
	producer *client.KafkaProducer
	topic    string
	metrics  *metrics.Metrics
}

func NewKafkaNotifier(producer *client.KafkaProducer, topic string, m *metrics.Metrics) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, metrics: m}
}

func (n *KafkaNotifier) Send(ctx context.Context, principalID, template string, data map[string]interface{}) error {
	value, err := json.Marshal(Message{
		PrincipalID: principalID,
		Template:    template,
		Data:        data,
		QueuedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(principalID), value,
		map[string]string{"template": template}); err != nil {
		n.metrics.NotificationsSent.WithLabelValues(template, "failed").Inc()
		return err
	}
	n.metrics.NotificationsSent.WithLabelValues(template, "queued").Inc()
	return nil
}

// LogNotifier records notifications in the log when no delivery channel is configured.
type LogNotifier struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLogNotifier(m *metrics.Metrics) *LogNotifier {
	return &LogNotifier{logger: util.Named("notify"), metrics: m}
}

func (n *LogNotifier) Send(_ context.Context, principalID, template string, data map[string]interface{}) error {
	n.logger.Info("Notification",
		zap.String("principal_id", principalID),
		zap.String("template", template),
		zap.Any("data", data))
	if n.metrics != nil {
		n.metrics.NotificationsSent.WithLabelValues(template, "logged").Inc()
	}
	return nil
}
