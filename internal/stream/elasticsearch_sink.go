package stream

import (
	"context"
	"fmt"

	"clinic-secops/internal/client"
	"clinic-secops/internal/models"
)

const incidentMapping = `{
  "mappings": {
    "properties": {
      "incident_id":      {"type": "keyword"},
      "incident_type":    {"type": "keyword"},
      "severity":         {"type": "keyword"},
      "status":           {"type": "keyword"},
      "title":            {"type": "text"},
      "description":      {"type": "text"},
      "affected_users":   {"type": "keyword"},
      "indicators":       {"type": "keyword"},
      "created_at":       {"type": "date"},
      "updated_at":       {"type": "date"}
    }
  }
}`

const auditMapping = `{
  "mappings": {
    "properties": {
      "id":            {"type": "keyword"},
      "event_type":    {"type": "keyword"},
      "actor_id":      {"type": "keyword"},
      "action":        {"type": "keyword"},
      "resource_type": {"type": "keyword"},
      "resource_id":   {"type": "keyword"},
      "success":       {"type": "boolean"},
      "risk_score":    {"type": "integer"},
      "purpose":       {"type": "text"},
      "created_at":    {"type": "date"},
      "metadata":      {"type": "object", "enabled": false}
    }
  }
}`

// ElasticsearchSink indexes incidents and audit events for full-text search.
type ElasticsearchSink struct {
	es            *client.ESClient
	auditIndex    string
	incidentIndex string
}

func NewElasticsearchSink(ctx context.Context, es *client.ESClient, auditIndex, incidentIndex string) (*ElasticsearchSink, error) {
	if err := es.EnsureIndex(ctx, incidentIndex, incidentMapping); err != nil {
		return nil, err
	}
	if err := es.EnsureIndex(ctx, auditIndex, auditMapping); err != nil {
		return nil, err
	}
	return &ElasticsearchSink{es: es, auditIndex: auditIndex, incidentIndex: incidentIndex}, nil
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) PublishAudit(ctx context.Context, event *models.AuditEvent) error {
	return s.es.IndexDocument(ctx, s.auditIndex, event.ID, event)
}

func (s *ElasticsearchSink) PublishIncident(ctx context.Context, incident *models.Incident) error {
	return s.es.IndexDocument(ctx, s.incidentIndex, incident.ID, incident)
}

type searchHits struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchIncidents returns ids of incidents matching text, best match first.
func (s *ElasticsearchSink) SearchIncidents(ctx context.Context, text string, limit int) ([]string, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"incident_id^3", "title^2", "description", "incident_type", "indicators", "affected_users"},
			},
		},
		"_source": false,
	}

	var result searchHits
	if err := s.es.Search(ctx, s.incidentIndex, query, &result); err != nil {
		return nil, fmt.Errorf("incident search failed: %w", err)
	}
	ids := make([]string, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}
