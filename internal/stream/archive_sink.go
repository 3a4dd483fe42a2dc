package stream

import (
	"context"

	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/scylla"
)

// ArchiveSink writes audit events to the long-term Scylla archive. Incidents are not
// archived there.
type ArchiveSink struct {
	archive *scylla.AuditArchiveRepository
}

func NewArchiveSink(archive *scylla.AuditArchiveRepository) *ArchiveSink {
	return &ArchiveSink{archive: archive}
}

func (s *ArchiveSink) Name() string { return "scylla" }

func (s *ArchiveSink) PublishAudit(ctx context.Context, event *models.AuditEvent) error {
	return s.archive.Archive(ctx, event)
}

func (s *ArchiveSink) PublishIncident(context.Context, *models.Incident) error {
	return nil
}
