package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
)

// IngestClient is the downstream ingestion boundary: Submit acknowledges a
// package and returns its external identifier; the ingest outcome arrives
// later as an IngestResult.
type IngestClient interface {
	Submit(ctx context.Context, pkg datatypes.JSON) (string, error)
}

const (
	IngestOutcomeIngested = "ingested"
	IngestOutcomeFailed   = "failed"
	IngestOutcomeDeleted  = "deleted"
)

type IngestResult struct {
	PackageID string
	Outcome   string
	Error     string
}

// LoggingIngestClient acknowledges every package without storing it. Default
// wiring until a real ingestion endpoint is configured.
type LoggingIngestClient struct {
	log *logger.Logger
}

func NewLoggingIngestClient(baseLog *logger.Logger) *LoggingIngestClient {
	return &LoggingIngestClient{log: baseLog.With("service", "LoggingIngestClient")}
}

func (c *LoggingIngestClient) Submit(ctx context.Context, pkg datatypes.JSON) (string, error) {
	id := uuid.NewString()
	c.log.Info("Accepted submission package", "ingest_id", id, "size_bytes", len(pkg))
	return id, nil
}
