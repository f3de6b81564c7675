package app

import (
	"context"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/ingest"
)

// IngestUsecase defines the ingestion use cases. *ingest.Service implements it.
type IngestUsecase interface {
	IngestOne(ctx context.Context, in ingest.Input, clientIP string) (event.Event, error)
	IngestBatch(ctx context.Context, req ingest.BatchRequest) (ingest.BatchResult, error)
}

var _ IngestUsecase = (*ingest.Service)(nil)
