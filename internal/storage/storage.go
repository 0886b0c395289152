// Package storage persists the query log and ingestion history.
package storage

import (
	"context"

	"github.com/hyperjump/wayfarer/internal/models"
)

// Storage is the request log sink and its read side.
type Storage interface {
	// Query log
	RecordQuery(ctx context.Context, rec models.QueryRecord) error
	RecentQueries(ctx context.Context, offset, limit int) ([]models.QueryRecord, error)
	QueriesSince(ctx context.Context, seq int64) ([]models.QueryRecord, int64, error)
	CountQueries(ctx context.Context) (int64, error)
	LayerStats(ctx context.Context) ([]models.LayerQueryStats, error)

	// Ingestion history
	RecordIngest(ctx context.Context, run models.IngestRun) error
	LastIngest(ctx context.Context, layer models.Layer) (*models.IngestRun, error)

	Close() error
}
