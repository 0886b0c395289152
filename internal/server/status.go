package server

import (
	"context"

	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/registry"
	"github.com/hyperjump/wayfarer/internal/storage"
	"go.uber.org/zap"
)

// CollectStatus summarizes the registry, the query log, and on-disk sizes. store may be
// nil. Disk usage failures are logged and left out.
func CollectStatus(ctx context.Context, reg *registry.Registry, store storage.Storage, cfg *config.Config, logger *zap.Logger) (*models.Status, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	status := &models.Status{
		Ready:      reg.Ready(),
		Layers:     reg.Stats(),
		QueryStats: []models.LayerQueryStats{},
	}
	if store != nil {
		n, err := store.CountQueries(ctx)
		if err != nil {
			return nil, err
		}
		status.Queries = n
		if status.QueryStats, err = store.LayerStats(ctx); err != nil {
			return nil, err
		}
		for _, l := range models.Layers() {
			run, err := store.LastIngest(ctx, l)
			if err != nil {
				return nil, err
			}
			if run != nil {
				status.LastIngest = append(status.LastIngest, *run)
			}
		}
	}
	if cfg != nil {
		if usage, err := storage.LayerDiskUsage(cfg.Layers.Layout()); err == nil {
			status.LayerDiskBytes = usage
		} else {
			logger.Warn("status: layer disk usage failed", zap.Error(err))
		}
		if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath); err == nil {
			status.DatabaseBytes = n
		} else {
			logger.Warn("status: database disk usage failed", zap.Error(err))
		}
	}
	return status, nil
}
