package models

import "time"

// LayerStatus describes one loaded (or missing) layer index.
type LayerStatus struct {
	Layer      Layer      `json:"layer"`
	Loaded     bool       `json:"loaded"`
	Chunks     int        `json:"chunks"`
	Dimensions int        `json:"dimensions"`
	IndexType  string     `json:"index_type,omitempty"`
	LoadedAt   *time.Time `json:"loaded_at,omitempty"`
}

// Status is the health summary reported by the service and the status command.
type Status struct {
	Ready          bool              `json:"engine_ready"`
	Layers         []LayerStatus     `json:"layers"`
	Queries        int64             `json:"queries"`
	QueryStats     []LayerQueryStats `json:"query_stats"`
	LastIngest     []IngestRun       `json:"last_ingest,omitempty"`
	LayerDiskBytes map[Layer]int64   `json:"layer_disk_bytes,omitempty"`
	DatabaseBytes  int64             `json:"database_bytes"`
}
