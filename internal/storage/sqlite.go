package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/wayfarer/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMP NOT NULL,
		question TEXT NOT NULL,
		layer TEXT NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		grounding_score REAL NOT NULL DEFAULT 0,
		retrieval_latency_ms REAL NOT NULL DEFAULT 0,
		total_latency_ms REAL NOT NULL DEFAULT 0,
		sources TEXT NOT NULL DEFAULT '[]',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_query_log_timestamp ON query_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_query_log_layer ON query_log(layer);

	CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		layer TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ms REAL NOT NULL,
		sources INTEGER NOT NULL,
		chunks INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_runs_layer ON ingest_runs(layer, started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordQuery appends one request to the query log.
func (s *SQLiteStorage) RecordQuery(ctx context.Context, rec models.QueryRecord) error {
	sources, err := json.Marshal(nonNil(rec.Sources))
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_log (request_id, timestamp, question, layer, answer, grounding_score,
		 retrieval_latency_ms, total_latency_ms, sources, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC(), rec.Question, rec.Layer.String(), rec.Answer, rec.GroundingScore,
		rec.RetrievalLatencyMs, rec.TotalLatencyMs, string(sources), rec.Error,
	)
	return err
}

const querySelect = `SELECT seq, request_id, timestamp, question, layer, answer, grounding_score,
	retrieval_latency_ms, total_latency_ms, sources, error FROM query_log`

// RecentQueries returns records newest first.
func (s *SQLiteStorage) RecentQueries(ctx context.Context, offset, limit int) ([]models.QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, querySelect+` ORDER BY seq DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, _, err := scanQueries(rows)
	return records, err
}

// QueriesSince returns records appended after sequence number seq, oldest first, and the
// sequence number of the last one returned (seq itself when there are none).
func (s *SQLiteStorage) QueriesSince(ctx context.Context, seq int64) ([]models.QueryRecord, int64, error) {
	rows, err := s.db.QueryContext(ctx, querySelect+` WHERE seq > ? ORDER BY seq`, seq)
	if err != nil {
		return nil, seq, err
	}
	defer rows.Close()

	records, last, err := scanQueries(rows)
	if last == 0 {
		last = seq
	}
	return records, last, err
}

func scanQueries(rows *sql.Rows) ([]models.QueryRecord, int64, error) {
	records := []models.QueryRecord{}
	var last int64
	for rows.Next() {
		var rec models.QueryRecord
		var layer, sources string
		if err := rows.Scan(&last, &rec.ID, &rec.Timestamp, &rec.Question, &layer, &rec.Answer,
			&rec.GroundingScore, &rec.RetrievalLatencyMs, &rec.TotalLatencyMs, &sources, &rec.Error); err != nil {
			return nil, 0, err
		}
		l, err := models.ParseLayer(layer)
		if err != nil {
			return nil, 0, fmt.Errorf("query %s: %w", rec.ID, err)
		}
		rec.Layer = l
		if err := json.Unmarshal([]byte(sources), &rec.Sources); err != nil {
			return nil, 0, fmt.Errorf("query %s: failed to unmarshal sources: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, last, rows.Err()
}

// CountQueries returns the total number of logged requests.
func (s *SQLiteStorage) CountQueries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_log`).Scan(&count)
	return count, err
}

// LayerStats aggregates the query log by layer selector. Averages cover successful
// requests only.
func (s *SQLiteStorage) LayerStats(ctx context.Context) ([]models.LayerQueryStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT layer,
		        COUNT(*),
		        SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
		        COALESCE(AVG(CASE WHEN error = '' THEN grounding_score END), 0),
		        COALESCE(AVG(CASE WHEN error = '' THEN total_latency_ms END), 0)
		 FROM query_log GROUP BY layer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byLayer := make(map[models.Layer]models.LayerQueryStats)
	for rows.Next() {
		var st models.LayerQueryStats
		var layer string
		if err := rows.Scan(&layer, &st.Queries, &st.Failures, &st.AvgGroundingScore, &st.AvgTotalLatencyMs); err != nil {
			return nil, err
		}
		l, err := models.ParseLayer(layer)
		if err != nil {
			return nil, err
		}
		st.Layer = l
		byLayer[l] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := []models.LayerQueryStats{}
	for _, l := range append(models.Layers(), models.LayerAll) {
		if st, ok := byLayer[l]; ok {
			stats = append(stats, st)
		}
	}
	return stats, nil
}

// RecordIngest stores one ingestion run.
func (s *SQLiteStorage) RecordIngest(ctx context.Context, run models.IngestRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, layer, started_at, duration_ms, sources, chunks, skipped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Layer.String(), run.StartedAt.UTC(), run.DurationMs, run.Sources, run.Chunks, run.Skipped, run.Error,
	)
	return err
}

// LastIngest returns the most recent run for layer, or nil if there is none.
func (s *SQLiteStorage) LastIngest(ctx context.Context, layer models.Layer) (*models.IngestRun, error) {
	var run models.IngestRun
	var layerName string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, layer, started_at, duration_ms, sources, chunks, skipped, error
		 FROM ingest_runs WHERE layer = ? ORDER BY started_at DESC LIMIT 1`, layer.String(),
	).Scan(&run.ID, &layerName, &run.StartedAt, &run.DurationMs, &run.Sources, &run.Chunks, &run.Skipped, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Layer = layer
	return &run, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
