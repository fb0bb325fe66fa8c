package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/allaspectsdev/gateman/internal/metrics"
)

// usageColumns is the column list shared by every usage_records query,
// in insert order.
const usageColumns = `id, timestamp, caller, provider, model, task_type,
	tokens_in, tokens_out, cost_usd, latency_ms, success, cache_hit, error_message`

// ModelUsage is the persisted aggregate for one model, used to enrich
// the catalog listing with observed history.
type ModelUsage struct {
	Model        string    `json:"model"`
	Requests     int64     `json:"requests"`
	TokensIn     int64     `json:"tokens_in"`
	TokensOut    int64     `json:"tokens_out"`
	CostUSD      float64   `json:"cost_usd"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	LastUsed     time.Time `json:"last_used"`
}

// InsertUsage persists one usage record. A zero Timestamp is stamped
// with the current time, matching the in-memory collector.
func (s *Store) InsertUsage(ctx context.Context, rec metrics.UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	cacheHit := 0
	if rec.CacheHit {
		cacheHit = 1
	}

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, timestamp, caller, provider, model, task_type,
			tokens_in, tokens_out, cost_usd, latency_ms,
			success, cache_hit, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, ts.UTC().Format(time.RFC3339), rec.Caller, rec.Provider,
		rec.Model, rec.TaskType, rec.TokensIn, rec.TokensOut,
		rec.CostUSD, rec.LatencyMs, success, cacheHit, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("store: insert usage: %w", err)
	}
	return nil
}

// RecentUsage returns the latest usage records ordered newest first.
// A non-positive limit defaults to 50.
func (s *Store) RecentUsage(ctx context.Context, limit int) ([]metrics.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+usageColumns+`
		FROM usage_records
		ORDER BY timestamp DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent usage: %w", err)
	}
	return collectUsage(rows)
}

// UsageSince returns all usage records at or after since, oldest first.
// The daemon replays these into the collector at startup so the metrics
// window survives restarts.
func (s *Store) UsageSince(ctx context.Context, since time.Time) ([]metrics.UsageRecord, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+usageColumns+`
		FROM usage_records
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`, since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("store: usage since: %w", err)
	}
	return collectUsage(rows)
}

// CountUsage returns the total number of persisted usage records.
func (s *Store) CountUsage(ctx context.Context) (int64, error) {
	var n int64
	err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage_records").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count usage: %w", err)
	}
	return n, nil
}

// ModelStats aggregates the full usage history per model. Latency is
// averaged over successful requests only; a model with no successes
// reports zero.
func (s *Store) ModelStats(ctx context.Context) (map[string]ModelUsage, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT model,
		       COUNT(*),
		       COALESCE(SUM(tokens_in), 0),
		       COALESCE(SUM(tokens_out), 0),
		       COALESCE(SUM(cost_usd), 0.0),
		       COALESCE(AVG(CASE WHEN success = 1 THEN latency_ms END), 0.0),
		       MAX(timestamp)
		FROM usage_records
		GROUP BY model`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: model stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]ModelUsage)
	for rows.Next() {
		var mu ModelUsage
		var lastUsed string
		if err := rows.Scan(
			&mu.Model, &mu.Requests, &mu.TokensIn, &mu.TokensOut,
			&mu.CostUSD, &mu.AvgLatencyMs, &lastUsed,
		); err != nil {
			return nil, fmt.Errorf("store: scan model stats row: %w", err)
		}
		mu.LastUsed, _ = time.Parse(time.RFC3339, lastUsed)
		stats[mu.Model] = mu
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: model stats iteration: %w", err)
	}
	return stats, nil
}

// collectUsage drains rows selected with usageColumns into records.
func collectUsage(rows *sql.Rows) ([]metrics.UsageRecord, error) {
	defer rows.Close()

	var records []metrics.UsageRecord
	for rows.Next() {
		var rec metrics.UsageRecord
		var ts string
		var success, cacheHit int
		if err := rows.Scan(
			&rec.ID, &ts, &rec.Caller, &rec.Provider, &rec.Model,
			&rec.TaskType, &rec.TokensIn, &rec.TokensOut, &rec.CostUSD,
			&rec.LatencyMs, &success, &cacheHit, &rec.Error,
		); err != nil {
			return nil, fmt.Errorf("store: scan usage row: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		rec.Success = success != 0
		rec.CacheHit = cacheHit != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: usage iteration: %w", err)
	}
	return records, nil
}
