package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultStatsTTL = 5 * time.Minute

	overviewCacheID = "overview"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// statsCache stores snapshots in the stats_cache table, in the same store as
// the evaluations, so clearing it commits atomically with the write.
type statsCache struct {
	ttl time.Duration
}

// get decodes the entry into dst if it exists and is younger than the TTL.
func (c statsCache) get(ctx context.Context, q querier, id string, now time.Time, dst any) (bool, error) {
	var (
		data        string
		lastUpdated int64
	)
	err := q.QueryRowContext(ctx, `SELECT data, last_updated FROM stats_cache WHERE id = ?`, id).
		Scan(&data, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stats cache: %w", err)
	}

	if now.UnixMilli()-lastUpdated >= c.ttl.Milliseconds() {
		return false, nil
	}

	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("failed to decode stats cache entry %s: %w", id, err)
	}
	return true, nil
}

func (c statsCache) put(ctx context.Context, q querier, id string, snapshot any, now time.Time) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode stats cache entry %s: %w", id, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO stats_cache (id, data, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			last_updated = excluded.last_updated
	`, id, string(data), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write stats cache: %w", err)
	}
	return nil
}

func (c statsCache) clear(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM stats_cache`); err != nil {
		return fmt.Errorf("failed to clear stats cache: %w", err)
	}
	return nil
}
