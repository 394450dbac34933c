package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// eventCacheFreshness is how long a cached next-event record is trusted
// before it is considered stale and re-fetched, per spec.md §4.7.
const eventCacheFreshness = 24 * time.Hour

// EventCacheRepository persists next-catalyst-event lookups so repeated
// requests for the same ticker don't re-hit the provider chain. Upsert
// shape grounded on the same ON CONFLICT idiom as RewardRepository, here
// as DO UPDATE since a cache entry is meant to be replaced on refresh.
type EventCacheRepository struct {
	db *DB
}

// NewEventCacheRepository constructs an EventCacheRepository.
func NewEventCacheRepository(db *DB) *EventCacheRepository {
	return &EventCacheRepository{db: db}
}

// Get returns the cached entry for ticker, with fresh reporting whether
// it is still within eventCacheFreshness.
func (r *EventCacheRepository) Get(ctx context.Context, ticker string) (entry types.EventCacheEntry, fresh bool, found bool, err error) {
	const query = `
		SELECT ticker, event_type, event_time, source, fetched_at, stale, estimated
		FROM event_cache WHERE ticker = $1
	`
	row := r.db.Pool.QueryRow(ctx, query, ticker)
	err = row.Scan(&entry.Ticker, &entry.EventType, &entry.EventTime, &entry.Source, &entry.FetchedAt, &entry.Stale, &entry.Estimated)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.EventCacheEntry{}, false, false, nil
	}
	if err != nil {
		return types.EventCacheEntry{}, false, false, fmt.Errorf("get event_cache: %w", err)
	}
	fresh = time.Since(entry.FetchedAt) < eventCacheFreshness && !entry.Stale
	return entry, fresh, true, nil
}

// Upsert stores or replaces the cached entry for entry.Ticker.
func (r *EventCacheRepository) Upsert(ctx context.Context, entry types.EventCacheEntry) error {
	const query = `
		INSERT INTO event_cache (ticker, event_type, event_time, source, fetched_at, stale, estimated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			event_time = EXCLUDED.event_time,
			source = EXCLUDED.source,
			fetched_at = EXCLUDED.fetched_at,
			stale = EXCLUDED.stale,
			estimated = EXCLUDED.estimated
	`
	_, err := r.db.Pool.Exec(ctx, query, entry.Ticker, entry.EventType, entry.EventTime, entry.Source, entry.FetchedAt, entry.Stale, entry.Estimated)
	if err != nil {
		return fmt.Errorf("upsert event_cache: %w", err)
	}
	return nil
}
