// Package eventcache implements spec.md §4.7's `next_event(ticker)`: a
// fresh-cache-first lookup backed by an ordered provider chain with
// per-ticker single-flight, falling back to a deterministic estimate
// when every provider fails. Grounded on the ESI order cache's
// singleflight.Group-guarded refresh pattern.
package eventcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atlas-desktop/trading-backend/internal/storage"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// estimateMinDays/estimateMaxDays bound the deterministic fallback
// window spec.md §4.7 requires when the whole provider chain fails.
const (
	estimateMinDays = 30
	estimateMaxDays = 90
)

// Provider is the capability this package needs from a catalyst-event
// source. Concrete provider SDKs (earnings calendars, corporate-action
// feeds) are out of scope per spec.md's Non-goals — only this contract
// matters; a real deployment supplies its own implementations in
// priority order.
type Provider interface {
	Name() string
	FetchNextEvent(ctx context.Context, ticker string) (types.EventCacheEntry, error)
}

// Resolver implements next_event(ticker): a repository-backed cache in
// front of an ordered provider chain, deduplicating concurrent lookups
// for the same ticker via a singleflight.Group.
type Resolver struct {
	logger    *zap.Logger
	repo      *storage.EventCacheRepository
	providers []Provider
	group     singleflight.Group
}

// New constructs a Resolver. providers is tried in order on every
// cache miss/stale hit; an empty chain means every miss resolves to the
// deterministic estimate.
func New(logger *zap.Logger, repo *storage.EventCacheRepository, providers ...Provider) *Resolver {
	return &Resolver{logger: logger, repo: repo, providers: providers}
}

// NextEvent returns the next known (or estimated) catalyst event for
// ticker. A fresh cache hit returns immediately; otherwise the provider
// chain runs once per ticker regardless of how many callers are
// currently waiting on it.
func (r *Resolver) NextEvent(ctx context.Context, ticker string) (types.EventCacheEntry, error) {
	entry, fresh, found, err := r.repo.Get(ctx, ticker)
	if err != nil {
		return types.EventCacheEntry{}, err
	}
	if found && fresh {
		return entry, nil
	}

	v, err, _ := r.group.Do(ticker, func() (interface{}, error) {
		return r.refresh(ctx, ticker)
	})
	if err != nil {
		return types.EventCacheEntry{}, err
	}
	return v.(types.EventCacheEntry), nil
}

// refresh walks the provider chain for ticker, upserting the first
// success; if every provider fails (or none are configured) it falls
// back to the deterministic hash-derived estimate.
func (r *Resolver) refresh(ctx context.Context, ticker string) (types.EventCacheEntry, error) {
	for _, p := range r.providers {
		entry, err := p.FetchNextEvent(ctx, ticker)
		if err != nil {
			r.logger.Warn("event provider failed, trying next",
				zap.String("ticker", ticker), zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		entry.Ticker = ticker
		entry.Source = p.Name()
		entry.FetchedAt = time.Now()
		entry.Stale = false
		entry.Estimated = false
		if err := r.repo.Upsert(ctx, entry); err != nil {
			return types.EventCacheEntry{}, err
		}
		return entry, nil
	}

	estimate := EstimateNextEvent(ticker)
	if err := r.repo.Upsert(ctx, estimate); err != nil {
		return types.EventCacheEntry{}, err
	}
	return estimate, nil
}

// EstimateNextEvent deterministically derives a next-event guess from
// ticker alone, landing in a [estimateMinDays, estimateMaxDays] window
// so repeated calls (and cache recomputation after the entry ages out)
// converge on the same day offset for the same ticker.
func EstimateNextEvent(ticker string) types.EventCacheEntry {
	h := sha256.Sum256([]byte(ticker))
	span := uint64(estimateMaxDays - estimateMinDays + 1)
	days := estimateMinDays + int(binary.BigEndian.Uint64(h[:8])%span)

	return types.EventCacheEntry{
		Ticker:    ticker,
		EventType: "EARNINGS",
		EventTime: time.Now().Add(time.Duration(days) * 24 * time.Hour),
		Source:    "estimated",
		FetchedAt: time.Now(),
		Stale:     false,
		Estimated: true,
	}
}
