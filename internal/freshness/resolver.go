// Package freshness determines which dates of a requested range are already
// present at a given storage tier. Presence is freshness: no value-level
// validation happens here.
package freshness

import (
	"context"
	"encoding/json"
	"log"

	"example.com/biosync/internal/domain"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger overrides the logger used to report degraded tier reads.
func WithLogger(logger *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver answers "which of these dates are missing" per tier. Any storage
// read failure is treated as "all dates missing" for that tier: a transient
// read error must never suppress a fetch from the next tier.
type Resolver struct {
	store  domain.CanonicalStore
	cache  domain.ObjectCache
	logger *log.Logger
}

// New constructs a Resolver over the two storage tiers.
func New(store domain.CanonicalStore, cache domain.ObjectCache, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		cache:  cache,
		logger: log.New(log.Writer(), "[freshness] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MissingFromStore returns the dates with no canonical record, in ascending
// order.
func (r *Resolver) MissingFromStore(ctx context.Context, subjectID string, source domain.Source, dates []domain.Date) []domain.Date {
	existing, err := r.store.ExistingDates(ctx, subjectID, source, dates)
	if err != nil {
		r.logger.Printf("store read failed (subject=%s, source=%s): %v; treating %d dates as missing", subjectID, source, err, len(dates))
		return domain.SortDates(append([]domain.Date(nil), dates...))
	}

	missing := make([]domain.Date, 0, len(dates))
	for _, d := range dates {
		if !existing[d] {
			missing = append(missing, d)
		}
	}
	return domain.SortDates(missing)
}

// MissingFromCache returns the dates with no cached blob. When requireField
// is non-empty, blobs whose top-level JSON lacks the field count as missing.
func (r *Resolver) MissingFromCache(ctx context.Context, subjectID string, source domain.Source, dates []domain.Date, requireField string) []domain.Date {
	missing := make([]domain.Date, 0, len(dates))
	for _, d := range dates {
		present, err := r.cachePresence(ctx, subjectID, source, d, requireField)
		if err != nil {
			r.logger.Printf("cache read failed (subject=%s, source=%s, date=%s): %v; treating as missing", subjectID, source, d, err)
			present = false
		}
		if !present {
			missing = append(missing, d)
		}
	}
	return domain.SortDates(missing)
}

func (r *Resolver) cachePresence(ctx context.Context, subjectID string, source domain.Source, d domain.Date, requireField string) (bool, error) {
	if requireField == "" {
		return r.cache.Has(ctx, subjectID, source, d)
	}

	blob, err := r.cache.Get(ctx, subjectID, source, d)
	if err != nil || blob == nil {
		return false, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(blob.Body, &fields); err != nil {
		// Undecodable blobs cannot satisfy a field requirement.
		return false, nil
	}
	_, ok := fields[requireField]
	return ok, nil
}
