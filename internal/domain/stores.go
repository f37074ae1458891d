package domain

import (
	"context"
	"time"
)

// CanonicalStore is the durable, queryable source of truth: one record per
// (subject, date, source). Upserts are deterministic so repeated syncs
// converge instead of duplicating.
type CanonicalStore interface {
	Get(ctx context.Context, subjectID string, date Date, source Source) (*CanonicalRecord, error)
	Upsert(ctx context.Context, rec CanonicalRecord) error
	// ExistingDates reports which of the supplied dates already have a record.
	ExistingDates(ctx context.Context, subjectID string, source Source, dates []Date) (map[Date]bool, error)
	ListRange(ctx context.Context, subjectID string, source Source, r DateRange) ([]CanonicalRecord, error)
}

// ObjectCache is the durable blob tier holding provider-native payloads,
// keyed {subjectId}/{source}/{date}. Get returns (nil, nil) on a miss.
type ObjectCache interface {
	Get(ctx context.Context, subjectID string, source Source, date Date) (*RawBlob, error)
	Put(ctx context.Context, blob RawBlob) error
	Has(ctx context.Context, subjectID string, source Source, date Date) (bool, error)
}

// LeaseStore provides leased per-key mutual exclusion. TryAcquire is atomic:
// of two racing callers exactly one wins. Expired leases are free to take.
// Release is idempotent and safe after expiry.
type LeaseStore interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Adapter fetches raw data from one provider. FetchRange may return fewer
// days than requested when upstream has no data; that is valid, not an error.
type Adapter interface {
	Source() Source
	// Authenticate reports whether the subject holds usable credentials,
	// refreshing an expired token as a side effect. A false return means the
	// orchestrator must not call FetchRange.
	Authenticate(ctx context.Context, subjectID string) (bool, error)
	FetchRange(ctx context.Context, subjectID string, r DateRange) ([]RawPayload, error)
}

// Normalizer converts one provider-native day into the canonical schema.
// Implementations are pure: no I/O, absent nested structures degrade to nil
// metric fields, and an error is returned only when the payload cannot be
// attributed to a date and source.
type Normalizer interface {
	Source() Source
	Normalize(subjectID string, payload RawPayload) (CanonicalRecord, error)
}
