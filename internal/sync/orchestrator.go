// Package sync implements the tiered-fallback engine that reconciles the
// canonical store, the object cache, and the provider APIs. Tier reads happen
// strictly store -> cache -> API: each tier is authoritative over the next,
// which is what keeps a fully-fresh range at zero external calls.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"example.com/biosync/internal/domain"
	"example.com/biosync/internal/events"
	"example.com/biosync/internal/freshness"
	"example.com/biosync/internal/observability"
)

const defaultLeaseTTL = 5 * time.Minute

var errStoreUnavailable = errors.New("canonical store unavailable")

// Provider pairs an adapter with its normalizer.
type Provider struct {
	Adapter    domain.Adapter
	Normalizer domain.Normalizer
}

// RunRecorder persists a sync.completed event for a finished run.
type RunRecorder interface {
	LogSyncRun(ctx context.Context, ev events.SyncCompleted) error
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the orchestrator's logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithLeaseTTL overrides how long a crashed run may hold its lease.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Service) { s.leaseTTL = ttl }
}

// WithRunRecorder wires outbox recording of finished runs.
func WithRunRecorder(recorder RunRecorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStorageBackoff overrides the retry policy for upserts after a
// successful fetch. Tests substitute a zero-delay policy.
func WithStorageBackoff(policy func() backoff.BackOff) Option {
	return func(s *Service) { s.storageBackoff = policy }
}

// Service orchestrates sync runs. Runs for different (subject, source) pairs
// are fully independent; the lease store is the only serialization point.
type Service struct {
	store          domain.CanonicalStore
	cache          domain.ObjectCache
	leases         domain.LeaseStore
	resolver       *freshness.Resolver
	providers      map[domain.Source]Provider
	recorder       RunRecorder
	leaseTTL       time.Duration
	logger         *log.Logger
	now            func() time.Time
	storageBackoff func() backoff.BackOff
}

// NewService constructs the orchestrator.
func NewService(store domain.CanonicalStore, cache domain.ObjectCache, leases domain.LeaseStore, resolver *freshness.Resolver, providers map[domain.Source]Provider, opts ...Option) *Service {
	s := &Service{
		store:     store,
		cache:     cache,
		leases:    leases,
		resolver:  resolver,
		providers: providers,
		leaseTTL:  defaultLeaseTTL,
		logger:    log.New(log.Writer(), "[orchestrator] ", log.LstdFlags),
		now:       time.Now,
		storageBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncSubject runs one sync per requested source, concurrently. Sources for
// the same subject are independent; each gets its own lease, its own outcome,
// and its own failure domain.
func (s *Service) SyncSubject(ctx context.Context, subjectID string, sources []domain.Source, r domain.DateRange) domain.SyncReport {
	report := make(domain.SyncReport, len(sources))

	var (
		mu gosync.Mutex
		wg gosync.WaitGroup
	)
	for _, source := range sources {
		wg.Add(1)
		go func(source domain.Source) {
			defer wg.Done()

			start := s.now()
			outcome := s.syncSource(ctx, subjectID, source, r)
			observability.ObserveSyncDuration(string(source), s.now().Sub(start))
			observability.RecordSyncOutcome(string(source), string(outcome.Status))
			s.recordRun(subjectID, source, outcome)

			mu.Lock()
			report[source] = outcome
			mu.Unlock()
		}(source)
	}
	wg.Wait()

	return report
}

// syncSource is the per-(subject, source) state machine:
// lease -> resolve store -> resolve cache -> fetch -> normalize -> persist.
func (s *Service) syncSource(ctx context.Context, subjectID string, source domain.Source, r domain.DateRange) domain.Outcome {
	provider, ok := s.providers[source]
	if !ok {
		return domain.Outcome{Status: domain.StatusFailure, Reason: fmt.Sprintf("no provider registered for source %q", source)}
	}

	leaseKey := subjectID + "/" + string(source)
	acquired, err := s.leases.TryAcquire(ctx, leaseKey, s.leaseTTL)
	if err != nil {
		return domain.Outcome{Status: domain.StatusFailure, Reason: "lease store: " + err.Error()}
	}
	if !acquired {
		observability.RecordLeaseContention()
		return domain.Outcome{Status: domain.StatusSkipped, Reason: "sync already in progress"}
	}
	defer s.release(leaseKey)

	// Tier 1: the canonical store is the freshness source of truth. A fully
	// fresh range performs zero cache reads and zero external calls.
	dates := r.Dates()
	m1 := s.resolver.MissingFromStore(ctx, subjectID, source, dates)
	if len(m1) == 0 {
		return domain.Outcome{Status: domain.StatusSuccess}
	}

	persisted := make(map[domain.Date]bool, len(m1))
	normFailed := make(map[domain.Date]bool)

	// Tier 2: serve what the object cache already holds. A date served from
	// cache is never re-fetched within the same pass, even if its payload
	// turns out unnormalizable.
	m2 := s.resolver.MissingFromCache(ctx, subjectID, source, m1, "")
	missingSet := toSet(m2)
	for _, d := range m1 {
		if missingSet[d] {
			continue
		}
		blob, err := s.cache.Get(ctx, subjectID, source, d)
		if err != nil || blob == nil {
			if err != nil {
				s.logger.Printf("cache read failed (subject=%s, source=%s, date=%s): %v", subjectID, source, d, err)
			}
			m2 = append(m2, d)
			missingSet[d] = true
			continue
		}
		observability.RecordCacheHit(string(source))

		payload := domain.RawPayload{Source: source, Date: d, Body: blob.Body}
		if err := s.persist(ctx, subjectID, provider.Normalizer, payload); err != nil {
			if domain.IsNormalization(err) {
				s.logger.Printf("normalization failed (subject=%s, source=%s, date=%s): %v", subjectID, source, d, err)
				normFailed[d] = true
				continue
			}
			return domain.Outcome{Status: domain.StatusFailure, Reason: err.Error(), MissingDates: s.unresolved(m1, persisted)}
		}
		persisted[d] = true
	}
	domain.SortDates(m2)

	// Tier 3: the provider API, only for the remainder.
	if len(m2) > 0 {
		outcome, done := s.fetchAndPersist(ctx, subjectID, provider, m1, m2, persisted, normFailed)
		if done {
			return outcome
		}
	}

	return s.conclude(m1, persisted, normFailed)
}

// fetchAndPersist runs tiers 3..5 of the state machine. It returns
// (outcome, true) when the run must terminate with that outcome, and
// (_, false) when syncSource should conclude normally.
func (s *Service) fetchAndPersist(ctx context.Context, subjectID string, provider Provider, m1, m2 []domain.Date, persisted, normFailed map[domain.Date]bool) (domain.Outcome, bool) {
	source := provider.Adapter.Source()

	// Caller-initiated cancellation stops before any further external calls.
	if err := ctx.Err(); err != nil {
		return domain.Outcome{Status: domain.StatusFailure, Reason: "cancelled before provider fetch: " + err.Error(), MissingDates: s.unresolved(m1, persisted)}, true
	}

	authed, err := provider.Adapter.Authenticate(ctx, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsRevoked) {
			return domain.Outcome{Status: domain.StatusFailure, Reason: "credentials revoked", MissingDates: s.unresolved(m1, persisted)}, true
		}
		return domain.Outcome{Status: domain.StatusFailure, Reason: "authentication: " + err.Error(), MissingDates: s.unresolved(m1, persisted)}, true
	}
	if !authed {
		return domain.Outcome{Status: domain.StatusFailure, Reason: "not authenticated", MissingDates: s.unresolved(m1, persisted)}, true
	}

	// The API is queried over the covering span even when m2 is sparse;
	// results for dates outside m2 are discarded below rather than allowed
	// to overwrite canonical data the store already considers fresh.
	covering, _ := domain.CoveringRange(m2)
	payloads, err := provider.Adapter.FetchRange(ctx, subjectID, covering)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCredentialsRevoked):
			return domain.Outcome{Status: domain.StatusFailure, Reason: "credentials revoked", MissingDates: s.unresolved(m1, persisted)}, true
		case domain.IsRetryableFetch(err):
			s.logger.Printf("provider unavailable after retries (subject=%s, source=%s): %v", subjectID, source, err)
			return domain.Outcome{Status: domain.StatusPartial, Reason: "provider unavailable", MissingDates: s.unresolved(m1, persisted)}, true
		default:
			return domain.Outcome{Status: domain.StatusFailure, Reason: err.Error(), MissingDates: s.unresolved(m1, persisted)}, true
		}
	}

	wanted := toSet(m2)
	captured := s.now().UTC()
	for _, payload := range payloads {
		if !wanted[payload.Date] {
			continue
		}

		// Cache first so a storage failure below never costs the fetch.
		blob := domain.RawBlob{
			SubjectID:  subjectID,
			Source:     source,
			Date:       payload.Date,
			CapturedAt: captured,
			Body:       payload.Body,
		}
		if err := s.cache.Put(ctx, blob); err != nil {
			s.logger.Printf("cache write failed (subject=%s, source=%s, date=%s): %v", subjectID, source, payload.Date, err)
		}

		if err := s.persist(ctx, subjectID, provider.Normalizer, payload); err != nil {
			if domain.IsNormalization(err) {
				s.logger.Printf("normalization failed (subject=%s, source=%s, date=%s): %v", subjectID, source, payload.Date, err)
				normFailed[payload.Date] = true
				continue
			}
			return domain.Outcome{Status: domain.StatusFailure, Reason: err.Error(), MissingDates: s.unresolved(m1, persisted)}, true
		}
		persisted[payload.Date] = true
	}

	return domain.Outcome{}, false
}

// persist normalizes one day and upserts it, retrying the upsert so a
// successful fetch is never silently dropped on a storage blip. If storage
// stays unavailable the run fails and the caller retries the whole pass.
func (s *Service) persist(ctx context.Context, subjectID string, normalizer domain.Normalizer, payload domain.RawPayload) error {
	rec, err := normalizer.Normalize(subjectID, payload)
	if err != nil {
		return err
	}

	operation := func() error {
		return s.store.Upsert(ctx, rec)
	}
	if err := backoff.Retry(operation, backoff.WithContext(s.storageBackoff(), ctx)); err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	return nil
}

// conclude builds the terminal outcome: Success when every date missing from
// the store ended up persisted, PartialSuccess otherwise. "No upstream data"
// is recorded, not retried indefinitely.
func (s *Service) conclude(m1 []domain.Date, persisted, normFailed map[domain.Date]bool) domain.Outcome {
	missing := s.unresolved(m1, persisted)
	if len(missing) == 0 {
		return domain.Outcome{Status: domain.StatusSuccess}
	}

	failed := 0
	for _, d := range missing {
		if normFailed[d] {
			failed++
		}
	}

	reason := fmt.Sprintf("no upstream data for %d of %d dates", len(missing)-failed, len(m1))
	if failed > 0 {
		reason = fmt.Sprintf("normalization failed for %d dates, no upstream data for %d", failed, len(missing)-failed)
	}
	return domain.Outcome{Status: domain.StatusPartial, MissingDates: missing, Reason: reason}
}

func (s *Service) unresolved(m1 []domain.Date, persisted map[domain.Date]bool) []domain.Date {
	var missing []domain.Date
	for _, d := range m1 {
		if !persisted[d] {
			missing = append(missing, d)
		}
	}
	return domain.SortDates(missing)
}

// release returns the lease on a context detached from the run, so a
// cancelled sync still unlocks promptly instead of waiting out the TTL.
func (s *Service) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.leases.Release(ctx, key); err != nil {
		s.logger.Printf("lease release failed (key=%s): %v", key, err)
	}
}

func (s *Service) recordRun(subjectID string, source domain.Source, outcome domain.Outcome) {
	if s.recorder == nil {
		return
	}

	missing := make([]string, 0, len(outcome.MissingDates))
	for _, d := range outcome.MissingDates {
		missing = append(missing, d.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.recorder.LogSyncRun(ctx, events.SyncCompleted{
		RunID:        uuid.NewString(),
		SubjectID:    subjectID,
		Source:       string(source),
		Status:       string(outcome.Status),
		MissingDates: missing,
		Reason:       outcome.Reason,
		CompletedAt:  s.now().UTC(),
	})
	if err != nil {
		s.logger.Printf("sync run logging failed (subject=%s, source=%s): %v", subjectID, source, err)
	}
}

func toSet(dates []domain.Date) map[domain.Date]bool {
	set := make(map[domain.Date]bool, len(dates))
	for _, d := range dates {
		set[d] = true
	}
	return set
}
