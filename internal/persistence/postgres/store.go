// Package postgres provides the durable tier: canonical biometric records,
// sync leases, provider credentials, and the transactional outbox rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/biosync/internal/domain"
	"example.com/biosync/internal/events"
	"example.com/biosync/internal/observability"
)

const recordColumns = `subject_id, record_date, source,
        total_sleep_s, deep_sleep_s, light_sleep_s, rem_sleep_s, awake_s,
        resting_hr, max_hr, min_hr, hrv_ms,
        steps, distance_m, calories_kcal, active_min,
        stress_level, recovery_score, extensions, created_at, updated_at`

// RecordStore provides Postgres-backed persistence for canonical records.
type RecordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

// Get retrieves one record, or (nil, nil) when absent.
func (s *RecordStore) Get(ctx context.Context, subjectID string, date domain.Date, source domain.Source) (*domain.CanonicalRecord, error) {
	query := `SELECT ` + recordColumns + `
        FROM biometric_records WHERE subject_id=$1 AND record_date=$2 AND source=$3`

	row := s.pool.QueryRow(ctx, query, subjectID, date.Time(), string(source))
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Upsert writes the record and an outbox event inside a single transaction.
// The conflict target (subject_id, record_date, source) makes repeated syncs
// converge deterministically.
func (s *RecordStore) Upsert(ctx context.Context, rec domain.CanonicalRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	extensions := rec.Extensions
	if extensions == nil {
		extensions = map[string]float64{}
	}

	const stmt = `INSERT INTO biometric_records (subject_id, record_date, source,
            total_sleep_s, deep_sleep_s, light_sleep_s, rem_sleep_s, awake_s,
            resting_hr, max_hr, min_hr, hrv_ms,
            steps, distance_m, calories_kcal, active_min,
            stress_level, recovery_score, extensions, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$20)
        ON CONFLICT (subject_id, record_date, source) DO UPDATE SET
            total_sleep_s=EXCLUDED.total_sleep_s, deep_sleep_s=EXCLUDED.deep_sleep_s,
            light_sleep_s=EXCLUDED.light_sleep_s, rem_sleep_s=EXCLUDED.rem_sleep_s,
            awake_s=EXCLUDED.awake_s, resting_hr=EXCLUDED.resting_hr,
            max_hr=EXCLUDED.max_hr, min_hr=EXCLUDED.min_hr, hrv_ms=EXCLUDED.hrv_ms,
            steps=EXCLUDED.steps, distance_m=EXCLUDED.distance_m,
            calories_kcal=EXCLUDED.calories_kcal, active_min=EXCLUDED.active_min,
            stress_level=EXCLUDED.stress_level, recovery_score=EXCLUDED.recovery_score,
            extensions=EXCLUDED.extensions, updated_at=EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, stmt,
		rec.SubjectID,
		rec.Date.Time(),
		string(rec.Source),
		rec.TotalSleepSec, rec.DeepSleepSec, rec.LightSleepSec, rec.RemSleepSec, rec.AwakeSec,
		rec.RestingHR, rec.MaxHR, rec.MinHR, rec.HRVMs,
		rec.Steps, rec.DistanceMeters, rec.CaloriesKcal, rec.ActiveMinutes,
		rec.StressLevel, rec.RecoveryScore, extensions, now,
	)
	if err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, outboxEntry{
		SubjectID:     rec.SubjectID,
		AggregateType: "biometric_record",
		AggregateID:   rec.SubjectID + "/" + string(rec.Source) + "/" + rec.Date.String(),
		EventType:     "record.upserted",
		PartitionKey:  rec.SubjectID,
	}, events.RecordUpserted{
		SubjectID:  rec.SubjectID,
		Date:       rec.Date.String(),
		Source:     string(rec.Source),
		OccurredAt: now,
	}); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}
	observability.RecordPersisted(now)
	return nil
}

// ExistingDates reports which of the supplied dates already have a record.
func (s *RecordStore) ExistingDates(ctx context.Context, subjectID string, source domain.Source, dates []domain.Date) (map[domain.Date]bool, error) {
	if len(dates) == 0 {
		return map[domain.Date]bool{}, nil
	}

	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		days = append(days, d.Time())
	}

	const query = `SELECT record_date FROM biometric_records
        WHERE subject_id=$1 AND source=$2 AND record_date = ANY($3)`

	rows, err := s.pool.Query(ctx, query, subjectID, string(source), days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[domain.Date]bool, len(dates))
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		existing[domain.DateOf(day)] = true
	}
	return existing, rows.Err()
}

// ListRange returns the subject's records for the range, ascending by date.
func (s *RecordStore) ListRange(ctx context.Context, subjectID string, source domain.Source, r domain.DateRange) ([]domain.CanonicalRecord, error) {
	query := `SELECT ` + recordColumns + `
        FROM biometric_records
        WHERE subject_id=$1 AND source=$2 AND record_date BETWEEN $3 AND $4
        ORDER BY record_date`

	rows, err := s.pool.Query(ctx, query, subjectID, string(source), r.Start.Time(), r.End.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.CanonicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

// DeleteSubject removes every record for the subject. Records are otherwise
// never deleted; this backs the subject-deletion cascade only.
func (s *RecordStore) DeleteSubject(ctx context.Context, subjectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM biometric_records WHERE subject_id=$1`, subjectID)
	return err
}

// LogSyncRun records a sync.completed outbox event for the finished run.
func (s *RecordStore) LogSyncRun(ctx context.Context, ev events.SyncCompleted) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = insertOutbox(ctx, tx, outboxEntry{
		SubjectID:     ev.SubjectID,
		AggregateType: "sync_run",
		AggregateID:   ev.RunID,
		EventType:     "sync.completed",
		PartitionKey:  ev.SubjectID + ":" + ev.Source,
	}, ev); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

type outboxEntry struct {
	SubjectID     string
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
}

func insertOutbox(ctx context.Context, tx pgx.Tx, entry outboxEntry, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[entry.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", entry.EventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", entry.AggregateID, entry.EventType)

	const stmt = `INSERT INTO outbox (subject_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO UPDATE SET payload=EXCLUDED.payload, published_at=NULL`

	_, err = tx.Exec(ctx, stmt,
		entry.SubjectID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		meta.Topic,
		meta.SchemaSubject,
		entry.PartitionKey,
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"record.upserted": {
		Topic:         "biometric_events",
		SchemaSubject: "biometric_events-value",
	},
	"sync.completed": {
		Topic:         "sync_run_events",
		SchemaSubject: "sync_run_events-value",
	},
}

// scanner abstracts pgx.Row and pgx.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.CanonicalRecord, error) {
	var (
		rec    domain.CanonicalRecord
		day    time.Time
		source string
	)
	if err := row.Scan(
		&rec.SubjectID, &day, &source,
		&rec.TotalSleepSec, &rec.DeepSleepSec, &rec.LightSleepSec, &rec.RemSleepSec, &rec.AwakeSec,
		&rec.RestingHR, &rec.MaxHR, &rec.MinHR, &rec.HRVMs,
		&rec.Steps, &rec.DistanceMeters, &rec.CaloriesKcal, &rec.ActiveMinutes,
		&rec.StressLevel, &rec.RecoveryScore, &rec.Extensions, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Date = domain.DateOf(day)
	rec.Source = domain.Source(source)
	return &rec, nil
}
