// Package aggregate computes descriptive statistics over canonical records
// for team and position rollups. Unknown metrics (nil fields) are excluded
// from every denominator rather than counted as zero.
package aggregate

import (
	"context"
	"math"

	"example.com/biosync/internal/domain"
)

// Metric names exposed in rollups.
const (
	MetricTotalSleepSec = "total_sleep_s"
	MetricRestingHR     = "resting_hr"
	MetricHRVMs         = "hrv_ms"
	MetricSteps         = "steps"
	MetricRecoveryScore = "recovery_score"
)

// Summary holds descriptive statistics for one metric.
type Summary struct {
	Metric string  `json:"metric"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// TeamRollup aggregates a set of subjects over a date range.
type TeamRollup struct {
	Subjects int                `json:"subjects"`
	Records  int                `json:"records"`
	Metrics  map[string]Summary `json:"metrics"`
}

// RecordSource is the slice of the canonical store the rollup reads from.
type RecordSource interface {
	ListRange(ctx context.Context, subjectID string, source domain.Source, r domain.DateRange) ([]domain.CanonicalRecord, error)
}

// Team reads each subject's records across all requested sources and folds
// them into per-metric summaries.
func Team(ctx context.Context, store RecordSource, subjectIDs []string, sources []domain.Source, r domain.DateRange) (TeamRollup, error) {
	rollup := TeamRollup{
		Subjects: len(subjectIDs),
		Metrics:  make(map[string]Summary),
	}

	samples := make(map[string][]float64)
	for _, subjectID := range subjectIDs {
		for _, source := range sources {
			records, err := store.ListRange(ctx, subjectID, source, r)
			if err != nil {
				return TeamRollup{}, err
			}
			rollup.Records += len(records)
			for _, rec := range records {
				collect(samples, rec)
			}
		}
	}

	for metric, values := range samples {
		rollup.Metrics[metric] = summarize(metric, values)
	}
	return rollup, nil
}

func collect(samples map[string][]float64, rec domain.CanonicalRecord) {
	if rec.TotalSleepSec != nil {
		samples[MetricTotalSleepSec] = append(samples[MetricTotalSleepSec], float64(*rec.TotalSleepSec))
	}
	if rec.RestingHR != nil {
		samples[MetricRestingHR] = append(samples[MetricRestingHR], float64(*rec.RestingHR))
	}
	if rec.HRVMs != nil {
		samples[MetricHRVMs] = append(samples[MetricHRVMs], *rec.HRVMs)
	}
	if rec.Steps != nil {
		samples[MetricSteps] = append(samples[MetricSteps], float64(*rec.Steps))
	}
	if rec.RecoveryScore != nil {
		samples[MetricRecoveryScore] = append(samples[MetricRecoveryScore], float64(*rec.RecoveryScore))
	}
}

func summarize(metric string, values []float64) Summary {
	s := Summary{
		Metric: metric,
		Count:  len(values),
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
	}

	sum := 0.0
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if s.Count > 0 {
		s.Mean = sum / float64(s.Count)
	} else {
		s.Min, s.Max = 0, 0
	}
	return s
}
