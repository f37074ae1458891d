package oura

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/biosync/internal/domain"
)

func TestNormalizeMapsNativeSeconds(t *testing.T) {
	payload := domain.RawPayload{
		Source: domain.SourceOura,
		Date:   domain.MustDate("2026-08-29"),
		Body: []byte(`{
			"day": "2026-08-29",
			"sleep": {
				"total_sleep_duration": 27000,
				"deep_sleep_duration": 5400,
				"light_sleep_duration": 14400,
				"rem_sleep_duration": 7200,
				"awake_time": 1800,
				"average_hrv": 61.0,
				"lowest_heart_rate": 44,
				"efficiency": 92
			},
			"activity": {
				"steps": 11250,
				"equivalent_walking_distance": 8400.5,
				"active_calories": 620,
				"high_activity_time": 1200,
				"medium_activity_time": 2400,
				"average_met_minutes": 1.4
			},
			"readiness": {
				"score": 85,
				"resting_heart_rate": 47
			},
			"stress": {
				"day_summary_level": 2
			}
		}`),
	}

	rec, err := Normalizer{}.Normalize("subj-1", payload)
	require.NoError(t, err)

	require.Equal(t, 27000, *rec.TotalSleepSec)
	require.Equal(t, 5400, *rec.DeepSleepSec)
	require.Equal(t, 14400, *rec.LightSleepSec)
	require.Equal(t, 7200, *rec.RemSleepSec)
	require.Equal(t, 1800, *rec.AwakeSec)
	require.InDelta(t, 61.0, *rec.HRVMs, 0.0001)
	require.Equal(t, 44, *rec.MinHR)

	require.Equal(t, 11250, *rec.Steps)
	require.InDelta(t, 8400.5, *rec.DistanceMeters, 0.0001)
	require.Equal(t, 620, *rec.CaloriesKcal)
	// 1200s high + 2400s medium = 60 active minutes.
	require.Equal(t, 60, *rec.ActiveMinutes)

	require.Equal(t, 85, *rec.RecoveryScore)
	require.Equal(t, 47, *rec.RestingHR)
	require.Equal(t, 2, *rec.StressLevel)

	require.InDelta(t, 92, rec.Extensions["sleep_efficiency"], 0.0001)
	require.InDelta(t, 1.4, rec.Extensions["average_met_minutes"], 0.0001)
}

func TestNormalizeActiveMinutesFromSingleBucket(t *testing.T) {
	payload := domain.RawPayload{
		Source: domain.SourceOura,
		Date:   domain.MustDate("2026-08-29"),
		Body:   []byte(`{"day":"2026-08-29","activity":{"high_activity_time":900}}`),
	}

	rec, err := Normalizer{}.Normalize("subj-1", payload)
	require.NoError(t, err)
	require.Equal(t, 15, *rec.ActiveMinutes)
	require.Nil(t, rec.Steps)
}

func TestNormalizeMissingGroupsLeaveFieldsNil(t *testing.T) {
	payload := domain.RawPayload{
		Source: domain.SourceOura,
		Date:   domain.MustDate("2026-08-29"),
		Body:   []byte(`{"day":"2026-08-29","readiness":{"score":70}}`),
	}

	rec, err := Normalizer{}.Normalize("subj-1", payload)
	require.NoError(t, err)

	require.Equal(t, 70, *rec.RecoveryScore)
	require.Nil(t, rec.TotalSleepSec)
	require.Nil(t, rec.ActiveMinutes)
	require.Nil(t, rec.StressLevel)
	require.Nil(t, rec.Extensions)
}

func TestNormalizeRejectsUnattributablePayloads(t *testing.T) {
	_, err := Normalizer{}.Normalize("subj-1", domain.RawPayload{
		Source: domain.SourceOura,
		Body:   []byte(`{"sleep":{}}`),
	})
	require.True(t, domain.IsNormalization(err))

	_, err = Normalizer{}.Normalize("subj-1", domain.RawPayload{
		Source: domain.SourceOura,
		Date:   domain.MustDate("2026-08-29"),
		Body:   []byte(`[[`),
	})
	require.True(t, domain.IsNormalization(err))
}
