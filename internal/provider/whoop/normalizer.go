package whoop

import (
	"encoding/json"

	"example.com/biosync/internal/domain"
)

// Normalizer converts one WHOOP daily record into the canonical schema.
// WHOOP reports sleep stage durations in milliseconds and heart-rate
// variability as RMSSD in milliseconds. It has no step counter.
type Normalizer struct{}

// Source identifies the provider.
func (Normalizer) Source() domain.Source { return domain.SourceWhoop }

// dailyRecord mirrors the provider-native shape. Every nested group is a
// pointer so an absent group decodes to nil instead of a zeroed struct.
type dailyRecord struct {
	Date  string `json:"date"`
	Sleep *struct {
		TotalMs     *int64 `json:"total_sleep_time_ms"`
		SlowWaveMs  *int64 `json:"slow_wave_sleep_time_ms"`
		LightMs     *int64 `json:"light_sleep_time_ms"`
		RemMs       *int64 `json:"rem_sleep_time_ms"`
		AwakeMs     *int64 `json:"wake_time_ms"`
		Disturbance *int   `json:"disturbance_count"`
	} `json:"sleep"`
	Recovery *struct {
		Score       *int     `json:"recovery_score"`
		RestingHR   *int     `json:"resting_heart_rate"`
		HRVRmssdMs  *float64 `json:"hrv_rmssd_ms"`
		SkinTempC   *float64 `json:"skin_temp_celsius"`
		SpO2Percent *float64 `json:"spo2_percentage"`
	} `json:"recovery"`
	Strain *struct {
		Score        *float64 `json:"strain_score"`
		AvgHR        *int     `json:"average_heart_rate"`
		MaxHR        *int     `json:"max_heart_rate"`
		CaloriesKcal *int     `json:"calories_kcal"`
	} `json:"strain"`
}

// Normalize maps the payload field by field. Missing nested groups leave the
// corresponding canonical fields nil; only an unattributable payload (no
// usable date) is an error.
func (n Normalizer) Normalize(subjectID string, payload domain.RawPayload) (domain.CanonicalRecord, error) {
	if payload.Date.IsZero() {
		return domain.CanonicalRecord{}, &domain.NormalizationError{Source: domain.SourceWhoop, Reason: "payload has no date"}
	}

	var raw dailyRecord
	if err := json.Unmarshal(payload.Body, &raw); err != nil {
		return domain.CanonicalRecord{}, &domain.NormalizationError{Source: domain.SourceWhoop, Reason: "undecodable payload: " + err.Error()}
	}

	rec := domain.CanonicalRecord{
		SubjectID:  subjectID,
		Date:       payload.Date,
		Source:     domain.SourceWhoop,
		Extensions: map[string]float64{},
	}

	if s := raw.Sleep; s != nil {
		rec.TotalSleepSec = msToSec(s.TotalMs)
		rec.DeepSleepSec = msToSec(s.SlowWaveMs)
		rec.LightSleepSec = msToSec(s.LightMs)
		rec.RemSleepSec = msToSec(s.RemMs)
		rec.AwakeSec = msToSec(s.AwakeMs)
		if s.Disturbance != nil {
			rec.Extensions["sleep_disturbance_count"] = float64(*s.Disturbance)
		}
	}

	if r := raw.Recovery; r != nil {
		rec.RecoveryScore = r.Score
		rec.RestingHR = r.RestingHR
		rec.HRVMs = r.HRVRmssdMs
		if r.SkinTempC != nil {
			rec.Extensions["skin_temp_celsius"] = *r.SkinTempC
		}
		if r.SpO2Percent != nil {
			rec.Extensions["spo2_percentage"] = *r.SpO2Percent
		}
	}

	if st := raw.Strain; st != nil {
		rec.MaxHR = st.MaxHR
		rec.CaloriesKcal = st.CaloriesKcal
		if st.Score != nil {
			rec.Extensions["strain_score"] = *st.Score
		}
		if st.AvgHR != nil {
			rec.Extensions["average_heart_rate"] = float64(*st.AvgHR)
		}
	}

	if len(rec.Extensions) == 0 {
		rec.Extensions = nil
	}
	return rec, nil
}

// msToSec converts a millisecond duration to whole seconds. The conversion
// is exact for the millisecond-granular values WHOOP reports.
func msToSec(ms *int64) *int {
	if ms == nil {
		return nil
	}
	return domain.Int(int(*ms / 1000))
}
