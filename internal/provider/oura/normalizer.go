package oura

import (
	"encoding/json"

	"example.com/biosync/internal/domain"
)

// Normalizer converts one Oura daily document into the canonical schema.
// Oura reports sleep durations in seconds, activity distance in meters, and
// active time split across intensity buckets in seconds.
type Normalizer struct{}

// Source identifies the provider.
func (Normalizer) Source() domain.Source { return domain.SourceOura }

type dailyDocument struct {
	Day   string `json:"day"`
	Sleep *struct {
		TotalSec   *int     `json:"total_sleep_duration"`
		DeepSec    *int     `json:"deep_sleep_duration"`
		LightSec   *int     `json:"light_sleep_duration"`
		RemSec     *int     `json:"rem_sleep_duration"`
		AwakeSec   *int     `json:"awake_time"`
		AvgHRVMs   *float64 `json:"average_hrv"`
		LowestHR   *int     `json:"lowest_heart_rate"`
		Efficiency *int     `json:"efficiency"`
	} `json:"sleep"`
	Activity *struct {
		Steps           *int     `json:"steps"`
		DistanceMeters  *float64 `json:"equivalent_walking_distance"`
		CaloriesKcal    *int     `json:"active_calories"`
		HighActivitySec *int     `json:"high_activity_time"`
		MedActivitySec  *int     `json:"medium_activity_time"`
		AverageMets     *float64 `json:"average_met_minutes"`
	} `json:"activity"`
	Readiness *struct {
		Score     *int `json:"score"`
		RestingHR *int `json:"resting_heart_rate"`
	} `json:"readiness"`
	Stress *struct {
		DayStressLevel *int `json:"day_summary_level"`
	} `json:"stress"`
}

// Normalize maps the document field by field. Missing nested groups leave
// the corresponding canonical fields nil.
func (n Normalizer) Normalize(subjectID string, payload domain.RawPayload) (domain.CanonicalRecord, error) {
	if payload.Date.IsZero() {
		return domain.CanonicalRecord{}, &domain.NormalizationError{Source: domain.SourceOura, Reason: "payload has no date"}
	}

	var raw dailyDocument
	if err := json.Unmarshal(payload.Body, &raw); err != nil {
		return domain.CanonicalRecord{}, &domain.NormalizationError{Source: domain.SourceOura, Reason: "undecodable payload: " + err.Error()}
	}

	rec := domain.CanonicalRecord{
		SubjectID:  subjectID,
		Date:       payload.Date,
		Source:     domain.SourceOura,
		Extensions: map[string]float64{},
	}

	if s := raw.Sleep; s != nil {
		rec.TotalSleepSec = s.TotalSec
		rec.DeepSleepSec = s.DeepSec
		rec.LightSleepSec = s.LightSec
		rec.RemSleepSec = s.RemSec
		rec.AwakeSec = s.AwakeSec
		rec.HRVMs = s.AvgHRVMs
		rec.MinHR = s.LowestHR
		if s.Efficiency != nil {
			rec.Extensions["sleep_efficiency"] = float64(*s.Efficiency)
		}
	}

	if a := raw.Activity; a != nil {
		rec.Steps = a.Steps
		rec.DistanceMeters = a.DistanceMeters
		rec.CaloriesKcal = a.CaloriesKcal
		rec.ActiveMinutes = activeMinutes(a.HighActivitySec, a.MedActivitySec)
		if a.AverageMets != nil {
			rec.Extensions["average_met_minutes"] = *a.AverageMets
		}
	}

	if r := raw.Readiness; r != nil {
		rec.RecoveryScore = r.Score
		rec.RestingHR = r.RestingHR
	}

	if st := raw.Stress; st != nil {
		rec.StressLevel = st.DayStressLevel
	}

	if len(rec.Extensions) == 0 {
		rec.Extensions = nil
	}
	return rec, nil
}

// activeMinutes sums the intensity buckets and converts seconds to whole
// minutes. Oura reports bucket values in minute-granular seconds, so the
// division is exact.
func activeMinutes(highSec, medSec *int) *int {
	if highSec == nil && medSec == nil {
		return nil
	}
	total := 0
	if highSec != nil {
		total += *highSec
	}
	if medSec != nil {
		total += *medSec
	}
	return domain.Int(total / 60)
}
