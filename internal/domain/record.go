// Package domain defines the canonical biometric model and the narrow
// interfaces the sync engine consumes.
package domain

import (
	"encoding/json"
	"time"
)

// Source identifies an external wearable-data provider.
type Source string

const (
	SourceWhoop Source = "whoop"
	SourceOura  Source = "oura"
)

// KnownSources lists every provider the service can sync from.
func KnownSources() []Source {
	return []Source{SourceWhoop, SourceOura}
}

// ParseSource validates a provider identifier.
func ParseSource(s string) (Source, bool) {
	switch Source(s) {
	case SourceWhoop, SourceOura:
		return Source(s), true
	default:
		return "", false
	}
}

// CanonicalRecord is the normalized representation of one subject/date/source.
// Metric fields are pointers: nil means the provider reported nothing for the
// metric, which is distinct from a reported zero. Nil persists as SQL NULL.
type CanonicalRecord struct {
	SubjectID string
	Date      Date
	Source    Source

	// Sleep durations, seconds.
	TotalSleepSec *int
	DeepSleepSec  *int
	LightSleepSec *int
	RemSleepSec   *int
	AwakeSec      *int

	// Cardiovascular.
	RestingHR *int
	MaxHR     *int
	MinHR     *int
	HRVMs     *float64

	// Activity.
	Steps          *int
	DistanceMeters *float64
	CaloriesKcal   *int
	ActiveMinutes  *int

	// Stress / recovery.
	StressLevel   *int
	RecoveryScore *int

	// Provider-specific fields with no canonical column.
	Extensions map[string]float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Int returns a pointer to v, for populating optional metric fields.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for populating optional metric fields.
func Float(v float64) *float64 { return &v }

// RawPayload is one provider-native day of data as returned by an adapter.
type RawPayload struct {
	Source Source
	Date   Date
	Body   json.RawMessage
}

// RawBlob is a cached provider payload with its capture timestamp. Blobs are
// overwritten on re-fetch, never mutated in place.
type RawBlob struct {
	SubjectID  string
	Source     Source
	Date       Date
	CapturedAt time.Time
	Body       json.RawMessage
}

// Key returns the object-cache key, {subjectId}/{source}/{date}.
func (b RawBlob) Key() string {
	return b.SubjectID + "/" + string(b.Source) + "/" + b.Date.String()
}
