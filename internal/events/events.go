// Package events defines the payloads published through the outbox.
package events

import "time"

// RecordUpserted is emitted whenever a canonical record is written.
type RecordUpserted struct {
	SubjectID  string    `json:"subject_id"`
	Date       string    `json:"date"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SyncCompleted is emitted once per finished (subject, source) sync run.
type SyncCompleted struct {
	RunID        string    `json:"run_id"`
	SubjectID    string    `json:"subject_id"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	MissingDates []string  `json:"missing_dates,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}
