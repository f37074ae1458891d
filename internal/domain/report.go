package domain

// OutcomeStatus classifies how a single (subject, source) sync run ended.
// The four states are never collapsed: callers need to distinguish "nothing
// new" from "partially synced" from "failed" from "already running".
type OutcomeStatus string

const (
	// StatusSuccess: every requested date is present in the canonical store.
	StatusSuccess OutcomeStatus = "success"
	// StatusPartial: some dates remain missing after an exhausted fetch, or
	// individual dates failed normalization. Not an error.
	StatusPartial OutcomeStatus = "partial_success"
	// StatusSkipped: another sync for the same (subject, source) holds the
	// lease. Not an error.
	StatusSkipped OutcomeStatus = "skipped"
	// StatusFailure: authentication failed, credentials were revoked, or the
	// canonical store rejected fetched data after retries.
	StatusFailure OutcomeStatus = "failure"
)

// Outcome is the per-source result of a sync run.
type Outcome struct {
	Status       OutcomeStatus `json:"status"`
	MissingDates []Date        `json:"missing_dates,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// SyncReport maps each requested source to its outcome.
type SyncReport map[Source]Outcome
