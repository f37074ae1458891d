// Package api exposes HTTP handlers for the biometric sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"example.com/biosync/internal/aggregate"
	"example.com/biosync/internal/domain"
)

// SyncRunner triggers sync runs for a subject.
type SyncRunner interface {
	SyncSubject(ctx context.Context, subjectID string, sources []domain.Source, r domain.DateRange) domain.SyncReport
}

// SourceLister reports which providers a subject has linked.
type SourceLister interface {
	ActiveSources(ctx context.Context, subjectID string) ([]domain.Source, error)
}

// RecordReader reads canonical records for the query endpoints.
type RecordReader interface {
	ListRange(ctx context.Context, subjectID string, source domain.Source, r domain.DateRange) ([]domain.CanonicalRecord, error)
	DeleteSubject(ctx context.Context, subjectID string) error
}

// BlobPurger drops a subject's cached provider payloads.
type BlobPurger interface {
	DeleteSubject(ctx context.Context, subjectID string) error
}

// Handler coordinates HTTP requests with the sync engine and record store.
type Handler struct {
	runner  SyncRunner
	sources SourceLister
	records RecordReader
	blobs   BlobPurger
}

// NewHandler builds a Handler.
func NewHandler(runner SyncRunner, sources SourceLister, records RecordReader, blobs BlobPurger) *Handler {
	return &Handler{runner: runner, sources: sources, records: records, blobs: blobs}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync", h.sync)
	mux.HandleFunc("/v1/subjects/", h.subjectByID)
	mux.HandleFunc("/v1/rollups/team", h.teamRollup)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	dateRange, err := req.dateRange()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	sources, err := h.resolveSources(r.Context(), req.SubjectID, req.Sources)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	report := h.runner.SyncSubject(r.Context(), req.SubjectID, sources, dateRange)
	writeJSON(w, http.StatusOK, SyncResponse{
		SubjectID: req.SubjectID,
		Start:     dateRange.Start.String(),
		End:       dateRange.End.String(),
		Report:    report,
	})
}

// resolveSources takes the explicit source list when given, otherwise the
// subject's linked sources. Unknown source names are a validation error
// handled in Validate, so only linked-source lookup can fail here.
func (h *Handler) resolveSources(ctx context.Context, subjectID string, requested []string) ([]domain.Source, error) {
	if len(requested) == 0 {
		return h.sources.ActiveSources(ctx, subjectID)
	}
	sources := make([]domain.Source, 0, len(requested))
	for _, raw := range requested {
		if src, ok := domain.ParseSource(raw); ok {
			sources = append(sources, src)
		}
	}
	return sources, nil
}

func (h *Handler) subjectByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/subjects/")
	switch {
	case strings.HasSuffix(rest, "/records"):
		subjectID := strings.TrimSuffix(rest, "/records")
		if subjectID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "missing subject id")
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.listRecords(w, r, subjectID)
	case !strings.Contains(rest, "/") && rest != "":
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.deleteSubject(w, r, rest)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request, subjectID string) {
	q := r.URL.Query()

	source, ok := domain.ParseSource(q.Get("source"))
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown or missing source parameter")
		return
	}

	dateRange, err := parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	records, err := h.records.ListRange(r.Context(), subjectID, source, dateRange)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RecordsResponse{
		SubjectID: subjectID,
		Source:    string(source),
		Records:   records,
	})
}

// deleteSubject removes the subject's canonical records and cached payloads.
// The canonical store is deleted first so a crash between the two steps
// leaves only orphaned cache blobs, which the next purge clears.
func (h *Handler) deleteSubject(w http.ResponseWriter, r *http.Request, subjectID string) {
	if err := h.records.DeleteSubject(r.Context(), subjectID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if err := h.blobs.DeleteSubject(r.Context(), subjectID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) teamRollup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	q := r.URL.Query()
	subjectIDs := splitList(q.Get("subjects"))
	if len(subjectIDs) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing subjects parameter")
		return
	}

	sources := domain.KnownSources()
	if raw := q.Get("sources"); raw != "" {
		sources = sources[:0]
		for _, name := range splitList(raw) {
			src, ok := domain.ParseSource(name)
			if !ok {
				writeError(w, http.StatusBadRequest, "validation_failed", "unknown source: "+name)
				return
			}
			sources = append(sources, src)
		}
	}

	dateRange, err := parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	rollup, err := aggregate.Team(r.Context(), h.records, subjectIDs, sources, dateRange)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

// SyncRequest is the payload for POST /v1/sync.
type SyncRequest struct {
	SubjectID string   `json:"subject_id"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Sources   []string `json:"sources,omitempty"`
}

// Validate ensures request correctness.
func (r SyncRequest) Validate() error {
	if strings.TrimSpace(r.SubjectID) == "" {
		return errors.New("subject_id is required")
	}
	if strings.TrimSpace(r.Start) == "" {
		return errors.New("start is required")
	}
	if strings.TrimSpace(r.End) == "" {
		return errors.New("end is required")
	}
	for _, raw := range r.Sources {
		if _, ok := domain.ParseSource(raw); !ok {
			return errors.New("unknown source: " + raw)
		}
	}
	return nil
}

func (r SyncRequest) dateRange() (domain.DateRange, error) {
	return parseRange(r.Start, r.End)
}

// SyncResponse reports per-source outcomes of a sync run.
type SyncResponse struct {
	SubjectID string            `json:"subject_id"`
	Start     string            `json:"start"`
	End       string            `json:"end"`
	Report    domain.SyncReport `json:"report"`
}

// RecordsResponse packages canonical records for one subject and source.
type RecordsResponse struct {
	SubjectID string                   `json:"subject_id"`
	Source    string                   `json:"source"`
	Records   []domain.CanonicalRecord `json:"records"`
}

func parseRange(start, end string) (domain.DateRange, error) {
	from, err := domain.ParseDate(start)
	if err != nil {
		return domain.DateRange{}, errors.New("invalid start date: " + start)
	}
	to, err := domain.ParseDate(end)
	if err != nil {
		return domain.DateRange{}, errors.New("invalid end date: " + end)
	}
	return domain.NewDateRange(from, to)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
