package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/biosync/internal/domain"
	"example.com/biosync/internal/provider"
)

// CredentialStore reads and refreshes provider tokens. The rows themselves
// are owned by account management; this store is the narrow consumption
// surface the adapters use.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Credential returns the subject's token material for the source, or
// (nil, nil) when the subject has not linked the source.
func (s *CredentialStore) Credential(ctx context.Context, subjectID string, source domain.Source) (*provider.Credential, error) {
	const query = `SELECT access_token, refresh_token, expires_at
        FROM provider_credentials WHERE subject_id=$1 AND source=$2`

	var cred provider.Credential
	err := s.pool.QueryRow(ctx, query, subjectID, string(source)).
		Scan(&cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// StoreToken persists a refreshed access token.
func (s *CredentialStore) StoreToken(ctx context.Context, subjectID string, source domain.Source, accessToken string, expiresAt time.Time) error {
	const stmt = `UPDATE provider_credentials
        SET access_token=$3, expires_at=$4, updated_at=NOW()
        WHERE subject_id=$1 AND source=$2`

	tag, err := s.pool.Exec(ctx, stmt, subjectID, string(source), accessToken, expiresAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotLinked
	}
	return nil
}

// ActiveSources returns the set of sources the subject has linked, computed
// once per request and passed down instead of per-call-site existence checks.
func (s *CredentialStore) ActiveSources(ctx context.Context, subjectID string) ([]domain.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT source FROM provider_credentials WHERE subject_id=$1 ORDER BY source`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if src, ok := domain.ParseSource(raw); ok {
			sources = append(sources, src)
		}
	}
	return sources, rows.Err()
}
