// Package postgres provides PostgreSQL implementations of the
// admission.CredentialStore and admission.UsageRecorder interfaces.
// Counters are mutated with single atomic UPDATEs (never read-modify-write
// at the application layer), so concurrent rotator instances cannot lose
// updates.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youtubeintel/admission/pkg/admission"
)

// Schema is the DDL this store expects. Ship it through your migration
// tooling; the store never creates tables itself.
const Schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id               TEXT PRIMARY KEY,
	key_name         TEXT NOT NULL,
	api_key          TEXT NOT NULL,
	service          TEXT NOT NULL,
	quota_limit      BIGINT NOT NULL DEFAULT 10000,
	quota_used       BIGINT NOT NULL DEFAULT 0,
	quota_reset_date DATE NOT NULL DEFAULT CURRENT_DATE,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	last_used        TIMESTAMPTZ,
	error_count      INTEGER NOT NULL DEFAULT 0,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS api_keys_service_idx ON api_keys (service) WHERE is_active;

CREATE TABLE IF NOT EXISTS api_usage_logs (
	id           BIGSERIAL PRIMARY KEY,
	principal_id TEXT NOT NULL,
	operation    TEXT NOT NULL,
	credits_used INTEGER NOT NULL DEFAULT 0,
	allowed      BOOLEAN NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS api_usage_logs_created_idx ON api_usage_logs (created_at);
`

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store implements admission.CredentialStore and admission.UsageRecorder
// using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ListEligible implements admission.CredentialStore.
func (s *Store) ListEligible(ctx context.Context, service string) ([]admission.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key_name, service, quota_limit, quota_used, quota_reset_date,
				is_active, last_used, error_count
			FROM api_keys
			WHERE service = $1 AND is_active AND quota_used < quota_limit
			ORDER BY quota_used ASC, id ASC`,
		service)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []admission.Credential
	for rows.Next() {
		var c admission.Credential
		var lastUsed *time.Time

		if err := rows.Scan(&c.ID, &c.Name, &c.Service, &c.QuotaLimit, &c.QuotaUsed,
			&c.ResetDate, &c.Active, &lastUsed, &c.ErrorCount); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		if lastUsed != nil {
			c.LastUsed = *lastUsed
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	return out, nil
}

// AddUsage implements admission.CredentialStore.
func (s *Store) AddUsage(ctx context.Context, credentialID string, units int64, usedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys
			SET quota_used = quota_used + $2, last_used = $3, updated_at = now()
			WHERE id = $1`,
		credentialID, units, usedAt)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return admission.ErrCredentialNotFound
	}
	return nil
}

// AddError implements admission.CredentialStore.
func (s *Store) AddError(ctx context.Context, credentialID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE api_keys
			SET error_count = error_count + 1, updated_at = now()
			WHERE id = $1
			RETURNING error_count`,
		credentialID).Scan(&count)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, admission.ErrCredentialNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add error: %w", err)
	}
	return count, nil
}

// Deactivate implements admission.CredentialStore.
func (s *Store) Deactivate(ctx context.Context, credentialID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE, updated_at = now() WHERE id = $1`,
		credentialID)
	if err != nil {
		return fmt.Errorf("failed to deactivate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return admission.ErrCredentialNotFound
	}
	return nil
}

// Exhaust implements admission.CredentialStore.
func (s *Store) Exhaust(ctx context.Context, credentialID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET quota_used = quota_limit, updated_at = now() WHERE id = $1`,
		credentialID)
	if err != nil {
		return fmt.Errorf("failed to exhaust credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return admission.ErrCredentialNotFound
	}
	return nil
}

// ResetDue implements admission.CredentialStore. Run it from a daily
// scheduler; it is safe to run from several instances at once.
func (s *Store) ResetDue(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys
			SET quota_used = 0, error_count = 0, is_active = TRUE,
				quota_reset_date = ($1::date + 1), updated_at = now()
			WHERE quota_reset_date <= $1::date`,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset credentials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Record implements admission.UsageRecorder.
func (s *Store) Record(ctx context.Context, entry admission.UsageEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_usage_logs (principal_id, operation, credits_used, allowed, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
		entry.PrincipalID, entry.Operation, entry.Credits, entry.Allowed, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}
