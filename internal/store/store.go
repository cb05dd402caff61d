package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkrasnov/float-feed/internal/model"
)

// ErrNoCredential is returned when an identity has no stored API key.
var ErrNoCredential = errors.New("no credential for identity")

// Platform is the marketplace identifier stamped on credentials and matches.
const Platform = "csfloat"

// Store reads subscription definitions and credentials from Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Connect creates the connection pool and verifies it.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool (used by tests and the composition root).
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListActiveSubscriptions returns every active subscription for this feed.
// The query column is jsonb holding the model.Query shape.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity_id, query
		FROM subscriptions
		WHERE active = TRUE AND platform = $1
	`, Platform)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub := model.Subscription{Active: true}
		if err := rows.Scan(&sub.ID, &sub.IdentityID, &sub.Query); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// GetCredential returns the identity's API key for this platform.
func (s *Store) GetCredential(ctx context.Context, identityID int64) (model.Credential, error) {
	var cred model.Credential
	err := s.pool.QueryRow(ctx, `
		SELECT identity_id, api_key
		FROM identity_credentials
		WHERE identity_id = $1 AND platform = $2
	`, identityID, Platform).Scan(&cred.IdentityID, &cred.APIKey)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.Credential{}, fmt.Errorf("identity %d: %w", identityID, ErrNoCredential)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("query credential: %w", err)
	}
	return cred, nil
}
