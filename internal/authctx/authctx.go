// internal/authctx/authctx.go
package authctx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no context row exists for (tenant, platform).
var ErrNotFound = errors.New("auth context not found")

// DBPool abstracts pgxpool.Pool so tests can run against a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Record is one saved authentication context. ContextID is the remote
// provider's id for the persisted cookie/storage bundle.
type Record struct {
	ContextID    string
	Tenant       string
	Platform     string
	FirstLoginAt *time.Time
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// ProviderContexts is the slice of the remote provider client the registry
// needs for creating and rotating contexts.
type ProviderContexts interface {
	CreateContext(ctx context.Context) (string, error)
	DeleteContext(ctx context.Context, contextID string) error
}

// Registry tracks persisted authentication contexts per (tenant, platform).
// A context counts as authenticated once a first successful login or a
// recent use has been recorded; a brand-new context has no saved cookies and
// must not be treated as authenticated.
type Registry struct {
	pool     DBPool
	provider ProviderContexts
	log      *zap.Logger
}

// New builds a registry and verifies database connectivity.
func New(ctx context.Context, pool DBPool, provider ProviderContexts, logger *zap.Logger) (*Registry, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Registry{
		pool:     pool,
		provider: provider,
		log:      logger.Named("authctx"),
	}, nil
}

// Get fetches the saved context for (tenant, platform), or ErrNotFound.
func (r *Registry) Get(ctx context.Context, tenant, platform string) (*Record, error) {
	const q = `SELECT context_id, tenant, platform, first_login_at, last_used_at, created_at
		FROM auth_contexts WHERE tenant = $1 AND platform = $2`

	var rec Record
	err := r.pool.QueryRow(ctx, q, tenant, platform).Scan(
		&rec.ContextID, &rec.Tenant, &rec.Platform,
		&rec.FirstLoginAt, &rec.LastUsedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query auth context: %w", err)
	}
	return &rec, nil
}

// Acquire returns the context id for (tenant, platform), creating a fresh
// provider context and registering it when none exists. fresh reports
// whether the context was created by this call.
func (r *Registry) Acquire(ctx context.Context, tenant, platform string) (string, bool, error) {
	rec, err := r.Get(ctx, tenant, platform)
	if err == nil {
		return rec.ContextID, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", false, err
	}

	contextID, err := r.provider.CreateContext(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to create provider context: %w", err)
	}

	const ins = `INSERT INTO auth_contexts (context_id, tenant, platform, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, ins, contextID, tenant, platform, time.Now().UTC()); err != nil {
		return "", false, fmt.Errorf("failed to register auth context: %w", err)
	}

	r.log.Info("Created fresh authentication context.",
		zap.String("tenant", tenant),
		zap.String("platform", platform),
		zap.String("context_id", contextID))
	return contextID, true, nil
}

// MarkFirstLogin records the first successful login through this context.
func (r *Registry) MarkFirstLogin(ctx context.Context, tenant, platform string) error {
	const q = `UPDATE auth_contexts SET first_login_at = $3
		WHERE tenant = $1 AND platform = $2 AND first_login_at IS NULL`
	if _, err := r.pool.Exec(ctx, q, tenant, platform, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark first login: %w", err)
	}
	return nil
}

// MarkUsed records that a run finished using this context, so its saved
// cookies are known to be populated.
func (r *Registry) MarkUsed(ctx context.Context, tenant, platform string) error {
	const q = `UPDATE auth_contexts SET last_used_at = $3
		WHERE tenant = $1 AND platform = $2`
	if _, err := r.pool.Exec(ctx, q, tenant, platform, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark auth context used: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether the saved context can be assumed to carry
// login state: either a first-login or a last-used marker must be present.
func (r *Registry) IsAuthenticated(ctx context.Context, tenant, platform string) (bool, error) {
	rec, err := r.Get(ctx, tenant, platform)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.FirstLoginAt != nil || rec.LastUsedAt != nil, nil
}

// Delete rotates the context out: the provider-side bundle is removed
// best-effort, then the registry row is dropped.
func (r *Registry) Delete(ctx context.Context, tenant, platform string) error {
	rec, err := r.Get(ctx, tenant, platform)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.provider.DeleteContext(ctx, rec.ContextID); err != nil {
		r.log.Warn("Failed to delete provider context, dropping registry row anyway.",
			zap.String("context_id", rec.ContextID), zap.Error(err))
	}

	const q = `DELETE FROM auth_contexts WHERE tenant = $1 AND platform = $2`
	if _, err := r.pool.Exec(ctx, q, tenant, platform); err != nil {
		return fmt.Errorf("failed to delete auth context: %w", err)
	}
	return nil
}
