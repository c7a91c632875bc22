package authctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	createdID string
	createErr error
	deleted   []string
	deleteErr error
}

func (f *fakeProvider) CreateContext(context.Context) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createdID, nil
}

func (f *fakeProvider) DeleteContext(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func newMockedRegistry(t *testing.T, provider ProviderContexts) (*Registry, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	r, err := New(context.Background(), mockPool, provider, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r, mockPool
}

func contextRows(firstLogin, lastUsed *time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"context_id", "tenant", "platform", "first_login_at", "last_used_at", "created_at"}).
		AddRow("ctx-1", "t1", "example.com", firstLogin, lastUsed, time.Now())
}

func TestAcquireReusesExistingContext(t *testing.T) {
	provider := &fakeProvider{createdID: "ctx-new"}
	r, mockPool := newMockedRegistry(t, provider)

	mockPool.ExpectQuery("SELECT context_id").
		WithArgs("t1", "example.com").
		WillReturnRows(contextRows(nil, nil))

	id, fresh, err := r.Acquire(context.Background(), "t1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", id)
	assert.False(t, fresh)
}

func TestAcquireCreatesWhenMissing(t *testing.T) {
	provider := &fakeProvider{createdID: "ctx-new"}
	r, mockPool := newMockedRegistry(t, provider)

	// An empty result set surfaces as pgx.ErrNoRows from Scan.
	mockPool.ExpectQuery("SELECT context_id").
		WithArgs("t1", "example.com").
		WillReturnRows(pgxmock.NewRows([]string{"context_id", "tenant", "platform", "first_login_at", "last_used_at", "created_at"}))
	mockPool.ExpectExec("INSERT INTO auth_contexts").
		WithArgs("ctx-new", "t1", "example.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, fresh, err := r.Acquire(context.Background(), "t1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "ctx-new", id)
	assert.True(t, fresh)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestAcquireProviderFailure(t *testing.T) {
	provider := &fakeProvider{createErr: errors.New("provider 503")}
	r, mockPool := newMockedRegistry(t, provider)

	mockPool.ExpectQuery("SELECT context_id").
		WithArgs("t1", "example.com").
		WillReturnRows(pgxmock.NewRows([]string{"context_id", "tenant", "platform", "first_login_at", "last_used_at", "created_at"}))

	_, _, err := r.Acquire(context.Background(), "t1", "example.com")
	assert.ErrorContains(t, err, "failed to create provider context")
}

func TestIsAuthenticated(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		firstLogin *time.Time
		lastUsed   *time.Time
		want       bool
	}{
		{"brand-new context is not authenticated", nil, nil, false},
		{"first-login marker counts", &now, nil, true},
		{"last-used marker counts", nil, &now, true},
		{"both markers count", &now, &now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mockPool := newMockedRegistry(t, &fakeProvider{})
			mockPool.ExpectQuery("SELECT context_id").
				WithArgs("t1", "example.com").
				WillReturnRows(contextRows(tt.firstLogin, tt.lastUsed))

			got, err := r.IsAuthenticated(context.Background(), "t1", "example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing context is not authenticated", func(t *testing.T) {
		r, mockPool := newMockedRegistry(t, &fakeProvider{})
		mockPool.ExpectQuery("SELECT context_id").
			WithArgs("t1", "example.com").
			WillReturnRows(pgxmock.NewRows([]string{"context_id", "tenant", "platform", "first_login_at", "last_used_at", "created_at"}))

		got, err := r.IsAuthenticated(context.Background(), "t1", "example.com")
		require.NoError(t, err)
		assert.False(t, got)
	})
}

func TestMarkFirstLoginAndUsed(t *testing.T) {
	r, mockPool := newMockedRegistry(t, &fakeProvider{})

	mockPool.ExpectExec("UPDATE auth_contexts SET first_login_at").
		WithArgs("t1", "example.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.MarkFirstLogin(context.Background(), "t1", "example.com"))

	mockPool.ExpectExec("UPDATE auth_contexts SET last_used_at").
		WithArgs("t1", "example.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.MarkUsed(context.Background(), "t1", "example.com"))

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestDeleteRotatesProviderContext(t *testing.T) {
	provider := &fakeProvider{}
	r, mockPool := newMockedRegistry(t, provider)

	mockPool.ExpectQuery("SELECT context_id").
		WithArgs("t1", "example.com").
		WillReturnRows(contextRows(nil, nil))
	mockPool.ExpectExec("DELETE FROM auth_contexts").
		WithArgs("t1", "example.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, r.Delete(context.Background(), "t1", "example.com"))
	assert.Equal(t, []string{"ctx-1"}, provider.deleted)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
