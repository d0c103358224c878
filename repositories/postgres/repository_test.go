package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{DB: sqlDB, logger: zap.NewNop()}, mock
}

var credentialColumns = []string{"vendor", "kind", "access_token", "refresh_token", "client_id", "expires_at", "updated_at"}

func TestCredentialRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCredentialRepository(db, zap.NewNop())

	expires := time.Now().Add(time.Hour)
	cred := models.NewCredential("anthropic", models.CredentialKindOAuth, "access").WithRefresh("refresh", expires)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vendor_credentials")).
		WithArgs("anthropic", models.CredentialKindOAuth, "access", cred.RefreshToken, cred.ClientID, cred.ExpiresAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), cred))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_GetByVendor(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewCredentialRepository(db, zap.NewNop())
		now := time.Now()

		mock.ExpectQuery(regexp.QuoteMeta("FROM vendor_credentials")).
			WithArgs("openai").
			WillReturnRows(sqlmock.NewRows(credentialColumns).
				AddRow("openai", "api_key", "sk-test", nil, nil, nil, now))

		cred, err := repo.GetByVendor(context.Background(), "openai")
		require.NoError(t, err)
		assert.Equal(t, "openai", cred.Vendor)
		assert.Equal(t, models.CredentialKindAPIKey, cred.Kind)
		assert.Equal(t, "sk-test", cred.AccessToken)
		assert.Nil(t, cred.RefreshToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewCredentialRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM vendor_credentials")).
			WithArgs("gemini").
			WillReturnRows(sqlmock.NewRows(credentialColumns))

		_, err := repo.GetByVendor(context.Background(), "gemini")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestCredentialRepository_ListAndDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCredentialRepository(db, zap.NewNop())
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY vendor")).
		WillReturnRows(sqlmock.NewRows(credentialColumns).
			AddRow("anthropic", "oauth", "a", "r", "client", now, now).
			AddRow("openai", "api_key", "b", nil, nil, nil, now))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM vendor_credentials")).
		WithArgs("openai").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM vendor_credentials")).
		WithArgs("openai").
		WillReturnResult(sqlmock.NewResult(0, 0))

	creds, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 2)
	require.NotNil(t, creds[0].RefreshToken)
	assert.Equal(t, "r", *creds[0].RefreshToken)

	require.NoError(t, repo.Delete(context.Background(), "openai"))
	assert.True(t, errors.Is(repo.Delete(context.Background(), "openai"), ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouteAliasRepository(t *testing.T) {
	t.Run("upsert stores targets as array", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRouteAliasRepository(db, zap.NewNop())
		alias := models.NewRouteAlias("fast", "openai/gpt-4o-mini", "anthropic/claude-3-5-haiku")

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO route_aliases")).
			WithArgs("fast", pq.Array(alias.Targets), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Upsert(context.Background(), alias))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("upsert rejects empty alias", func(t *testing.T) {
		db, _ := newMockDB(t)
		repo := NewRouteAliasRepository(db, zap.NewNop())
		assert.Error(t, repo.Upsert(context.Background(), models.NewRouteAlias("empty")))
	})

	t.Run("get by name", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRouteAliasRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM route_aliases WHERE name = $1")).
			WithArgs("smart").
			WillReturnRows(sqlmock.NewRows([]string{"name", "targets", "updated_at"}).
				AddRow("smart", "{anthropic/claude-sonnet-4,openai/gpt-4o}", time.Now()))

		alias, err := repo.GetByName(context.Background(), "smart")
		require.NoError(t, err)
		assert.Equal(t, []string{"anthropic/claude-sonnet-4", "openai/gpt-4o"}, alias.Targets)
	})
}

var dispatchColumns = []string{
	"id", "request_id", "inbound_format", "vendor", "model", "original_model", "confidence",
	"stream", "auth_retried", "attempts", "status", "status_code", "input_tokens", "output_tokens",
	"latency_ms", "error_message", "created_at",
}

func TestDispatchLogRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDispatchLogRepository(db, zap.NewNop())

	log := models.NewDispatchLog("req-1", "anthropic", "openai/gpt-4o", true).
		WithRoute("openai", "gpt-4o", 1.0).
		WithUsage(12, 34)
	log.Finish()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dispatch_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchLogRepository_Queries(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDispatchLogRepository(db, zap.NewNop())
	id := uuid.New()
	now := time.Now()
	row := []driver.Value{id.String(), "req-1", "openai", "anthropic", "claude-sonnet-4", "claude-sonnet-4", 0.8,
		false, true, 2, "success", 200, 10, 20, int64(150), nil, now}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(dispatchColumns).AddRow(row...))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE vendor = $1")).
		WithArgs("anthropic", 10, 0).
		WillReturnRows(sqlmock.NewRows(dispatchColumns).AddRow(row...))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(dispatchColumns))

	got, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, got.AuthRetried)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Vendor)
	assert.Equal(t, "anthropic", *got.Vendor)

	logs, err := repo.GetByVendor(context.Background(), "anthropic", 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = repo.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_InTransaction(t *testing.T) {
	t.Run("commits and routes writes through the transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		repo := NewRouteAliasRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM route_aliases")).
			WithArgs("old").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			return repo.WithTx(tx).Delete(ctx, "old")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			return boom
		})
		assert.Equal(t, boom, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
