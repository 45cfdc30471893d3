package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/layer-3/sigauth/core"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_InitSchema(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS auth_challenges")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.InitSchema(context.Background()))
}

func TestPostgresStore_Consume(t *testing.T) {
	s, mock := newPostgresMock(t)
	now := t0.Add(time.Minute)
	c := newChallenge("c1")

	rows := pgxmock.NewRows([]string{"challenge_id", "wallet", "purpose", "nonce", "chain_id", "domain", "created_at", "expires_at"}).
		AddRow(c.ID, c.Wallet, string(c.Purpose), c.Nonce, c.ChainID, c.Domain, c.CreatedAt, c.ExpiresAt)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE auth_challenges SET consumed_at")).
		WithArgs("c1", testWallet, "login", now).
		WillReturnRows(rows)

	got, err := s.Consume(context.Background(), testWallet, "c1", core.PurposeLogin, now)
	require.NoError(t, err)
	assert.Equal(t, c.Nonce, got.Nonce)
	assert.Equal(t, core.PurposeLogin, got.Purpose)
	assert.Equal(t, now, *got.ConsumedAt)
}

func TestPostgresStore_ConsumeNoRow(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE auth_challenges")).
		WithArgs("c1", testWallet, "login", t0).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Consume(context.Background(), testWallet, "c1", core.PurposeLogin, t0)
	assert.ErrorIs(t, err, core.ErrChallengeNotFound)
}

func TestPostgresStore_ConsumeIsSingleUse(t *testing.T) {
	s, mock := newPostgresMock(t)
	c := newChallenge("c1")
	guarded := regexp.QuoteMeta("AND consumed_at IS NULL AND expires_at >= $4") + `\s+RETURNING`

	mock.ExpectQuery(guarded).
		WithArgs("c1", testWallet, "login", t0).
		WillReturnRows(pgxmock.NewRows([]string{"challenge_id", "wallet", "purpose", "nonce", "chain_id", "domain", "created_at", "expires_at"}).
			AddRow(c.ID, c.Wallet, string(c.Purpose), c.Nonce, c.ChainID, c.Domain, c.CreatedAt, c.ExpiresAt))
	mock.ExpectQuery(guarded).
		WithArgs("c1", testWallet, "login", t0).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Consume(context.Background(), testWallet, "c1", core.PurposeLogin, t0)
	require.NoError(t, err)
	_, err = s.Consume(context.Background(), testWallet, "c1", core.PurposeLogin, t0)
	assert.ErrorIs(t, err, core.ErrChallengeNotFound)
}

func TestPostgresStore_ConsumeFailure(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE auth_challenges")).
		WithArgs("c1", testWallet, "login", t0).
		WillReturnError(errors.New("connection reset"))

	_, err := s.Consume(context.Background(), testWallet, "c1", core.PurposeLogin, t0)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, core.ErrChallengeNotFound)
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM auth_challenges WHERE expires_at <")).
		WithArgs(t0).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpired(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgresStore_PutIfAbsentReturnsExisting(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallet_roles")).
		WithArgs(testWallet, "TRADER", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM wallet_roles")).
		WithArgs(testWallet).
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("CREATOR"))

	role, err := s.PutIfAbsent(context.Background(), testWallet, core.RoleTrader, t0)
	require.NoError(t, err)
	assert.Equal(t, core.RoleCreator, role)
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM wallet_roles")).
		WithArgs(testWallet).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), testWallet)
	assert.ErrorIs(t, err, core.ErrRoleNotFound)
}

func TestPostgresStore_Sessions(t *testing.T) {
	s, mock := newPostgresMock(t)
	ctx := context.Background()
	sess := newSession("h1", t0)
	next := newSession("h2", t0.Add(time.Minute))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auth_sessions")).
		WithArgs(testWallet, "TRADER", "h1", sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT refresh_token_hash FROM auth_sessions")).
		WithArgs(testWallet, t0).
		WillReturnRows(pgxmock.NewRows([]string{"refresh_token_hash"}).AddRow("h1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE auth_sessions")).
		WithArgs(testWallet, "h1", "TRADER", "h2", next.ExpiresAt, next.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE auth_sessions")).
		WithArgs(testWallet, "h1", "TRADER", "h2", next.ExpiresAt, next.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM auth_sessions")).
		WithArgs(testWallet).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.Record(ctx, sess))

	ok, err := s.FindActive(ctx, testWallet, "h1", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	swapped, err := s.Rotate(ctx, testWallet, "h1", next)
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = s.Rotate(ctx, testWallet, "h1", next)
	require.NoError(t, err)
	assert.False(t, swapped)

	require.NoError(t, s.Revoke(ctx, testWallet))
}
