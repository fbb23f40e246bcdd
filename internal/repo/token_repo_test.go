package repo_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/repo"
	"github.com/xxxsen/evote/internal/testutil"
)

func seedVoter(t *testing.T, voters *repo.VoterRepo, id string, ctime int64) {
	t.Helper()
	require.NoError(t, voters.Create(context.Background(), &model.Voter{
		ID:       id,
		NIM:      "nim-" + id,
		FullName: "Voter " + id,
		Email:    id + "@example.com",
		Ctime:    ctime,
		Mtime:    ctime,
	}))
}

func insertToken(t *testing.T, db *sqlx.DB, id, voterID string, ctime int64, sentAt interface{}) {
	t.Helper()
	_, err := db.Exec(db.Rebind(`INSERT INTO voting_tokens (id, voter_id, token_hash, is_used, resend_count, email_sent_at, invalidated_at, ctime)
VALUES (?, ?, ?, 0, 0, ?, 0, ?)`), id, voterID, "hash-"+id, sentAt, ctime)
	require.NoError(t, err)
}

func TestTokenRepo_InvalidateStaleTokens_StrictlyBefore(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	tokens := repo.NewTokenRepo(db)
	seedVoter(t, voters, "v1", 1)
	seedVoter(t, voters, "v2", 2)
	seedVoter(t, voters, "v3", 3)

	insertToken(t, db, "t-old", "v1", 999, int64(999))
	insertToken(t, db, "t-edge", "v2", 1000, int64(1000))
	insertToken(t, db, "t-new", "v3", 1001, int64(1001))

	count, err := tokens.InvalidateStaleTokens(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	old, err := tokens.FindLatestTokenByVoterID(ctx, "v1")
	require.NoError(t, err)
	require.NotZero(t, old.InvalidatedAt)

	edge, err := tokens.FindLatestTokenByVoterID(ctx, "v2")
	require.NoError(t, err)
	require.Zero(t, edge.InvalidatedAt)

	count, err = tokens.InvalidateStaleTokens(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestTokenRepo_CreateMarkAndLookup(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	tokens := repo.NewTokenRepo(db)
	seedVoter(t, voters, "v1", 1)

	_, err := tokens.FindLatestTokenByVoterID(ctx, "v1")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	first, err := tokens.CreateToken(ctx, "v1", "hash-a")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	exists, err := tokens.TokenHashExists(ctx, "hash-a")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = tokens.TokenHashExists(ctx, "hash-b")
	require.NoError(t, err)
	require.False(t, exists)

	latest, err := tokens.FindLatestTokenByVoterID(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, first.ID, latest.ID)
	require.Nil(t, latest.EmailSentAt)

	require.NoError(t, tokens.MarkEmailSent(ctx, first.ID))
	latest, err = tokens.FindLatestTokenByVoterID(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, latest.EmailSentAt)
	require.True(t, latest.ValidFor(first.Ctime))

	require.ErrorIs(t, tokens.MarkEmailSent(ctx, "missing"), appErr.ErrNotFound)

	_, err = tokens.CreateToken(ctx, "v1", "hash-a")
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestTokenRepo_CreateInvalidatesPreviousUnusedToken(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	tokens := repo.NewTokenRepo(db)
	seedVoter(t, voters, "v1", 1)

	first, err := tokens.CreateToken(ctx, "v1", "hash-a")
	require.NoError(t, err)
	second, err := tokens.CreateToken(ctx, "v1", "hash-b")
	require.NoError(t, err)

	latest, err := tokens.FindLatestTokenByVoterID(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)

	old, err := tokens.GetByHash(ctx, "hash-a")
	require.NoError(t, err)
	require.Equal(t, first.ID, old.ID)
	require.NotZero(t, old.InvalidatedAt)
}

func TestTokenRepo_ReissueTokenBudget(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	tokens := repo.NewTokenRepo(db)
	seedVoter(t, voters, "v1", 1)

	token, err := tokens.CreateToken(ctx, "v1", "hash-0")
	require.NoError(t, err)
	require.NoError(t, tokens.MarkEmailSent(ctx, token.ID))

	for i, hash := range []string{"hash-1", "hash-2", "hash-3"} {
		require.NoError(t, tokens.ReissueToken(ctx, token.ID, hash))
		latest, err := tokens.FindLatestTokenByVoterID(ctx, "v1")
		require.NoError(t, err)
		require.Equal(t, i+1, latest.ResendCount)
		require.Equal(t, hash, latest.TokenHash)
		require.NotNil(t, latest.EmailSentAt)
		require.True(t, latest.ValidFor(token.Ctime))
	}
	require.ErrorIs(t, tokens.ReissueToken(ctx, token.ID, "hash-4"), appErr.ErrNotFound)
}

func TestTokenRepo_InvalidatedTokenIsNotStamped(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	tokens := repo.NewTokenRepo(db)
	seedVoter(t, voters, "v1", 1)

	first, err := tokens.CreateToken(ctx, "v1", "hash-a")
	require.NoError(t, err)
	require.NoError(t, tokens.MarkEmailSent(ctx, first.ID))
	// a concurrent pass replaces the token while a resend is in flight
	second, err := tokens.CreateToken(ctx, "v1", "hash-b")
	require.NoError(t, err)

	require.ErrorIs(t, tokens.ReissueToken(ctx, first.ID, "hash-c"), appErr.ErrNotFound)
	require.ErrorIs(t, tokens.MarkEmailSent(ctx, first.ID), appErr.ErrNotFound)

	old, err := tokens.GetByHash(ctx, "hash-a")
	require.NoError(t, err)
	require.Zero(t, old.ResendCount)
	exists, err := tokens.TokenHashExists(ctx, "hash-c")
	require.NoError(t, err)
	require.False(t, exists)

	latest, err := tokens.FindLatestTokenByVoterID(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.Nil(t, latest.EmailSentAt)
}
