package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/repo"
	"github.com/xxxsen/evote/internal/testutil"
)

func voterIDs(items []model.VoterInfo) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestVoterRepo_FindVotersWithoutValidToken(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	seedVoter(t, voters, "no-token", 1)
	seedVoter(t, voters, "delivered", 2)
	seedVoter(t, voters, "undelivered", 3)
	seedVoter(t, voters, "stale", 4)
	seedVoter(t, voters, "removed", 5)
	require.NoError(t, voters.SetDeleted(ctx, "removed", true, 6))

	const generation = int64(1000)
	insertToken(t, db, "t1", "delivered", 1500, int64(1600))
	insertToken(t, db, "t2", "undelivered", 1500, nil)
	insertToken(t, db, "t3", "stale", 500, int64(600))

	items, err := voters.FindVotersWithoutValidToken(ctx, generation)
	require.NoError(t, err)
	require.Equal(t, []string{"no-token", "undelivered", "stale"}, voterIDs(items))
}

func TestVoterRepo_FindVoterByIDSkipsDeleted(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	seedVoter(t, voters, "v1", 1)

	info, err := voters.FindVoterByID(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, "v1@example.com", info.Email)

	require.NoError(t, voters.SetDeleted(ctx, "v1", true, 2))
	_, err = voters.FindVoterByID(ctx, "v1")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.ErrorIs(t, voters.Create(ctx, &model.Voter{ID: "v2", NIM: "nim-v1", FullName: "dup", Email: "d@example.com"}), appErr.ErrConflict)
}

type countingReader struct {
	repo.VoterReader
	calls int
}

func (c *countingReader) FindVoterByID(ctx context.Context, id string) (*model.VoterInfo, error) {
	c.calls++
	return c.VoterReader.FindVoterByID(ctx, id)
}

func TestWrapLruVoterReader_CachesLookups(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	voters := repo.NewVoterRepo(db)
	seedVoter(t, voters, "v1", 1)

	counter := &countingReader{VoterReader: voters}
	cached := repo.WrapLruVoterReader(counter, 16, time.Minute)
	for i := 0; i < 3; i++ {
		info, err := cached.FindVoterByID(ctx, "v1")
		require.NoError(t, err)
		require.Equal(t, "v1", info.ID)
	}
	require.Equal(t, 1, counter.calls)

	repo.ForgetVoter(cached, "v1")
	_, err := cached.FindVoterByID(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 2, counter.calls)

	require.Same(t, counter, repo.WrapLruVoterReader(counter, 0, time.Minute))
}
