package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
)

type memVoters struct {
	items map[string]*model.Voter
}

func (m *memVoters) Create(_ context.Context, voter *model.Voter) error {
	for _, v := range m.items {
		if v.NIM == voter.NIM {
			return appErr.ErrConflict
		}
	}
	cp := *voter
	m.items[voter.ID] = &cp
	return nil
}

func (m *memVoters) GetByID(_ context.Context, id string) (*model.Voter, error) {
	v, ok := m.items[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memVoters) SetDeleted(_ context.Context, id string, deleted bool, mtime int64) error {
	v, ok := m.items[id]
	if !ok {
		return appErr.ErrNotFound
	}
	v.Deleted = 0
	if deleted {
		v.Deleted = 1
	}
	v.Mtime = mtime
	return nil
}

func newVoterService(status string) (*VoterService, *memVoters, *recordingTrigger, *[]string) {
	voters := &memVoters{items: make(map[string]*model.Voter)}
	elections := &fakeElections{}
	if status != "" {
		elections.election = &model.Election{ID: "e1", Status: status, Ctime: 10, EndDate: 100}
	}
	trigger := &recordingTrigger{}
	var forgotten []string
	svc := NewVoterService(voters, elections, trigger, func(id string) { forgotten = append(forgotten, id) })
	return svc, voters, trigger, &forgotten
}

func TestVoterService_RegisterTriggersWhenActive(t *testing.T) {
	svc, _, trigger, _ := newVoterService(model.ElectionStatusActive)
	ctx := context.Background()

	voter, err := svc.Register(ctx, RegisterVoterInput{NIM: "13519001", FullName: "Ayu", Email: "ayu@example.com"})
	require.NoError(t, err)
	require.Equal(t, []string{voter.ID}, trigger.single)

	_, err = svc.Register(ctx, RegisterVoterInput{NIM: "13519001", FullName: "Dup", Email: "dup@example.com"})
	require.ErrorIs(t, err, appErr.ErrConflict)
	_, err = svc.Register(ctx, RegisterVoterInput{NIM: "13519002", FullName: "Bad", Email: "not-an-email"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Len(t, trigger.single, 1)
}

func TestVoterService_RegisterWithoutActiveElection(t *testing.T) {
	for _, status := range []string{"", model.ElectionStatusScheduled, model.ElectionStatusClosed} {
		svc, _, trigger, _ := newVoterService(status)
		_, err := svc.Register(context.Background(), RegisterVoterInput{NIM: "1", FullName: "A", Email: "a@example.com"})
		require.NoError(t, err)
		require.Empty(t, trigger.single, "status=%q", status)
	}
}

func TestVoterService_RegisterBatch(t *testing.T) {
	svc, _, trigger, _ := newVoterService(model.ElectionStatusActive)
	res, err := svc.RegisterBatch(context.Background(), []RegisterVoterInput{
		{NIM: "1", FullName: "A", Email: "a@example.com"},
		{NIM: "1", FullName: "Dup", Email: "dup@example.com"},
		{NIM: "2", FullName: "", Email: "b@example.com"},
		{NIM: "3", FullName: "C", Email: "c@example.com"},
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	require.Len(t, res.Failed, 2)
	require.Equal(t, 1, res.Failed[0].Index)
	require.Equal(t, 2, res.Failed[1].Index)
	require.Equal(t, [][]string{res.Created}, trigger.bulk)

	_, err = svc.RegisterBatch(context.Background(), nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestVoterService_RemoveAndRestore(t *testing.T) {
	svc, voters, trigger, forgotten := newVoterService(model.ElectionStatusActive)
	ctx := context.Background()
	voter, err := svc.Register(ctx, RegisterVoterInput{NIM: "1", FullName: "A", Email: "a@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, voter.ID))
	require.Equal(t, 1, voters.items[voter.ID].Deleted)
	require.Equal(t, []string{voter.ID}, *forgotten)

	require.NoError(t, svc.Restore(ctx, voter.ID))
	require.Equal(t, 0, voters.items[voter.ID].Deleted)
	require.Equal(t, []string{voter.ID, voter.ID}, trigger.single)

	require.ErrorIs(t, svc.Remove(ctx, "missing"), appErr.ErrNotFound)
}
