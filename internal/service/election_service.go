package service

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/pkg/timeutil"
)

type ElectionStore interface {
	Create(ctx context.Context, election *model.Election) error
	GetByID(ctx context.Context, id string) (*model.Election, error)
	Current(ctx context.Context) (*model.Election, error)
	UpdateStatus(ctx context.Context, id, from, to string, mtime int64) error
}

// ActivationTrigger receives the election activation event.
type ActivationTrigger interface {
	TriggerElectionActivated(cfg model.ElectionConfig)
}

type ElectionService struct {
	elections ElectionStore
	trigger   ActivationTrigger
	now       func() int64
}

type CreateElectionInput struct {
	Name    string
	EndDate int64
}

func NewElectionService(elections ElectionStore, trigger ActivationTrigger) *ElectionService {
	return &ElectionService{elections: elections, trigger: trigger, now: timeutil.NowMilli}
}

func (s *ElectionService) Create(ctx context.Context, input CreateElectionInput) (*model.Election, error) {
	name := strings.TrimSpace(input.Name)
	now := s.now()
	if name == "" || input.EndDate <= now {
		return nil, appErr.ErrInvalid
	}
	election := &model.Election{
		ID:      newID(),
		Name:    name,
		Status:  model.ElectionStatusScheduled,
		EndDate: input.EndDate,
		Ctime:   now,
		Mtime:   now,
	}
	if err := s.elections.Create(ctx, election); err != nil {
		return nil, err
	}
	return election, nil
}

func (s *ElectionService) Get(ctx context.Context, id string) (*model.Election, error) {
	return s.elections.GetByID(ctx, id)
}

func (s *ElectionService) Current(ctx context.Context) (*model.Election, error) {
	return s.elections.Current(ctx)
}

// Activate opens a scheduled election and starts token distribution for it.
// Only the most recently created election can be activated.
func (s *ElectionService) Activate(ctx context.Context, id string) (*model.Election, error) {
	election, err := s.elections.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if election.Status != model.ElectionStatusScheduled {
		return nil, appErr.ErrConflict
	}
	current, err := s.elections.Current(ctx)
	if err != nil {
		return nil, err
	}
	if current.ID != election.ID {
		return nil, appErr.ErrConflict
	}
	now := s.now()
	if election.EndDate <= now {
		return nil, appErr.ErrInvalid
	}
	if err := s.elections.UpdateStatus(ctx, id, model.ElectionStatusScheduled, model.ElectionStatusActive, now); err != nil {
		return nil, err
	}
	election.Status = model.ElectionStatusActive
	election.Mtime = now
	logutil.GetLogger(ctx).Info("election activated", zap.String("election_id", id))
	if s.trigger != nil {
		s.trigger.TriggerElectionActivated(election.Config())
	}
	return election, nil
}

func (s *ElectionService) Close(ctx context.Context, id string) (*model.Election, error) {
	election, err := s.elections.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.elections.UpdateStatus(ctx, id, model.ElectionStatusActive, model.ElectionStatusClosed, now); err != nil {
		return nil, err
	}
	election.Status = model.ElectionStatusClosed
	election.Mtime = now
	logutil.GetLogger(ctx).Info("election closed", zap.String("election_id", id))
	return election, nil
}
