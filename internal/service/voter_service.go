package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/pkg/timeutil"
)

type VoterStore interface {
	Create(ctx context.Context, voter *model.Voter) error
	GetByID(ctx context.Context, id string) (*model.Voter, error)
	SetDeleted(ctx context.Context, id string, deleted bool, mtime int64) error
}

// RegistrationTrigger receives voter registration events.
type RegistrationTrigger interface {
	TriggerVoterRegistered(voterID string, cfg model.ElectionConfig)
	TriggerBulkVotersRegistered(voterIDs []string, cfg model.ElectionConfig)
}

type VoterService struct {
	voters    VoterStore
	elections ElectionSource
	trigger   RegistrationTrigger
	forget    func(id string)
	now       func() int64
}

type RegisterVoterInput struct {
	NIM      string `json:"nim"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type BatchFailure struct {
	Index  int    `json:"index"`
	NIM    string `json:"nim"`
	Reason string `json:"reason"`
}

type BatchRegisterResult struct {
	Created []string       `json:"created"`
	Failed  []BatchFailure `json:"failed"`
}

// NewVoterService wires voter registration. forget, when set, evicts a voter
// from any lookup cache after removal.
func NewVoterService(voters VoterStore, elections ElectionSource, trigger RegistrationTrigger, forget func(id string)) *VoterService {
	return &VoterService{voters: voters, elections: elections, trigger: trigger, forget: forget, now: timeutil.NowMilli}
}

func (s *VoterService) Get(ctx context.Context, id string) (*model.Voter, error) {
	return s.voters.GetByID(ctx, id)
}

func (s *VoterService) Register(ctx context.Context, input RegisterVoterInput) (*model.Voter, error) {
	voter, err := s.create(ctx, input)
	if err != nil {
		return nil, err
	}
	if cfg, ok := s.activeElection(ctx); ok {
		s.trigger.TriggerVoterRegistered(voter.ID, cfg)
	}
	return voter, nil
}

// RegisterBatch registers every valid row and reports the rejected ones.
// Tokens for the accepted voters are issued through the bulk path.
func (s *VoterService) RegisterBatch(ctx context.Context, inputs []RegisterVoterInput) (*BatchRegisterResult, error) {
	if len(inputs) == 0 {
		return nil, appErr.ErrInvalid
	}
	res := &BatchRegisterResult{Created: make([]string, 0, len(inputs))}
	for i, input := range inputs {
		voter, err := s.create(ctx, input)
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{Index: i, NIM: input.NIM, Reason: err.Error()})
			continue
		}
		res.Created = append(res.Created, voter.ID)
	}
	logutil.GetLogger(ctx).Info("voter batch registered", zap.Int("created", len(res.Created)), zap.Int("failed", len(res.Failed)))
	if len(res.Created) == 0 {
		return res, nil
	}
	if cfg, ok := s.activeElection(ctx); ok {
		s.trigger.TriggerBulkVotersRegistered(res.Created, cfg)
	}
	return res, nil
}

// Restore re-enables a removed voter and issues a token when an election runs.
func (s *VoterService) Restore(ctx context.Context, id string) error {
	if err := s.voters.SetDeleted(ctx, id, false, s.now()); err != nil {
		return err
	}
	if cfg, ok := s.activeElection(ctx); ok {
		s.trigger.TriggerVoterRegistered(id, cfg)
	}
	return nil
}

func (s *VoterService) Remove(ctx context.Context, id string) error {
	if err := s.voters.SetDeleted(ctx, id, true, s.now()); err != nil {
		return err
	}
	if s.forget != nil {
		s.forget(id)
	}
	return nil
}

func (s *VoterService) create(ctx context.Context, input RegisterVoterInput) (*model.Voter, error) {
	nim := strings.TrimSpace(input.NIM)
	name := strings.TrimSpace(input.FullName)
	email := strings.TrimSpace(input.Email)
	if nim == "" || name == "" || email == "" {
		return nil, appErr.ErrInvalid
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, appErr.ErrInvalid
	}
	now := s.now()
	voter := &model.Voter{
		ID:       newID(),
		NIM:      nim,
		FullName: name,
		Email:    email,
		Ctime:    now,
		Mtime:    now,
	}
	if err := s.voters.Create(ctx, voter); err != nil {
		return nil, err
	}
	return voter, nil
}

func (s *VoterService) activeElection(ctx context.Context) (model.ElectionConfig, bool) {
	if s.trigger == nil || s.elections == nil {
		return model.ElectionConfig{}, false
	}
	election, err := s.elections.Current(ctx)
	if err != nil {
		if !appErr.IsNotFound(err) {
			logutil.GetLogger(ctx).Warn("load current election failed", zap.Error(err))
		}
		return model.ElectionConfig{}, false
	}
	if election.Status != model.ElectionStatusActive {
		return model.ElectionConfig{}, false
	}
	return election.Config(), true
}
