package service

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/audit"
	"github.com/xxxsen/evote/internal/dispatch"
	"github.com/xxxsen/evote/internal/mailtpl"
	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/pkg/timeutil"
)

// TokenStore is what the resend and status paths need from persistence.
type TokenStore interface {
	FindVoterByID(ctx context.Context, id string) (*model.VoterInfo, error)
	FindLatestTokenByVoterID(ctx context.Context, voterID string) (*model.VotingToken, error)
	TokenHashExists(ctx context.Context, tokenHash string) (bool, error)
	ReissueToken(ctx context.Context, tokenID, tokenHash string) error
}

type TokenService struct {
	store        TokenStore
	elections    ElectionSource
	transport    Dispatcher
	renderer     EmailRenderer
	sink         audit.Sink
	issuer       *issuer
	loc          *time.Location
	resendWindow time.Duration
	now          func() int64
}

type TokenStatus struct {
	VoterID          string `json:"voter_id"`
	HasToken         bool   `json:"has_token"`
	Valid            bool   `json:"valid"`
	IsUsed           bool   `json:"is_used"`
	EmailSentAt      *int64 `json:"email_sent_at"`
	ResendCount      int    `json:"resend_count"`
	RemainingResends int    `json:"remaining_resends"`
}

type ResendResult struct {
	EmailSent        bool `json:"email_sent"`
	ResendCount      int  `json:"resend_count"`
	RemainingResends int  `json:"remaining_resends"`
}

func NewTokenService(store TokenStore, elections ElectionSource, transport Dispatcher, renderer EmailRenderer, sink audit.Sink, loc *time.Location, resendWindow time.Duration) *TokenService {
	if loc == nil {
		loc = time.UTC
	}
	return &TokenService{
		store:        store,
		elections:    elections,
		transport:    transport,
		renderer:     renderer,
		sink:         sink,
		issuer:       newIssuer(store),
		loc:          loc,
		resendWindow: resendWindow,
		now:          timeutil.NowMilli,
	}
}

// Status describes the latest token of a voter against the current election.
func (s *TokenService) Status(ctx context.Context, voterID string) (*TokenStatus, error) {
	if _, err := s.store.FindVoterByID(ctx, voterID); err != nil {
		return nil, err
	}
	status := &TokenStatus{VoterID: voterID, RemainingResends: model.MaxTokenResend}
	token, err := s.store.FindLatestTokenByVoterID(ctx, voterID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return status, nil
		}
		return nil, err
	}
	status.HasToken = true
	status.IsUsed = token.IsUsed
	status.EmailSentAt = token.EmailSentAt
	status.ResendCount = token.ResendCount
	status.RemainingResends = remainingResends(token.ResendCount)
	if election, err := s.elections.Current(ctx); err == nil {
		status.Valid = token.ValidFor(election.Ctime)
	} else if !appErr.IsNotFound(err) {
		return nil, err
	}
	return status, nil
}

// Resend mails a fresh secret for the voter's current token. The token row is
// only switched to the new secret once the mail went out, so an in-flight
// resend never makes the voter look undelivered. If the token was replaced or
// spent meanwhile, the mailed secret is dead and the result says so.
func (s *TokenService) Resend(ctx context.Context, voterID string) (*ResendResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("voter_id", voterID))
	election, err := s.elections.Current(ctx)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, appErr.ErrNotActive
		}
		return nil, err
	}
	if election.Status != model.ElectionStatusActive {
		return nil, appErr.ErrNotActive
	}
	voter, err := s.store.FindVoterByID(ctx, voterID)
	if err != nil {
		return nil, err
	}
	token, err := s.store.FindLatestTokenByVoterID(ctx, voterID)
	if err != nil {
		return nil, err
	}
	if token.IsUsed {
		return nil, appErr.ErrTokenUsed
	}
	if !token.CurrentFor(election.Ctime) {
		return nil, appErr.ErrNotFound
	}
	if token.ResendCount >= model.MaxTokenResend {
		return nil, appErr.ErrTooMany
	}
	if token.EmailSentAt != nil && s.resendWindow > 0 && s.now()-*token.EmailSentAt < s.resendWindow.Milliseconds() {
		return nil, appErr.ErrTooMany
	}

	plain, hash, err := s.issuer.issue(ctx)
	if err != nil {
		return nil, err
	}
	subject, body, err := s.renderer.Render(mailtpl.Data{
		FullName: voter.FullName,
		NIM:      voter.NIM,
		Token:    plain,
		EndsAt:   timeutil.FormatMilli(election.EndDate, s.loc, endsAtLayout),
	})
	if err != nil {
		return nil, err
	}
	res := &ResendResult{
		ResendCount:      token.ResendCount,
		RemainingResends: remainingResends(token.ResendCount),
	}
	sent := s.transport.Send(ctx, dispatch.Message{To: voter.Email, Subject: subject, HTML: body})
	switch {
	case !sent.Success:
		logger.Warn("resent token email not delivered", zap.Int("attempts", sent.Attempts), zap.Error(sent.Err))
	default:
		if err := s.store.ReissueToken(ctx, token.ID, hash); err != nil {
			logger.Error("token changed while resend was in flight, mailed secret is not redeemable",
				zap.String("token_id", token.ID), zap.Error(err))
			break
		}
		res.EmailSent = true
		res.ResendCount = token.ResendCount + 1
		res.RemainingResends = remainingResends(res.ResendCount)
	}
	audit.Safe(ctx, s.sink, audit.Event{
		Action:   model.AuditActionTokenResent,
		TargetID: voterID,
		Detail: map[string]interface{}{
			"voter_id":     voterID,
			"resend_count": res.ResendCount,
			"email_sent":   res.EmailSent,
		},
	})
	return res, nil
}

func remainingResends(count int) int {
	if count >= model.MaxTokenResend {
		return 0
	}
	return model.MaxTokenResend - count
}
