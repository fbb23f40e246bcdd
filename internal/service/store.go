package service

import (
	"context"

	"github.com/xxxsen/evote/internal/dispatch"
	"github.com/xxxsen/evote/internal/mailtpl"
	"github.com/xxxsen/evote/internal/model"
)

// CredentialStore is the persistence the distribution engine depends on.
type CredentialStore interface {
	InvalidateStaleTokens(ctx context.Context, before int64) (int64, error)
	FindVotersWithoutValidToken(ctx context.Context, generation int64) ([]model.VoterInfo, error)
	FindVoterByID(ctx context.Context, id string) (*model.VoterInfo, error)
	CreateToken(ctx context.Context, voterID, tokenHash string) (*model.VotingToken, error)
	MarkEmailSent(ctx context.Context, tokenID string) error
	FindLatestTokenByVoterID(ctx context.Context, voterID string) (*model.VotingToken, error)
	TokenHashExists(ctx context.Context, tokenHash string) (bool, error)
}

type ElectionSource interface {
	Current(ctx context.Context) (*model.Election, error)
}

type Dispatcher interface {
	Send(ctx context.Context, msg dispatch.Message) dispatch.Result
}

type EmailRenderer interface {
	Render(data mailtpl.Data) (string, string, error)
}
