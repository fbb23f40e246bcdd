package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/evote/internal/pkg/credential"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
)

const maxCredentialAttempts = 5

type hashChecker interface {
	TokenHashExists(ctx context.Context, tokenHash string) (bool, error)
}

type generateFunc func() (string, string, error)

// issuer draws a fresh token and re-checks its hash against the store. A
// collision is retried a bounded number of times and then reported.
type issuer struct {
	store    hashChecker
	generate generateFunc
}

func newIssuer(store hashChecker) *issuer {
	return &issuer{store: store, generate: credential.Generate}
}

func (i *issuer) issue(ctx context.Context) (string, string, error) {
	for attempt := 0; attempt < maxCredentialAttempts; attempt++ {
		plain, hash, err := i.generate()
		if err != nil {
			return "", "", fmt.Errorf("generate token: %w", err)
		}
		exists, err := i.store.TokenHashExists(ctx, hash)
		if err != nil {
			return "", "", fmt.Errorf("check token hash: %w", err)
		}
		if !exists {
			return plain, hash, nil
		}
	}
	return "", "", appErr.ErrTokenCollision
}
