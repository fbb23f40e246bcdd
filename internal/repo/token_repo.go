package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/evote/internal/model"
	"github.com/xxxsen/evote/internal/pkg/dbutil"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/pkg/timeutil"
)

var tokenFields = []string{"id", "voter_id", "token_hash", "is_used", "resend_count", "email_sent_at", "invalidated_at", "ctime"}

type TokenRepo struct {
	db *sqlx.DB
}

func NewTokenRepo(db *sqlx.DB) *TokenRepo {
	return &TokenRepo{db: db}
}

// CreateToken stores a new token for the voter. Any earlier unused token of
// the voter is invalidated in the same transaction so that a voter never
// holds two redeemable tokens.
func (r *TokenRepo) CreateToken(ctx context.Context, voterID, tokenHash string) (*model.VotingToken, error) {
	now := timeutil.NowMilli()
	token := &model.VotingToken{
		ID:        uuid.NewString(),
		VoterID:   voterID,
		TokenHash: tokenHash,
		Ctime:     now,
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	where := map[string]interface{}{"voter_id": voterID, "is_used": 0, "invalidated_at": 0}
	sqlStr, args, err := builder.BuildUpdate("voting_tokens", where, map[string]interface{}{"invalidated_at": now})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"id":             token.ID,
		"voter_id":       token.VoterID,
		"token_hash":     token.TokenHash,
		"is_used":        0,
		"resend_count":   0,
		"invalidated_at": 0,
		"ctime":          token.Ctime,
	}
	sqlStr, args, err = builder.BuildInsert("voting_tokens", []map[string]interface{}{data})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return nil, appErr.ErrConflict
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return token, nil
}

// MarkEmailSent stamps the delivery time of a live token. A token that was
// invalidated while its mail was in flight is left alone and reported as
// ErrNotFound.
func (r *TokenRepo) MarkEmailSent(ctx context.Context, tokenID string) error {
	where := map[string]interface{}{"id": tokenID, "invalidated_at": 0}
	update := map[string]interface{}{"email_sent_at": timeutil.NowMilli()}
	sqlStr, args, err := builder.BuildUpdate("voting_tokens", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// FindLatestTokenByVoterID prefers the voter's live token over invalidated
// ones, newest first.
func (r *TokenRepo) FindLatestTokenByVoterID(ctx context.Context, voterID string) (*model.VotingToken, error) {
	query := `SELECT id, voter_id, token_hash, is_used, resend_count, email_sent_at, invalidated_at, ctime
FROM voting_tokens WHERE voter_id = ?
ORDER BY CASE WHEN invalidated_at = 0 THEN 0 ELSE 1 END, ctime DESC LIMIT 1`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), voterID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanToken(rows)
}

func (r *TokenRepo) GetByHash(ctx context.Context, tokenHash string) (*model.VotingToken, error) {
	return r.selectOne(ctx, map[string]interface{}{"token_hash": tokenHash})
}

func (r *TokenRepo) TokenHashExists(ctx context.Context, tokenHash string) (bool, error) {
	_, err := r.GetByHash(ctx, tokenHash)
	if err != nil {
		if appErr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InvalidateStaleTokens invalidates every still-valid token created strictly
// before the given generation marker.
func (r *TokenRepo) InvalidateStaleTokens(ctx context.Context, before int64) (int64, error) {
	where := map[string]interface{}{"ctime <": before, "invalidated_at": 0}
	update := map[string]interface{}{"invalidated_at": timeutil.NowMilli()}
	sqlStr, args, err := builder.BuildUpdate("voting_tokens", where, update)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ReissueToken swaps in a replacement secret that has already been delivered:
// the hash changes, the resend is counted and the delivery time is stamped in
// one statement. It fails with ErrNotFound when the token is no longer live
// (used, invalidated or out of resends), in which case the delivered secret
// is never redeemable.
func (r *TokenRepo) ReissueToken(ctx context.Context, tokenID, tokenHash string) error {
	query := `UPDATE voting_tokens SET token_hash = ?, resend_count = resend_count + 1, email_sent_at = ?
WHERE id = ? AND is_used = 0 AND invalidated_at = 0 AND resend_count < ?`
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), tokenHash, timeutil.NowMilli(), tokenID, model.MaxTokenResend)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *TokenRepo) selectOne(ctx context.Context, where map[string]interface{}) (*model.VotingToken, error) {
	sqlStr, args, err := builder.BuildSelect("voting_tokens", where, tokenFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanToken(rows)
}

func scanToken(rows *sql.Rows) (*model.VotingToken, error) {
	var (
		token  model.VotingToken
		used   int
		sentAt sql.NullInt64
	)
	if err := rows.Scan(&token.ID, &token.VoterID, &token.TokenHash, &used, &token.ResendCount, &sentAt, &token.InvalidatedAt, &token.Ctime); err != nil {
		return nil, err
	}
	token.IsUsed = used != 0
	if sentAt.Valid {
		v := sentAt.Int64
		token.EmailSentAt = &v
	}
	return &token, nil
}
