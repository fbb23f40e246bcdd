package repo

import (
	"context"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/evote/internal/model"
	"github.com/xxxsen/evote/internal/pkg/dbutil"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
)

var voterFields = []string{"id", "nim", "full_name", "email", "deleted", "ctime", "mtime"}

type VoterRepo struct {
	db *sqlx.DB
}

func NewVoterRepo(db *sqlx.DB) *VoterRepo {
	return &VoterRepo{db: db}
}

func (r *VoterRepo) Create(ctx context.Context, voter *model.Voter) error {
	data := map[string]interface{}{
		"id":        voter.ID,
		"nim":       voter.NIM,
		"full_name": voter.FullName,
		"email":     voter.Email,
		"deleted":   voter.Deleted,
		"ctime":     voter.Ctime,
		"mtime":     voter.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("voters", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *VoterRepo) GetByID(ctx context.Context, id string) (*model.Voter, error) {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildSelect("voters", where, voterFields)
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
	var voter model.Voter
	if err := rows.Scan(&voter.ID, &voter.NIM, &voter.FullName, &voter.Email, &voter.Deleted, &voter.Ctime, &voter.Mtime); err != nil {
		return nil, err
	}
	return &voter, nil
}

// FindVoterByID resolves an active voter; deleted voters are reported as not found.
func (r *VoterRepo) FindVoterByID(ctx context.Context, id string) (*model.VoterInfo, error) {
	voter, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if voter.Deleted != 0 {
		return nil, appErr.ErrNotFound
	}
	info := voter.Info()
	return &info, nil
}

func (r *VoterRepo) SetDeleted(ctx context.Context, id string, deleted bool, mtime int64) error {
	flag := 0
	if deleted {
		flag = 1
	}
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{"deleted": flag, "mtime": mtime}
	sqlStr, args, err := builder.BuildUpdate("voters", where, update)
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

// FindVotersWithoutValidToken lists active voters holding no valid token for
// the election generation. A token is valid when it is not invalidated, was
// created at or after the generation marker, and was delivered or redeemed.
func (r *VoterRepo) FindVotersWithoutValidToken(ctx context.Context, generation int64) ([]model.VoterInfo, error) {
	query := `SELECT v.id, v.nim, v.full_name, v.email FROM voters v
WHERE v.deleted = 0 AND NOT EXISTS (
	SELECT 1 FROM voting_tokens t
	WHERE t.voter_id = v.id AND t.invalidated_at = 0 AND t.ctime >= ?
	AND (t.email_sent_at IS NOT NULL OR t.is_used = 1)
)
ORDER BY v.ctime ASC, v.id ASC`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), generation)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []model.VoterInfo
	for rows.Next() {
		var item model.VoterInfo
		if err := rows.Scan(&item.ID, &item.NIM, &item.FullName, &item.Email); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
