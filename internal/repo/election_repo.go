package repo

import (
	"context"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/evote/internal/model"
	"github.com/xxxsen/evote/internal/pkg/dbutil"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
)

var electionFields = []string{"id", "name", "status", "end_date", "ctime", "mtime"}

type ElectionRepo struct {
	db *sqlx.DB
}

func NewElectionRepo(db *sqlx.DB) *ElectionRepo {
	return &ElectionRepo{db: db}
}

func (r *ElectionRepo) Create(ctx context.Context, election *model.Election) error {
	data := map[string]interface{}{
		"id":       election.ID,
		"name":     election.Name,
		"status":   election.Status,
		"end_date": election.EndDate,
		"ctime":    election.Ctime,
		"mtime":    election.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("elections", []map[string]interface{}{data})
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

func (r *ElectionRepo) GetByID(ctx context.Context, id string) (*model.Election, error) {
	return r.selectOne(ctx, map[string]interface{}{"id": id})
}

// Current returns the most recently configured election.
func (r *ElectionRepo) Current(ctx context.Context) (*model.Election, error) {
	return r.selectOne(ctx, map[string]interface{}{"_orderby": "ctime desc", "_limit": []uint{0, 1}})
}

// UpdateStatus moves the election from one status to another. It reports
// ErrConflict when the election is no longer in the expected status.
func (r *ElectionRepo) UpdateStatus(ctx context.Context, id, from, to string, mtime int64) error {
	where := map[string]interface{}{"id": id, "status": from}
	update := map[string]interface{}{"status": to, "mtime": mtime}
	sqlStr, args, err := builder.BuildUpdate("elections", where, update)
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
		return appErr.ErrConflict
	}
	return nil
}

func (r *ElectionRepo) selectOne(ctx context.Context, where map[string]interface{}) (*model.Election, error) {
	sqlStr, args, err := builder.BuildSelect("elections", where, electionFields)
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
	var item model.Election
	if err := rows.Scan(&item.ID, &item.Name, &item.Status, &item.EndDate, &item.Ctime, &item.Mtime); err != nil {
		return nil, err
	}
	return &item, nil
}
