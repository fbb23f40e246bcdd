package repo

import (
	"context"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/evote/internal/model"
	"github.com/xxxsen/evote/internal/pkg/dbutil"
)

type AuditRepo struct {
	db *sqlx.DB
}

func NewAuditRepo(db *sqlx.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Create(ctx context.Context, item *model.AuditLog) error {
	data := map[string]interface{}{
		"id":        item.ID,
		"action":    item.Action,
		"actor":     item.Actor,
		"target_id": item.TargetID,
		"detail":    item.Detail,
		"ctime":     item.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("audit_logs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *AuditRepo) ListBefore(ctx context.Context, cutoff int64, limit uint) ([]model.AuditLog, error) {
	where := map[string]interface{}{"ctime <": cutoff, "_orderby": "ctime asc", "_limit": []uint{0, limit}}
	sqlStr, args, err := builder.BuildSelect("audit_logs", where, []string{"id", "action", "actor", "target_id", "detail", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []model.AuditLog
	for rows.Next() {
		var item model.AuditLog
		if err := rows.Scan(&item.ID, &item.Action, &item.Actor, &item.TargetID, &item.Detail, &item.Ctime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *AuditRepo) ListByAction(ctx context.Context, action string) ([]model.AuditLog, error) {
	where := map[string]interface{}{"action": action, "_orderby": "ctime asc"}
	sqlStr, args, err := builder.BuildSelect("audit_logs", where, []string{"id", "action", "actor", "target_id", "detail", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []model.AuditLog
	for rows.Next() {
		var item model.AuditLog
		if err := rows.Scan(&item.ID, &item.Action, &item.Actor, &item.TargetID, &item.Detail, &item.Ctime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *AuditRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		in = append(in, id)
	}
	sqlStr, args, err := builder.BuildDelete("audit_logs", map[string]interface{}{"id in": in})
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
