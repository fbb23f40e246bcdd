package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/filestore"
	"github.com/xxxsen/evote/internal/model"
)

const (
	defaultArchiveAfterDays = 30
	archiveBatchSize        = 1000
)

type auditArchiveRepo interface {
	ListBefore(ctx context.Context, cutoff int64, limit uint) ([]model.AuditLog, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// AuditArchiveJob moves old audit rows to the file store as JSON lines and
// removes them from the database once the upload succeeded.
type AuditArchiveJob struct {
	repo      auditArchiveRepo
	store     filestore.Store
	afterDays int
	now       func() time.Time
}

func NewAuditArchiveJob(repo auditArchiveRepo, store filestore.Store, afterDays int) *AuditArchiveJob {
	return &AuditArchiveJob{repo: repo, store: store, afterDays: afterDays, now: time.Now}
}

func (j *AuditArchiveJob) Name() string {
	return "audit_archive"
}

func (j *AuditArchiveJob) Run(ctx context.Context) error {
	if j.repo == nil || j.store == nil {
		return nil
	}
	afterDays := j.afterDays
	if afterDays <= 0 {
		afterDays = defaultArchiveAfterDays
	}
	now := j.now().UTC()
	cutoff := now.Add(-time.Duration(afterDays) * 24 * time.Hour).UnixMilli()
	var archived int64
	for part := 1; ; part++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := j.repo.ListBefore(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return fmt.Errorf("list audit logs: %w", err)
		}
		if len(items) == 0 {
			break
		}
		key := fmt.Sprintf("audit/%s/%d-%03d.jsonl", now.Format("2006/01/02"), now.UnixMilli(), part)
		if err := j.upload(ctx, key, items); err != nil {
			return err
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		deleted, err := j.repo.DeleteByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete archived audit logs: %w", err)
		}
		archived += deleted
		if len(items) < archiveBatchSize {
			break
		}
	}
	if archived > 0 {
		logutil.GetLogger(ctx).Info("audit logs archived", zap.Int64("count", archived), zap.String("store", j.store.Type()))
	}
	return nil
}

func (j *AuditArchiveJob) upload(ctx context.Context, key string, items []model.AuditLog) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode audit log %s: %w", item.ID, err)
		}
	}
	if err := j.store.Save(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return fmt.Errorf("save audit archive %s: %w", key, err)
	}
	return nil
}
