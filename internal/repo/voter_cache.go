package repo

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/model"
)

// VoterReader is the voter side of the credential store.
type VoterReader interface {
	FindVoterByID(ctx context.Context, id string) (*model.VoterInfo, error)
	FindVotersWithoutValidToken(ctx context.Context, generation int64) ([]model.VoterInfo, error)
}

// WrapLruVoterReader caches single voter lookups. Eligibility queries always
// hit the database. A non-positive size or ttl disables caching.
func WrapLruVoterReader(next VoterReader, size int, ttl time.Duration) VoterReader {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruVoterReader{
		next:  next,
		cache: expirable.NewLRU[string, model.VoterInfo](size, nil, ttl),
	}
}

type lruVoterReader struct {
	next  VoterReader
	cache *expirable.LRU[string, model.VoterInfo]
}

func (l *lruVoterReader) FindVoterByID(ctx context.Context, id string) (*model.VoterInfo, error) {
	if cached, ok := l.cache.Get(id); ok {
		logutil.GetLogger(ctx).Debug("voter cache hit", zap.String("voter_id", id))
		info := cached
		return &info, nil
	}
	info, err := l.next.FindVoterByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l.cache.Add(id, *info)
	return info, nil
}

func (l *lruVoterReader) FindVotersWithoutValidToken(ctx context.Context, generation int64) ([]model.VoterInfo, error) {
	return l.next.FindVotersWithoutValidToken(ctx, generation)
}

// Forget drops a cached voter, used when the voter is removed.
func (l *lruVoterReader) Forget(id string) {
	l.cache.Remove(id)
}

// ForgetVoter drops id from reader's cache when reader caches.
func ForgetVoter(reader VoterReader, id string) {
	if c, ok := reader.(*lruVoterReader); ok {
		c.Forget(id)
	}
}
