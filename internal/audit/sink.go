// Package audit records distribution events without ever blocking the caller.
package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/model"
	"github.com/xxxsen/evote/internal/pkg/timeutil"
)

type Event struct {
	Action   string
	TargetID string
	Detail   map[string]interface{}
}

type Sink interface {
	Record(ctx context.Context, event Event)
}

type Writer interface {
	Create(ctx context.Context, item *model.AuditLog) error
}

// AsyncSink queues events and persists them on a background goroutine. When
// the queue is full the event is dropped and a warning is logged.
type AsyncSink struct {
	writer Writer
	queue  chan *model.AuditLog
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncSink(writer Writer, bufferSize int) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	s := &AsyncSink{
		writer: writer,
		queue:  make(chan *model.AuditLog, bufferSize),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) Record(ctx context.Context, event Event) {
	item, err := toLog(event)
	if err != nil {
		logutil.GetLogger(ctx).Error("encode audit event failed", zap.String("action", event.Action), zap.Error(err))
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		logutil.GetLogger(ctx).Warn("audit sink closed, event dropped", zap.String("action", event.Action))
		return
	}
	select {
	case s.queue <- item:
	default:
		logutil.GetLogger(ctx).Warn("audit queue full, event dropped", zap.String("action", event.Action))
	}
}

// Close stops accepting events and waits until queued ones are written.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	ctx := context.Background()
	for item := range s.queue {
		if err := s.writer.Create(ctx, item); err != nil {
			logutil.GetLogger(ctx).Error("write audit log failed",
				zap.String("action", item.Action),
				zap.String("target_id", item.TargetID),
				zap.Error(err),
			)
		}
	}
}

func toLog(event Event) (*model.AuditLog, error) {
	detail := "{}"
	if len(event.Detail) > 0 {
		raw, err := json.Marshal(event.Detail)
		if err != nil {
			return nil, err
		}
		detail = string(raw)
	}
	return &model.AuditLog{
		ID:       uuid.NewString(),
		Action:   event.Action,
		Actor:    model.AuditActorSystem,
		TargetID: event.TargetID,
		Detail:   detail,
		Ctime:    timeutil.NowMilli(),
	}, nil
}

// Safe calls sink.Record and swallows any panic so that auditing never
// disturbs the caller.
func Safe(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logutil.GetLogger(ctx).Error("audit record panicked", zap.String("action", event.Action), zap.Any("panic", r))
		}
	}()
	sink.Record(ctx, event)
}
