package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/audit"
	"github.com/xxxsen/evote/internal/model"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 10 * time.Second
	backoffMultiplier     = 2
)

type Result struct {
	Success   bool
	Attempts  int
	MessageID string
	Err       error
}

// Transport sends a message with bounded retries and exponential backoff.
type Transport struct {
	sender         Sender
	sink           audit.Sink
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	newTimer       func() backoff.Timer
}

type Option func(*Transport)

func WithMaxAttempts(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(t *Transport) {
		if initial > 0 {
			t.initialBackoff = initial
		}
		if max > 0 {
			t.maxBackoff = max
		}
	}
}

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(fn func() backoff.Timer) Option {
	return func(t *Transport) {
		if fn != nil {
			t.newTimer = fn
		}
	}
}

func NewTransport(sender Sender, sink audit.Sink, opts ...Option) *Transport {
	t := &Transport{
		sender:         sender,
		sink:           sink,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// policy is rebuilt per call: backoff state is not safe to share between
// concurrent sends.
func (t *Transport) policy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.initialBackoff
	exp.Multiplier = backoffMultiplier
	exp.MaxInterval = t.maxBackoff
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(t.maxAttempts-1)), ctx)
}

func (t *Transport) Send(ctx context.Context, msg Message) Result {
	logger := logutil.GetLogger(ctx).With(zap.String("to", msg.To))
	var res Result
	attempt := func() error {
		res.Attempts++
		id, err := t.sender.Send(ctx, msg)
		if err != nil {
			if IsPermanent(err) {
				logger.Warn("email rejected permanently", zap.Int("attempt", res.Attempts), zap.Error(err))
				return backoff.Permanent(err)
			}
			return err
		}
		res.MessageID = id
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("email dispatch failed, retrying", zap.Int("attempt", res.Attempts), zap.Duration("backoff", next), zap.Error(err))
	}
	var timer backoff.Timer
	if t.newTimer != nil {
		timer = t.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(attempt, t.policy(ctx), notify, timer); err != nil {
		res.Err = err
		if !IsPermanent(err) {
			logger.Error("email dispatch gave up", zap.Int("attempts", res.Attempts), zap.Error(err))
		}
	} else {
		res.Success = true
	}
	t.report(ctx, msg, res)
	return res
}

func (t *Transport) report(ctx context.Context, msg Message, res Result) {
	detail := map[string]interface{}{
		"to":       msg.To,
		"attempts": res.Attempts,
		"success":  res.Success,
	}
	if res.MessageID != "" {
		detail["message_id"] = res.MessageID
	}
	if res.Err != nil {
		detail["error"] = res.Err.Error()
	}
	audit.Safe(ctx, t.sink, audit.Event{Action: model.AuditActionEmailDispatch, Detail: detail})
}
