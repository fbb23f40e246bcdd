package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/audit"
	"github.com/xxxsen/evote/internal/dispatch"
	"github.com/xxxsen/evote/internal/mailtpl"
	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/pkg/timeutil"
)

const (
	defaultBatchSize  = 50
	defaultBatchDelay = 60 * time.Second
	endsAtLayout      = "02 Jan 2006 15:04 MST"
)

type DistributionConfig struct {
	BatchSize int
	Pacer     Pacer
	Location  *time.Location
}

// BatchResult aggregates one pass of the batch loop.
type BatchResult struct {
	Generated  int
	EmailsSent int
	Failed     int
	Batches    int
}

// VoterResult is the outcome of issuing a token to one voter. A token can be
// generated without being delivered; the catch-up pass repairs that later.
type VoterResult struct {
	TokenGenerated bool
	EmailSent      bool
}

// DistributionService issues and delivers voting tokens. Full passes and
// catch-up passes are single-flight within the process; single and bulk
// registration paths run independently of them. No entry point reports an
// error to its caller: failures end up in logs, counters and audit events.
type DistributionService struct {
	store     CredentialStore
	elections ElectionSource
	transport Dispatcher
	renderer  EmailRenderer
	sink      audit.Sink
	issuer    *issuer
	batchSize int
	pacer     Pacer
	loc       *time.Location
	// formatDate renders the election end date into the mail body.
	formatDate func(ms int64, loc *time.Location, layout string) string

	processing atomic.Bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	// mu guards closed; spawn and Shutdown both take it so that no task is
	// added to wg once Shutdown started waiting.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDistributionService(store CredentialStore, elections ElectionSource, transport Dispatcher, renderer EmailRenderer, sink audit.Sink, cfg DistributionConfig) *DistributionService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Pacer == nil {
		cfg.Pacer = NewChunkPacer(defaultBatchDelay)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DistributionService{
		store:     store,
		elections: elections,
		transport: transport,
		renderer:  renderer,
		sink:      sink,
		issuer:    newIssuer(store),
		batchSize: cfg.BatchSize,
		pacer:      cfg.Pacer,
		loc:        cfg.Location,
		formatDate: timeutil.FormatMilli,
		bgCtx:      ctx,
		bgCancel:   cancel,
	}
}

// Processing reports whether a full or catch-up pass holds the lock.
func (s *DistributionService) Processing() bool {
	return s.processing.Load()
}

// OnElectionActivated runs the full pass for a newly active election:
// invalidate tokens of earlier generations, then issue tokens to every voter
// lacking a valid one.
func (s *DistributionService) OnElectionActivated(ctx context.Context, cfg model.ElectionConfig) {
	logger := logutil.GetLogger(ctx).With(zap.String("election_id", cfg.ID))
	if !s.processing.CompareAndSwap(false, true) {
		logger.Warn("token distribution already in progress, skip election activation pass")
		return
	}
	defer s.processing.Store(false)
	defer s.absorbPanic(ctx, "election_activated")

	invalidated, err := s.store.InvalidateStaleTokens(ctx, cfg.CreatedAt)
	if err != nil {
		logger.Error("invalidate stale tokens failed", zap.Error(err))
	} else if invalidated > 0 {
		logger.Info("stale tokens invalidated", zap.Int64("count", invalidated))
		s.record(ctx, audit.Event{
			Action:   model.AuditActionStaleInvalidated,
			TargetID: cfg.ID,
			Detail:   map[string]interface{}{"count": invalidated},
		})
	}

	voters, err := s.store.FindVotersWithoutValidToken(ctx, cfg.CreatedAt)
	if err != nil {
		logger.Error("list voters without valid token failed", zap.Error(err))
		s.recordBatch(ctx, cfg, "election_activated", 0, BatchResult{}, err)
		return
	}
	logger.Info("token distribution started", zap.Int("voters", len(voters)))
	res := s.processBatches(ctx, voters, cfg)
	s.recordBatch(ctx, cfg, "election_activated", len(voters), res, nil)
}

// OnVoterRegistered issues a token to one voter added or restored while the
// election is active. It does not contend for the single-flight lock.
func (s *DistributionService) OnVoterRegistered(ctx context.Context, voterID string, cfg model.ElectionConfig) {
	logger := logutil.GetLogger(ctx).With(zap.String("voter_id", voterID), zap.String("election_id", cfg.ID))
	defer s.absorbPanic(ctx, "voter_registered")

	var res VoterResult
	voter, err := s.store.FindVoterByID(ctx, voterID)
	switch {
	case err != nil:
		logger.Warn("voter not resolvable, skip token", zap.Error(err))
	case s.holdsValidToken(ctx, voterID, cfg):
		logger.Info("voter already holds a valid token")
		return
	default:
		res = s.processVoter(ctx, *voter, cfg, s.formatEndsAt(cfg))
	}
	s.record(ctx, audit.Event{
		Action:   model.AuditActionSingleVoterResult,
		TargetID: voterID,
		Detail: map[string]interface{}{
			"voter_id":        voterID,
			"token_generated": res.TokenGenerated,
			"email_sent":      res.EmailSent,
		},
	})
}

// OnBulkVotersRegistered runs the batch loop over freshly registered voters.
// Ids that no longer resolve are dropped silently.
func (s *DistributionService) OnBulkVotersRegistered(ctx context.Context, voterIDs []string, cfg model.ElectionConfig) {
	logger := logutil.GetLogger(ctx).With(zap.String("election_id", cfg.ID))
	defer s.absorbPanic(ctx, "bulk_voters_registered")

	voters := make([]model.VoterInfo, 0, len(voterIDs))
	for _, id := range voterIDs {
		voter, err := s.store.FindVoterByID(ctx, id)
		if err != nil {
			if !appErr.IsNotFound(err) {
				logger.Warn("resolve voter failed", zap.String("voter_id", id), zap.Error(err))
			}
			continue
		}
		if s.holdsValidToken(ctx, id, cfg) {
			continue
		}
		voters = append(voters, *voter)
	}
	if len(voters) == 0 {
		logger.Info("no bulk registered voter needs a token", zap.Int("requested", len(voterIDs)))
		return
	}
	res := s.processBatches(ctx, voters, cfg)
	s.recordBatch(ctx, cfg, "bulk_registered", len(voters), res, nil)
}

// RunCatchUpCheck re-derives the voters missing a valid token for the
// current active election and issues them one. Safe to repeat.
func (s *DistributionService) RunCatchUpCheck(ctx context.Context) {
	logger := logutil.GetLogger(ctx)
	defer s.absorbPanic(ctx, "catch_up")
	if s.processing.Load() {
		logger.Debug("token distribution in progress, skip catch-up")
		return
	}
	election, err := s.elections.Current(ctx)
	if err != nil {
		if !appErr.IsNotFound(err) {
			logger.Error("load current election failed", zap.Error(err))
		}
		return
	}
	if election.Status != model.ElectionStatusActive {
		return
	}
	if !s.processing.CompareAndSwap(false, true) {
		logger.Debug("token distribution in progress, skip catch-up")
		return
	}
	defer s.processing.Store(false)

	cfg := election.Config()
	voters, err := s.store.FindVotersWithoutValidToken(ctx, cfg.CreatedAt)
	if err != nil {
		logger.Error("list voters without valid token failed", zap.Error(err))
		s.recordBatch(ctx, cfg, "catch_up", 0, BatchResult{}, err)
		return
	}
	if len(voters) == 0 {
		return
	}
	logger.Info("catch-up found voters without valid token", zap.String("election_id", cfg.ID), zap.Int("voters", len(voters)))
	res := s.processBatches(ctx, voters, cfg)
	s.recordBatch(ctx, cfg, "catch_up", len(voters), res, nil)
}

// TriggerElectionActivated and the other Trigger methods run the matching
// entry point in the background and return immediately.
func (s *DistributionService) TriggerElectionActivated(cfg model.ElectionConfig) {
	s.spawn(func(ctx context.Context) { s.OnElectionActivated(ctx, cfg) })
}

func (s *DistributionService) TriggerVoterRegistered(voterID string, cfg model.ElectionConfig) {
	s.spawn(func(ctx context.Context) { s.OnVoterRegistered(ctx, voterID, cfg) })
}

func (s *DistributionService) TriggerBulkVotersRegistered(voterIDs []string, cfg model.ElectionConfig) {
	ids := append([]string(nil), voterIDs...)
	s.spawn(func(ctx context.Context) { s.OnBulkVotersRegistered(ctx, ids, cfg) })
}

func (s *DistributionService) TriggerCatchUp() {
	s.spawn(s.RunCatchUpCheck)
}

// Wait blocks until every background task has returned.
func (s *DistributionService) Wait() {
	s.wg.Wait()
}

// Shutdown refuses further triggers, abandons in-flight background passes and
// waits for them to unwind, bounded by ctx. Abandoned voters are picked up by
// the next catch-up.
func (s *DistributionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.bgCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logutil.GetLogger(ctx).Warn("token distribution did not stop in time")
	}
}

func (s *DistributionService) spawn(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logutil.GetLogger(s.bgCtx).Warn("token distribution shutting down, trigger dropped")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn(s.bgCtx)
	}()
}

func (s *DistributionService) processBatches(ctx context.Context, voters []model.VoterInfo, cfg model.ElectionConfig) BatchResult {
	logger := logutil.GetLogger(ctx).With(zap.String("election_id", cfg.ID))
	endsAt := s.formatEndsAt(cfg)
	var res BatchResult
	for i, chunk := range chunkVoters(voters, s.batchSize) {
		if i > 0 {
			if err := s.pacer.Wait(ctx); err != nil {
				logger.Warn("token distribution interrupted between batches",
					zap.Int("batch", i+1),
					zap.Int("remaining", len(voters)-res.EmailsSent-res.Failed),
					zap.Error(err),
				)
				break
			}
		}
		res.Batches++
		for _, voter := range chunk {
			out := s.processVoter(ctx, voter, cfg, endsAt)
			if out.TokenGenerated {
				res.Generated++
			}
			if out.EmailSent {
				res.EmailsSent++
			} else {
				res.Failed++
			}
		}
		logger.Info("token batch finished",
			zap.Int("batch", res.Batches),
			zap.Int("size", len(chunk)),
			zap.Int("emails_sent", res.EmailsSent),
			zap.Int("failed", res.Failed),
		)
	}
	return res
}

func (s *DistributionService) processVoter(ctx context.Context, voter model.VoterInfo, cfg model.ElectionConfig, endsAt string) VoterResult {
	logger := logutil.GetLogger(ctx).With(zap.String("voter_id", voter.ID))
	var res VoterResult

	plain, hash, err := s.issuer.issue(ctx)
	if err != nil {
		logger.Error("generate token failed", zap.Error(err))
		return res
	}
	token, err := s.store.CreateToken(ctx, voter.ID, hash)
	if err != nil {
		logger.Error("persist token failed", zap.Error(err))
		return res
	}
	res.TokenGenerated = true

	subject, body, err := s.renderer.Render(mailtpl.Data{
		FullName: voter.FullName,
		NIM:      voter.NIM,
		Token:    plain,
		EndsAt:   endsAt,
	})
	if err != nil {
		logger.Error("render token email failed", zap.Error(err))
		return res
	}
	sent := s.transport.Send(ctx, dispatch.Message{To: voter.Email, Subject: subject, HTML: body})
	if !sent.Success {
		logger.Warn("token email not delivered", zap.Int("attempts", sent.Attempts), zap.Error(sent.Err))
		return res
	}
	if err := s.store.MarkEmailSent(ctx, token.ID); err != nil {
		logger.Error("mark token email sent failed", zap.String("token_id", token.ID), zap.Error(err))
		return res
	}
	res.EmailSent = true
	return res
}

func (s *DistributionService) holdsValidToken(ctx context.Context, voterID string, cfg model.ElectionConfig) bool {
	token, err := s.store.FindLatestTokenByVoterID(ctx, voterID)
	if err != nil {
		if !appErr.IsNotFound(err) {
			logutil.GetLogger(ctx).Warn("load latest token failed", zap.String("voter_id", voterID), zap.Error(err))
		}
		return false
	}
	return token.ValidFor(cfg.CreatedAt)
}

func (s *DistributionService) formatEndsAt(cfg model.ElectionConfig) string {
	return s.formatDate(cfg.EndDate, s.loc, endsAtLayout)
}

// recordBatch emits the pass summary. A pass that could not list its voters
// still gets a zero-count summary carrying the error.
func (s *DistributionService) recordBatch(ctx context.Context, cfg model.ElectionConfig, source string, total int, res BatchResult, passErr error) {
	logutil.GetLogger(ctx).Info("token distribution finished",
		zap.String("election_id", cfg.ID),
		zap.String("source", source),
		zap.Int("total_voters", total),
		zap.Int("generated", res.Generated),
		zap.Int("emails_sent", res.EmailsSent),
		zap.Int("failed", res.Failed),
		zap.Int("batches", res.Batches),
		zap.NamedError("pass_error", passErr),
	)
	detail := map[string]interface{}{
		"source":       source,
		"generated":    res.Generated,
		"emails_sent":  res.EmailsSent,
		"failed":       res.Failed,
		"total_voters": total,
		"batches":      res.Batches,
	}
	if passErr != nil {
		detail["error"] = passErr.Error()
	}
	s.record(ctx, audit.Event{
		Action:   model.AuditActionBatchCompleted,
		TargetID: cfg.ID,
		Detail:   detail,
	})
}

func (s *DistributionService) record(ctx context.Context, event audit.Event) {
	audit.Safe(ctx, s.sink, event)
}

func (s *DistributionService) absorbPanic(ctx context.Context, op string) {
	if r := recover(); r != nil {
		logutil.GetLogger(ctx).Error("token distribution panicked", zap.String("op", op), zap.Any("panic", r))
	}
}
