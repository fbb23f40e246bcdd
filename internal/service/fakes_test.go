package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/evote/internal/audit"
	"github.com/xxxsen/evote/internal/dispatch"
	"github.com/xxxsen/evote/internal/mailtpl"
	"github.com/xxxsen/evote/internal/model"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
)

// memStore mirrors the repo semantics in memory. Token ctimes come from a
// counter starting at clock, so tests control the election generation.
type memStore struct {
	mu        sync.Mutex
	clock     int64
	voters    map[string]model.VoterInfo
	order     []string
	deleted   map[string]bool
	tokens    []*model.VotingToken
	calls     int
	createErr map[string]error
	findErr   error
	panicOn   string
}

func newMemStore() *memStore {
	return &memStore{
		clock:     1_000_000,
		voters:    make(map[string]model.VoterInfo),
		deleted:   make(map[string]bool),
		createErr: make(map[string]error),
	}
}

func (m *memStore) addVoters(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("voter-%03d", len(m.order)+1)
		m.voters[id] = model.VoterInfo{
			ID:       id,
			NIM:      fmt.Sprintf("13011900%03d", len(m.order)+1),
			FullName: "Voter " + id,
			Email:    id + "@example.com",
		}
		m.order = append(m.order, id)
		ids = append(ids, id)
	}
	return ids
}

func (m *memStore) seedToken(voterID string, ctime int64, sent bool) *model.VotingToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := &model.VotingToken{ID: fmt.Sprintf("seed-%d", len(m.tokens)+1), VoterID: voterID, TokenHash: fmt.Sprintf("seed-hash-%d", len(m.tokens)+1), Ctime: ctime}
	if sent {
		at := ctime
		token.EmailSentAt = &at
	}
	m.tokens = append(m.tokens, token)
	return token
}

func (m *memStore) tick() int64 {
	m.clock++
	return m.clock
}

func (m *memStore) hit(op string) {
	m.calls++
	if m.panicOn == op {
		panic("store exploded in " + op)
	}
}

func (m *memStore) InvalidateStaleTokens(_ context.Context, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("invalidate")
	now := m.tick()
	var count int64
	for _, t := range m.tokens {
		if t.Ctime < before && t.InvalidatedAt == 0 {
			t.InvalidatedAt = now
			count++
		}
	}
	return count, nil
}

func (m *memStore) FindVotersWithoutValidToken(_ context.Context, generation int64) ([]model.VoterInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("find_without")
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []model.VoterInfo
	for _, id := range m.order {
		if m.deleted[id] {
			continue
		}
		valid := false
		for _, t := range m.tokens {
			if t.VoterID == id && t.ValidFor(generation) {
				valid = true
				break
			}
		}
		if !valid {
			out = append(out, m.voters[id])
		}
	}
	return out, nil
}

func (m *memStore) FindVoterByID(_ context.Context, id string) (*model.VoterInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("find_voter")
	v, ok := m.voters[id]
	if !ok || m.deleted[id] {
		return nil, appErr.ErrNotFound
	}
	return &v, nil
}

func (m *memStore) CreateToken(_ context.Context, voterID, tokenHash string) (*model.VotingToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("create")
	if err := m.createErr[voterID]; err != nil {
		return nil, err
	}
	now := m.tick()
	for _, t := range m.tokens {
		if t.VoterID == voterID && !t.IsUsed && t.InvalidatedAt == 0 {
			t.InvalidatedAt = now
		}
	}
	token := &model.VotingToken{ID: fmt.Sprintf("tok-%d", len(m.tokens)+1), VoterID: voterID, TokenHash: tokenHash, Ctime: now}
	m.tokens = append(m.tokens, token)
	cp := *token
	return &cp, nil
}

func (m *memStore) MarkEmailSent(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("mark_sent")
	for _, t := range m.tokens {
		if t.ID == tokenID && t.InvalidatedAt == 0 {
			at := m.tick()
			t.EmailSentAt = &at
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (m *memStore) FindLatestTokenByVoterID(_ context.Context, voterID string) (*model.VotingToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("latest")
	var best *model.VotingToken
	for _, t := range m.tokens {
		if t.VoterID != voterID {
			continue
		}
		if best == nil || (t.InvalidatedAt == 0 && best.InvalidatedAt != 0) || (t.InvalidatedAt == 0) == (best.InvalidatedAt == 0) && t.Ctime > best.Ctime {
			best = t
		}
	}
	if best == nil {
		return nil, appErr.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) TokenHashExists(_ context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ReissueToken(_ context.Context, tokenID, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ID == tokenID {
			if t.IsUsed || t.InvalidatedAt != 0 || t.ResendCount >= model.MaxTokenResend {
				return appErr.ErrNotFound
			}
			at := m.tick()
			t.TokenHash = tokenHash
			t.ResendCount++
			t.EmailSentAt = &at
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// currentToken returns the live token of a voter, nil when there is none.
func (m *memStore) currentToken(voterID string) *model.VotingToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.VoterID == voterID && t.InvalidatedAt == 0 {
			cp := *t
			return &cp
		}
	}
	return nil
}

func (m *memStore) liveTokenCount(voterID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.VoterID == voterID && t.InvalidatedAt == 0 {
			n++
		}
	}
	return n
}

type fakeElections struct {
	election *model.Election
	err      error
}

func (f *fakeElections) Current(context.Context) (*model.Election, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.election == nil {
		return nil, appErr.ErrNotFound
	}
	cp := *f.election
	return &cp, nil
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []dispatch.Message
	failFor  map[string]bool
	failAll  bool
	attempts int
	// onSend runs outside the lock while the mail is "in flight".
	onSend func(msg dispatch.Message)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failFor: make(map[string]bool), attempts: 1}
}

func (f *fakeTransport) Send(_ context.Context, msg dispatch.Message) dispatch.Result {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	hook := f.onSend
	failed := f.failAll || f.failFor[msg.To]
	n := len(f.sent)
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	if failed {
		return dispatch.Result{Success: false, Attempts: 3, Err: errors.New("smtp unavailable")}
	}
	return dispatch.Result{Success: true, Attempts: f.attempts, MessageID: fmt.Sprintf("<%d@example.com>", n)}
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) setFailAll(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = v
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Record(_ context.Context, event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) byAction(action string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// countingPacer records the number of emails sent when each wait happens.
type countingPacer struct {
	transport *fakeTransport
	sentAt    []int
	err       error
}

func (p *countingPacer) Wait(context.Context) error {
	p.sentAt = append(p.sentAt, p.transport.count())
	return p.err
}

type harness struct {
	store     *memStore
	elections *fakeElections
	transport *fakeTransport
	sink      *recordingSink
	pacer     *countingPacer
	svc       *DistributionService
}

func newHarness() *harness {
	h := &harness{
		store:     newMemStore(),
		elections: &fakeElections{},
		transport: newFakeTransport(),
		sink:      &recordingSink{},
	}
	h.pacer = &countingPacer{transport: h.transport}
	h.svc = NewDistributionService(h.store, h.elections, h.transport, mailtpl.MustDefault(), h.sink, DistributionConfig{
		Pacer:    h.pacer,
		Location: time.UTC,
	})
	return h
}

// activeElection configures an active election whose generation precedes
// every token the store creates from now on.
func (h *harness) activeElection() model.ElectionConfig {
	h.store.mu.Lock()
	created := h.store.clock
	h.store.mu.Unlock()
	h.elections.election = &model.Election{
		ID:      "election-1",
		Name:    "Student Council 2026",
		Status:  model.ElectionStatusActive,
		EndDate: time.Date(2026, 11, 1, 17, 0, 0, 0, time.UTC).UnixMilli(),
		Ctime:   created,
	}
	return h.elections.election.Config()
}
