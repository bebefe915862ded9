package v1_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/guard"
	"github.com/causeway-ai/causeway/internal/quota"
	"github.com/causeway-ai/causeway/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers — inject workspace/user into context for DoCtx
// ---------------------------------------------------------------------------

func workspaceCtx(workspaceID uuid.UUID) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyWorkspaceID, workspaceID)
	return ctx
}

func userCtx(workspaceID, userID uuid.UUID) context.Context {
	ctx := workspaceCtx(workspaceID)
	ctx = context.WithValue(ctx, middleware.ContextKeyUserID, userID)
	return ctx
}

// ---------------------------------------------------------------------------
// Mock DataStore backed by in-memory repositories
// ---------------------------------------------------------------------------

type mockDataStore struct {
	sessions   *memSessionRepo
	turns      *memTurnRepo
	jobs       *memJobRepo
	llmConfigs *memLLMConfigRepo
	security   *memSecurityRepo
}

func newMockDataStore() *mockDataStore {
	return &mockDataStore{
		sessions:   &memSessionRepo{byID: map[uuid.UUID]*domain.Session{}},
		turns:      &memTurnRepo{byID: map[uuid.UUID]*domain.Turn{}, steps: map[uuid.UUID][]*domain.TurnStep{}, feedback: map[uuid.UUID]*domain.TurnFeedback{}},
		jobs:       &memJobRepo{byID: map[uuid.UUID]*domain.Job{}},
		llmConfigs: &memLLMConfigRepo{},
		security:   &memSecurityRepo{},
	}
}

func (m *mockDataStore) Sessions() domain.SessionRepository              { return m.sessions }
func (m *mockDataStore) Turns() domain.TurnRepository                    { return m.turns }
func (m *mockDataStore) Jobs() domain.JobRepository                      { return m.jobs }
func (m *mockDataStore) LLMConfigs() domain.LLMConfigRepository          { return m.llmConfigs }
func (m *mockDataStore) SecurityEvents() domain.SecurityEventRepository  { return m.security }

type memSessionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.Session
}

func (r *memSessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.WorkspaceID == s.WorkspaceID && existing.Origin == s.Origin &&
			s.ChannelID != "" && existing.ChannelID == s.ChannelID && existing.ThreadTS == s.ThreadTS {
			return domain.ErrConflict
		}
	}
	r.byID[s.ID] = s
	return nil
}

func (r *memSessionRepo) GetByID(_ context.Context, workspaceID, id uuid.UUID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.WorkspaceID != workspaceID {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (r *memSessionRepo) GetByThread(_ context.Context, workspaceID uuid.UUID, origin domain.SessionOrigin, channelID, threadTS string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.WorkspaceID == workspaceID && s.Origin == origin && s.ChannelID == channelID && s.ThreadTS == threadTS {
			return s, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSessionRepo) List(_ context.Context, workspaceID uuid.UUID, _, _ int) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.byID {
		if s.WorkspaceID == workspaceID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) UpdateTitle(_ context.Context, workspaceID, id uuid.UUID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.WorkspaceID != workspaceID {
		return domain.ErrNotFound
	}
	s.Title = title
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, workspaceID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.WorkspaceID != workspaceID {
		return domain.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

type memTurnRepo struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*domain.Turn
	steps    map[uuid.UUID][]*domain.TurnStep
	feedback map[uuid.UUID]*domain.TurnFeedback
	comments []*domain.TurnComment
}

func (r *memTurnRepo) Create(_ context.Context, t *domain.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	return nil
}

func (r *memTurnRepo) GetByID(_ context.Context, workspaceID, id uuid.UUID) (*domain.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok || t.WorkspaceID != workspaceID {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (r *memTurnRepo) ListBySession(_ context.Context, workspaceID, sessionID uuid.UUID) ([]*domain.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Turn
	for _, t := range r.byID {
		if t.WorkspaceID == workspaceID && t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTurnRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.TurnStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok || t.Status != from {
		return domain.ErrInvalidState
	}
	t.Status = to
	return nil
}

func (r *memTurnRepo) Finalize(_ context.Context, id uuid.UUID, status domain.TurnStatus, finalResponse string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	t.FinalResponse = finalResponse
	return nil
}

func (r *memTurnRepo) AppendStep(_ context.Context, step *domain.TurnStep) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := uint32(len(r.steps[step.TurnID]) + 1)
	step.Sequence = seq
	r.steps[step.TurnID] = append(r.steps[step.TurnID], step)
	return seq, nil
}

func (r *memTurnRepo) ListSteps(_ context.Context, turnID uuid.UUID) ([]*domain.TurnStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.steps[turnID], nil
}

func (r *memTurnRepo) UpsertFeedback(_ context.Context, f *domain.TurnFeedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback[f.TurnID] = f
	return nil
}

func (r *memTurnRepo) AddComment(_ context.Context, c *domain.TurnComment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments = append(r.comments, c)
	return nil
}

func (r *memTurnRepo) ListComments(_ context.Context, turnID uuid.UUID) ([]*domain.TurnComment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.TurnComment
	for _, c := range r.comments {
		if c.TurnID == turnID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memJobRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.Job
}

func (r *memJobRepo) Create(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[j.ID] = j
	return nil
}

func (r *memJobRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (r *memJobRepo) GetByTurn(_ context.Context, turnID uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.byID {
		if j.TurnID == turnID {
			return j, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) Claim(context.Context, uuid.UUID, time.Time) error { return nil }

func (r *memJobRepo) Requeue(context.Context, uuid.UUID, int, time.Time) error { return nil }

func (r *memJobRepo) Finish(_ context.Context, id uuid.UUID, status domain.JobStatus, jobErr string, turnStatus domain.TurnStatus, _ string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.Error = jobErr
	j.FinishedAt = &now
	return nil
}

func (r *memJobRepo) ResetStale(context.Context, time.Time) ([]*domain.Job, error) {
	return nil, nil
}

type memLLMConfigRepo struct {
	config *domain.LLMConfig
}

func (r *memLLMConfigRepo) GetByWorkspace(context.Context, uuid.UUID) (*domain.LLMConfig, error) {
	if r.config == nil {
		return nil, domain.ErrNotFound
	}
	return r.config, nil
}

func (r *memLLMConfigRepo) UpdateHealth(context.Context, uuid.UUID, domain.HealthStatus) error {
	return nil
}

type memSecurityRepo struct {
	mu     sync.Mutex
	events []*domain.SecurityEvent
}

func (r *memSecurityRepo) Create(_ context.Context, e *domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memSecurityRepo) ListByWorkspace(context.Context, uuid.UUID, int) ([]*domain.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events, nil
}

// ---------------------------------------------------------------------------
// Guard / quota / queue stubs
// ---------------------------------------------------------------------------

type stubGuard struct {
	result guard.Result
}

func (s stubGuard) Check(context.Context, uuid.UUID, *uuid.UUID, string) guard.Result {
	return s.result
}

type stubQuota struct {
	decision quota.Decision
	byoSeen  *bool
}

func (s stubQuota) Admit(_ context.Context, _ uuid.UUID, byo bool) (*quota.Decision, error) {
	if s.byoSeen != nil {
		*s.byoSeen = byo
	}
	d := s.decision
	return &d, nil
}

type stubQueue struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (s *stubQueue) Send(_ context.Context, body string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return context.DeadlineExceeded
	}
	s.sent = append(s.sent, body)
	return nil
}
