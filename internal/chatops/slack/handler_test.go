package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	slacklib "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/causeway-ai/causeway/internal/api/v1"
	"github.com/causeway-ai/causeway/internal/domain"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

// signRequest adds valid Slack signature headers for body.
func signRequest(t *testing.T, req *http.Request, body string) {
	t.Helper()

	ts := fmt.Sprintf("%d", time.Now().Unix())
	base := "v0:" + ts + ":" + body

	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	_, err := mac.Write([]byte(base))
	require.NoError(t, err)

	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
}

type recordingAPI struct {
	mu    sync.Mutex
	posts []string
}

func (r *recordingAPI) PostMessageContext(_ context.Context, _ string, _ ...slacklib.MsgOption) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, "posted")
	return "C1", "123.456", nil
}

func newTestHandler() *Handler {
	return &Handler{
		signingSecret: testSigningSecret,
		messenger:     NewMessenger(&recordingAPI{}),
	}
}

func TestHandleEvents_RejectsBadSignature(t *testing.T) {
	t.Parallel()

	h := newTestHandler()

	body := `{"type":"url_verification","challenge":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()

	h.HandleEvents(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEvents_URLVerification(t *testing.T) {
	t.Parallel()

	h := newTestHandler()

	body := `{"type":"url_verification","challenge":"challenge-token"}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	signRequest(t, req, body)
	rec := httptest.NewRecorder()

	h.HandleEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "challenge-token")
}

func TestHandleEvents_IgnoresBotMessages(t *testing.T) {
	t.Parallel()

	h := newTestHandler()

	body := `{"type":"event_callback","team_id":"T1","event":{"type":"app_mention","bot_id":"B999","channel":"C1","text":"<@U1> hi","ts":"1.0"}}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	signRequest(t, req, body)
	rec := httptest.NewRecorder()

	h.HandleEvents(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCleanMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "why is api-gw slow?", cleanMessage("<@U0123ABC> why is api-gw slow?"))
	assert.Equal(t, "no mention here", cleanMessage("no mention here"))
}

// ---------------------------------------------------------------------------
// awaitAnswer: answer published before we subscribed
// ---------------------------------------------------------------------------

type finishedTurnStore struct {
	turn *domain.Turn
}

func (s finishedTurnStore) Sessions() domain.SessionRepository { return nil }
func (s finishedTurnStore) Jobs() domain.JobRepository         { return nil }
func (s finishedTurnStore) LLMConfigs() domain.LLMConfigRepository {
	return nil
}
func (s finishedTurnStore) SecurityEvents() domain.SecurityEventRepository {
	return nil
}
func (s finishedTurnStore) Turns() domain.TurnRepository {
	return stubTurnRepo{turn: s.turn}
}

type stubTurnRepo struct {
	turn *domain.Turn
}

func (r stubTurnRepo) Create(context.Context, *domain.Turn) error { return nil }

func (r stubTurnRepo) GetByID(_ context.Context, workspaceID, id uuid.UUID) (*domain.Turn, error) {
	if r.turn == nil || r.turn.ID != id || r.turn.WorkspaceID != workspaceID {
		return nil, domain.ErrNotFound
	}
	return r.turn, nil
}

func (r stubTurnRepo) ListBySession(context.Context, uuid.UUID, uuid.UUID) ([]*domain.Turn, error) {
	return nil, nil
}
func (r stubTurnRepo) UpdateStatus(context.Context, uuid.UUID, domain.TurnStatus, domain.TurnStatus) error {
	return nil
}
func (r stubTurnRepo) Finalize(context.Context, uuid.UUID, domain.TurnStatus, string) error {
	return nil
}
func (r stubTurnRepo) AppendStep(context.Context, *domain.TurnStep) (uint32, error) { return 0, nil }
func (r stubTurnRepo) ListSteps(context.Context, uuid.UUID) ([]*domain.TurnStep, error) {
	return nil, nil
}
func (r stubTurnRepo) UpsertFeedback(context.Context, *domain.TurnFeedback) error { return nil }
func (r stubTurnRepo) AddComment(context.Context, *domain.TurnComment) error      { return nil }
func (r stubTurnRepo) ListComments(context.Context, uuid.UUID) ([]*domain.TurnComment, error) {
	return nil, nil
}

type silentBus struct{}

func (silentBus) Subscribe(context.Context, string) (<-chan []byte, func(), error) {
	return make(chan []byte), func() {}, nil
}

type threadRecorder struct {
	mu    sync.Mutex
	texts []string
}

// MsgOption internals are opaque, so the recorder counts calls rather than
// inspecting text.
func (r *threadRecorder) PostMessageContext(_ context.Context, _ string, _ ...slacklib.MsgOption) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, fmt.Sprintf("call-%d", len(r.texts)+1))
	return "C1", "123.456", nil
}

func TestAwaitAnswer_RepliesFromStoreWhenTurnAlreadyFinished(t *testing.T) {
	t.Parallel()

	workspaceID := uuid.New()
	turn := &domain.Turn{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		Status:        domain.TurnStatusCompleted,
		FinalResponse: "Root cause: bad deploy.",
	}

	api := &threadRecorder{}
	h := &Handler{
		signingSecret: testSigningSecret,
		deps:          v1.ChatDeps{Store: finishedTurnStore{turn: turn}},
		messenger:     NewMessenger(api),
		bus:           silentBus{},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.awaitAnswer(context.Background(), workspaceID, turn.ID, "C1", "111.222")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitAnswer did not return for an already-finished turn")
	}

	// Exactly one reply: the stored final response, no "On it" preamble.
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Len(t, api.texts, 1)
}
