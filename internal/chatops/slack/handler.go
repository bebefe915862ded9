// Package slack is the chat-platform surface: Slack mentions become turns,
// and terminal frames come back as threaded replies.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	v1 "github.com/causeway-ai/causeway/internal/api/v1"
	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/stream"
	redisstore "github.com/causeway-ai/causeway/internal/store/redis"
)

// answerWait bounds how long the responder goroutine waits for a terminal
// frame before posting a fallback notice. The worker's own budget plus
// retries fits comfortably inside.
const answerWait = 20 * time.Minute

// mentionPattern strips the leading bot mention from message text.
var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>\s*`) //nolint:gochecknoglobals // compiled once

// WorkspaceResolver maps a Slack team to the workspace its app install
// belongs to. Installation handshakes live outside the core.
type WorkspaceResolver interface {
	WorkspaceForTeam(ctx context.Context, teamID string) (uuid.UUID, error)
}

// StaticWorkspaceResolver serves one workspace for every team, for
// self-hosted single-tenant deployments.
type StaticWorkspaceResolver struct {
	WorkspaceID uuid.UUID
}

func (s StaticWorkspaceResolver) WorkspaceForTeam(context.Context, string) (uuid.UUID, error) {
	return s.WorkspaceID, nil
}

// Handler processes Slack Events API webhooks.
type Handler struct {
	signingSecret string
	deps          v1.ChatDeps
	messenger     *Messenger
	workspaces    WorkspaceResolver
	bus           stream.Bus
}

func NewHandler(signingSecret string, deps v1.ChatDeps, messenger *Messenger, workspaces WorkspaceResolver, bus stream.Bus) *Handler {
	return &Handler{
		signingSecret: signingSecret,
		deps:          deps,
		messenger:     messenger,
		workspaces:    workspaces,
		bus:           bus,
	}
}

// slackEvent is the outer envelope of Events API payloads.
type slackEvent struct {
	Type      string          `json:"type"`
	TeamID    string          `json:"team_id"`
	Challenge string          `json:"challenge,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// innerEvent is the app_mention or message event within an event_callback.
type innerEvent struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	User      string `json:"user"`
	BotID     string `json:"bot_id,omitempty"`
	Text      string `json:"text"`
	TS        string `json:"ts"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// HandleEvents is an http.HandlerFunc for POST /slack/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if verifyErr := h.verifySignature(r.Header, body); verifyErr != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope slackEvent
	if unmarshalErr := json.Unmarshal(body, &envelope); unmarshalErr != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		h.handleURLVerification(w, envelope.Challenge)
	case "event_callback":
		h.handleEventCallback(r.Context(), w, envelope.TeamID, envelope.Event)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleURLVerification(w http.ResponseWriter, challenge string) {
	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(map[string]string{"challenge": challenge}); encodeErr != nil {
		log.Error().Err(encodeErr).Msg("slack: encode url verification response")
	}
}

func (h *Handler) handleEventCallback(ctx context.Context, w http.ResponseWriter, teamID string, rawEvent json.RawMessage) {
	var evt innerEvent
	if unmarshalErr := json.Unmarshal(rawEvent, &evt); unmarshalErr != nil {
		http.Error(w, "invalid event JSON", http.StatusBadRequest)
		return
	}

	// Only human mentions start an analysis; bot echoes are ignored.
	if evt.Type != "app_mention" || evt.BotID != "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Slack expects a fast ack; admission runs after the response.
	w.WriteHeader(http.StatusOK)

	// Replies thread under the mention; a mention inside an existing
	// thread reuses that thread's session.
	threadTS := evt.ThreadTS
	if threadTS == "" {
		threadTS = evt.TS
	}

	go h.process(context.WithoutCancel(ctx), teamID, evt.Channel, threadTS, evt.User, cleanMessage(evt.Text))
}

// process admits the mention as a turn and posts the eventual answer back
// to the thread.
func (h *Handler) process(ctx context.Context, teamID, channelID, threadTS, slackUserID, message string) {
	workspaceID, err := h.workspaces.WorkspaceForTeam(ctx, teamID)
	if err != nil {
		log.Error().Err(err).Str("team_id", teamID).Msg("slack: no workspace for team")
		return
	}

	turnID, _, err := v1.Admit(ctx, h.deps, workspaceID, nil, message, domain.OriginSlack, channelID, threadTS)
	if err != nil {
		h.messenger.ReplyInThread(ctx, channelID, threadTS, rejectionText(err))
		return
	}

	h.awaitAnswer(ctx, workspaceID, turnID, channelID, threadTS)
}

// awaitAnswer posts the terminal result for turnID into the thread. The job
// is already visible to workers when this runs, so the terminal frame may
// have been published before we subscribed; the bus does not buffer.
// Subscribe first, then read the persisted turn: anything finished in the
// gap is answered from the store, everything later arrives on the bus.
func (h *Handler) awaitAnswer(ctx context.Context, workspaceID, turnID uuid.UUID, channelID, threadTS string) {
	waitCtx, cancel := context.WithTimeout(ctx, answerWait)
	defer cancel()

	frames, cleanup, err := h.bus.Subscribe(waitCtx, redisstore.TurnChannel(turnID))
	if err != nil {
		log.Error().Err(err).Str("turn_id", turnID.String()).Msg("slack: subscribe failed")
		h.messenger.ReplyInThread(ctx, channelID, threadTS,
			"I started the analysis but could not track its progress. Check the dashboard for the result.")
		return
	}
	defer cleanup()

	if done := h.replyIfFinished(ctx, workspaceID, turnID, channelID, threadTS); done {
		return
	}

	h.messenger.ReplyInThread(ctx, channelID, threadTS, "On it. I'll post the root cause analysis here when it's done.")

	for {
		select {
		case <-waitCtx.Done():
			// Last look at the store before giving up, in case the bus
			// dropped the terminal frame.
			if done := h.replyIfFinished(ctx, workspaceID, turnID, channelID, threadTS); done {
				return
			}
			h.messenger.ReplyInThread(ctx, channelID, threadTS,
				"The analysis is taking longer than expected. Check the dashboard for the result.")
			return
		case payload, open := <-frames:
			if !open {
				if done := h.replyIfFinished(ctx, workspaceID, turnID, channelID, threadTS); done {
					return
				}
				h.messenger.ReplyInThread(ctx, channelID, threadTS,
					"I lost track of the analysis. Check the dashboard for the result.")
				return
			}
			frame, decodeErr := stream.Decode(payload)
			if decodeErr != nil {
				continue
			}
			switch frame.Type {
			case stream.FrameComplete:
				h.messenger.ReplyInThread(ctx, channelID, threadTS, frame.Content)
				return
			case stream.FrameError:
				h.messenger.ReplyInThread(ctx, channelID, threadTS,
					"The analysis failed. Try again, or check the dashboard for details.")
				return
			default:
			}
		}
	}
}

// replyIfFinished answers from the persisted turn when it already reached a
// terminal state. Reports whether a reply was posted.
func (h *Handler) replyIfFinished(ctx context.Context, workspaceID, turnID uuid.UUID, channelID, threadTS string) bool {
	turn, err := h.deps.Store.Turns().GetByID(ctx, workspaceID, turnID)
	if err != nil {
		log.Warn().Err(err).Str("turn_id", turnID.String()).Msg("slack: turn lookup failed")
		return false
	}

	switch turn.Status {
	case domain.TurnStatusCompleted:
		h.messenger.ReplyInThread(ctx, channelID, threadTS, turn.FinalResponse)
		return true
	case domain.TurnStatusFailed:
		h.messenger.ReplyInThread(ctx, channelID, threadTS,
			"The analysis failed. Try again, or check the dashboard for details.")
		return true
	default:
		return false
	}
}

// verifySignature validates the Slack request signature using the signing secret.
func (h *Handler) verifySignature(header http.Header, body []byte) error {
	sv, err := slacklib.NewSecretsVerifier(header, h.signingSecret)
	if err != nil {
		return fmt.Errorf("slack.Handler.verifySignature: create verifier: %w", err)
	}

	if _, writeErr := sv.Write(body); writeErr != nil {
		return fmt.Errorf("slack.Handler.verifySignature: write body: %w", writeErr)
	}

	if ensureErr := sv.Ensure(); ensureErr != nil {
		return fmt.Errorf("slack.Handler.verifySignature: ensure: %w", ensureErr)
	}

	return nil
}

func cleanMessage(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// rejectionText maps admission errors to a short user-facing reply without
// leaking internals.
func rejectionText(err error) string {
	var statusErr huma.StatusError
	if ok := asStatusError(err, &statusErr); ok {
		switch statusErr.GetStatus() {
		case http.StatusForbidden:
			return "That message was rejected by the security policy."
		case http.StatusTooManyRequests:
			return "The workspace has used its daily analysis quota. Try again tomorrow."
		case http.StatusUnprocessableEntity:
			return "I can only analyze messages between 1 and 10,000 characters."
		}
	}
	return "Something went wrong starting the analysis. Try again shortly."
}

func asStatusError(err error, target *huma.StatusError) bool {
	se, ok := err.(huma.StatusError) //nolint:errorlint // huma errors are returned directly
	if ok {
		*target = se
	}
	return ok
}
