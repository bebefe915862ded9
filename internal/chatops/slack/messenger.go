package slack

import (
	"context"

	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
)

// SlackAPI abstracts the subset of the Slack client used by Messenger.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// Messenger posts threaded replies back to Slack.
type Messenger struct {
	api SlackAPI
}

func NewMessenger(api SlackAPI) *Messenger {
	return &Messenger{api: api}
}

// ReplyInThread posts text as a threaded reply. Failures are logged, not
// surfaced: the durable answer already lives on the turn.
func (m *Messenger) ReplyInThread(ctx context.Context, channelID, threadTS, text string) {
	_, _, err := m.api.PostMessageContext(ctx, channelID,
		slacklib.MsgOptionTS(threadTS),
		slacklib.MsgOptionText(text, false),
	)
	if err != nil {
		log.Error().Err(err).Str("channel", channelID).Str("thread_ts", threadTS).
			Msg("slack: post reply failed")
	}
}
