package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionOrigin identifies the surface a conversation started from.
type SessionOrigin string

const (
	OriginWeb   SessionOrigin = "web"
	OriginSlack SessionOrigin = "slack"
	OriginOther SessionOrigin = "other"
)

// Session is one conversation. Turns belong to it.
type Session struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	UserID      *uuid.UUID
	Origin      SessionOrigin
	// ChannelID and ThreadTS locate the external chat thread for
	// chat-platform sessions. Unique within (workspace, origin).
	ChannelID string
	ThreadTS  string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const maxTitleLength = 50

// TitleFromMessage derives a session title from the first user message.
// Characters with markup significance are stripped before truncation.
func TitleFromMessage(message string) string {
	title := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '&':
			return -1
		}
		return r
	}, strings.TrimSpace(message))

	if len(title) > maxTitleLength {
		title = title[:maxTitleLength-3] + "..."
	}
	if title == "" {
		return "Untitled analysis"
	}
	return title
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*Session, error)
	// GetByThread resolves a chat-platform session by its external thread
	// coordinates. Returns ErrNotFound when no session exists yet.
	GetByThread(ctx context.Context, workspaceID uuid.UUID, origin SessionOrigin, channelID, threadTS string) (*Session, error)
	List(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*Session, error)
	UpdateTitle(ctx context.Context, workspaceID, id uuid.UUID, title string) error
	// Delete removes the session and cascades to its turns and steps.
	Delete(ctx context.Context, workspaceID, id uuid.UUID) error
}
