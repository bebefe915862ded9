package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SecurityEventType string

const (
	SecurityEventInjectionBlocked SecurityEventType = "injection_blocked"
	SecurityEventGuardDegraded    SecurityEventType = "guard_degraded"
)

// SecurityEvent is an append-only record of a prompt-guard verdict.
type SecurityEvent struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	UserID      *uuid.UUID
	EventType   SecurityEventType
	// MessagePrefix holds at most 300 characters of the offending message.
	MessagePrefix string
	Reason        string
	CreatedAt     time.Time
}

// SecurityMessagePrefixLimit bounds how much of a user message is retained.
const SecurityMessagePrefixLimit = 300

type SecurityEventRepository interface {
	Create(ctx context.Context, e *SecurityEvent) error
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*SecurityEvent, error)
}
