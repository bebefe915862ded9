package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TurnStatus string

const (
	TurnStatusPending    TurnStatus = "pending"
	TurnStatusProcessing TurnStatus = "processing"
	TurnStatusCompleted  TurnStatus = "completed"
	TurnStatusFailed     TurnStatus = "failed"
)

// Turn is one (question, answer) unit inside a session. Exactly one job
// drives it to completion.
type Turn struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	WorkspaceID   uuid.UUID
	UserMessage   string
	FinalResponse string
	Status        TurnStatus
	JobID         uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type StepType string

const (
	StepTypeStatus   StepType = "status"
	StepTypeToolCall StepType = "tool_call"
	StepTypeThinking StepType = "thinking"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// TurnStep is one observable event within a turn. Sequence is gap-free and
// strictly increasing per turn, starting at 1; it is assigned by the store
// at insert time under a row lock on the turn.
type TurnStep struct {
	ID        uuid.UUID
	TurnID    uuid.UUID
	StepType  StepType
	ToolName  string
	Content   string
	Status    StepStatus
	Sequence  uint32
	CreatedAt time.Time
}

// TurnFeedback is a per-user verdict on a completed answer. One row per
// (turn, user).
type TurnFeedback struct {
	ID        uuid.UUID
	TurnID    uuid.UUID
	UserID    uuid.UUID
	Score     int // -1 or +1
	Comment   string
	CreatedAt time.Time
}

// TurnComment is a free-form remark attached to a turn.
type TurnComment struct {
	ID        uuid.UUID
	TurnID    uuid.UUID
	UserID    uuid.UUID
	Body      string
	CreatedAt time.Time
}

type TurnRepository interface {
	Create(ctx context.Context, t *Turn) error
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*Turn, error)
	ListBySession(ctx context.Context, workspaceID, sessionID uuid.UUID) ([]*Turn, error)
	// UpdateStatus moves the turn between lifecycle states. Transitions
	// other than pending->processing->{completed,failed} return
	// ErrInvalidState.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to TurnStatus) error
	// Finalize records the final response and terminal status.
	Finalize(ctx context.Context, id uuid.UUID, status TurnStatus, finalResponse string) error

	// AppendStep inserts a step with the next sequence number for the turn
	// and returns the assigned sequence.
	AppendStep(ctx context.Context, step *TurnStep) (uint32, error)
	ListSteps(ctx context.Context, turnID uuid.UUID) ([]*TurnStep, error)

	UpsertFeedback(ctx context.Context, f *TurnFeedback) error
	AddComment(ctx context.Context, c *TurnComment) error
	ListComments(ctx context.Context, turnID uuid.UUID) ([]*TurnComment, error)
}
