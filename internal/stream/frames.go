// Package stream is the live progress fabric: frame types shared by the
// publishing worker and the subscribing endpoints, plus the SSE and
// WebSocket endpoints that fuse persisted replay with live bus frames.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/causeway-ai/causeway/internal/domain"
)

type FrameType string

const (
	FrameStatus    FrameType = "status"
	FrameToolStart FrameType = "tool_start"
	FrameToolEnd   FrameType = "tool_end"
	FrameThinking  FrameType = "thinking"
	FrameComplete  FrameType = "complete"
	FrameError     FrameType = "error"
	// FramePing is a keep-alive tick; it is never persisted.
	FramePing FrameType = "ping"
)

// Frame is one ordered progress event for a turn. Persisted steps and live
// bus payloads share this shape; subscribers dedupe by Sequence.
type Frame struct {
	Type      FrameType `json:"type"`
	TurnID    uuid.UUID `json:"turn_id"`
	Sequence  uint32    `json:"seq,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Status    string    `json:"status,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Terminal reports whether the frame closes the stream.
func (f Frame) Terminal() bool {
	return f.Type == FrameComplete || f.Type == FrameError
}

// Encode renders the frame as one self-delimited JSON record.
func (f Frame) Encode() ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("stream.Frame.Encode: %w", err)
	}
	return raw, nil
}

// Decode parses a bus payload back into a frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("stream.Decode: %w", err)
	}
	return f, nil
}

// FromStep renders a persisted step as its replay frame.
func FromStep(step *domain.TurnStep) Frame {
	f := Frame{
		TurnID:    step.TurnID,
		Sequence:  step.Sequence,
		ToolName:  step.ToolName,
		Content:   step.Content,
		Timestamp: step.CreatedAt,
	}

	switch step.StepType {
	case domain.StepTypeStatus:
		f.Type = FrameStatus
	case domain.StepTypeThinking:
		f.Type = FrameThinking
	case domain.StepTypeToolCall:
		if step.Status == domain.StepStatusRunning || step.Status == domain.StepStatusPending {
			f.Type = FrameToolStart
			f.Content = ""
		} else {
			f.Type = FrameToolEnd
			f.Status = string(step.Status)
		}
	}

	return f
}

// TerminalFrame renders the closing frame for a finished turn.
func TerminalFrame(turn *domain.Turn) Frame {
	if turn.Status == domain.TurnStatusCompleted {
		return Frame{
			Type:      FrameComplete,
			TurnID:    turn.ID,
			Content:   turn.FinalResponse,
			Timestamp: turn.UpdatedAt,
		}
	}
	return Frame{
		Type:      FrameError,
		TurnID:    turn.ID,
		Content:   "analysis failed",
		Timestamp: turn.UpdatedAt,
	}
}
