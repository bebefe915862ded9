package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/server/middleware"
	redisstore "github.com/causeway-ai/causeway/internal/store/redis"
)

// TurnSource is the slice of the turn store the stream endpoint reads.
type TurnSource interface {
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*domain.Turn, error)
	ListSteps(ctx context.Context, turnID uuid.UUID) ([]*domain.TurnStep, error)
}

// Bus is the subscribe side of the event bus.
type Bus interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// keepAliveEvery bounds idle gaps so intermediaries do not drop the
// connection.
const keepAliveEvery = 15 * time.Second

type StreamTurnInput struct {
	ID uuid.UUID `path:"id" doc:"Turn ID"`
}

// RegisterSSE mounts GET /turns/{id}/stream as a server-sent-events
// endpoint. Every frame is one JSON record; the payload's type field
// discriminates. Exactly one terminal frame (complete or error) ends the
// stream.
func RegisterSSE(api huma.API, turns TurnSource, bus Bus) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-turn",
		Method:      http.MethodGet,
		Path:        "/turns/{id}/stream",
		Summary:     "Stream a turn's progress frames",
		Tags:        []string{"Chat"},
	}, map[string]any{
		"frame": Frame{},
	}, func(ctx context.Context, input *StreamTurnInput, send sse.Sender) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			_ = send.Data(Frame{Type: FrameError, Content: "missing workspace context", Timestamp: time.Now().UTC()})
			return
		}

		Serve(ctx, turns, bus, workspaceID, input.ID, func(f Frame) error {
			return send.Data(f)
		})
	})
}

// Serve runs the replay-then-live protocol for one subscriber, pushing
// frames through emit until the terminal frame or disconnect. The
// subscribe-before-read order is load-bearing: frames published between the
// store read and a later subscribe would otherwise be lost.
func Serve(ctx context.Context, turns TurnSource, bus Bus, workspaceID, turnID uuid.UUID, emit func(Frame) error) {
	turn, err := turns.GetByID(ctx, workspaceID, turnID)
	if err != nil {
		content := "internal error"
		if errors.Is(err, domain.ErrNotFound) {
			content = "turn not found"
		}
		_ = emit(Frame{Type: FrameError, TurnID: turnID, Content: content, Timestamp: time.Now().UTC()})
		return
	}

	// Terminal turns replay entirely from persistence; no subscription.
	if turn.Status == domain.TurnStatusCompleted || turn.Status == domain.TurnStatusFailed {
		if replayed := replay(ctx, turns, turnID, 0, emit); replayed < 0 {
			return
		}
		_ = emit(TerminalFrame(turn))
		return
	}

	// In-flight: subscribe FIRST, then replay, then drain with dedup.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, cleanup, err := bus.Subscribe(subCtx, redisstore.TurnChannel(turnID))
	if err != nil {
		_ = emit(Frame{Type: FrameError, TurnID: turnID, Content: "subscribe failed", Timestamp: time.Now().UTC()})
		return
	}
	defer cleanup()

	// A turn that finished between the first read and the subscribe has
	// already published its terminal frame; answer it from the store.
	if current, getErr := turns.GetByID(ctx, workspaceID, turnID); getErr == nil &&
		(current.Status == domain.TurnStatusCompleted || current.Status == domain.TurnStatusFailed) {
		if replay(ctx, turns, turnID, 0, emit) >= 0 {
			_ = emit(TerminalFrame(current))
		}
		return
	}

	lastSeq := replay(ctx, turns, turnID, 0, emit)
	if lastSeq < 0 {
		return
	}

	ticker := time.NewTicker(keepAliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := emit(Frame{Type: FramePing, TurnID: turnID, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		case payload, open := <-frames:
			if !open {
				// Bus dropped us; the client reconnects and replays.
				_ = emit(Frame{Type: FrameError, TurnID: turnID, Content: "stream backpressure", Timestamp: time.Now().UTC()})
				return
			}

			frame, decodeErr := Decode(payload)
			if decodeErr != nil {
				log.Warn().Err(decodeErr).Str("turn_id", turnID.String()).Msg("stream: dropping undecodable frame")
				continue
			}
			// Dedup against the replayed prefix.
			if frame.Sequence != 0 && int64(frame.Sequence) <= lastSeq {
				continue
			}
			if frame.Sequence != 0 {
				lastSeq = int64(frame.Sequence)
			}

			if err := emit(frame); err != nil {
				return
			}
			if frame.Terminal() {
				return
			}
		}
	}
}

// replay emits the persisted steps in order and returns the last sequence
// seen, or -1 when the subscriber went away.
func replay(ctx context.Context, turns TurnSource, turnID uuid.UUID, after uint32, emit func(Frame) error) int64 {
	steps, err := turns.ListSteps(ctx, turnID)
	if err != nil {
		_ = emit(Frame{Type: FrameError, TurnID: turnID, Content: "internal error", Timestamp: time.Now().UTC()})
		return -1
	}

	var lastSeq int64
	for _, step := range steps {
		if step.Sequence <= after {
			continue
		}
		if err := emit(FromStep(step)); err != nil {
			return -1
		}
		lastSeq = int64(step.Sequence)
	}

	return lastSeq
}
