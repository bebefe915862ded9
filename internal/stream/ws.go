package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/server/middleware"
)

// writeTimeout closes slow WebSocket consumers instead of buffering
// unboundedly.
const writeTimeout = 5 * time.Second

// Hub serves WebSocket turn streams with the same replay-then-live
// semantics as the SSE endpoint.
type Hub struct {
	turns TurnSource
	bus   Bus
}

func NewHub(turns TurnSource, bus Bus) *Hub {
	return &Hub{turns: turns, bus: bus}
}

// ServeTurn handles GET /ws/turns/{turnID}.
func (h *Hub) ServeTurn(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := middleware.WorkspaceIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing workspace", http.StatusBadRequest)
		return
	}

	turnIDStr := chi.URLParam(r, "turnID")
	turnID, err := uuid.Parse(turnIDStr)
	if err != nil {
		http.Error(w, "invalid turn id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	Serve(ctx, h.turns, h.bus, workspaceID, turnID, func(f Frame) error {
		payload, encodeErr := f.Encode()
		if encodeErr != nil {
			return encodeErr
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		if writeErr := conn.Write(writeCtx, websocket.MessageText, payload); writeErr != nil {
			log.Debug().Err(writeErr).Str("turn_id", turnID.String()).Msg("websocket write, closing slow consumer")
			return writeErr
		}
		return nil
	})

	_ = conn.Close(websocket.StatusNormalClosure, "stream complete")
}
