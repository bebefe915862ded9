package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/causeway-ai/causeway/internal/api/v1"
	"github.com/causeway-ai/causeway/internal/store/postgres"
	redisstore "github.com/causeway-ai/causeway/internal/store/redis"
	"github.com/causeway-ai/causeway/internal/stream"
)

func registerAPIRoutes(api huma.API, store *postgres.Store, redis *redisstore.Client, chatDeps v1.ChatDeps) {
	v1.RegisterChatRoutes(api, chatDeps)
	v1.RegisterSessionRoutes(api, store)
	v1.RegisterTurnRoutes(api, store)
	stream.RegisterSSE(api, store.Turns(), redis)
}

func registerWSRoutes(r chi.Router, hub *stream.Hub) {
	r.Get("/turns/{turnID}", hub.ServeTurn)
}
