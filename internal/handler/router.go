package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/chatflow/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/chatflow/internal/handler/stream"
	"github.com/zhouzirui/z-tavern/chatflow/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/z-tavern/chatflow/internal/middleware"
	"github.com/zhouzirui/z-tavern/chatflow/pkg/utils"
)

// Dispatcher is what the events API, the event stream and the socket drive.
type Dispatcher interface {
	chat.Dispatcher
	stream.Dispatcher
	ws.Dispatcher
}

// NewRouter wires HTTP routes to core services.
func NewRouter(dispatcher Dispatcher, sessions chat.SessionReader) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := chat.New(dispatcher, sessions)
	streamHandler := stream.New(dispatcher)
	wsHandler := ws.NewWebSocketHandler(dispatcher)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
