package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/mood-coach/backend/internal/config"
	"github.com/zhouzirui/mood-coach/backend/internal/handler/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/handler/health"
	"github.com/zhouzirui/mood-coach/backend/internal/handler/mood"
	"github.com/zhouzirui/mood-coach/backend/internal/handler/poll"
	"github.com/zhouzirui/mood-coach/backend/internal/handler/stream"
	"github.com/zhouzirui/mood-coach/backend/internal/handler/ws"
	"github.com/zhouzirui/mood-coach/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/mood-coach/backend/internal/middleware"
	chatService "github.com/zhouzirui/mood-coach/backend/internal/service/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/service/relay"
)

// Deps 路由依赖
type Deps struct {
	Server  config.ServerConfig
	Store   chatService.Store
	Relay   *relay.Relay
	Metrics *metrics.Metrics
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Outside production every origin is allowed.
	var origins []string
	if deps.Server.Production() {
		origins = deps.Server.AllowedOrigins
	}
	r.Use(middlewarePkg.CORS(origins))

	streamHandler := stream.New(deps.Relay)
	chatHandler := chat.New(deps.Relay, deps.Store, streamHandler)
	pollHandler := poll.New(deps.Relay)
	moodHandler := mood.New(deps.Store)
	healthHandler := health.New(deps.Store, deps.Metrics, deps.Server.Environment)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		pollHandler.RegisterRoutes(api)
		moodHandler.RegisterRoutes(api)
		healthHandler.RegisterRoutes(api)
	})

	ws.New(deps.Relay).RegisterRoutes(r)
	r.Method(http.MethodGet, "/metrics", healthHandler.MetricsHandler())

	return r
}
