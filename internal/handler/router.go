package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/forno/backend/internal/handler/persona"
	"github.com/zhouzirui/forno/backend/internal/handler/relay"
	"github.com/zhouzirui/forno/backend/internal/handler/user"
	"github.com/zhouzirui/forno/backend/internal/logger"
	middlewarePkg "github.com/zhouzirui/forno/backend/internal/middleware"
	personaModel "github.com/zhouzirui/forno/backend/internal/model/persona"
	userModel "github.com/zhouzirui/forno/backend/internal/model/user"
	"github.com/zhouzirui/forno/backend/internal/observability"
	"github.com/zhouzirui/forno/backend/pkg/utils"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Personas      personaModel.Store
	ActivePersona string
	Users         userModel.Store
	Relay         *relay.Handler
	Registry      *relay.Registry
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(logger.Component(deps.Logger, "http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		connections := 0
		if deps.Registry != nil {
			connections = deps.Registry.Count()
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"connections": connections,
		})
	})
	r.Handle("/metrics", deps.Metrics.Handler())

	if deps.Relay != nil {
		deps.Relay.RegisterRoutes(r)
	}

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas, deps.ActivePersona).RegisterRoutes(api)
		user.New(deps.Users, logger.Component(deps.Logger, "users")).RegisterRoutes(api)
	})

	return r
}
