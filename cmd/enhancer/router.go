package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/presetlab/enhancer/internal/api"
	apiMiddleware "github.com/presetlab/enhancer/internal/api/middleware"
	"github.com/presetlab/enhancer/internal/platform/metrics"
	"github.com/presetlab/enhancer/internal/service/auth"
	"github.com/prometheus/client_golang/prometheus"
)

// routerDeps are the collaborators the HTTP surface needs.
type routerDeps struct {
	Logger       *slog.Logger
	JWTService   auth.JWTService
	Enhancements api.EnhancementService
	Credits      api.BalanceReader
	Registry     *prometheus.Registry
	// StaticDir is served under /static when set.
	StaticDir string
}

// setupRouter builds the router from the application dependencies.
func (app *application) setupRouter() http.Handler {
	return newRouter(routerDeps{
		Logger:       app.logger,
		JWTService:   app.jwtService,
		Enhancements: app.manager,
		Credits:      app.ledger,
		Registry:     app.registry,
		StaticDir:    app.files.BasePath(),
	})
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(deps.Logger))

	enhancementHandler := api.NewEnhancementHandler(deps.Enhancements, deps.Logger)
	creditHandler := api.NewCreditHandler(deps.Credits, deps.Logger)
	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.JWTService)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/enhancements", enhancementHandler.CreateEnhancement)
		r.Get("/enhancements", enhancementHandler.ListEnhancements)
		r.Get("/enhancements/{id}", enhancementHandler.GetEnhancement)

		r.Get("/credits", creditHandler.GetBalance)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			deps.Logger.Error("failed to write health check response", slog.String("error", err.Error()))
		}
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))
	}

	if deps.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(deps.StaticDir)))
		r.Method(http.MethodGet, "/static/*", fs)
	}

	return r
}
