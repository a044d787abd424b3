package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/authgate/app"
	"github.com/upb/authgate/handlers"
	authmw "github.com/upb/authgate/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmw.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeoutOrDefault(deps.Config.Server.WriteTimeout)))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Gate, deps.Session, deps.Logger)
	var upstreamClient handlers.Upstream
	if deps.Upstream != nil {
		upstreamClient = deps.Upstream
	}
	gate := handlers.NewGateHandler(deps.Gate, deps.Session, upstreamClient, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// OAuth2 auth endpoints (Cognito hosted UI)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", handlers.AuthLoginHandler(deps))
		r.Get("/callback", handlers.AuthCallbackHandler(deps))
		r.Post("/logout", handlers.AuthLogoutHandler(deps))
	})

	// Local credential API
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/session", gate.HandleSession)
			r.Get("/token", gate.HandleToken)
		})
		r.Post("/signout", gate.HandleSignOut)
		r.HandleFunc("/upstream/*", gate.HandleUpstream)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// timeoutOrDefault keeps a zero WriteTimeout from disabling requests
func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
