package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// defaultOrigins are allowed when the config names none.
var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all API routes. The paths match what the workshop
// site and the Mailgun route were already posting to.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	r.Get("/health/ready", h.health.HandleReadiness)

	r.Post("/users", h.Signup)
	r.Put("/users", h.Confirm)

	r.Post("/workshops", h.CreateWorkshop)

	r.Route("/emails/{workshopID}", func(r chi.Router) {
		r.Post("/", h.AddEmail)
		r.Get("/", h.ListEmails)
		r.Put("/{address}", h.RegisterUser)
		r.Delete("/{address}", h.UnregisterUser)
	})

	r.Post("/mailgun", h.HandleMailgun)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, errRouteNotFound)
	})
	return r
}
