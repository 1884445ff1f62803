/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. Metrics:      Prometheus request counters and latencies
  5. CORS:         Cross-origin requests for the staff frontend
  6. Authenticate: Bearer token on everything under /api except /api/auth
  7. RequireRole:  Admin-only routes

ROUTE GROUPS:
  /api/auth/*          Signup and login (public)
  /api/applications/*  Reservation lifecycle, lookups, admin edits
  /api/admin/*         Coordinators and reports (admin)
  /api/sequence        Counter state (admin)
  /api/me/work         Work notes
  /metrics             Prometheus scrape endpoint
  /healthz             Liveness
  /*                   Static files (frontend)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/admissions/serve.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pecadmissions/admissions/store/sqlite"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			r.Put("/me/work", h.SaveWork)

			r.Route("/applications", func(r chi.Router) {
				r.Get("/", h.ListApplications)
				r.Post("/reserve", h.Reserve)
				r.Get("/search", h.SearchApplications)
				r.Get("/{number}", h.GetApplication)
				r.Post("/{number}/submit", h.Submit)
				r.Delete("/{number}/reservation", h.ReleaseReservation)

				r.Group(func(r chi.Router) {
					r.Use(RequireRole(sqlite.RoleAdmin))
					r.Patch("/{number}", h.UpdateApplication)
					r.Delete("/{number}", h.DeleteApplication)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(sqlite.RoleAdmin))
				r.Get("/sequence", h.GetSequence)
				r.Route("/admin", func(r chi.Router) {
					r.Get("/coordinators", h.ListCoordinators)
					r.Get("/reports/count", h.CountReport)
					r.Get("/reports/excel", h.ExcelReport)
					r.Get("/reports/pdf", h.PDFReport)
				})
			})
		})
	})

	// Serve the staff frontend when it has been built
	staticDir := "./web/dist"
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
	}
	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			fullPath := filepath.Join(staticDir, r.URL.Path)
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	}

	return r
}
