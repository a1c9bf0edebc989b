/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the shop-floor terminal UI

ROUTE GROUPS:
  /api/workers/*        FIFO queue queries
  /api/assignments/*    Task lifecycle
  /api/substations/*    Substation state and deferred reservation
  /api/materials/*      Lots, FIFO preview, ledger
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Sweeper control
  /*                    Static files (terminal UI), when built

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. staticDir may
// be empty or missing, in which case / serves a short endpoint index.
func NewRouter(h *Handler, staticDir string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Worker queue routes
		r.Route("/workers/{id}", func(r chi.Router) {
			r.Get("/next-task", h.GetNextTask)
			r.Get("/queue", h.GetTaskQueue)
			r.Get("/stats", h.GetTaskStats)
			r.Get("/has-tasks", h.HasTasks)
		})

		// Assignment lifecycle routes
		r.Route("/assignments/{id}", func(r chi.Router) {
			r.Get("/", h.GetAssignment)
			r.Get("/history", h.GetAssignmentHistory)
			r.Post("/start", h.StartTask)
			r.Post("/complete", h.CompleteTask)
			r.Post("/release", h.ReleaseTask)
		})

		// Substation routes
		r.Route("/substations", func(r chi.Router) {
			r.Get("/", h.ListSubstations)
			r.Post("/{id}/deferred-reservation", h.ApplyDeferredReservation)
		})

		// Material routes
		r.Route("/materials/{code}", func(r chi.Router) {
			r.Get("/lots", h.GetMaterialLots)
			r.Get("/lot-plan", h.GetLotPlan)
			r.Get("/movements", h.GetMovements)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/sweep", h.GetLastSweep)
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	if staticDir != "" {
		if _, err := os.Stat(staticDir); err == nil {
			fileServer := http.FileServer(http.Dir(staticDir))
			r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
				fullPath := filepath.Join(staticDir, r.URL.Path)

				// SPA routing: unknown paths get index.html
				if _, err := os.Stat(fullPath); os.IsNotExist(err) {
					http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
					return
				}
				fileServer.ServeHTTP(w, r)
			})
			return r
		}
	}

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Shop-Floor Scheduler</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Shop-Floor Scheduler API</h1>
<p>The terminal UI is not built. Load a demo plant with <code>POST /api/scenarios/load</code>.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
<li><a href="/api/substations">/api/substations</a> - List substations</li>
<li><a href="/api/workers/W1/queue">/api/workers/W1/queue</a> - Queue of worker W1</li>
</ul>
</body>
</html>`))
	})

	return r
}
