package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/prism-api/internal/api"
	apiMiddleware "github.com/phrazzld/prism-api/internal/api/middleware"
	"github.com/phrazzld/prism-api/internal/api/shared"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	runHandler := api.NewRunHandler(app.coordinator, app.stream, app.logger)

	r.Route("/api", func(r chi.Router) {
		if app.jwtService != nil {
			r.Use(apiMiddleware.NewAuthMiddleware(app.jwtService).Authenticate)
		}

		r.Post("/runs", runHandler.CreateRun)
		r.Post("/runs/queued", runHandler.CreateQueuedRun)
		r.Post("/workers/{name}", runHandler.RunWorker)
		r.Post("/compare", runHandler.Compare)
		r.Get("/stats", runHandler.Stats)
		r.Get("/events", app.stream.ServeHTTP)
	})

	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"workers": app.coordinator.Workers(),
		})
	})

	return r
}
