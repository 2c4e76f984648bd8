package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter creates and configures the Chi router for the audit API
func NewRouter(store FingerprintReader, resultsDir string, log *logrus.Entry) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	h := NewHandlers(store, resultsDir)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/fingerprints", func(r chi.Router) {
			r.Get("/count", h.CountFingerprints)
			r.Get("/{id}", h.GetFingerprints)
			r.Get("/{id}/{price}", h.CheckFingerprint)
		})

		r.Get("/results", h.ListResults)
		r.Get("/results/{name}", h.DownloadResult)
	})

	return r
}
