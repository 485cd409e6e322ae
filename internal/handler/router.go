package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/posclients-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса клиентов POS.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/clients", func(r chi.Router) {
				r.Get("/", h.ListClients)
				r.Post("/", h.CreateClient)
				r.Get("/document/validate", h.ValidateDocument)

				r.Route("/{clientID}", func(r chi.Router) {
					r.Get("/", h.GetClient)
					r.Put("/", h.UpdateClient)
					r.Delete("/", h.DeleteClient)

					r.Get("/purchases", h.GetPurchases)
					r.Post("/purchases", h.RecordPurchase)

					r.Get("/points", h.GetPointsHistory)
					r.Post("/points/adjust", h.AdjustPoints)
				})
			})

			r.Get("/stats", h.GetStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
