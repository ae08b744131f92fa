package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router assembles the HTTP surface. The given middlewares guard every
// route except the health probe.
func (h *Handler) Router(middlewares ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HandleHealth)

	r.Group(func(r chi.Router) {
		for _, mw := range middlewares {
			r.Use(mw)
		}
		r.Get("/models", h.HandleModels)
		r.Post("/chat", h.HandleChat)
		r.Post("/chat/{model}", h.HandleChatSingle)
		r.Post("/auth/apple", h.HandleAppleAuth)
		r.Get("/search", h.HandleSearch)
		r.Get("/search/recommend", h.HandleSearchRecommend)
		r.Get("/orchestrator/analyze", h.HandleAnalyze)
		r.Get("/orchestrator/optimal-models", h.HandleOptimalModels)
	})

	return r
}
