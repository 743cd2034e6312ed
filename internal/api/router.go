package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/shopbot/internal/dialogue"
	"github.com/kalambet/shopbot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Bot     *dialogue.Bot
	Store   *storage.Store
	Catalog dialogue.Catalog
	Memory  dialogue.Memory
	Token   string
	Limiter *RateLimiter // optional; nil disables rate limiting

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// NewAppHandler returns the HTTP API. /health and /metrics are public;
// everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}

		r.Post("/chat", handleChat(deps))
		r.Post("/search", handleSearch(deps))
		r.Post("/cart/resolve", handleResolve(deps))
		r.Get("/catalog/categories", handleCategories(deps))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handleGetSession(deps))
			r.Get("/cart", handleGetCart(deps))
			r.Post("/cart", handleAddToCart(deps))
			r.Delete("/cart", handleClearCart(deps))
			r.Delete("/cart/{product}", handleRemoveCartItem(deps))
			r.Post("/coupon", handleApplyCoupon(deps))
			r.Delete("/coupon", handleRemoveCoupon(deps))
			r.Post("/checkout", handleCheckout(deps))
		})

		r.Get("/orders/{id}", handleGetOrder(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Delete("/interactions/{id}", handleDeleteInteraction(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
