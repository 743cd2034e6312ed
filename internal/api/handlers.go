package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/shopbot/internal/cart"
	"github.com/kalambet/shopbot/internal/catalog"
	"github.com/kalambet/shopbot/internal/checkout"
	"github.com/kalambet/shopbot/internal/dialogue"
	"github.com/kalambet/shopbot/internal/retrieval"
	"github.com/kalambet/shopbot/internal/storage"
)

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type ChatResponse struct {
	SessionID string         `json:"session_id"`
	Reply     dialogue.Reply `json:"reply"`
}

type TextRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type CouponRequest struct {
	Code string `json:"code"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}

		reply, err := deps.Bot.Handle(r.Context(), req.SessionID, req.Message)
		if errors.Is(err, dialogue.ErrEmptyMessage) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if err != nil {
			slog.Error("chat turn failed", "session", req.SessionID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{SessionID: req.SessionID, Reply: reply})
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TextRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}

		res, err := deps.Bot.Search(r.Context(), req.SessionID, req.Text)
		if err != nil && !errors.Is(err, retrieval.ErrNoResults) {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if res.Products == nil {
			res.Products = []catalog.Product{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleResolve(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TextRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Bot.Resolve(req.Text)
		writeResolution(w, res, err)
	}
}

func writeResolution(w http.ResponseWriter, res cart.Resolution, err error) {
	switch {
	case errors.Is(err, cart.ErrEmptyQuery):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "product name is required")
	case errors.Is(err, cart.ErrNoMatch):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case err != nil:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"categories": deps.Catalog.Current().Index.Categories(),
		})
	}
}

type SessionResponse struct {
	ID           string `json:"id"`
	LastCategory string `json:"last_category"`
	Coupon       string `json:"coupon"`
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		resp := SessionResponse{ID: id}
		sess, err := deps.Store.GetSession(id)
		switch {
		case err == nil:
			resp.Coupon = sess.Coupon
			resp.LastCategory = sess.LastCategory
		case !errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}

		// Memory may live outside SQLite, so it is authoritative for the category.
		mem, err := deps.Memory.Get(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session memory: %v", err)
			return
		}
		resp.LastCategory = mem.LastCategory
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetCart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := deps.Bot.Cart(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get cart: %v", err)
			return
		}
		if view.Lines == nil {
			view.Lines = []checkout.Line{}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleAddToCart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TextRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Bot.AddToCart(r.Context(), chi.URLParam(r, "id"), req.Text)
		writeResolution(w, res, err)
	}
}

func handleClearCart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.ClearCart(chi.URLParam(r, "id")); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear cart: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRemoveCartItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		product := chi.URLParam(r, "product")

		err := deps.Store.RemoveCartItem(id, product)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "%q is not in the cart", product)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove item: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleApplyCoupon(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CouponRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		if _, err := deps.Bot.ApplyCoupon(id, req.Code); err != nil {
			if errors.Is(err, checkout.ErrUnknownCoupon) {
				httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply coupon: %v", err)
			return
		}

		view, err := deps.Bot.Cart(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get cart: %v", err)
			return
		}
		if view.Lines == nil {
			view.Lines = []checkout.Line{}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleRemoveCoupon(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Bot.RemoveCoupon(chi.URLParam(r, "id")); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove coupon: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCheckout(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Bot.Checkout(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, dialogue.ErrEmptyCart) {
			httpError(w, http.StatusConflict, "invalid_request_error", "cart is empty")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "checkout failed: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleGetOrder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := deps.Bot.Order(chi.URLParam(r, "id"))
		if errors.Is(err, dialogue.ErrOrderNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "order %s not found", view.ID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get order: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		session := r.URL.Query().Get("session_id")

		items, err := deps.Store.ListInteractions(session, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if items == nil {
			items = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleGetInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDeleteInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.DeleteInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete interaction: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
