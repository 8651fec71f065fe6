// Package handler exposes the order engine over HTTP. Routing uses chi and
// JSON bodies are read and written with jx.
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
	"github.com/valmera/ordercore/internal/domain/promotion"
	"github.com/valmera/ordercore/internal/domain/shipping"
	"github.com/valmera/ordercore/internal/service"
)

// Registries groups the operation registries the handler exposes through
// the operations listing.
type Registries struct {
	Conditions  *operation.Registry[*promotion.Condition]
	Actions     *operation.Registry[promotion.Action]
	Checkers    *operation.Registry[*shipping.Checker]
	Calculators *operation.Registry[*shipping.Calculator]
}

// Handler serves the order lifecycle API, delegating business logic to the
// order service.
type Handler struct {
	svc        *service.Service
	registries Registries
	lg         *zap.Logger
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(svc *service.Service, registries Registries, lg *zap.Logger) *Handler {
	return &Handler{
		svc:        svc,
		registries: registries,
		lg:         lg,
	}
}

// Routes mounts every API endpoint on a fresh router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Post("/items", h.addItem)
			r.Patch("/lines/{lineID}", h.adjustLine)
			r.Delete("/lines/{lineID}", h.removeLine)
			r.Get("/next-states", h.nextStates)
			r.Post("/transition", h.transition)
			r.Post("/recalculate", h.recalculate)
			r.Post("/coupons", h.applyCoupon)
			r.Delete("/coupons/{code}", h.removeCoupon)
			r.Put("/shipping-method", h.setShippingMethod)
		})
	})
	r.Get("/operations", h.operations)

	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		h.lg.Debug("write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	h.writeJSON(w, status, &e)
}

// writeDomainError maps domain errors onto HTTP statuses. Unknown errors are
// logged and surface as an opaque 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var argErr *operation.ArgumentError
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, promotion.ErrNotFound),
		errors.Is(err, shipping.ErrNotFound),
		errors.Is(err, service.ErrLineNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrTransition),
		errors.Is(err, service.ErrNotEditable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &argErr),
		errors.Is(err, promotion.ErrCouponUsageLimitReached):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.lg.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody reads the request body and decodes it with the given object
// field callback.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, fields func(d *jx.Decoder, key string) error) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "cannot read request body")
		return false
	}
	d := jx.DecodeBytes(body)
	if err := d.Obj(fields); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}
