package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/valmera/ordercore/internal/domain/order"
)

var validStates = map[order.State]struct{}{
	order.StateAddingItems:        {},
	order.StateArrangingPayment:   {},
	order.StatePaymentAuthorized:  {},
	order.StatePaymentSettled:     {},
	order.StatePartiallyFulfilled: {},
	order.StateFulfilled:          {},
	order.StateCancelled:          {},
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var customerID string
	ok := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "customer_id":
			v, err := d.Str()
			customerID = v
			return err
		default:
			return d.Skip()
		}
	})
	if !ok {
		return
	}
	if customerID == "" {
		h.writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	o, err := h.svc.Create(r.Context(), customerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, encodeOrder(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var (
		variantID string
		unitPrice int64
		quantity  = 1
	)
	ok := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_variant_id":
			variantID, err = d.Str()
		case "unit_price":
			unitPrice, err = d.Int64()
		case "quantity":
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if !ok {
		return
	}
	if variantID == "" {
		h.writeError(w, http.StatusBadRequest, "product_variant_id is required")
		return
	}

	o, err := h.svc.AddItem(r.Context(), chi.URLParam(r, "orderID"), variantID, unitPrice, quantity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) adjustLine(w http.ResponseWriter, r *http.Request) {
	quantity := -1
	ok := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "quantity":
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if !ok {
		return
	}

	o, err := h.svc.AdjustLine(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "lineID"), quantity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.RemoveLine(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "lineID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) nextStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.svc.NextStates(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("next_states")
	e.ArrStart()
	for _, s := range states {
		e.Str(string(s))
	}
	e.ArrEnd()
	e.ObjEnd()
	h.writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	var state string
	ok := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "state":
			state, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if !ok {
		return
	}

	to := order.State(state)
	if _, known := validStates[to]; !known {
		h.writeError(w, http.StatusBadRequest, "unknown state "+state)
		return
	}

	o, err := h.svc.TransitionTo(r.Context(), chi.URLParam(r, "orderID"), to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Recalculate(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	ok := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if !ok {
		return
	}
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	o, err := h.svc.ApplyCouponCode(r.Context(), chi.URLParam(r, "orderID"), code)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.RemoveCouponCode(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) setShippingMethod(w http.ResponseWriter, r *http.Request) {
	var methodID string
	ok := h.decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "method_id":
			methodID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if !ok {
		return
	}
	if methodID == "" {
		h.writeError(w, http.StatusBadRequest, "method_id is required")
		return
	}

	o, err := h.svc.SetShippingMethod(r.Context(), chi.URLParam(r, "orderID"), methodID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, encodeOrder(o))
}
