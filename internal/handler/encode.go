package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
)

func encodeOrder(o *order.Order) *jx.Encoder {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("state")
	e.Str(string(o.State))
	e.FieldStart("active")
	e.Bool(o.Active)
	e.FieldStart("customer_id")
	e.Str(o.CustomerID)
	if o.PlacedAt != nil {
		e.FieldStart("placed_at")
		e.Str(o.PlacedAt.Format(time.RFC3339))
	}

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		encodeLine(&e, l)
	}
	e.ArrEnd()

	e.FieldStart("coupon_codes")
	e.ArrStart()
	for _, c := range o.CouponCodes {
		e.Str(c)
	}
	e.ArrEnd()

	e.FieldStart("adjustments")
	e.ArrStart()
	for _, a := range o.Adjustments {
		encodeAdjustment(&e, a)
	}
	e.ArrEnd()

	if o.ShippingMethodID != "" {
		e.FieldStart("shipping_method_id")
		e.Str(o.ShippingMethodID)
	}
	e.FieldStart("shipping")
	e.Int64(o.Shipping)
	e.FieldStart("sub_total")
	e.Int64(o.SubTotal)
	e.FieldStart("total")
	e.Int64(o.Total())
	e.ObjEnd()
	return &e
}

func encodeLine(e *jx.Encoder, l *order.OrderLine) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(l.ID)
	e.FieldStart("product_variant_id")
	e.Str(l.ProductVariantID)
	e.FieldStart("quantity")
	e.Int(l.Quantity())
	e.FieldStart("unit_price")
	e.Int64(l.UnitPrice())
	e.FieldStart("total_price")
	e.Int64(l.TotalPrice())

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range l.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
		e.FieldStart("unit_price")
		e.Int64(it.UnitPrice)
		e.FieldStart("cancelled")
		e.Bool(it.Cancelled)
		e.FieldStart("adjustments")
		e.ArrStart()
		for _, a := range it.Adjustments {
			encodeAdjustment(e, a)
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeAdjustment(e *jx.Encoder, a order.Adjustment) {
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(a.Type))
	e.FieldStart("amount")
	e.Int64(a.Amount)
	e.FieldStart("description")
	e.Str(a.Description)
	e.FieldStart("source_id")
	e.Str(a.SourceID)
	e.ObjEnd()
}

// operations lists every registered operation definition, grouped by kind,
// in the wire shape configuration UIs consume.
func (h *Handler) operations(w http.ResponseWriter, r *http.Request) {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("promotion_conditions")
	e.ArrStart()
	for _, code := range h.registries.Conditions.Codes() {
		if c, err := h.registries.Conditions.Get(code); err == nil {
			encodeDefinition(&e, c.Definition.Wire())
		}
	}
	e.ArrEnd()

	e.FieldStart("promotion_actions")
	e.ArrStart()
	for _, code := range h.registries.Actions.Codes() {
		if a, err := h.registries.Actions.Get(code); err == nil {
			encodeDefinition(&e, a.Def().Wire())
		}
	}
	e.ArrEnd()

	e.FieldStart("shipping_checkers")
	e.ArrStart()
	for _, code := range h.registries.Checkers.Codes() {
		if c, err := h.registries.Checkers.Get(code); err == nil {
			encodeDefinition(&e, c.Definition.Wire())
		}
	}
	e.ArrEnd()

	e.FieldStart("shipping_calculators")
	e.ArrStart()
	for _, code := range h.registries.Calculators.Codes() {
		if c, err := h.registries.Calculators.Get(code); err == nil {
			encodeDefinition(&e, c.Definition.Wire())
		}
	}
	e.ArrEnd()

	e.ObjEnd()
	h.writeJSON(w, http.StatusOK, &e)
}

func encodeDefinition(e *jx.Encoder, d operation.WireDefinition) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(d.Code)
	e.FieldStart("description")
	e.Str(d.Description)
	e.FieldStart("args")
	e.ArrStart()
	for _, a := range d.Args {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(a.Name)
		e.FieldStart("type")
		e.Str(a.Type)
		if a.List {
			e.FieldStart("list")
			e.Bool(a.List)
		}
		if a.UIHint != "" {
			e.FieldStart("ui")
			e.Str(a.UIHint)
		}
		if a.Label != "" {
			e.FieldStart("label")
			e.Str(a.Label)
		}
		if a.Description != "" {
			e.FieldStart("description")
			e.Str(a.Description)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
