package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newLine(id string, unitPrice int64, qty int) *OrderLine {
	l := &OrderLine{ID: id, ProductVariantID: "variant-" + id}
	for i := 0; i < qty; i++ {
		l.Items = append(l.Items, &OrderItem{
			ID:        id + "-item-" + string(rune('a'+i)),
			UnitPrice: unitPrice,
		})
	}
	return l
}

func TestOrderLine_DerivedFromActiveItems(t *testing.T) {
	l := newLine("l1", 500, 3)

	assert.Equal(t, 3, l.Quantity())
	assert.Equal(t, int64(500), l.UnitPrice())
	assert.Equal(t, int64(1500), l.TotalPrice())

	// Cancelling an item removes it from every derived value.
	l.Items[1].Cancelled = true
	assert.Equal(t, 2, l.Quantity())
	assert.Equal(t, int64(1000), l.TotalPrice())
	assert.Len(t, l.ActiveItems(), 2)
}

func TestOrderLine_TotalIncludesItemPromotions(t *testing.T) {
	l := newLine("l1", 1000, 2)
	l.Items[0].Adjustments = append(l.Items[0].Adjustments, Adjustment{
		Type: AdjustmentPromotion, Amount: -1000, Description: "free unit", SourceID: "promo-1",
	})

	// One unit free, one at full price.
	assert.Equal(t, int64(1000), l.TotalPrice())
	assert.True(t, l.HasAdjustments(AdjustmentPromotion))

	l.ClearAdjustments(AdjustmentPromotion)
	assert.Equal(t, int64(2000), l.TotalPrice())
	assert.False(t, l.HasAdjustments(AdjustmentPromotion))
}

func TestOrder_Totals(t *testing.T) {
	o := New("o1", "cust-1")
	o.Lines = []*OrderLine{newLine("l1", 500, 2), newLine("l2", 250, 1)}
	o.RecomputeSubTotal()

	assert.Equal(t, int64(1250), o.SubTotal)
	assert.Equal(t, int64(1250), o.Total())

	o.Adjustments = append(o.Adjustments, Adjustment{
		Type: AdjustmentPromotion, Amount: -250, SourceID: "promo-1",
	})
	o.Shipping = 400

	assert.Equal(t, int64(1000), o.TotalBeforeShipping())
	assert.Equal(t, int64(1400), o.Total())

	o.ClearAdjustments(AdjustmentPromotion)
	assert.Equal(t, int64(1650), o.Total())
}

func TestOrder_CouponCodes(t *testing.T) {
	o := New("o1", "cust-1")

	o.AddCouponCode("SAVE10")
	o.AddCouponCode("SAVE10")
	assert.Equal(t, []string{"SAVE10"}, o.CouponCodes)
	assert.True(t, o.HasCouponCode("SAVE10"))

	o.RemoveCouponCode("SAVE10")
	assert.False(t, o.HasCouponCode("SAVE10"))
}

func TestOrder_PaymentsTotal(t *testing.T) {
	o := New("o1", "cust-1")
	o.Payments = []*Payment{
		{ID: "p1", State: PaymentAuthorized, Amount: 700},
		{ID: "p2", State: PaymentAuthorized, Amount: 300},
		{ID: "p3", State: PaymentDeclined, Amount: 9999},
	}

	assert.Equal(t, int64(1000), o.PaymentsTotal(PaymentAuthorized))
	assert.Equal(t, int64(0), o.PaymentsTotal(PaymentSettled))
}

func TestOrderItem_HasPromotion(t *testing.T) {
	it := &OrderItem{ID: "i1", UnitPrice: 100}
	assert.False(t, it.HasPromotion("promo-1"))

	it.Adjustments = append(it.Adjustments, Adjustment{
		Type: AdjustmentPromotion, Amount: -50, SourceID: "promo-1",
	})
	assert.True(t, it.HasPromotion("promo-1"))
	assert.False(t, it.HasPromotion("promo-2"))
	assert.Equal(t, int64(50), it.TotalWithPromotions())
}
