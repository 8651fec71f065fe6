package operation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValues_TypedGetters(t *testing.T) {
	vals := Values{
		"name":     "summer sale",
		"amount":   "4200",
		"rate":     "12.5",
		"enabled":  "true",
		"target":   "variant-77",
		"variants": `["v1","v2","v3"]`,
	}

	s, err := vals.String("name")
	require.NoError(t, err)
	assert.Equal(t, "summer sale", s)

	n, err := vals.Int("amount")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), n)

	f, err := vals.Float("rate")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, f, 0.0001)

	d, err := vals.Decimal("rate")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))

	b, err := vals.Bool("enabled")
	require.NoError(t, err)
	assert.True(t, b)

	id, err := vals.ID("target")
	require.NoError(t, err)
	assert.Equal(t, "variant-77", id)

	ids, err := vals.IDList("variants")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, ids)
}

func TestValues_MalformedInput(t *testing.T) {
	vals := Values{
		"amount":   "lots",
		"rate":     "12,5",
		"enabled":  "yep",
		"target":   "",
		"variants": "v1,v2",
	}

	tests := []struct {
		name string
		call func() error
		raw  string
	}{
		{"int", func() error { _, err := vals.Int("amount"); return err }, "lots"},
		{"float", func() error { _, err := vals.Float("rate"); return err }, "12,5"},
		{"decimal", func() error { _, err := vals.Decimal("rate"); return err }, "12,5"},
		{"bool", func() error { _, err := vals.Bool("enabled"); return err }, "yep"},
		{"id", func() error { _, err := vals.ID("target"); return err }, ""},
		{"id list", func() error { _, err := vals.IDList("variants"); return err }, "v1,v2"},
		{"missing", func() error { _, err := vals.String("nope"); return err }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.ErrorIs(t, err, ErrInvalidArgument)

			var argErr *ArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.NotEmpty(t, argErr.Field)
			assert.Equal(t, tt.raw, argErr.Raw)
		})
	}
}

func TestInstance_Values(t *testing.T) {
	inst := Instance{
		Code: "order_percentage_discount",
		Args: []Arg{{Name: "discount", Value: "15"}},
	}

	n, err := inst.Values().Int("discount")
	require.NoError(t, err)
	assert.Equal(t, int64(15), n)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry[string]()
	reg.Register("a", "impl-a")
	reg.Register("b", "impl-b")
	reg.Register("a", "impl-a2")

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "impl-a2", got)

	_, err = reg.Get("missing")
	require.ErrorIs(t, err, ErrNotRegistered)
	assert.Contains(t, err.Error(), `"missing"`)

	assert.Equal(t, []string{"a", "b"}, reg.Codes())
}

func TestDefinition_Wire(t *testing.T) {
	def := Definition{
		Code:        "minimum_order_amount",
		Description: "Requires the order total to be above a minimum",
		Args: []ArgDef{
			{Name: "amount", Type: ArgInt, Label: "Minimum amount", UIHint: "currency"},
			{Name: "variants", Type: ArgID, List: true},
		},
	}

	wire := def.Wire()
	assert.Equal(t, "minimum_order_amount", wire.Code)
	require.Len(t, wire.Args, 2)
	assert.Equal(t, "int", wire.Args[0].Type)
	assert.Equal(t, "currency", wire.Args[0].UIHint)
	assert.True(t, wire.Args[1].List)
}
