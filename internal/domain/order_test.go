package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comercios/ordersync/pkg/errorutil"
)

func validOrder() Order {
	return Order{
		ID:      "o1",
		StoreID: "s1",
		Status:  StatusPending,
		Items: []Item{
			{Name: "Arepa", UnitPrice: decimal.RequireFromString("3.50"), Quantity: 2, Subtotal: decimal.RequireFromString("7.00")},
			{Name: "Malta", UnitPrice: decimal.RequireFromString("1.25"), Quantity: 1, Subtotal: decimal.RequireFromString("1.25")},
		},
		Subtotal:    decimal.RequireFromString("8.25"),
		DeliveryFee: decimal.RequireFromString("2.00"),
		Total:       decimal.RequireFromString("10.25"),
	}
}

func TestOrderValidate(t *testing.T) {
	require.NoError(t, validOrder().Validate())

	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"missing id", func(o *Order) { o.ID = "" }},
		{"missing store", func(o *Order) { o.StoreID = "" }},
		{"bad status", func(o *Order) { o.Status = "lost" }},
		{"zero quantity", func(o *Order) { o.Items[0].Quantity = 0 }},
		{"item subtotal", func(o *Order) { o.Items[1].Subtotal = decimal.RequireFromString("2") }},
		{"subtotal", func(o *Order) { o.Subtotal = decimal.RequireFromString("9") }},
		{"total", func(o *Order) { o.Total = decimal.RequireFromString("10.24") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			tt.mutate(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	o := validOrder()
	o.Driver = &Driver{ID: "d1", Status: DriverAssigned}
	o.RejectInfo = &RejectInfo{ReasonID: ReasonTooBusy}

	c := o.Clone()
	c.Items[0].Name = "x"
	c.Driver.Status = DriverFreed
	c.RejectInfo.ReasonLabel = "x"

	assert.Equal(t, "Arepa", o.Items[0].Name)
	assert.Equal(t, DriverAssigned, o.Driver.Status)
	assert.Empty(t, o.RejectInfo.ReasonLabel)
	assert.Equal(t, 3, o.ItemCount())
}

func TestNewRejectInfo(t *testing.T) {
	info, err := NewRejectInfo("too_busy", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonTooBusy, info.ReasonID)
	assert.Equal(t, "Demasiados pedidos", info.ReasonLabel)

	info, err = NewRejectInfo("other", "se fue la luz")
	require.NoError(t, err)
	assert.Equal(t, "se fue la luz", info.ReasonLabel)

	_, err = NewRejectInfo("other", "  ")
	assert.True(t, errors.Is(err, errorutil.ErrInvalidArgument))

	_, err = NewRejectInfo("bored", "")
	assert.True(t, errors.Is(err, errorutil.ErrInvalidArgument))
}
