package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

func TestCheckout(t *testing.T) {
	f := newFixture(t, false)
	tea, err := f.svc.Products.Create(types.Product{Name: "Tea", Price: 2, Stock: 5})
	require.NoError(t, err)
	cake, err := f.svc.Products.Create(types.Product{Name: "Cake", Price: 3.5, Stock: 1})
	require.NoError(t, err)

	tx, err := f.svc.Checkout(Sale{
		Lines:         []CartLine{{ProductID: tea.ID, Quantity: 2}, {ProductID: cake.ID, Quantity: 1}},
		Tax:           0.75,
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	assert.True(t, types.IsTemporaryID(tx.ID))
	assert.Equal(t, 7.5, tx.Subtotal)
	assert.Equal(t, 8.25, tx.Total)
	assert.Equal(t, types.TransactionCompleted, tx.Status)
	require.Len(t, tx.Items, 2)
	assert.Equal(t, "Tea", tx.Items[0].Name)

	got, err := f.svc.Products.Get(tea.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
	got, err = f.svc.Products.Get(cake.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stock)

	sales, err := f.backend.GetAll(types.CollectionSales)
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	// 2 product adds, 2 stock edits, 1 transaction add.
	assert.Len(t, f.pending(t), 5)
}

func TestCheckout_Rejections(t *testing.T) {
	f := newFixture(t, true)
	tea, err := f.svc.Products.Create(types.Product{Name: "Tea", Price: 2, Stock: 1})
	require.NoError(t, err)

	tests := []struct {
		name    string
		sale    Sale
		wantErr error
	}{
		{"empty cart", Sale{}, ErrEmptyCart},
		{"zero quantity", Sale{Lines: []CartLine{{ProductID: tea.ID}}}, ErrInvalidQuantity},
		{"unknown product", Sale{Lines: []CartLine{{ProductID: "srv_x", Quantity: 1}}}, types.ErrNotFound},
		{"not enough stock across lines", Sale{Lines: []CartLine{
			{ProductID: tea.ID, Quantity: 1},
			{ProductID: tea.ID, Quantity: 1},
		}}, ErrInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(tt.sale)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	got, err := f.svc.Products.Get(tea.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock, "rejected checkouts write nothing")
}
