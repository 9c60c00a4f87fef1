package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Checkout errors.
var (
	ErrEmptyCart         = errors.New("cart has no items")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Option configures the services.
type Option func(*options)

type options struct {
	bus *events.Bus
	now func() time.Time
}

// WithEvents publishes record and outbox events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithClock overrides time.Now for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Services bundles one EntityService per entity type.
type Services struct {
	Products     *EntityService[types.Product, *types.Product]
	Categories   *EntityService[types.Category, *types.Category]
	Transactions *EntityService[types.Transaction, *types.Transaction]
	Users        *EntityService[types.User, *types.User]
	Settings     *EntityService[types.Setting, *types.Setting]
	// Subscription is a local cache; its writes are never queued.
	Subscription *EntityService[types.Subscription, *types.Subscription]
}

// New wires the services over store. strategy governs the syncable types;
// subscription always writes locally only.
func New(store types.LocalStore, strategy WriteStrategy, opts ...Option) *Services {
	return &Services{
		Products:     NewEntityService[types.Product](store, strategy, opts...),
		Categories:   NewEntityService[types.Category](store, strategy, opts...),
		Transactions: NewEntityService[types.Transaction](store, strategy, opts...),
		Users:        NewEntityService[types.User](store, strategy, opts...),
		Settings:     NewEntityService[types.Setting](store, strategy, opts...),
		Subscription: NewEntityService[types.Subscription](store, Direct{}, opts...),
	}
}

// CartLine is one product and quantity handed to Checkout.
type CartLine struct {
	ProductID string
	Quantity  int
}

// Sale describes a checkout. Tax is added to the computed subtotal.
type Sale struct {
	Lines         []CartLine
	Tax           float64
	PaymentMethod string
	CashierID     string
}

// Checkout decrements stock for every line and then records the sale as a
// transaction. The writes are sequential and independent: a failure part way
// through leaves the stock rows already written in place, and no transaction.
func (s *Services) Checkout(sale Sale) (*types.Transaction, error) {
	if len(sale.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	products := make([]*types.Product, len(sale.Lines))
	want := map[string]int{}
	for i, line := range sale.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s x%d", ErrInvalidQuantity, line.ProductID, line.Quantity)
		}
		p, err := s.Products.Get(line.ProductID)
		if err != nil {
			return nil, err
		}
		want[p.ID] += line.Quantity
		if want[p.ID] > p.Stock {
			return nil, fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientStock, p.Name, p.Stock, want[p.ID])
		}
		products[i] = p
	}

	tx := types.Transaction{
		Tax:           sale.Tax,
		PaymentMethod: sale.PaymentMethod,
		CashierID:     sale.CashierID,
		Status:        types.TransactionCompleted,
	}
	for i, line := range sale.Lines {
		p := products[i]
		item := types.LineItem{ProductID: p.ID, Name: p.Name, Quantity: line.Quantity, UnitPrice: p.Price}
		tx.Items = append(tx.Items, item)
		tx.Subtotal += item.Total()

		if _, err := s.Products.Update(p.ID, func(cur *types.Product) error {
			cur.Stock -= line.Quantity
			return nil
		}); err != nil {
			return nil, fmt.Errorf("adjusting stock of %s: %w", p.ID, err)
		}
	}
	tx.Total = tx.Subtotal + tx.Tax

	return s.Transactions.Create(tx)
}
