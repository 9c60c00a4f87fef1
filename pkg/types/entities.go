package types

import "time"

// Product is a sellable catalogue item.
type Product struct {
	Meta
	Name       string  `json:"name"`
	SKU        string  `json:"sku,omitempty"`
	Barcode    string  `json:"barcode,omitempty"`
	CategoryID string  `json:"categoryId,omitempty"`
	Price      float64 `json:"price"`
	Cost       float64 `json:"cost,omitempty"`
	Stock      int     `json:"stock"`
	Active     bool    `json:"active"`
}

func (Product) EntityType() EntityType { return EntityProducts }

// Category groups products.
type Category struct {
	Meta
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

func (Category) EntityType() EntityType { return EntityCategories }

// LineItem is one product line of a sale.
type LineItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Total returns quantity times unit price.
func (li LineItem) Total() float64 {
	return float64(li.Quantity) * li.UnitPrice
}

// Transaction statuses.
const (
	TransactionCompleted = "completed"
	TransactionRefunded  = "refunded"
	TransactionVoided    = "voided"
)

// Transaction is a completed sale. Stored locally in the "sales" collection.
type Transaction struct {
	Meta
	Items         []LineItem `json:"items"`
	Subtotal      float64    `json:"subtotal"`
	Tax           float64    `json:"tax"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	CashierID     string     `json:"cashierId,omitempty"`
	Status        string     `json:"status"`
}

func (Transaction) EntityType() EntityType { return EntityTransactions }

// User is a point-of-sale operator.
type User struct {
	Meta
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
}

func (User) EntityType() EntityType { return EntityUsers }

// Setting is a key/value configuration entry shared with the backend.
type Setting struct {
	Meta
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (Setting) EntityType() EntityType { return EntitySettings }

// Subscription caches the business's plan locally. It is never synced.
type Subscription struct {
	Meta
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (Subscription) EntityType() EntityType { return EntitySubscription }
