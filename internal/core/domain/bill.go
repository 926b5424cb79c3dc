package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GSTRate is the fixed tax rate applied to every bill subtotal.
var GSTRate = decimal.RequireFromString("0.18")

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "Cash"
	PaymentUPI    PaymentMethod = "UPI"
	PaymentCard   PaymentMethod = "Card"
	PaymentCredit PaymentMethod = "Credit"
)

var paymentMethods = []PaymentMethod{PaymentCash, PaymentUPI, PaymentCard, PaymentCredit}

// ParsePaymentMethod matches s case-insensitively against the known methods.
// An empty string selects Cash.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PaymentCash, true
	}
	for _, m := range paymentMethods {
		if strings.EqualFold(s, string(m)) {
			return m, true
		}
	}
	return "", false
}

// SaleLine is one raw line item as submitted by a caller.
type SaleLine struct {
	ItemCode  string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// SaleRequest is the unvalidated input of a sale.
type SaleRequest struct {
	RequestID        string
	CustomerName     string
	CustomerPhone    string
	CustomerAgeGroup string
	PaymentMethod    string
	Discount         *decimal.Decimal
	Items            []SaleLine
	CreatedBy        string
}

type BillLineItem struct {
	ItemCode  string          `json:"item_code"`
	ItemName  string          `json:"item_name"`
	UnitPrice decimal.Decimal `json:"item_price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

// Bill is the sale aggregate. A bill with ID zero is a draft that has not
// been persisted yet; once persisted it is never modified.
type Bill struct {
	ID               int64           `json:"bill_id"`
	Reference        string          `json:"reference"`
	BillDate         time.Time       `json:"bill_date"`
	CustomerName     string          `json:"customer_name,omitempty"`
	CustomerPhone    string          `json:"customer_phone,omitempty"`
	CustomerAgeGroup string          `json:"customer_age_group,omitempty"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"gst"`
	Discount         decimal.Decimal `json:"discount"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	CreatedBy        string          `json:"created_by,omitempty"`
	Items            []BillLineItem  `json:"items"`
}

func (b *Bill) IsDraft() bool {
	return b.ID == 0
}

// WithID returns a copy of the draft carrying the store-generated id.
func (b Bill) WithID(id int64) Bill {
	b.ID = id
	b.Items = append([]BillLineItem(nil), b.Items...)
	return b
}

// SaleState tracks a sale through the coordinator.
type SaleState string

const (
	SaleComposing      SaleState = "composing"
	SaleReservingStock SaleState = "reserving_stock"
	SalePersisting     SaleState = "persisting"
	SaleCommitted      SaleState = "committed"
	SaleRolledBack     SaleState = "rolled_back"
)

func (s SaleState) Terminal() bool {
	return s == SaleCommitted || s == SaleRolledBack
}
