package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bms360/billing-core/internal/core/domain"
)

const maxReferenceLen = 36

// BillComposer turns raw sale input into a priced draft bill. It performs
// no I/O; the clock and reference generator are injected.
type BillComposer struct {
	now    func() time.Time
	newRef func() string
}

func NewBillComposer() *BillComposer {
	return &BillComposer{
		now:    time.Now,
		newRef: uuid.NewString,
	}
}

func round2(d decimal.Decimal) decimal.Decimal {
	// Amounts are never negative here, so away-from-zero is half-up.
	return d.Round(2)
}

// Compose validates req and computes line totals, subtotal, tax, discount
// and grand total. Every offending field is reported in a single
// ValidationError.
func (c *BillComposer) Compose(req domain.SaleRequest) (domain.Bill, error) {
	verr := &domain.ValidationError{}

	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		verr.AddHeader("paymentMethod", "unsupported payment method "+req.PaymentMethod)
	}
	if len(req.Items) == 0 {
		verr.AddHeader("billItems", "at least one item is required")
	}
	if len(strings.TrimSpace(req.RequestID)) > maxReferenceLen {
		verr.AddHeader("requestId", "must be at most 36 characters")
	}

	items := make([]domain.BillLineItem, 0, len(req.Items))
	subtotal := decimal.Zero
	for i, line := range req.Items {
		n := i + 1
		code := strings.TrimSpace(line.ItemCode)
		name := strings.TrimSpace(line.Name)

		if code == "" {
			verr.AddLine(n, code, "item_code", "is required")
		}
		if name == "" {
			verr.AddLine(n, code, "name", "is required")
		}
		if line.Quantity <= 0 {
			verr.AddLine(n, code, "qty", "must be a positive integer")
		}
		if line.UnitPrice.IsNegative() {
			verr.AddLine(n, code, "price", "must not be negative")
		}

		total := round2(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		subtotal = subtotal.Add(total)
		items = append(items, domain.BillLineItem{
			ItemCode:  code,
			ItemName:  name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Total:     total,
		})
	}

	subtotal = round2(subtotal)
	tax := round2(subtotal.Mul(domain.GSTRate))

	// Only the grand total is rounded; the discount keeps its precision.
	discount := decimal.Zero
	if req.Discount != nil && req.Discount.IsPositive() {
		discount = *req.Discount
	}
	if discount.GreaterThan(subtotal.Add(tax)) {
		verr.AddHeader("discount", "exceeds the bill total")
	}

	if err := verr.Err(); err != nil {
		return domain.Bill{}, err
	}

	ref := strings.TrimSpace(req.RequestID)
	if ref == "" {
		ref = c.newRef()
	}

	return domain.Bill{
		Reference:        ref,
		BillDate:         c.now().UTC(),
		CustomerName:     strings.TrimSpace(req.CustomerName),
		CustomerPhone:    strings.TrimSpace(req.CustomerPhone),
		CustomerAgeGroup: strings.TrimSpace(req.CustomerAgeGroup),
		PaymentMethod:    method,
		Subtotal:         subtotal,
		Tax:              tax,
		Discount:         discount,
		GrandTotal:       round2(subtotal.Add(tax).Sub(discount)),
		CreatedBy:        req.CreatedBy,
		Items:            items,
	}, nil
}
