// Package order assembles priced files into an order and hands it to checkout.
package order

import (
	"github.com/example/printshop/pkg/models"
	"github.com/shopspring/decimal"
)

// Order is the in-progress order of one session: the file being edited (priced but not yet
// stored), the files already saved, and at most one coupon.
type Order struct {
	SessionID string
	Current   *models.OrderFile
	Saved     []models.FileMeta
	Coupon    *models.Coupon
}

// New returns an empty order for sessionID.
func New(sessionID string) *Order {
	return &Order{SessionID: sessionID}
}

// Line is a row of the order summary.
type Line struct {
	Index     int     `json:"index"`
	FileID    uint    `json:"fileId,omitempty"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice int64   `json:"unitPrice"`
	LineTotal int64   `json:"lineTotal"`
	Current   bool    `json:"current"`
	Grams     int64   `json:"grams"`
	Material  string  `json:"material"`
	Volume    float64 `json:"volume"`
}

// Lines lists saved files first and the current file last.
func (o *Order) Lines() []Line {
	lines := make([]Line, 0, len(o.Saved)+1)
	for i, m := range o.Saved {
		lines = append(lines, Line{
			Index:     i,
			FileID:    m.FileID,
			Name:      m.Name,
			Quantity:  m.Quantity,
			UnitPrice: m.Price.FinalPrice,
			LineTotal: m.LineTotal(),
			Grams:     m.PrintDetails.FilamentGrams,
			Material:  string(m.Settings.MaterialType),
			Volume:    m.PrintDetails.Volume,
		})
	}
	if o.Current != nil {
		lines = append(lines, Line{
			Index:     len(o.Saved),
			FileID:    o.Current.ID,
			Name:      o.Current.Name,
			Quantity:  o.Current.Quantity,
			UnitPrice: o.Current.Price.FinalPrice,
			LineTotal: o.Current.LineTotal(),
			Current:   true,
			Grams:     o.Current.PrintDetails.FilamentGrams,
			Material:  string(o.Current.Settings.MaterialType),
			Volume:    o.Current.PrintDetails.Volume,
		})
	}
	return lines
}

func (o *Order) Subtotal() int64 {
	var total int64
	for _, m := range o.Saved {
		total += m.LineTotal()
	}
	if o.Current != nil {
		total += o.Current.LineTotal()
	}
	return total
}

func (o *Order) DiscountAmount() int64 {
	return Discount(o.Subtotal(), o.Coupon)
}

// FinalTotal is the subtotal less the coupon discount.
func (o *Order) FinalTotal() int64 {
	subtotal := o.Subtotal()
	return subtotal - Discount(subtotal, o.Coupon)
}

// Discount is floor(subtotal * percent / 100), or zero without a coupon.
func Discount(subtotal int64, c *models.Coupon) int64 {
	if c == nil {
		return 0
	}
	return decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromFloat(c.Discount)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}

// ApplyCoupon fills the single coupon slot, replacing any coupon already there.
func (o *Order) ApplyCoupon(c *models.Coupon) {
	o.Coupon = c
}

func (o *Order) RemoveCoupon() {
	o.Coupon = nil
}

func (o *Order) Empty() bool {
	return o.Current == nil && len(o.Saved) == 0
}

func (o *Order) reset() {
	o.Current = nil
	o.Saved = nil
	o.Coupon = nil
}
