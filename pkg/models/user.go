package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day. The coupon service sends either "2006-01-02" or RFC 3339.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		*d = DateOf(t)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	*d = DateOf(t)
	return nil
}

type Coupon struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Discount float64 `json:"discount"`
	Expiry   Date    `json:"expiry"`
	Public   *bool   `json:"public,omitempty"`
}

// IsPublic treats a missing flag as public.
func (c Coupon) IsPublic() bool {
	return c.Public == nil || *c.Public
}

func (c Coupon) Ref() *CouponRef {
	return &CouponRef{Name: c.Name, Discount: c.Discount, ID: c.ID}
}

type UserOrder struct {
	AppliedCoupon *CouponRef `json:"appliedCoupon,omitempty"`
}

// UserProfile is the user record returned by the user-by-phone lookup.
type UserProfile struct {
	Name   string               `json:"name"`
	Phone  string               `json:"phone"`
	Cart   []json.RawMessage    `json:"cart"`
	Orders map[string]UserOrder `json:"orders"`
}

// UsedCoupon reports whether any past order applied a coupon with this name.
func (u *UserProfile) UsedCoupon(name string) bool {
	if u == nil {
		return false
	}
	for _, o := range u.Orders {
		if o.AppliedCoupon != nil && strings.EqualFold(o.AppliedCoupon.Name, name) {
			return true
		}
	}
	return false
}

type Product struct {
	ID        string   `json:"id"`
	Images    []string `json:"images"`
	ModelName string   `json:"modelName"`
	Category  string   `json:"category"`
}
