package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const MaxNotesLength = 500

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrNotesTooLong    = fmt.Errorf("special notes exceed %d characters", MaxNotesLength)
)

// OrderFile is one STL file of an order together with the snapshots taken when it was priced.
type OrderFile struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string         `gorm:"type:varchar(255);not null" json:"name"`
	Size         int64          `json:"size"`
	Payload      []byte         `gorm:"type:longblob" json:"-"`
	Settings     PrintSettings  `gorm:"serializer:json;type:text" json:"settings"`
	Dimensions   MeshDimensions `gorm:"serializer:json;type:text" json:"dimensions"`
	Price        PriceBreakdown `gorm:"serializer:json;type:text" json:"price"`
	PrintDetails PrintDetails   `gorm:"serializer:json;type:text" json:"printDetails"`
	Placement    Placement      `gorm:"serializer:json;type:text" json:"placement"`
	Notes        string         `gorm:"type:varchar(2000)" json:"notes"`
	Quantity     int            `gorm:"not null;default:1" json:"quantity"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (OrderFile) TableName() string {
	return "order_files"
}

func (f *OrderFile) Validate() error {
	if f.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if utf8.RuneCountInString(f.Notes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// LineTotal is the final price multiplied by the quantity.
func (f *OrderFile) LineTotal() int64 {
	return f.Price.FinalPrice * int64(f.Quantity)
}

// Meta projects the file without its payload.
func (f *OrderFile) Meta() FileMeta {
	return FileMeta{
		FileID:       f.ID,
		Name:         f.Name,
		Size:         f.Size,
		Settings:     f.Settings,
		Dimensions:   f.Dimensions,
		Price:        f.Price,
		PrintDetails: f.PrintDetails,
		Placement:    f.Placement,
		Notes:        f.Notes,
		Quantity:     f.Quantity,
		CreatedAt:    f.CreatedAt,
	}
}

// FileMeta is the payload-free form of an OrderFile kept in the metadata store.
type FileMeta struct {
	FileID       uint           `json:"fileId"`
	Name         string         `json:"name"`
	Size         int64          `json:"size"`
	Settings     PrintSettings  `json:"settings"`
	Dimensions   MeshDimensions `json:"dimensions"`
	Price        PriceBreakdown `json:"price"`
	PrintDetails PrintDetails   `json:"printDetails"`
	Placement    Placement      `json:"placement"`
	Notes        string         `json:"notes"`
	Quantity     int            `json:"quantity"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (m FileMeta) LineTotal() int64 {
	return m.Price.FinalPrice * int64(m.Quantity)
}

type CouponRef struct {
	Name     string  `json:"name"`
	Discount float64 `json:"discount"`
	ID       string  `json:"id"`
}

// CheckoutPayload is what the checkout page reads to take payment.
type CheckoutPayload struct {
	FileIDs        []uint     `json:"fileIds"`
	FileCount      int        `json:"fileCount"`
	Subtotal       int64      `json:"subtotal"`
	AppliedCoupon  *CouponRef `json:"appliedCoupon"`
	DiscountAmount int64      `json:"discountAmount"`
	TotalPrice     int64      `json:"totalPrice"`
	OrderTimestamp time.Time  `json:"orderTimestamp"`
}
