package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	BillingIntervalNone  = "none"
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

// Product is a catalog entry. Price is stored in minor currency units.
// AccountingCode and TaxType point into the chart of accounts of the
// accounting system; StripePriceID is only set for recurring products.
type Product struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name           string    `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=3,max=200"`
	PriceCents     int64     `gorm:"not null" json:"price_cents" validate:"gte=0"`
	Currency       string    `gorm:"type:varchar(3);not null;default:'gbp'" json:"currency" validate:"len=3"`
	Interval       string    `gorm:"type:varchar(16);not null;default:'none'" json:"interval" validate:"oneof=none month year"`
	StripePriceID  string    `gorm:"type:varchar(191);default:''" json:"stripe_price_id"`
	AccountingCode string    `gorm:"type:varchar(20);not null" json:"accounting_code" validate:"required"`
	TaxType        string    `gorm:"type:varchar(20);not null;default:'OUTPUT2'" json:"tax_type"`
	IsActive       bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Product) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// IsRecurring reports whether the product bills on a cycle.
func (p *Product) IsRecurring() bool {
	return p.Interval == BillingIntervalMonth || p.Interval == BillingIntervalYear
}
