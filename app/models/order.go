package models

import "time"

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
	OrderStatusRefunded  = "refunded"
)

// Order is one purchase attempt. Rows are created as pending by the
// charge initiator and only ever move pending -> completed|failed via
// the webhook processor; terminal states never revert.
//
// XeroInvoiceID and PaymentRecorded together form the external invoice
// reference: PaymentRecorded may only be true once XeroInvoiceID is set.
type Order struct {
	ID                    string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	ProductID             string     `gorm:"type:varchar(36);not null;index" json:"product_id"`
	StripePaymentIntentID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_payment_intent_id"`
	AmountCents           int64      `gorm:"default:0" json:"amount_cents"`
	Status                string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	XeroInvoiceID         string     `gorm:"type:varchar(191);default:''" json:"xero_invoice_id"`
	PaymentRecorded       bool       `gorm:"default:false" json:"payment_recorded"`
	CompletedAt           *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusRefunded:
		return true
	default:
		return false
	}
}
