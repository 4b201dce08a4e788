package models

import "time"

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
)

// Subscription mirrors a Stripe subscription. The provider subscription
// id is the primary key so lifecycle webhooks can upsert by it and
// redeliveries stay idempotent.
type Subscription struct {
	ID                string     `gorm:"type:varchar(191);primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	ProductID         string     `gorm:"type:varchar(36);not null;index" json:"product_id"`
	Status            string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodEnd  *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `gorm:"default:false" json:"cancel_at_period_end"`
	XeroInvoiceID     string     `gorm:"type:varchar(191);default:''" json:"xero_invoice_id"`
	PaymentRecorded   bool       `gorm:"default:false" json:"payment_recorded"`
	RawPayloadJSON    string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeSubscriptionStatus maps provider status strings onto the
// statuses the ledger stores. Unknown values degrade to incomplete.
func NormalizeSubscriptionStatus(status string) string {
	switch status {
	case SubscriptionStatusActive, "trialing":
		return SubscriptionStatusActive
	case SubscriptionStatusPastDue, "unpaid":
		return SubscriptionStatusPastDue
	case SubscriptionStatusCanceled:
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusIncomplete
	}
}
