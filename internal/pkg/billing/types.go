package billing

import "time"

// Metadata keys attached to every provider object this system creates.
// They are the sole correlation mechanism between inbound webhook events
// and ledger rows.
const (
	MetadataUserID    = "user_id"
	MetadataProductID = "product_id"
)

// Stripe event types the webhook processor dispatches on.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventSubscriptionCreated    = "customer.subscription.created"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
)

// ChargeResult is returned to the checkout flow for one-time purchases.
type ChargeResult struct {
	ClientSecret string `json:"client_secret"`
	OrderID      string `json:"order_id"`
}

// SubscriptionChargeResult is returned to the checkout flow for
// recurring purchases. The client secret belongs to the first invoice's
// payment, which must be confirmed client-side.
type SubscriptionChargeResult struct {
	ClientSecret   string `json:"client_secret"`
	SubscriptionID string `json:"subscription_id"`
}

// Event is a verified, normalized provider webhook event. Exactly one of
// PaymentIntent / Subscription is set, depending on Type; both are nil
// for event kinds this system ignores.
type Event struct {
	ID            string
	Type          string
	PaymentIntent *PaymentIntentEvent
	Subscription  *SubscriptionEvent
	RawPayload    []byte
}

// PaymentIntentEvent carries the payment-intent fields the ledger needs.
type PaymentIntentEvent struct {
	ID          string
	AmountCents int64
	UserID      string
	ProductID   string
}

// SubscriptionEvent carries the subscription fields the ledger needs.
type SubscriptionEvent struct {
	ID                string
	Status            string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	UserID            string
	ProductID         string
}

// CreateCustomerInput describes a billing-provider customer to create.
type CreateCustomerInput struct {
	Email          string
	Name           string
	UserID         string
	IdempotencyKey string
}

// CreatePaymentIntentInput describes a one-time charge to create.
type CreatePaymentIntentInput struct {
	CustomerID  string
	AmountCents int64
	Currency    string
	Description string
	UserID      string
	ProductID   string
}

// PaymentIntentResult is the provider's answer to a payment-intent create.
type PaymentIntentResult struct {
	ID           string
	ClientSecret string
}

// CreateSubscriptionInput describes a recurring charge to create.
type CreateSubscriptionInput struct {
	CustomerID string
	PriceID    string
	UserID     string
	ProductID  string
}

// SubscriptionResult is the provider's answer to a subscription create.
type SubscriptionResult struct {
	ID           string
	Status       string
	ClientSecret string
}
