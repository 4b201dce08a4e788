package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BridgeToWork/BridgeToWork/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger is the local record of what was purchased. It owns the Order
// and Subscription status fields exclusively and enforces the one-way
// transition and single-invoice invariants over the raw repository.
type Ledger struct {
	repo Repository
}

// NewLedger creates a ledger from an injected repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// NewLedgerFromDB creates a ledger from a GORM DB handle.
func NewLedgerFromDB(db *gorm.DB) *Ledger {
	return NewLedger(NewRepository(db))
}

// GetUser resolves a user id to its row.
func (l *Ledger) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	_ = ctx
	user, err := l.repo.GetUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
		}
		return nil, err
	}
	return user, nil
}

// GetProduct resolves a product id to its catalog row.
func (l *Ledger) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	_ = ctx
	product, err := l.repo.GetProduct(productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
		}
		return nil, err
	}
	return product, nil
}

// CreatePendingOrder writes the auditable pending row for a payment
// intent before the client ever confirms it.
func (l *Ledger) CreatePendingOrder(ctx context.Context, userID uint, productID, paymentIntentID string) (*models.Order, error) {
	_ = ctx
	if userID == 0 || strings.TrimSpace(productID) == "" || strings.TrimSpace(paymentIntentID) == "" {
		return nil, errors.New("user_id, product_id and payment_intent_id are required")
	}

	order := &models.Order{
		ID:                    uuid.NewString(),
		UserID:                userID,
		ProductID:             productID,
		StripePaymentIntentID: paymentIntentID,
		Status:                models.OrderStatusPending,
	}
	if err := l.repo.CreateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// CompleteOrder transitions the order for a payment intent to completed
// and records the final amount. Calling it on an order that already
// reached a terminal state is a no-op success; a missing order is
// ErrOrderNotFound so the webhook processor can retry the lookup race.
func (l *Ledger) CompleteOrder(ctx context.Context, paymentIntentID string, amountCents int64) (*models.Order, error) {
	_ = ctx
	now := time.Now()
	moved, err := l.repo.FinalizeOrderIfPending(paymentIntentID, models.OrderStatusCompleted, amountCents, &now)
	if err != nil {
		return nil, err
	}

	order, err := l.repo.GetOrderByPaymentIntentID(paymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment intent %s: %w", paymentIntentID, ErrOrderNotFound)
		}
		return nil, err
	}
	if !moved && !order.IsTerminal() {
		// Lost a concurrent finalize race that is still in flight;
		// the stored row will be terminal on the next read.
		return order, nil
	}
	return order, nil
}

// MarkOrderFailed transitions the order for a payment intent to failed.
// Terminal orders are left untouched; a missing order is ErrOrderNotFound.
func (l *Ledger) MarkOrderFailed(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	_ = ctx
	if _, err := l.repo.FinalizeOrderIfPending(paymentIntentID, models.OrderStatusFailed, 0, nil); err != nil {
		return nil, err
	}

	order, err := l.repo.GetOrderByPaymentIntentID(paymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment intent %s: %w", paymentIntentID, ErrOrderNotFound)
		}
		return nil, err
	}
	return order, nil
}

// UpsertSubscription creates or updates the row keyed by the provider
// subscription id, so webhook replays and out-of-order deliveries are
// safe to apply repeatedly.
func (l *Ledger) UpsertSubscription(ctx context.Context, userID uint, productID string, ev *SubscriptionEvent, rawPayload []byte) (*models.Subscription, error) {
	_ = ctx
	if userID == 0 || strings.TrimSpace(ev.ID) == "" {
		return nil, errors.New("user_id and subscription id are required")
	}

	sub := &models.Subscription{
		ID:                ev.ID,
		UserID:            userID,
		ProductID:         productID,
		Status:            models.NormalizeSubscriptionStatus(ev.Status),
		CurrentPeriodEnd:  ev.CurrentPeriodEnd,
		CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		RawPayloadJSON:    string(rawPayload),
	}
	if err := l.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelSubscription marks an existing subscription canceled. A missing
// row is reported via found=false and never materializes a new record.
func (l *Ledger) CancelSubscription(ctx context.Context, subscriptionID string) (found bool, err error) {
	_ = ctx
	return l.repo.MarkSubscriptionCanceled(subscriptionID)
}

// GetSubscription resolves a provider subscription id to its row.
func (l *Ledger) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	_ = ctx
	sub, err := l.repo.GetSubscription(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subscription %s: %w", subscriptionID, ErrSubscriptionNotFound)
		}
		return nil, err
	}
	return sub, nil
}

// AttachOrderInvoice links an accounting invoice to an order exactly
// once. Re-attaching the same invoice id is a no-op success; a different
// id fails with ErrInvoiceAlreadyAttached.
func (l *Ledger) AttachOrderInvoice(ctx context.Context, orderID, invoiceID string) error {
	_ = ctx
	attached, err := l.repo.AttachOrderInvoiceIfUnset(orderID, invoiceID)
	if err != nil {
		return err
	}
	if attached {
		return nil
	}

	order, err := l.repo.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
		}
		return err
	}
	if order.XeroInvoiceID == invoiceID {
		return nil
	}
	return fmt.Errorf("order %s has invoice %s: %w", orderID, order.XeroInvoiceID, ErrInvoiceAlreadyAttached)
}

// AttachSubscriptionInvoice is AttachOrderInvoice for subscriptions.
func (l *Ledger) AttachSubscriptionInvoice(ctx context.Context, subscriptionID, invoiceID string) error {
	_ = ctx
	attached, err := l.repo.AttachSubscriptionInvoiceIfUnset(subscriptionID, invoiceID)
	if err != nil {
		return err
	}
	if attached {
		return nil
	}

	sub, err := l.repo.GetSubscription(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("subscription %s: %w", subscriptionID, ErrSubscriptionNotFound)
		}
		return err
	}
	if sub.XeroInvoiceID == invoiceID {
		return nil
	}
	return fmt.Errorf("subscription %s has invoice %s: %w", subscriptionID, sub.XeroInvoiceID, ErrInvoiceAlreadyAttached)
}

// MarkOrderPaymentRecorded flags the order's invoice as paid. The
// repository guards on a present invoice id, keeping the invariant that
// payment_recorded implies an attached invoice.
func (l *Ledger) MarkOrderPaymentRecorded(ctx context.Context, orderID string) error {
	_ = ctx
	return l.repo.MarkOrderPaymentRecorded(orderID)
}

// MarkSubscriptionPaymentRecorded flags the subscription's invoice as paid.
func (l *Ledger) MarkSubscriptionPaymentRecorded(ctx context.Context, subscriptionID string) error {
	_ = ctx
	return l.repo.MarkSubscriptionPaymentRecorded(subscriptionID)
}

// SetUserPlan records which plan a user's subscription entitles them to.
func (l *Ledger) SetUserPlan(ctx context.Context, userID uint, plan, subscriptionID string) error {
	_ = ctx
	return l.repo.SetUserPlan(userID, plan, subscriptionID)
}

// ResetUserPlan drops a user back to the free tier with no subscription.
func (l *Ledger) ResetUserPlan(ctx context.Context, userID uint) error {
	_ = ctx
	return l.repo.SetUserPlan(userID, models.PlanFree, "")
}

// RecordWebhookEvent persists webhook payloads idempotently. The first
// delivery of an event id reports created=true; redeliveries get the
// stored row back so the caller can decide whether the event still
// needs processing.
func (l *Ledger) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte, signatureValid bool) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	id := strings.TrimSpace(eventID)
	if id == "" {
		sum := sha256.Sum256(payload)
		id = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: id,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	}
	return l.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (l *Ledger) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return l.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// SetStripeCustomerID persists a freshly created provider customer id,
// unless a concurrent resolver already stored one.
func (l *Ledger) SetStripeCustomerID(ctx context.Context, userID uint, customerID string) (bool, error) {
	_ = ctx
	return l.repo.SetStripeCustomerIDIfEmpty(userID, customerID)
}
