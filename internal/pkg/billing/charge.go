package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BridgeToWork/BridgeToWork/app/models"
)

// ChargeInitiator creates provider charges for catalog products and
// seeds the ledger with the auditable pending rows.
type ChargeInitiator struct {
	ledger   *Ledger
	resolver *CustomerResolver
	gateway  PaymentGateway
}

// NewChargeInitiator wires an initiator from its dependencies.
func NewChargeInitiator(ledger *Ledger, resolver *CustomerResolver, gateway PaymentGateway) *ChargeInitiator {
	return &ChargeInitiator{ledger: ledger, resolver: resolver, gateway: gateway}
}

// CreateCharge creates a one-time payment intent for a product and
// writes a pending order linked to it before returning, so even an
// abandoned checkout leaves an auditable record. The intent carries the
// user/product correlation metadata the webhook processor routes by.
func (c *ChargeInitiator) CreateCharge(ctx context.Context, userID uint, productID string) (*ChargeResult, error) {
	user, err := c.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	product, err := c.ledger.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.IsRecurring() {
		return nil, fmt.Errorf("product %s is recurring, use CreateSubscriptionCharge: %w", productID, ErrProviderRejected)
	}

	customerID, err := c.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	intent, err := c.gateway.CreatePaymentIntent(ctx, CreatePaymentIntentInput{
		CustomerID:  customerID,
		AmountCents: product.PriceCents,
		Currency:    product.Currency,
		Description: product.Name,
		UserID:      strconv.FormatUint(uint64(user.ID), 10),
		ProductID:   product.ID,
	})
	if err != nil {
		// No order row on provider rejection: there is nothing to audit
		// and nothing the webhook will ever reference.
		return nil, err
	}

	order, err := c.ledger.CreatePendingOrder(ctx, user.ID, product.ID, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("persist pending order for intent %s: %w", intent.ID, err)
	}

	return &ChargeResult{ClientSecret: intent.ClientSecret, OrderID: order.ID}, nil
}

// CreateSubscriptionCharge creates a provider subscription whose first
// invoice must be confirmed client-side, and upserts the incomplete
// ledger row so the record exists before any webhook arrives.
func (c *ChargeInitiator) CreateSubscriptionCharge(ctx context.Context, userID uint, productID string) (*SubscriptionChargeResult, error) {
	user, err := c.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	product, err := c.ledger.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsRecurring() || product.StripePriceID == "" {
		return nil, fmt.Errorf("product %s has no recurring price: %w", productID, ErrProviderRejected)
	}

	customerID, err := c.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	sub, err := c.gateway.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: customerID,
		PriceID:    product.StripePriceID,
		UserID:     strconv.FormatUint(uint64(user.ID), 10),
		ProductID:  product.ID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := c.ledger.UpsertSubscription(ctx, user.ID, product.ID, &SubscriptionEvent{
		ID:     sub.ID,
		Status: models.SubscriptionStatusIncomplete,
	}, nil); err != nil {
		return nil, fmt.Errorf("persist subscription %s: %w", sub.ID, err)
	}

	return &SubscriptionChargeResult{ClientSecret: sub.ClientSecret, SubscriptionID: sub.ID}, nil
}

// CancelSubscription forwards a cancellation to the provider. The
// ledger is not touched here: the resulting subscription webhook is the
// single source of status transitions.
func (c *ChargeInitiator) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	if _, err := c.ledger.GetSubscription(ctx, subscriptionID); err != nil {
		return err
	}
	return c.gateway.CancelSubscription(ctx, subscriptionID, immediate)
}
