package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BridgeToWork/BridgeToWork/internal/pkg/env"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// PaymentGateway is the billing-provider surface the services depend
// on. The Stripe implementation below is the only production one; tests
// substitute fakes.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, in CreateCustomerInput) (string, error)
	CreatePaymentIntent(ctx context.Context, in CreatePaymentIntentInput) (*PaymentIntentResult, error)
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*SubscriptionResult, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}

// StripeGateway implements PaymentGateway against the Stripe API.
type StripeGateway struct {
	webhookSecret string
}

// NewStripeGateway configures the Stripe SDK with the given secret key.
func NewStripeGateway(apiKey, webhookSecret string) (*StripeGateway, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("stripe api key is required")
	}
	if strings.TrimSpace(webhookSecret) == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	stripe.Key = apiKey
	return &StripeGateway{webhookSecret: webhookSecret}, nil
}

// NewStripeGatewayFromEnv builds the gateway from STRIPE_SECRET_KEY and
// STRIPE_WEBHOOK_SECRET.
func NewStripeGatewayFromEnv() (*StripeGateway, error) {
	return NewStripeGateway(
		env.GetEnv("STRIPE_SECRET_KEY", ""),
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	)
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, in CreateCustomerInput) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
	}
	params.Context = ctx
	if in.Name != "" {
		params.Name = stripe.String(in.Name)
	}
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	}
	params.AddMetadata(MetadataUserID, in.UserID)

	c, err := customer.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, in CreatePaymentIntentInput) (*PaymentIntentResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountCents),
		Currency: stripe.String(strings.ToLower(in.Currency)),
		Customer: stripe.String(in.CustomerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	params.AddMetadata(MetadataUserID, in.UserID)
	params.AddMetadata(MetadataProductID, in.ProductID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &PaymentIntentResult{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*SubscriptionResult, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
		// The first invoice stays open until the client confirms its
		// payment, so a subscription never silently charges.
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, in.UserID)
	params.AddMetadata(MetadataProductID, in.ProductID)
	params.AddExpand("latest_invoice.confirmation_secret")

	sub, err := subscription.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	out := &SubscriptionResult{ID: sub.ID, Status: string(sub.Status)}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return out, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	if immediate {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		_, err := subscription.Cancel(subscriptionID, params)
		return classifyStripeError(err)
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx
	_, err := subscription.Update(subscriptionID, params)
	return classifyStripeError(err)
}

// VerifyWebhook authenticates the raw payload against the signing
// secret and normalizes the event. Signature verification happens
// before any field of the untrusted payload is interpreted.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	return normalizeStripeEvent(ev.ID, string(ev.Type), ev.Data.Raw, payload)
}

// normalizeStripeEvent extracts only the fields the ledger needs from a
// verified event payload. Parsing our own structs keeps the processor
// independent of SDK struct churn between Stripe API versions.
func normalizeStripeEvent(id, eventType string, objectRaw []byte, payload []byte) (*Event, error) {
	out := &Event{ID: id, Type: eventType, RawPayload: payload}

	switch eventType {
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var pi struct {
			ID       string            `json:"id"`
			Amount   int64             `json:"amount"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(objectRaw, &pi); err != nil {
			return nil, fmt.Errorf("parse payment_intent payload: %w", err)
		}
		out.PaymentIntent = &PaymentIntentEvent{
			ID:          pi.ID,
			AmountCents: pi.Amount,
			UserID:      pi.Metadata[MetadataUserID],
			ProductID:   pi.Metadata[MetadataProductID],
		}

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub struct {
			ID                string            `json:"id"`
			Status            string            `json:"status"`
			CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
			CurrentPeriodEnd  int64             `json:"current_period_end"`
			Metadata          map[string]string `json:"metadata"`
			Items             struct {
				Data []struct {
					CurrentPeriodEnd int64 `json:"current_period_end"`
				} `json:"data"`
			} `json:"items"`
		}
		if err := json.Unmarshal(objectRaw, &sub); err != nil {
			return nil, fmt.Errorf("parse subscription payload: %w", err)
		}

		// Newer Stripe API versions report the billing period on the
		// subscription item instead of the subscription itself.
		periodEnd := sub.CurrentPeriodEnd
		if periodEnd == 0 && len(sub.Items.Data) > 0 {
			periodEnd = sub.Items.Data[0].CurrentPeriodEnd
		}
		var periodEndTime *time.Time
		if periodEnd > 0 {
			t := time.Unix(periodEnd, 0).UTC()
			periodEndTime = &t
		}

		out.Subscription = &SubscriptionEvent{
			ID:                sub.ID,
			Status:            sub.Status,
			CurrentPeriodEnd:  periodEndTime,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			UserID:            sub.Metadata[MetadataUserID],
			ProductID:         sub.Metadata[MetadataProductID],
		}
	}

	return out, nil
}

// classifyStripeError maps SDK errors onto the billing taxonomy.
func classifyStripeError(err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		// Connection resets, DNS failures and timeouts never reach the
		// typed error path.
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch {
	case stripeErr.Code == stripe.ErrorCodeRateLimit, stripeErr.HTTPStatusCode == 429:
		return fmt.Errorf("%w: %s", ErrTransient, stripeErr.Msg)
	case stripeErr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: %s", ErrTransient, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: %s (code=%s)", ErrProviderRejected, stripeErr.Msg, stripeErr.Code)
	}
}
