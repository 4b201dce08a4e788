package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/BridgeToWork/BridgeToWork/app/models"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/opsqueue"
)

const (
	defaultLookupAttempts = 5
	defaultLookupBackoff  = 200 * time.Millisecond
)

// WebhookProcessor ingests provider webhook events: verify, dedupe,
// dispatch, acknowledge. Deliveries arrive concurrently, out of order
// and more than once; every handler below is safe to run repeatedly for
// the same logical event because the ledger mutations are conditional.
type WebhookProcessor struct {
	gateway PaymentGateway
	ledger  *Ledger
	sync    *InvoiceSynchronizer
	alerts  AlertSink

	// Bounded retry for the window where the webhook outruns the
	// charge initiator's order commit.
	lookupAttempts int
	lookupBackoff  time.Duration
}

// ProcessorOption customizes a WebhookProcessor.
type ProcessorOption func(*WebhookProcessor)

// WithLookupRetry overrides the bounded retry used when a payment event
// references an order row that has not committed yet.
func WithLookupRetry(attempts int, backoff time.Duration) ProcessorOption {
	return func(p *WebhookProcessor) {
		if attempts > 0 {
			p.lookupAttempts = attempts
		}
		if backoff > 0 {
			p.lookupBackoff = backoff
		}
	}
}

// NewWebhookProcessor wires a processor from its dependencies.
func NewWebhookProcessor(gateway PaymentGateway, ledger *Ledger, sync *InvoiceSynchronizer, alerts AlertSink, opts ...ProcessorOption) *WebhookProcessor {
	p := &WebhookProcessor{
		gateway:        gateway,
		ledger:         ledger,
		sync:           sync,
		alerts:         alerts,
		lookupAttempts: defaultLookupAttempts,
		lookupBackoff:  defaultLookupBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleEvent processes one inbound delivery. The returned error
// decides the HTTP response the provider sees:
//   - nil: acknowledged (processed, duplicate, ignored or unresolvable)
//   - ErrAuthenticationFailed: 400, provider must not retry
//   - anything else: 5xx, provider redelivers
func (p *WebhookProcessor) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	ev, err := p.gateway.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		// No ledger writes for unauthenticated payloads.
		return err
	}

	created, stored, err := p.ledger.RecordWebhookEvent(ctx, ev.ID, ev.Type, payload, true)
	if err != nil {
		return fmt.Errorf("persist webhook event %s: %w", ev.ID, err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		// Replay of a successfully processed event.
		return nil
	}

	dispatchErr := p.dispatch(ctx, ev)

	if markErr := p.ledger.MarkWebhookProcessed(ctx, stored.ID, dispatchErr); markErr != nil {
		log.Printf("webhook: failed to mark event %s processed: %v", ev.ID, markErr)
	}

	if dispatchErr == nil {
		return nil
	}
	if errors.Is(dispatchErr, ErrUnresolvableEvent) {
		// Redelivery cannot fix a missing row; acknowledge to stop the
		// retry storm, the alert queue carries the investigation.
		return nil
	}
	return dispatchErr
}

func (p *WebhookProcessor) dispatch(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventPaymentIntentSucceeded:
		return p.handlePaymentSucceeded(ctx, ev)
	case EventPaymentIntentFailed:
		return p.handlePaymentFailed(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return p.handleSubscriptionChanged(ctx, ev)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, ev)
	default:
		// Event kinds this system does not care about are acknowledged
		// so the provider stops redelivering them.
		return nil
	}
}

func (p *WebhookProcessor) handlePaymentSucceeded(ctx context.Context, ev *Event) error {
	pi := ev.PaymentIntent
	if pi == nil || pi.ID == "" {
		return p.unresolvable(ctx, ev, "payment_intent payload missing id")
	}
	if pi.UserID == "" || pi.ProductID == "" {
		return p.unresolvable(ctx, ev, fmt.Sprintf("payment intent %s carries no correlation metadata", pi.ID))
	}

	order, err := p.completeOrderWithRetry(ctx, pi)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return p.unresolvable(ctx, ev, fmt.Sprintf("no order for payment intent %s after %d attempts", pi.ID, p.lookupAttempts))
		}
		return err
	}

	// A failed mirror keeps the delivery unacknowledged. The provider
	// redelivers, the dedupe record carries the processing error, and
	// the sync resumes where it stopped.
	if _, err := p.sync.SyncOrder(ctx, order); err != nil {
		return fmt.Errorf("invoice sync for order %s: %w", order.ID, err)
	}
	return nil
}

// completeOrderWithRetry absorbs the race where the provider's webhook
// arrives before the charge initiator's order write commits.
func (p *WebhookProcessor) completeOrderWithRetry(ctx context.Context, pi *PaymentIntentEvent) (*models.Order, error) {
	backoff := p.lookupBackoff
	var lastErr error
	for attempt := 0; attempt < p.lookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		order, err := p.ledger.CompleteOrder(ctx, pi.ID, pi.AmountCents)
		if err == nil {
			return order, nil
		}
		lastErr = err
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *WebhookProcessor) handlePaymentFailed(ctx context.Context, ev *Event) error {
	pi := ev.PaymentIntent
	if pi == nil || pi.ID == "" {
		return p.unresolvable(ctx, ev, "payment_intent payload missing id")
	}

	if _, err := p.ledger.MarkOrderFailed(ctx, pi.ID); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// A failure for an intent this system never issued.
			return nil
		}
		return err
	}
	return nil
}

func (p *WebhookProcessor) handleSubscriptionChanged(ctx context.Context, ev *Event) error {
	sub := ev.Subscription
	if sub == nil || sub.ID == "" {
		return p.unresolvable(ctx, ev, "subscription payload missing id")
	}
	if sub.UserID == "" {
		return p.unresolvable(ctx, ev, fmt.Sprintf("subscription %s carries no user metadata", sub.ID))
	}

	userID, err := parseUserID(sub.UserID)
	if err != nil {
		return p.unresolvable(ctx, ev, fmt.Sprintf("subscription %s has malformed user metadata %q", sub.ID, sub.UserID))
	}
	user, err := p.ledger.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return p.unresolvable(ctx, ev, fmt.Sprintf("subscription %s references unknown user %d", sub.ID, userID))
		}
		return err
	}

	stored, err := p.ledger.UpsertSubscription(ctx, user.ID, sub.ProductID, sub, ev.RawPayload)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.ID, err)
	}

	plan := sub.ProductID
	if plan == "" {
		plan = user.Plan
	}
	if err := p.ledger.SetUserPlan(ctx, user.ID, plan, stored.ID); err != nil {
		return err
	}

	// Only an entitling subscription has a paid invoice to mirror; the
	// initial incomplete state has nothing collected yet.
	if stored.Status == models.SubscriptionStatusActive {
		if _, err := p.sync.SyncSubscription(ctx, stored); err != nil {
			return fmt.Errorf("invoice sync for subscription %s: %w", stored.ID, err)
		}
	}
	return nil
}

func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, ev *Event) error {
	sub := ev.Subscription
	if sub == nil || sub.ID == "" {
		return p.unresolvable(ctx, ev, "subscription payload missing id")
	}

	found, err := p.ledger.CancelSubscription(ctx, sub.ID)
	if err != nil {
		return err
	}
	if !found {
		// Deletions never materialize rows this system did not create.
		return nil
	}

	if sub.UserID != "" {
		if userID, err := parseUserID(sub.UserID); err == nil {
			if err := p.ledger.ResetUserPlan(ctx, userID); err != nil {
				return err
			}
		}
	}
	return nil
}

// unresolvable records and alerts an event whose correlation data never
// matched the ledger, then reports ErrUnresolvableEvent so HandleEvent
// acknowledges it.
func (p *WebhookProcessor) unresolvable(ctx context.Context, ev *Event, detail string) error {
	log.Printf("webhook: unresolvable event %s (%s): %s", ev.ID, ev.Type, detail)
	if p.alerts != nil {
		p.alerts.Publish(ctx, opsqueue.Alert{
			Kind:      "unresolvable_webhook_event",
			Message:   detail,
			Reference: ev.ID,
			Fields:    map[string]string{"event_type": ev.Type},
		})
	}
	return fmt.Errorf("%s: %w", detail, ErrUnresolvableEvent)
}

func parseUserID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return uint(id), nil
}
