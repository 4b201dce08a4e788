package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/BridgeToWork/BridgeToWork/app/models"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/opsqueue"
)

// AccountingContact is an accounting-system contact.
type AccountingContact struct {
	ID    string
	Name  string
	Email string
}

// AccountingInvoice describes one authorised sales invoice with a
// single line item.
type AccountingInvoice struct {
	ContactID   string
	Description string
	AccountCode string
	TaxType     string
	Reference   string
	AmountCents int64
	DueDate     time.Time
}

// AccountingClient is the accounting-provider surface the synchronizer
// depends on. The accounting API itself is not idempotent; the
// synchronizer supplies idempotency through the ledger's attach guard.
type AccountingClient interface {
	FindContactsByEmail(ctx context.Context, email string) ([]AccountingContact, error)
	CreateContact(ctx context.Context, name, email string) (*AccountingContact, error)
	CreateInvoice(ctx context.Context, in AccountingInvoice) (string, error)
	RecordPayment(ctx context.Context, invoiceID string, amountCents int64, reference string) error
}

// AlertSink receives operator alerts. Publishing must never fail the
// payment path, so the interface has no error return.
type AlertSink interface {
	Publish(ctx context.Context, alert opsqueue.Alert)
}

// InvoiceSynchronizer mirrors completed charges into the accounting
// system: one authorised invoice plus one payment per charge, exactly
// once, with the invoice id written back to the ledger.
type InvoiceSynchronizer struct {
	ledger     *Ledger
	accounting AccountingClient
	alerts     AlertSink
}

// NewInvoiceSynchronizer wires a synchronizer from its dependencies.
func NewInvoiceSynchronizer(ledger *Ledger, accounting AccountingClient, alerts AlertSink) *InvoiceSynchronizer {
	return &InvoiceSynchronizer{ledger: ledger, accounting: accounting, alerts: alerts}
}

// SyncOrder ensures a completed order has an accounting invoice with a
// payment applied. Safe to invoke repeatedly: an already-synchronized
// order returns immediately, and a partially-synchronized one (invoice
// attached, payment missing) resumes at the payment step.
func (s *InvoiceSynchronizer) SyncOrder(ctx context.Context, order *models.Order) (string, error) {
	if order.Status != models.OrderStatusCompleted {
		return "", fmt.Errorf("order %s is %s, only completed orders are invoiced", order.ID, order.Status)
	}
	if order.XeroInvoiceID != "" && order.PaymentRecorded {
		return order.XeroInvoiceID, nil
	}

	user, err := s.ledger.GetUser(ctx, order.UserID)
	if err != nil {
		return "", err
	}
	product, err := s.ledger.GetProduct(ctx, order.ProductID)
	if err != nil {
		return "", err
	}

	invoiceID := order.XeroInvoiceID
	if invoiceID == "" {
		contact, err := s.resolveContact(ctx, user)
		if err != nil {
			s.alert(ctx, "contact_resolution_failed", err.Error(), order.StripePaymentIntentID)
			return "", err
		}

		invoiceID, err = s.accounting.CreateInvoice(ctx, AccountingInvoice{
			ContactID:   contact.ID,
			Description: product.Name,
			AccountCode: product.AccountingCode,
			TaxType:     product.TaxType,
			Reference:   order.StripePaymentIntentID,
			AmountCents: order.AmountCents,
			DueDate:     time.Now().AddDate(0, 0, 30),
		})
		if err != nil {
			s.alert(ctx, "invoice_creation_failed", err.Error(), order.StripePaymentIntentID)
			return "", err
		}

		if err := s.ledger.AttachOrderInvoice(ctx, order.ID, invoiceID); err != nil {
			if errors.Is(err, ErrInvoiceAlreadyAttached) {
				// A concurrent synchronize attached first; the invoice
				// we just authorised is an orphan the operator must void.
				s.alert(ctx, "duplicate_invoice_created", fmt.Sprintf("invoice %s duplicates the one attached to order %s", invoiceID, order.ID), order.StripePaymentIntentID)
				stored, gerr := s.ledger.repo.GetOrder(order.ID)
				if gerr != nil {
					return "", gerr
				}
				invoiceID = stored.XeroInvoiceID
			} else {
				return "", err
			}
		}
	}

	if !order.PaymentRecorded {
		if err := s.accounting.RecordPayment(ctx, invoiceID, order.AmountCents, order.StripePaymentIntentID); err != nil {
			// The invoice stays attached with payment_recorded=false;
			// the next synchronize resumes here.
			s.alert(ctx, "payment_recording_failed", err.Error(), invoiceID)
			return invoiceID, err
		}
		if err := s.ledger.MarkOrderPaymentRecorded(ctx, order.ID); err != nil {
			return invoiceID, err
		}
	}

	return invoiceID, nil
}

// SyncSubscription mirrors a subscription's current period into the
// accounting system. The due date is the period end; the reference is
// the provider subscription id.
func (s *InvoiceSynchronizer) SyncSubscription(ctx context.Context, sub *models.Subscription) (string, error) {
	if sub.XeroInvoiceID != "" && sub.PaymentRecorded {
		return sub.XeroInvoiceID, nil
	}

	user, err := s.ledger.GetUser(ctx, sub.UserID)
	if err != nil {
		return "", err
	}
	product, err := s.ledger.GetProduct(ctx, sub.ProductID)
	if err != nil {
		return "", err
	}

	invoiceID := sub.XeroInvoiceID
	if invoiceID == "" {
		contact, err := s.resolveContact(ctx, user)
		if err != nil {
			s.alert(ctx, "contact_resolution_failed", err.Error(), sub.ID)
			return "", err
		}

		dueDate := time.Now().AddDate(0, 0, 30)
		if sub.CurrentPeriodEnd != nil {
			dueDate = *sub.CurrentPeriodEnd
		}
		invoiceID, err = s.accounting.CreateInvoice(ctx, AccountingInvoice{
			ContactID:   contact.ID,
			Description: fmt.Sprintf("%s - %sly Membership", product.Name, product.Interval),
			AccountCode: product.AccountingCode,
			TaxType:     product.TaxType,
			Reference:   sub.ID,
			AmountCents: product.PriceCents,
			DueDate:     dueDate,
		})
		if err != nil {
			s.alert(ctx, "invoice_creation_failed", err.Error(), sub.ID)
			return "", err
		}

		if err := s.ledger.AttachSubscriptionInvoice(ctx, sub.ID, invoiceID); err != nil {
			if errors.Is(err, ErrInvoiceAlreadyAttached) {
				s.alert(ctx, "duplicate_invoice_created", fmt.Sprintf("invoice %s duplicates the one attached to subscription %s", invoiceID, sub.ID), sub.ID)
				stored, gerr := s.ledger.repo.GetSubscription(sub.ID)
				if gerr != nil {
					return "", gerr
				}
				invoiceID = stored.XeroInvoiceID
			} else {
				return "", err
			}
		}
	}

	if !sub.PaymentRecorded {
		if err := s.accounting.RecordPayment(ctx, invoiceID, product.PriceCents, sub.ID); err != nil {
			s.alert(ctx, "payment_recording_failed", err.Error(), invoiceID)
			return invoiceID, err
		}
		if err := s.ledger.MarkSubscriptionPaymentRecorded(ctx, sub.ID); err != nil {
			return invoiceID, err
		}
	}

	return invoiceID, nil
}

// resolveContact finds the accounting contact for a user by email,
// creating one when none exists. Multiple matches use the first result
// and raise an operator alert instead of guessing further.
func (s *InvoiceSynchronizer) resolveContact(ctx context.Context, user *models.User) (*AccountingContact, error) {
	contacts, err := s.accounting.FindContactsByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if len(contacts) > 1 {
		s.alert(ctx, "ambiguous_contact", fmt.Sprintf("%d accounting contacts share email %s, using %s", len(contacts), user.Email, contacts[0].ID), user.Email)
	}
	if len(contacts) > 0 {
		return &contacts[0], nil
	}

	return s.accounting.CreateContact(ctx, user.Name, user.Email)
}

func (s *InvoiceSynchronizer) alert(ctx context.Context, kind, message, reference string) {
	log.Printf("invoice sync: %s: %s (ref=%s)", kind, message, reference)
	if s.alerts != nil {
		s.alerts.Publish(ctx, opsqueue.Alert{Kind: kind, Message: message, Reference: reference})
	}
}
