package billing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BridgeToWork/BridgeToWork/app/models"
)

func TestCompleteOrder_TerminalStatesAreSticky(t *testing.T) {
	repo := newMemoryRepository()
	repo.addUser(&models.User{ID: 1})
	ledger := NewLedger(repo)

	if _, err := ledger.CreatePendingOrder(context.Background(), 1, "p1", "pi_1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ledger.MarkOrderFailed(context.Background(), "pi_1"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Completing a failed order is a no-op success, not a revert.
	order, err := ledger.CompleteOrder(context.Background(), "pi_1", 500)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if order.Status != models.OrderStatusFailed {
		t.Fatalf("terminal state changed to %q", order.Status)
	}
	if order.AmountCents != 0 {
		t.Fatalf("amount must not be written on a no-op, got %d", order.AmountCents)
	}
}

func TestCompleteOrder_UnknownIntent(t *testing.T) {
	ledger := NewLedger(newMemoryRepository())

	_, err := ledger.CompleteOrder(context.Background(), "pi_missing", 100)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestAttachOrderInvoice_SameIDIsIdempotent(t *testing.T) {
	repo := newMemoryRepository()
	repo.addUser(&models.User{ID: 1})
	ledger := NewLedger(repo)

	order, err := ledger.CreatePendingOrder(context.Background(), 1, "p1", "pi_1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := ledger.AttachOrderInvoice(context.Background(), order.ID, "inv_1"); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := ledger.AttachOrderInvoice(context.Background(), order.ID, "inv_1"); err != nil {
		t.Fatalf("re-attach of the same id must succeed: %v", err)
	}
	if err := ledger.AttachOrderInvoice(context.Background(), order.ID, "inv_2"); !errors.Is(err, ErrInvoiceAlreadyAttached) {
		t.Fatalf("expected ErrInvoiceAlreadyAttached, got %v", err)
	}
}

func TestMarkOrderPaymentRecorded_RequiresInvoice(t *testing.T) {
	repo := newMemoryRepository()
	repo.addUser(&models.User{ID: 1})
	ledger := NewLedger(repo)

	order, err := ledger.CreatePendingOrder(context.Background(), 1, "p1", "pi_1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := ledger.MarkOrderPaymentRecorded(context.Background(), order.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	stored, _ := repo.GetOrder(order.ID)
	if stored.PaymentRecorded {
		t.Fatalf("payment_recorded must stay false without an invoice")
	}
}

func TestRecordWebhookEvent_HashFallbackForEmptyID(t *testing.T) {
	ledger := NewLedger(newMemoryRepository())
	payload := []byte(`{"some":"event"}`)

	created, stored, err := ledger.RecordWebhookEvent(context.Background(), "", "payment_intent.succeeded", payload, true)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh record")
	}
	if !strings.HasPrefix(stored.ProviderEventID, "hash:") {
		t.Fatalf("expected hash fallback id, got %q", stored.ProviderEventID)
	}

	// The same payload maps to the same synthetic id.
	created, again, err := ledger.RecordWebhookEvent(context.Background(), "", "payment_intent.succeeded", payload, true)
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if created || again.ProviderEventID != stored.ProviderEventID {
		t.Fatalf("hash fallback not deterministic: %v %q", created, again.ProviderEventID)
	}
}

func TestUpsertSubscription_PreservesInvoiceLinkage(t *testing.T) {
	repo := newMemoryRepository()
	repo.addUser(&models.User{ID: 1})
	ledger := NewLedger(repo)

	sub, err := ledger.UpsertSubscription(context.Background(), 1, "p2", &SubscriptionEvent{ID: "sub_1", Status: "active"}, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ledger.AttachSubscriptionInvoice(context.Background(), sub.ID, "inv_1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// A later lifecycle event must not wipe the attached invoice.
	sub, err = ledger.UpsertSubscription(context.Background(), 1, "p2", &SubscriptionEvent{ID: "sub_1", Status: "past_due"}, nil)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if sub.XeroInvoiceID != "inv_1" {
		t.Fatalf("invoice linkage lost on upsert: %+v", sub)
	}
	if sub.Status != models.SubscriptionStatusPastDue {
		t.Fatalf("status not updated, got %q", sub.Status)
	}
}

func TestNormalizeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "active", want: models.SubscriptionStatusActive},
		{in: "trialing", want: models.SubscriptionStatusActive},
		{in: "past_due", want: models.SubscriptionStatusPastDue},
		{in: "unpaid", want: models.SubscriptionStatusPastDue},
		{in: "canceled", want: models.SubscriptionStatusCanceled},
		{in: "incomplete_expired", want: models.SubscriptionStatusIncomplete},
		{in: "", want: models.SubscriptionStatusIncomplete},
	}

	for _, tt := range tests {
		if got := models.NormalizeSubscriptionStatus(tt.in); got != tt.want {
			t.Fatalf("NormalizeSubscriptionStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
