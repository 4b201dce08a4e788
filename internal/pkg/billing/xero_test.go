package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func xeroTestClient(t *testing.T, handler http.HandlerFunc) (*XeroClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewXeroClient("tenant-1", srv.URL, "090", srv.Client()), srv
}

func TestXeroFindContactsByEmail(t *testing.T) {
	var gotWhere, gotTenant string
	client, _ := xeroTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/Contacts") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotWhere = r.URL.Query().Get("where")
		gotTenant = r.Header.Get("Xero-Tenant-Id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Contacts":[{"ContactID":"con_1","Name":"Ada","EmailAddress":"ada@example.org"}]}`))
	})

	contacts, err := client.FindContactsByEmail(context.Background(), "ada@example.org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ID != "con_1" {
		t.Fatalf("unexpected contacts %+v", contacts)
	}
	if gotTenant != "tenant-1" {
		t.Fatalf("tenant header missing, got %q", gotTenant)
	}
	want := `EmailAddress=="ada@example.org" AND ContactStatus=="ACTIVE"`
	if gotWhere != want {
		t.Fatalf("where clause %q, want %q", gotWhere, want)
	}
}

func TestXeroCreateContact(t *testing.T) {
	client, _ := xeroTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req xeroContactsResponse
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contacts) != 1 || req.Contacts[0].Name != "Ada" {
			t.Errorf("unexpected request body %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Contacts":[{"ContactID":"con_new","Name":"Ada","EmailAddress":"ada@example.org"}]}`))
	})

	contact, err := client.CreateContact(context.Background(), "Ada", "ada@example.org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contact.ID != "con_new" {
		t.Fatalf("unexpected contact id %q", contact.ID)
	}
}

func TestXeroCreateInvoice(t *testing.T) {
	var got xeroInvoicesResponse
	client, _ := xeroTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Invoices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Invoices":[{"InvoiceID":"inv_1"}]}`))
	})

	due := time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC)
	invoiceID, err := client.CreateInvoice(context.Background(), AccountingInvoice{
		ContactID:   "con_1",
		Description: "Donation Pack",
		AccountCode: "200",
		TaxType:     "OUTPUT2",
		Reference:   "pi_1",
		AmountCents: 9900,
		DueDate:     due,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoiceID != "inv_1" {
		t.Fatalf("unexpected invoice id %q", invoiceID)
	}

	if len(got.Invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(got.Invoices))
	}
	inv := got.Invoices[0]
	if inv.Type != "ACCREC" || inv.Status != "AUTHORISED" {
		t.Fatalf("unexpected type/status %q/%q", inv.Type, inv.Status)
	}
	if inv.Contact.ContactID != "con_1" || inv.Reference != "pi_1" {
		t.Fatalf("unexpected linkage %+v", inv)
	}
	if inv.DueDate != "2026-09-28" {
		t.Fatalf("unexpected due date %q", inv.DueDate)
	}
	if len(inv.LineItems) != 1 || inv.LineItems[0].UnitAmount != 99.00 {
		t.Fatalf("unexpected line items %+v", inv.LineItems)
	}
	if inv.LineItems[0].AccountCode != "200" || inv.LineItems[0].TaxType != "OUTPUT2" {
		t.Fatalf("account code or tax type lost: %+v", inv.LineItems[0])
	}
}

func TestXeroRecordPayment(t *testing.T) {
	var got xeroPaymentsRequest
	client, _ := xeroTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/Payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	if err := client.RecordPayment(context.Background(), "inv_1", 9900, "pi_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Payments) != 1 {
		t.Fatalf("expected one payment, got %d", len(got.Payments))
	}
	p := got.Payments[0]
	if p.Invoice.InvoiceID != "inv_1" || p.Account.Code != "090" {
		t.Fatalf("unexpected payment target %+v", p)
	}
	if p.Amount != 99.00 {
		t.Fatalf("unexpected amount %v", p.Amount)
	}
}

func TestXeroErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusBadRequest, want: ErrProviderRejected},
		{status: http.StatusForbidden, want: ErrProviderRejected},
		{status: http.StatusTooManyRequests, want: ErrTransient},
		{status: http.StatusInternalServerError, want: ErrTransient},
		{status: http.StatusBadGateway, want: ErrTransient},
	}

	for _, tt := range tests {
		client, _ := xeroTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"Message":"nope"}`))
		})
		_, err := client.FindContactsByEmail(context.Background(), "x@example.org")
		if !errors.Is(err, tt.want) {
			t.Fatalf("status %d: got %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestXeroQueryEscaping(t *testing.T) {
	var gotWhere string
	client, _ := xeroTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotWhere = r.URL.Query().Get("where")
		_, _ = w.Write([]byte(`{"Contacts":[]}`))
	})

	if _, err := client.FindContactsByEmail(context.Background(), `a"b@example.org`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotWhere, `a\"b@example.org`) {
		t.Fatalf("quote not escaped in %q", gotWhere)
	}
}
