package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BridgeToWork/BridgeToWork/internal/pkg/env"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultXeroTokenURL   = "https://identity.xero.com/connect/token"
	defaultXeroAPIBaseURL = "https://api.xero.com/api.xro/2.0"

	// Bank account the mirrored Stripe payouts settle into.
	defaultPaymentAccountCode = "090"
)

// XeroClient implements AccountingClient against the Xero accounting
// API. Authentication uses the OAuth2 client credentials flow of a Xero
// custom connection, so the token source refreshes itself.
type XeroClient struct {
	TenantID           string
	APIBaseURL         string
	PaymentAccountCode string
	HTTPClient         *http.Client
}

// NewXeroClient builds a client with an explicit HTTP client, used by
// tests to point at a local server.
func NewXeroClient(tenantID, apiBaseURL, paymentAccountCode string, httpClient *http.Client) *XeroClient {
	if apiBaseURL == "" {
		apiBaseURL = defaultXeroAPIBaseURL
	}
	if paymentAccountCode == "" {
		paymentAccountCode = defaultPaymentAccountCode
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &XeroClient{
		TenantID:           tenantID,
		APIBaseURL:         strings.TrimRight(apiBaseURL, "/"),
		PaymentAccountCode: paymentAccountCode,
		HTTPClient:         httpClient,
	}
}

// NewXeroClientFromEnv builds the client from XERO_CLIENT_ID,
// XERO_CLIENT_SECRET and XERO_TENANT_ID, with the token and API URLs
// overridable for testing.
func NewXeroClientFromEnv(ctx context.Context) (*XeroClient, error) {
	clientID := env.GetEnv("XERO_CLIENT_ID", "")
	clientSecret := env.GetEnv("XERO_CLIENT_SECRET", "")
	tenantID := env.GetEnv("XERO_TENANT_ID", "")
	if clientID == "" || clientSecret == "" || tenantID == "" {
		return nil, errors.New("XERO_CLIENT_ID, XERO_CLIENT_SECRET and XERO_TENANT_ID are required")
	}

	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     env.GetEnv("XERO_TOKEN_URL", defaultXeroTokenURL),
		Scopes:       []string{"accounting.transactions", "accounting.contacts"},
	}
	httpClient := conf.Client(ctx)
	httpClient.Timeout = 15 * time.Second

	return NewXeroClient(
		tenantID,
		env.GetEnv("XERO_API_BASE_URL", defaultXeroAPIBaseURL),
		env.GetEnv("XERO_PAYMENT_ACCOUNT_CODE", defaultPaymentAccountCode),
		httpClient,
	), nil
}

type xeroContact struct {
	ContactID    string `json:"ContactID,omitempty"`
	Name         string `json:"Name,omitempty"`
	EmailAddress string `json:"EmailAddress,omitempty"`
}

type xeroContactsResponse struct {
	Contacts []xeroContact `json:"Contacts"`
}

type xeroLineItem struct {
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitAmount  float64 `json:"UnitAmount"`
	AccountCode string  `json:"AccountCode,omitempty"`
	TaxType     string  `json:"TaxType,omitempty"`
}

type xeroInvoice struct {
	InvoiceID string         `json:"InvoiceID,omitempty"`
	Type      string         `json:"Type"`
	Contact   xeroContact    `json:"Contact"`
	LineItems []xeroLineItem `json:"LineItems"`
	Date      string         `json:"Date,omitempty"`
	DueDate   string         `json:"DueDate,omitempty"`
	Reference string         `json:"Reference,omitempty"`
	Status    string         `json:"Status,omitempty"`
}

type xeroInvoicesResponse struct {
	Invoices []xeroInvoice `json:"Invoices"`
}

type xeroPayment struct {
	Invoice struct {
		InvoiceID string `json:"InvoiceID"`
	} `json:"Invoice"`
	Account struct {
		Code string `json:"Code"`
	} `json:"Account"`
	Date      string  `json:"Date"`
	Amount    float64 `json:"Amount"`
	Reference string  `json:"Reference,omitempty"`
}

type xeroPaymentsRequest struct {
	Payments []xeroPayment `json:"Payments"`
}

// FindContactsByEmail returns the active contacts matching an email.
func (x *XeroClient) FindContactsByEmail(ctx context.Context, email string) ([]AccountingContact, error) {
	where := fmt.Sprintf(`EmailAddress=="%s" AND ContactStatus=="ACTIVE"`, escapeXeroQuery(email))
	endpoint := x.APIBaseURL + "/Contacts?where=" + url.QueryEscape(where)

	var resp xeroContactsResponse
	if err := x.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	contacts := make([]AccountingContact, 0, len(resp.Contacts))
	for _, c := range resp.Contacts {
		contacts = append(contacts, AccountingContact{ID: c.ContactID, Name: c.Name, Email: c.EmailAddress})
	}
	return contacts, nil
}

// CreateContact creates a contact and returns it with the assigned id.
func (x *XeroClient) CreateContact(ctx context.Context, name, email string) (*AccountingContact, error) {
	body := xeroContactsResponse{Contacts: []xeroContact{{Name: name, EmailAddress: email}}}

	var resp xeroContactsResponse
	if err := x.do(ctx, http.MethodPost, x.APIBaseURL+"/Contacts", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Contacts) == 0 || resp.Contacts[0].ContactID == "" {
		return nil, errors.New("xero: contact response contained no contact id")
	}
	c := resp.Contacts[0]
	return &AccountingContact{ID: c.ContactID, Name: c.Name, Email: c.EmailAddress}, nil
}

// CreateInvoice creates an authorised ACCREC invoice with one line item
// and returns its id.
func (x *XeroClient) CreateInvoice(ctx context.Context, in AccountingInvoice) (string, error) {
	inv := xeroInvoice{
		Type:    "ACCREC",
		Contact: xeroContact{ContactID: in.ContactID},
		LineItems: []xeroLineItem{{
			Description: in.Description,
			Quantity:    1,
			UnitAmount:  centsToDecimal(in.AmountCents),
			AccountCode: in.AccountCode,
			TaxType:     in.TaxType,
		}},
		Date:      time.Now().UTC().Format("2006-01-02"),
		DueDate:   in.DueDate.UTC().Format("2006-01-02"),
		Reference: in.Reference,
		Status:    "AUTHORISED",
	}
	body := xeroInvoicesResponse{Invoices: []xeroInvoice{inv}}

	var resp xeroInvoicesResponse
	if err := x.do(ctx, http.MethodPost, x.APIBaseURL+"/Invoices", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Invoices) == 0 || resp.Invoices[0].InvoiceID == "" {
		return "", errors.New("xero: invoice response contained no invoice id")
	}
	return resp.Invoices[0].InvoiceID, nil
}

// RecordPayment applies a full payment against an invoice from the
// configured clearing account.
func (x *XeroClient) RecordPayment(ctx context.Context, invoiceID string, amountCents int64, reference string) error {
	var payment xeroPayment
	payment.Invoice.InvoiceID = invoiceID
	payment.Account.Code = x.PaymentAccountCode
	payment.Date = time.Now().UTC().Format("2006-01-02")
	payment.Amount = centsToDecimal(amountCents)
	payment.Reference = reference

	return x.do(ctx, http.MethodPut, x.APIBaseURL+"/Payments", xeroPaymentsRequest{Payments: []xeroPayment{payment}}, nil)
}

func (x *XeroClient) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("xero: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("xero: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Xero-Tenant-Id", x.TenantID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := x.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: xero request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: xero response read failed: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(data))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: xero %s %s returned %d: %s", ErrTransient, method, endpoint, resp.StatusCode, detail)
		}
		return fmt.Errorf("%w: xero %s %s returned %d: %s", ErrProviderRejected, method, endpoint, resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("xero: decode response: %w", err)
		}
	}
	return nil
}

func centsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

// escapeXeroQuery escapes quotes and backslashes inside a where clause
// string literal.
func escapeXeroQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
