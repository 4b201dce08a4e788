package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BridgeToWork/BridgeToWork/app/models"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/opsqueue"
	"gorm.io/gorm"
)

// memoryRepository is an in-memory Repository with the same conditional
// write semantics as the GORM implementation.
type memoryRepository struct {
	mu            sync.Mutex
	users         map[uint]*models.User
	products      map[string]*models.Product
	orders        map[string]*models.Order
	subscriptions map[string]*models.Subscription
	webhookEvents map[string]*models.BillingWebhookEvent
	nextEventID   uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		users:         make(map[uint]*models.User),
		products:      make(map[string]*models.Product),
		orders:        make(map[string]*models.Order),
		subscriptions: make(map[string]*models.Subscription),
		webhookEvents: make(map[string]*models.BillingWebhookEvent),
	}
}

func (m *memoryRepository) addUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *memoryRepository) addProduct(p *models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
}

func (m *memoryRepository) GetUser(id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryRepository) SetStripeCustomerIDIfEmpty(userID uint, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.StripeCustomerID != "" {
		return false, nil
	}
	u.StripeCustomerID = customerID
	return true, nil
}

func (m *memoryRepository) SetUserPlan(userID uint, plan, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.Plan = plan
	u.SubscriptionID = subscriptionID
	return nil
}

func (m *memoryRepository) GetProduct(id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryRepository) CreateOrder(order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.StripePaymentIntentID == order.StripePaymentIntentID {
			return fmt.Errorf("duplicate payment intent %s", order.StripePaymentIntentID)
		}
	}
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *memoryRepository) GetOrder(id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memoryRepository) GetOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.StripePaymentIntentID == paymentIntentID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) FinalizeOrderIfPending(paymentIntentID, status string, amountCents int64, completedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.StripePaymentIntentID != paymentIntentID {
			continue
		}
		if o.Status != models.OrderStatusPending {
			return false, nil
		}
		o.Status = status
		if amountCents > 0 {
			o.AmountCents = amountCents
		}
		if completedAt != nil {
			t := *completedAt
			o.CompletedAt = &t
		}
		return true, nil
	}
	return false, nil
}

func (m *memoryRepository) AttachOrderInvoiceIfUnset(orderID, invoiceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.XeroInvoiceID != "" {
		return false, nil
	}
	o.XeroInvoiceID = invoiceID
	return true, nil
}

func (m *memoryRepository) MarkOrderPaymentRecorded(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if ok && o.XeroInvoiceID != "" {
		o.PaymentRecorded = true
	}
	return nil
}

func (m *memoryRepository) UpsertSubscription(sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.subscriptions[sub.ID]; ok {
		existing.UserID = sub.UserID
		existing.ProductID = sub.ProductID
		existing.Status = sub.Status
		existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
		existing.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		existing.RawPayloadJSON = sub.RawPayloadJSON
		*sub = *existing
		return nil
	}
	cp := *sub
	m.subscriptions[sub.ID] = &cp
	return nil
}

func (m *memoryRepository) GetSubscription(id string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memoryRepository) MarkSubscriptionCanceled(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return false, nil
	}
	s.Status = models.SubscriptionStatusCanceled
	s.CancelAtPeriodEnd = false
	return true, nil
}

func (m *memoryRepository) AttachSubscriptionInvoiceIfUnset(subscriptionID, invoiceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[subscriptionID]
	if !ok || s.XeroInvoiceID != "" {
		return false, nil
	}
	s.XeroInvoiceID = invoiceID
	return true, nil
}

func (m *memoryRepository) MarkSubscriptionPaymentRecorded(subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[subscriptionID]
	if ok && s.XeroInvoiceID != "" {
		s.PaymentRecorded = true
	}
	return nil
}

func (m *memoryRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := m.webhookEvents[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	m.nextEventID++
	cp := *event
	cp.ID = m.nextEventID
	m.webhookEvents[key] = &cp
	out := cp
	return true, &out, nil
}

func (m *memoryRepository) MarkWebhookProcessed(id uint, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.webhookEvents {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return nil
}

func (m *memoryRepository) webhookEvent(provider, eventID string) *models.BillingWebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.webhookEvents[provider+"/"+eventID]; ok {
		cp := *ev
		return &cp
	}
	return nil
}

// fakeGateway is a scriptable PaymentGateway with call counters.
type fakeGateway struct {
	mu sync.Mutex

	customerID   string
	customerErr  error
	createdCusts int

	intent        *PaymentIntentResult
	intentErr     error
	createdPIs    int
	lastPIInput   CreatePaymentIntentInput
	lastCustInput CreateCustomerInput

	subscription *SubscriptionResult
	subErr       error
	createdSubs  int
	lastSubInput CreateSubscriptionInput

	cancelErr     error
	canceledIDs   []string
	verifyEvent   *Event
	verifyErr     error
	verifiedCalls int
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, in CreateCustomerInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdCusts++
	f.lastCustInput = in
	if f.customerErr != nil {
		return "", f.customerErr
	}
	return f.customerID, nil
}

func (f *fakeGateway) CreatePaymentIntent(ctx context.Context, in CreatePaymentIntentInput) (*PaymentIntentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdPIs++
	f.lastPIInput = in
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return f.intent, nil
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*SubscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdSubs++
	f.lastSubInput = in
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f.subscription, nil
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceledIDs = append(f.canceledIDs, subscriptionID)
	return nil
}

func (f *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifiedCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	ev := *f.verifyEvent
	ev.RawPayload = payload
	return &ev, nil
}

// fakeAccounting is a scriptable AccountingClient with call counters.
type fakeAccounting struct {
	mu sync.Mutex

	contacts    []AccountingContact
	findErr     error
	findCalls   int
	createdID   string
	createErr   error
	createCalls int

	invoiceIDs     []string
	invoiceErr     error
	invoiceCalls   int
	lastInvoice    AccountingInvoice
	paymentErr     error
	paymentCalls   int
	paidInvoiceIDs []string
}

func (f *fakeAccounting) FindContactsByEmail(ctx context.Context, email string) ([]AccountingContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.contacts, nil
}

func (f *fakeAccounting) CreateContact(ctx context.Context, name, email string) (*AccountingContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &AccountingContact{ID: f.createdID, Name: name, Email: email}, nil
}

func (f *fakeAccounting) CreateInvoice(ctx context.Context, in AccountingInvoice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoiceCalls++
	f.lastInvoice = in
	if f.invoiceErr != nil {
		return "", f.invoiceErr
	}
	id := fmt.Sprintf("inv_%d", f.invoiceCalls)
	if len(f.invoiceIDs) > 0 {
		id = f.invoiceIDs[0]
		f.invoiceIDs = f.invoiceIDs[1:]
	}
	return id, nil
}

func (f *fakeAccounting) RecordPayment(ctx context.Context, invoiceID string, amountCents int64, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentCalls++
	if f.paymentErr != nil {
		return f.paymentErr
	}
	f.paidInvoiceIDs = append(f.paidInvoiceIDs, invoiceID)
	return nil
}

// fakeAlerts records published alerts.
type fakeAlerts struct {
	mu     sync.Mutex
	alerts []opsqueue.Alert
}

func (f *fakeAlerts) Publish(ctx context.Context, alert opsqueue.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
}

func (f *fakeAlerts) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, a.Kind)
	}
	return out
}
