package billing

import (
	"time"

	"github.com/BridgeToWork/BridgeToWork/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing services. Every
// mutation that enforces an invariant is expressed as a conditional
// write so the system stays correct across multiple stateless instances
// without in-process locking.
type Repository interface {
	GetUser(id uint) (*models.User, error)
	SetStripeCustomerIDIfEmpty(userID uint, customerID string) (bool, error)
	SetUserPlan(userID uint, plan, subscriptionID string) error

	GetProduct(id string) (*models.Product, error)

	CreateOrder(order *models.Order) error
	GetOrder(id string) (*models.Order, error)
	GetOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error)
	FinalizeOrderIfPending(paymentIntentID, status string, amountCents int64, completedAt *time.Time) (bool, error)
	AttachOrderInvoiceIfUnset(orderID, invoiceID string) (bool, error)
	MarkOrderPaymentRecorded(orderID string) error

	UpsertSubscription(sub *models.Subscription) error
	GetSubscription(id string) (*models.Subscription, error)
	MarkSubscriptionCanceled(id string) (bool, error)
	AttachSubscriptionInvoiceIfUnset(subscriptionID, invoiceID string) (bool, error)
	MarkSubscriptionPaymentRecorded(subscriptionID string) error

	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SetStripeCustomerIDIfEmpty persists the provider customer id only if
// no id is stored yet. Returns false when another writer won the race.
func (r *gormRepository) SetStripeCustomerIDIfEmpty(userID uint, customerID string) (bool, error) {
	tx := r.db.Model(&models.User{}).
		Where("id = ? AND stripe_customer_id = ?", userID, "").
		Update("stripe_customer_id", customerID)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SetUserPlan(userID uint, plan, subscriptionID string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"plan":            plan,
		"subscription_id": subscriptionID,
	}).Error
}

func (r *gormRepository) GetProduct(id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *gormRepository) CreateOrder(order *models.Order) error {
	return r.db.Create(order).Error
}

func (r *gormRepository) GetOrder(id string) (*models.Order, error) {
	var order models.Order
	if err := r.db.First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.First(&order, "stripe_payment_intent_id = ?", paymentIntentID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FinalizeOrderIfPending transitions an order out of pending. The status
// guard in the WHERE clause is what makes terminal states sticky.
func (r *gormRepository) FinalizeOrderIfPending(paymentIntentID, status string, amountCents int64, completedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status": status,
	}
	if amountCents > 0 {
		updates["amount_cents"] = amountCents
	}
	if completedAt != nil {
		updates["completed_at"] = completedAt
	}
	tx := r.db.Model(&models.Order{}).
		Where("stripe_payment_intent_id = ? AND status = ?", paymentIntentID, models.OrderStatusPending).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) AttachOrderInvoiceIfUnset(orderID, invoiceID string) (bool, error) {
	tx := r.db.Model(&models.Order{}).
		Where("id = ? AND xero_invoice_id = ?", orderID, "").
		Update("xero_invoice_id", invoiceID)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkOrderPaymentRecorded(orderID string) error {
	return r.db.Model(&models.Order{}).
		Where("id = ? AND xero_invoice_id <> ?", orderID, "").
		Update("payment_recorded", true).Error
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"product_id",
			"status",
			"current_period_end",
			"cancel_at_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Re-read so invoice linkage columns reflect the stored row.
	return r.db.First(sub, "id = ?", sub.ID).Error
}

func (r *gormRepository) GetSubscription(id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) MarkSubscriptionCanceled(id string) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":               models.SubscriptionStatusCanceled,
			"cancel_at_period_end": false,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) AttachSubscriptionInvoiceIfUnset(subscriptionID, invoiceID string) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND xero_invoice_id = ?", subscriptionID, "").
		Update("xero_invoice_id", invoiceID)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkSubscriptionPaymentRecorded(subscriptionID string) error {
	return r.db.Model(&models.Subscription{}).
		Where("id = ? AND xero_invoice_id <> ?", subscriptionID, "").
		Update("payment_recorded", true).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
