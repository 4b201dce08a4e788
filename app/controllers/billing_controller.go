package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BridgeToWork/BridgeToWork/app/repository"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/billing"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

const billingRequestTimeout = 15 * time.Second

// BillingController exposes checkout, subscription and webhook
// endpoints over the billing services.
type BillingController struct {
	processor *billing.WebhookProcessor
	initiator *billing.ChargeInitiator
	products  repository.ProductRepository
	validate  *validator.Validate
}

func NewBillingController(processor *billing.WebhookProcessor, initiator *billing.ChargeInitiator, products repository.ProductRepository) *BillingController {
	return &BillingController{
		processor: processor,
		initiator: initiator,
		products:  products,
		validate:  validator.New(),
	}
}

// HandleStripeWebhook receives provider deliveries. The response code
// steers the provider's retry behavior: 2xx acknowledges, 400 stops
// redelivery of unauthenticated payloads, 5xx requests redelivery.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	if err := bc.processor.HandleEvent(ctx, rawBody, signature); err != nil {
		if errors.Is(err, billing.ErrAuthenticationFailed) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

type checkoutRequest struct {
	UserID    uint   `json:"user_id" validate:"required,gt=0"`
	ProductID string `json:"product_id" validate:"required"`
}

// HandleCheckout creates a one-time payment intent for a catalog
// product and returns the client secret the frontend confirms with.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request_body"})
	}
	if err := bc.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "detail": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	res, err := bc.initiator.CreateCharge(ctx, req.UserID, req.ProductID)
	if err != nil {
		return bc.chargeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"client_secret": res.ClientSecret,
		"order_id":      res.OrderID,
	})
}

// HandleSubscribe creates a provider subscription with an incomplete
// first invoice and returns its confirmation secret.
func (bc *BillingController) HandleSubscribe(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request_body"})
	}
	if err := bc.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "detail": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	res, err := bc.initiator.CreateSubscriptionCharge(ctx, req.UserID, req.ProductID)
	if err != nil {
		return bc.chargeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"client_secret":   res.ClientSecret,
		"subscription_id": res.SubscriptionID,
	})
}

// HandleCancelSubscription forwards a cancellation to the provider. The
// local row changes only when the deletion webhook comes back.
func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	subscriptionID := strings.TrimSpace(c.Params("id"))
	if subscriptionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "subscription_id_required"})
	}
	immediate := c.QueryBool("immediate", false)

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	if err := bc.initiator.CancelSubscription(ctx, subscriptionID, immediate); err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
		}
		return bc.chargeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

// HandleListProducts returns the purchasable catalog.
func (bc *BillingController) HandleListProducts(c *fiber.Ctx) error {
	products, err := bc.products.ListActive()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "catalog_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"products": products})
}

func (bc *BillingController) chargeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
	case errors.Is(err, billing.ErrProductNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "product_not_found"})
	case errors.Is(err, billing.ErrProviderRejected):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "provider_rejected", "detail": err.Error()})
	case errors.Is(err, billing.ErrTransient):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}
