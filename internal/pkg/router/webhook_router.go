package router

import (
	"github.com/BridgeToWork/BridgeToWork/app/controllers"
	"github.com/gofiber/fiber/v2"
)

// WebhookRouter carries the provider callback routes. They live outside
// the /api prefix so the rate limiter never throttles a redelivery
// burst; the controller authenticates every payload by signature.
type WebhookRouter struct {
	billing *controllers.BillingController
}

func NewWebhookRouter(billing *controllers.BillingController) *WebhookRouter {
	return &WebhookRouter{billing: billing}
}

func (h *WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/stripe", h.billing.HandleStripeWebhook)
}
