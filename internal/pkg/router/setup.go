package router

import (
	"github.com/BridgeToWork/BridgeToWork/app/controllers"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all route groups. Webhook routes install
// first because they must sit outside the API rate limiter.
func InstallRouter(app *fiber.App, billing *controllers.BillingController, users *controllers.UserController) {
	setup(app, NewWebhookRouter(billing), NewApiRouter(billing, users))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
