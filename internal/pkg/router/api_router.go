package router

import (
	"github.com/BridgeToWork/BridgeToWork/app/controllers"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	billing *controllers.BillingController
	users   *controllers.UserController
}

func NewApiRouter(billing *controllers.BillingController, users *controllers.UserController) *ApiRouter {
	return &ApiRouter{billing: billing, users: users}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	users := v1.Group("/users")
	users.Post("/", h.users.HandleCreateUser)
	users.Get("/:id", h.users.HandleGetUser)
	users.Patch("/:id", h.users.HandleUpdateUser)

	billing := v1.Group("/billing")
	billing.Get("/products", h.billing.HandleListProducts)
	billing.Post("/checkout", h.billing.HandleCheckout)
	billing.Post("/subscribe", h.billing.HandleSubscribe)
	billing.Post("/subscriptions/:id/cancel", h.billing.HandleCancelSubscription)
}
