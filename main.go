package main

import (
	"context"
	"fmt"
	"log"

	"github.com/BridgeToWork/BridgeToWork/app/controllers"
	"github.com/BridgeToWork/BridgeToWork/app/repository"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/billing"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/cache"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/database"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/env"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/opsqueue"
	"github.com/BridgeToWork/BridgeToWork/internal/pkg/router"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	app, err := NewApplication()
	if err != nil {
		log.Fatal(err)
	}
	err = app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, error) {
	env.SetupEnvFile()
	if err := env.Require(
		"STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"XERO_CLIENT_ID",
		"XERO_CLIENT_SECRET",
		"XERO_TENANT_ID",
	); err != nil {
		return nil, err
	}

	database.SetupDatabase()
	cache.SetupCache()

	gateway, err := billing.NewStripeGatewayFromEnv()
	if err != nil {
		return nil, err
	}
	xero, err := billing.NewXeroClientFromEnv(context.Background())
	if err != nil {
		return nil, err
	}

	db := database.GetDB()
	ledger := billing.NewLedgerFromDB(db)
	alerts := opsqueue.New()
	sync := billing.NewInvoiceSynchronizer(ledger, xero, alerts)
	processor := billing.NewWebhookProcessor(gateway, ledger, sync, alerts)
	initiator := billing.NewChargeInitiator(ledger, billing.NewCustomerResolver(ledger, gateway), gateway)

	factory := repository.NewFactory(db)
	billingController := controllers.NewBillingController(processor, initiator, factory.GetProductRepository())
	userController := controllers.NewUserController(factory.GetUserRepository())

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app, billingController, userController)

	return app, nil
}
