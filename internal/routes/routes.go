// Package routes defines the API routing configuration. It wires the
// repositories, services and handlers and groups routes by the access
// they require.
package routes

import (
	"log"

	"malipo/internal/config"
	"malipo/internal/handlers"
	"malipo/internal/middleware"
	"malipo/internal/models"
	"malipo/internal/repositories"
	"malipo/internal/services/audit"
	"malipo/internal/services/ledger"
	"malipo/internal/services/mpesa"
	"malipo/internal/services/notification"
	"malipo/internal/services/topup"
	"malipo/internal/services/wallet"
	"malipo/internal/services/withdrawal"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, db *gorm.DB) {
	// Repositories
	walletRepo := repositories.NewWalletRepository(db)
	withdrawalRepo := repositories.NewWithdrawalRepository(db)

	// Cross-cutting collaborators
	auditService := audit.NewService()
	notifyService := notification.NewService()

	// Services
	ledgerService := ledger.NewService(walletRepo, nil)
	walletService := wallet.NewService(walletRepo, repositories.CacheService, auditService)
	withdrawalService := withdrawal.NewService(walletRepo, withdrawalRepo, ledgerService, auditService)

	mpesaClient, err := mpesa.NewClient(config.LoadMpesaConfig())
	if err != nil {
		// Top-ups are unavailable without gateway credentials; the rest
		// of the API still serves.
		log.Printf("mpesa gateway disabled: %v", err)
	}

	var topupService topup.Service
	if mpesaClient != nil {
		sessions := topup.NewRedisSessionStore(repositories.CacheService)
		topupService = topup.NewService(walletRepo, ledgerService, mpesaClient, sessions, auditService, notifyService)
	}

	// Handlers
	walletHandler := handlers.NewWalletHandler(walletService)
	transferHandler := handlers.NewTransferHandler(walletService, ledgerService)
	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService, walletService)

	app.Get("/health", handlers.HealthCheck)

	api := app.Group("/api")

	// Gateway callback is unauthenticated; the gateway cannot present a
	// bearer token.
	var topupHandler *handlers.TopupHandler
	if topupService != nil {
		topupHandler = handlers.NewTopupHandler(topupService)
		api.Post("/payments/mpesa/callback", topupHandler.Callback)

		protectedTopup := api.Group("/topup", middleware.Auth)
		protectedTopup.Post("/", topupHandler.Initiate)
		protectedTopup.Get("/:checkoutID/confirm", topupHandler.Confirm)
	}

	// Authenticated user routes
	protected := api.Group("", middleware.Auth)

	walletGroup := protected.Group("/wallet")
	walletGroup.Post("/", middleware.HasPermission(models.PermissionWalletWrite), walletHandler.CreateWallet)
	walletGroup.Get("/", middleware.HasPermission(models.PermissionWalletRead), walletHandler.GetWallet)
	walletGroup.Get("/transactions", middleware.HasPermission(models.PermissionWalletRead), walletHandler.GetHistory)
	walletGroup.Post("/pin", middleware.HasPermission(models.PermissionWalletWrite), walletHandler.SetPin)

	protected.Post("/transfer", middleware.HasPermission(models.PermissionWalletWrite), transferHandler.Transfer)

	withdrawals := protected.Group("/withdrawals")
	withdrawals.Post("/", middleware.HasPermission(models.PermissionWithdrawalWrite), withdrawalHandler.Request)
	withdrawals.Get("/", withdrawalHandler.List)
	withdrawals.Get("/:withdrawalID", withdrawalHandler.Get)
	withdrawals.Post("/:withdrawalID/cancel", middleware.HasPermission(models.PermissionWithdrawalWrite), withdrawalHandler.Cancel)

	// Settlement resolution is open to service accounts holding the
	// permission as well as privileged roles.
	settlement := api.Group("/operator/withdrawals", middleware.Auth, middleware.HasPermission(models.PermissionSettlementManage))
	settlement.Post("/:withdrawalID/processing", withdrawalHandler.MarkProcessing)
	settlement.Post("/:withdrawalID/resolve", withdrawalHandler.Resolve)

	// Operator routes
	operator := api.Group("/operator", middleware.Auth, middleware.RequirePrivileged)
	operator.Post("/wallets/:id/freeze", walletHandler.Freeze)
	operator.Post("/wallets/:id/unfreeze", walletHandler.Unfreeze)
	if topupHandler != nil {
		operator.Get("/topups/:checkoutID/status", topupHandler.GatewayStatus)
	}
}
