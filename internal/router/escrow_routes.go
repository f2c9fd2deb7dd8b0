package router

import (
	"escrow-backend/internal/app"
	"escrow-backend/internal/handlers"
	"escrow-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupEscrowRoutes wires the escrow ledger and settlement API routes
func SetupEscrowRoutes(r *gin.Engine, container *app.ServiceContainer, localhostOnly *middleware.LocalhostOnly) {
	escrowHandler := handlers.NewEscrowHandler(container.EscrowService, container.EventRepo)
	settlementHandler := handlers.NewSettlementHandler(container.SettlementNode)
	wsHandler := handlers.NewWebSocketHandler(container.WebSocketPushService)
	adminAuthHandler := handlers.NewAdminAuthHandler()
	adminVaultHandler := handlers.NewAdminVaultHandler(container.EscrowService)

	adminAuth := middleware.NewAdminAuthMiddleware(logrus.New())

	api := r.Group("/api")
	{
		// ============ Health Check ============
		api.GET("/health", handlers.HealthHandler)
		r.GET("/health", handlers.HealthHandler)

		// ============ Escrow Ledger ============
		escrow := api.Group("/escrow")
		{
			escrow.POST("/deposit", escrowHandler.DepositHandler)
			escrow.POST("/withdraw", escrowHandler.WithdrawHandler)
			escrow.POST("/opt-in", escrowHandler.OptInHandler)
			escrow.POST("/opt-out", escrowHandler.OptOutHandler)
			escrow.GET("/accounts/:address", escrowHandler.GetAccountHandler)
		}

		// ============ Ledger Events ============
		api.GET("/events", escrowHandler.ListEventsHandler)

		// ============ Settlement Protocol ============
		settlement := api.Group("/settlement")
		{
			settlement.POST("/quote", settlementHandler.QuoteHandler)
			settlement.POST("/send", settlementHandler.SendHandler)
			settlement.GET("/accounting/:recipient", settlementHandler.AccountingHandler)
		}

		// ============ WebSocket Event Feed ============
		api.GET("/ws/events", wsHandler.SubscribeHandler)

		// ============ Admin (JWT + TOTP, IP whitelisted) ============
		api.POST("/admin/login", localhostOnly.Restrict(), adminAuthHandler.AdminLoginHandler)

		admin := api.Group("/admin")
		admin.Use(localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
		{
			admin.POST("/settlement/peers", settlementHandler.SetPeerHandler)
			admin.POST("/escrow/vault", adminVaultHandler.SetVaultHandler)
		}
	}
}
