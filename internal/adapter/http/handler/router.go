package handler

import (
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	RateProvider   ports.RateProvider
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallets := v1.Group("/wallets/:user_id")
	{
		wallets.POST("/fund", walletHandler.Fund)
		wallets.POST("/convert", walletHandler.Convert)
		wallets.POST("/withdraw", walletHandler.Withdraw)
		wallets.GET("/balances", walletHandler.GetBalances)
		wallets.GET("/transactions", walletHandler.ListTransactions)
		wallets.GET("/transactions/:id", walletHandler.GetTransaction)
	}

	fxHandler := NewFXHandler(deps.RateProvider)
	fx := v1.Group("/fx")
	{
		fx.GET("/rates", fxHandler.GetRates)
	}

	return r
}
