package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/tkarlsen/mealcard/internal/auth"
	"github.com/tkarlsen/mealcard/internal/handlers"
	"github.com/tkarlsen/mealcard/internal/middleware"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/realtime"
	"github.com/tkarlsen/mealcard/internal/services"
)

// Services bundles everything the router mounts.
type Services struct {
	DB           *gorm.DB
	JWT          *iauth.JWTService
	Hub          *realtime.Hub
	Cards        *services.CardService
	Transactions *services.TransactionService
	Students     *services.StudentService
	Menu         *services.MenuService
	Reports      *services.ReportService
	Sync         *services.SyncService
	Operators    *services.OperatorService
	Audit        *services.AuditService
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(svc Services) (*gin.Engine, error) {
	if svc.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if svc.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if svc.Hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Public endpoints
	r.GET("/health", handlers.Health(svc.DB, svc.Sync))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(svc.Operators, svc.Audit)

	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
	}

	requireAuth := middleware.Auth(svc.JWT)
	canOperate := middleware.RequireRole(models.RoleOperator)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/password", authHandler.ChangePassword)

	// Realtime event feed
	realtimeHandler := handlers.NewRealtimeHandler(svc.Hub)
	api.GET("/ws", realtimeHandler.Serve)

	// Cards
	cardHandler := handlers.NewCardHandler(svc.Cards, svc.Audit)
	cards := api.Group("/cards")
	{
		cards.POST("/scan", canOperate, cardHandler.Scan)
		cards.GET("", cardHandler.List)
		cards.POST("", canOperate, cardHandler.Register)
		cards.GET("/:uid", cardHandler.Get)
		cards.GET("/:uid/balance", cardHandler.Balance)
		cards.GET("/:uid/qr", cardHandler.QR)
		cards.PATCH("/:uid/status", canOperate, cardHandler.UpdateStatus)
	}

	// Transactions
	txnHandler := handlers.NewTransactionHandler(svc.Transactions, svc.Audit, svc.Hub)
	txns := api.Group("/transactions")
	{
		txns.POST("/load", canOperate, txnHandler.LoadFunds)
		txns.POST("/purchase", canOperate, txnHandler.Purchase)
		txns.POST("/refund", canOperate, txnHandler.Refund)
		txns.POST("/adjust", adminOnly, txnHandler.Adjust)
		txns.GET("", txnHandler.List)
		txns.GET("/:reference", txnHandler.Get)
	}

	// Students
	studentHandler := handlers.NewStudentHandler(svc.Students, svc.Audit)
	students := api.Group("/students")
	{
		students.GET("", studentHandler.List)
		students.GET("/low-balance", studentHandler.LowBalance)
		students.POST("", canOperate, studentHandler.Create)
		students.GET("/:id", studentHandler.Get)
		students.PATCH("/:id", canOperate, studentHandler.Update)
		students.DELETE("/:id", adminOnly, studentHandler.Delete)
	}

	// Menu
	menuHandler := handlers.NewMenuHandler(svc.Menu)
	menu := api.Group("/menu")
	{
		menu.GET("", menuHandler.List)
		menu.GET("/:id", menuHandler.Get)
		menu.POST("", canOperate, menuHandler.Create)
		menu.PATCH("/:id", canOperate, menuHandler.Update)
		menu.DELETE("/:id", adminOnly, menuHandler.Delete)
		menu.POST("/:id/restock", canOperate, menuHandler.Restock)
	}

	// Reports
	reportHandler := handlers.NewReportHandler(svc.Reports)
	reports := api.Group("/reports")
	{
		reports.GET("/daily", reportHandler.Daily)
		reports.GET("/students/:id/statement", reportHandler.Statement)
	}

	// Sync
	syncHandler := handlers.NewSyncHandler(svc.Sync, svc.Audit, svc.Hub)
	sync := api.Group("/sync")
	{
		sync.GET("/status", syncHandler.Status)
		sync.GET("/operations", syncHandler.Operations)
		sync.POST("/run", canOperate, syncHandler.Run)
		sync.POST("/retry", canOperate, syncHandler.Retry)
	}

	// Operators (admin)
	operatorHandler := handlers.NewOperatorHandler(svc.Operators, svc.Audit)
	operators := api.Group("/operators", adminOnly)
	{
		operators.GET("", operatorHandler.List)
		operators.POST("", operatorHandler.Create)
		operators.PATCH("/:id/active", operatorHandler.SetActive)
	}

	// Audit trail (admin)
	auditHandler := handlers.NewAuditHandler(svc.Audit)
	api.GET("/audit", adminOnly, auditHandler.List)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
