// Escrow API configuration - task lifecycle, escrow settlement and disputes
package router

import (
	"escrow-backend/internal/app"
	"escrow-backend/internal/config"
	"escrow-backend/internal/handlers"
	"escrow-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupEscrowRoutes mounts the escrow API route groups.
func SetupEscrowRoutes(r *gin.Engine, container *app.ServiceContainer) {
	taskHandler := handlers.NewTaskHandler(container.Settlement, container.TaskRepo, container.SubmissionRepo)
	escrowHandler := handlers.NewEscrowHandler(container.Settlement, container.EscrowRepo)
	submissionHandler := handlers.NewSubmissionHandler(container.Settlement, container.SubmissionRepo)
	disputeHandler := handlers.NewDisputeHandler(container.Settlement, container.DisputeRepo)
	paymentHandler := handlers.NewPaymentHandler(container.EscrowRepo)
	wsHandler := handlers.NewWebSocketHandler(container.PushService)

	identity := middleware.UserIdentity()

	api := r.Group("/api")
	{
		// ============ Tasks ============
		tasks := api.Group("/tasks")
		tasks.Use(identity)
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("", taskHandler.ListTasks)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.GET("/:id/submissions", taskHandler.ListTaskSubmissions)
			tasks.POST("/:id/cancel", taskHandler.CancelTask)
		}

		// ============ Escrow ============
		escrow := api.Group("/escrow")
		escrow.Use(identity)
		{
			escrow.POST("/deposit", escrowHandler.Deposit)
			escrow.GET("/task/:taskId", escrowHandler.GetByTask)
			escrow.POST("/release", escrowHandler.Release)
			escrow.POST("/refund", escrowHandler.Refund)
		}

		// ============ Submissions ============
		submissions := api.Group("/submissions")
		submissions.Use(identity)
		{
			submissions.POST("", submissionHandler.SubmitWork)
			submissions.GET("/:id", submissionHandler.GetSubmission)
			submissions.POST("/:id/verify", submissionHandler.RunVerification)
		}

		// ============ Disputes ============
		disputes := api.Group("/disputes")
		disputes.Use(identity)
		{
			disputes.POST("", disputeHandler.OpenDispute)
			disputes.GET("", disputeHandler.ListDisputes)
		}

		// ============ Payments ============
		payments := api.Group("/payments")
		payments.Use(identity)
		{
			payments.GET("/history", paymentHandler.History)
			payments.GET("/summary", paymentHandler.Summary)
		}
	}

	// ============ WebSocket push ============
	r.GET("/ws", identity, wsHandler.Subscribe)

	// ============ Admin (IP whitelisted + JWT) ============
	var allowedIPs []string
	if config.AppConfig != nil {
		allowedIPs = config.AppConfig.Admin.AllowedIPs
	}
	if len(allowedIPs) > 0 {
		logrus.WithFields(logrus.Fields{
			"allowed_ips": allowedIPs,
			"count":       len(allowedIPs),
		}).Info("Admin API IP whitelist configured")
	} else {
		logrus.Info("No admin.allowedIPs configured, using localhost-only mode")
	}

	adminAuthHandler := handlers.NewAdminAuthHandler()
	adminHandler := handlers.NewAdminHandler(container.Sweeper, container.DeadLetterRepo)

	admin := r.Group("/admin")
	admin.Use(middleware.IPAllowlist(allowedIPs))
	{
		admin.POST("/login", adminAuthHandler.AdminLoginHandler)
		admin.POST("/totp/generate", adminAuthHandler.GenerateTOTPSecretHandler)

		secured := admin.Group("")
		secured.Use(middleware.AdminAuth())
		{
			secured.POST("/cron/sweep", adminHandler.TriggerSweep)
			secured.GET("/dead-letters", adminHandler.ListDeadLetters)
			secured.POST("/disputes/:id/resolve", disputeHandler.ResolveDispute)
		}
	}
}
