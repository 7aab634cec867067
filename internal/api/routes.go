package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"notification-relay/internal/middleware"
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, notifications *NotificationHandler) {
	r.Use(middleware.CorrelationIDMiddleware(), middleware.RequestLogger())

	api := r.Group("/api")
	{
		// App Store notification routes (no authentication, Apple calls these)
		appstore := api.Group("/appstore")
		{
			appstore.POST("/notifications", notifications.HandleNotification)
			appstore.POST("/notifications/production", notifications.HandleProductionNotification)
			appstore.POST("/notifications/sandbox", notifications.HandleSandboxNotification)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "notification-relay",
		})
	})
}
