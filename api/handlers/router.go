package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/ipmbridge/internal/bridge"
	"github.com/remote-agent-terminal/ipmbridge/internal/ws"
)

// NewRouter builds the HTTP API for service.
func NewRouter(service *bridge.Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Enable CORS for development
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":   "ok",
			"sessions": service.Registry().Len(),
		})
	})

	sessionHandler := NewSessionHandler(service)
	wsHandler := NewWebSocketHandler(service, ws.NewHandler(service.Hubs()))

	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}
	return r
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
