package server

import (
	"github.com/gin-gonic/gin"

	"github.com/adam314315/rossbackend-sub000/internal/handlers"
)

type RouterConfig struct {
	MonitorHandler *handlers.MonitorHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.GET("/healthz", handlers.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.GET("/chains/:id/monitor", cfg.MonitorHandler.GetChainMonitor)
	}

	return router
}
