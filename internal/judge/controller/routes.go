package controller

import (
	"simoj/internal/common/http/middleware"
	"simoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP handler with the standard middleware chain.
func NewRouter(h *JudgeController) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(middleware.AccessLogMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.POST("/submissions", h.CreateSubmission)
	api.GET("/submissions/:id", h.GetSubmission)
	api.GET("/rounds/:id/ranking", h.GetRanking)
	api.POST("/rounds/:id/ranking/rebuild", h.RebuildRanking)
	api.GET("/queue/stats", h.QueueStats)
	return router
}
