package api

import (
	"dealflow/internal/metrics"
	"dealflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(ops *OpsHandler) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", ops.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/queue", ops.ListQueue)
		v1.GET("/queue/:id", ops.GetQueueEntry)
		v1.POST("/queue/:id/retry", ops.RetryQueueEntry)
		v1.POST("/queue/:id/cancel", ops.CancelQueueEntry)
		v1.GET("/worker/status", ops.WorkerStatus)
		v1.GET("/settings", ops.GetSettings)
		v1.PUT("/settings/:key", ops.PutSetting)
		v1.GET("/inbound", ops.ListInbound)
		v1.POST("/inbound", ops.IntakeInbound)
		v1.POST("/extractor/query", ops.QueryExtractor)
	}
	return r
}
