package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, log *zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery(log))
	router.Use(CORS())
	router.Use(Logger(log))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/runs", handler.GetRuns)

		runs := v1.Group("/runs/:id")
		{
			runs.GET("", handler.GetRun)
			runs.GET("/repositories", handler.GetRepositories)
			runs.GET("/pull-requests", handler.GetPullRequests)
			runs.GET("/questions", handler.GetQuestions)
			runs.GET("/languages", handler.GetLanguages)
		}
	}

	return router
}
