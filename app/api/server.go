package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/rss-digest/app/cfg"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler) *gin.Engine {
	if cfg.Get().Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/feeds/:id", handler.GetFeedByID)

	r.GET("/health", handler.HealthCheck)
	r.GET("/stats", handler.GetStats)

	api := r.Group("/api")
	{
		api.GET("/feeds", handler.ListFeeds)
		api.POST("/feeds", handler.CreateFeed)
		api.POST("/feeds/:id/refresh", handler.RefreshFeed)
		api.POST("/feeds/:id/items", handler.IngestFeedItems)
		api.DELETE("/feeds/:id", handler.DeleteFeed)
		api.GET("/catalog", handler.GetCatalog)
		api.POST("/newsletter/stream", handler.StreamNewsletter)
	}

	if handler.newsletter == nil {
		slog.Info("Newsletter generation disabled (COHERE_API_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "RSS Digest",
			"version":     cfg.Get().Version,
			"description": "Multi-source RSS aggregation with article deduplication and newsletter generation",
			"endpoints": map[string]string{
				"feed":       "/feeds/<id>",
				"health":     "/health",
				"stats":      "/stats",
				"feeds":      "/api/feeds",
				"catalog":    "/api/catalog",
				"newsletter": "/api/newsletter/stream (POST, text/event-stream)",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}
