package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/cfg"
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/newsletter"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

// NewHandler wires the HTTP handlers. cache and newsletterGen may be nil when
// the corresponding backends are not configured.
func NewHandler(feedRepo database.FeedRepository, articleReader database.ArticleReader,
	service FeedService, lifecycle FeedDeleter, catalog *feed.Catalog,
	newsletterGen NewsletterGenerator, scheduler tasks.TaskSchedulerInterface, cache FeedCache) *Handler {
	return &Handler{
		feedRepo:      feedRepo,
		articleReader: articleReader,
		service:       service,
		lifecycle:     lifecycle,
		generator:     feed.NewGenerator(),
		catalog:       catalog,
		newsletter:    newsletterGen,
		scheduler:     scheduler,
		cache:         cache,
		maxItems:      cfg.Get().MaxItems,
	}
}

func (h *Handler) GetFeedByID(c *gin.Context) {
	ctx := c.Request.Context()
	feedID := c.Param("id")

	f, err := h.feedRepo.GetFeed(ctx, feedID)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed_id", feedID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if f == nil {
		c.Status(http.StatusNotFound)
		return
	}

	if h.cache != nil {
		cached, hit, err := h.cache.GetFeedRSS(ctx, feedID)
		if err != nil {
			slog.Warn("Cache error", "feed_id", feedID, "error", err)
		} else if hit {
			c.Header("Content-Type", "application/xml; charset=utf-8")
			c.Header("X-Cache", "HIT")
			c.String(http.StatusOK, cached)
			return
		}
	}

	feedArticles, err := h.articleReader.GetFeedArticles(ctx, feedID, h.maxItems)
	if err != nil {
		slog.Error("Database error", "operation", "get_articles", "feed_id", feedID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(*f, feedArticles)
	if err != nil {
		slog.Error("RSS generation error", "feed_id", feedID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetFeedRSS(ctx, feedID, rss); err != nil {
			slog.Warn("Failed to cache feed", "feed_id", feedID, "error", err)
		}
		c.Header("X-Cache", "MISS")
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(feedArticles)))
	c.Header("X-Last-Updated", f.UpdatedAt.Format(time.RFC3339))

	c.String(http.StatusOK, rss)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   cfg.Get().Version,
	}

	if feedCount, err := h.feedRepo.GetFeedCount(ctx); err == nil {
		health["feeds"] = feedCount
	} else {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
	}

	if h.catalog != nil {
		health["catalog_feeds"] = h.catalog.FeedCount()
	}
	if h.cache != nil {
		health["cache"] = h.cache.Health(ctx)
	}
	health["newsletter_enabled"] = h.newsletter != nil

	status := http.StatusOK
	if health["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	feedCount, err := h.feedRepo.GetFeedCount(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed_count", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	articleCount, err := h.articleReader.GetArticleCount(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "get_article_count", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds":    feedCount,
		"articles": articleCount,
	})
}

func (h *Handler) ListFeeds(c *gin.Context) {
	ctx := c.Request.Context()

	feeds, err := h.feedRepo.ListFeeds(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	response := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		item := toFeedResponse(f)
		if count, err := h.articleReader.GetFeedArticleCount(ctx, f.ID); err == nil {
			item.ArticleCount = &count
		}
		if h.catalog != nil {
			if entry, ok := h.catalog.FindByURL(f.URL); ok {
				item.CatalogName = entry.Name
			}
		}
		response = append(response, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": response,
		"total": len(response),
	})
}

func (h *Handler) CreateFeed(c *gin.Context) {
	var req addFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must contain a feed url"})
		return
	}

	created, result, err := h.service.AddFeed(c.Request.Context(), req.URL)
	if err != nil {
		slog.Warn("Failed to add feed", "url", req.URL, "error", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"feed":   toFeedResponse(*created),
		"result": toIngestResponse(result),
	})
}

func (h *Handler) RefreshFeed(c *gin.Context) {
	f, ok := h.loadFeed(c)
	if !ok {
		return
	}

	if err := h.scheduler.EnqueueFeedRefresh(*f); err != nil {
		slog.Error("Error enqueueing refresh task", "feed_id", f.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue refresh task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"feed":    toFeedResponse(*f),
	})
}

func (h *Handler) IngestFeedItems(c *gin.Context) {
	f, ok := h.loadFeed(c)
	if !ok {
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item list", "details": err.Error()})
		return
	}

	result, err := h.service.IngestFeed(c.Request.Context(), f.ID, req.Items)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toIngestResponse(result))
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	feedID := c.Param("id")

	if err := h.lifecycle.DeleteFeedSafely(c.Request.Context(), feedID); err != nil {
		var cleanupErr *articles.CleanupError
		if errors.As(err, &cleanupErr) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "Feed cleanup did not complete, the feed was kept",
				"articleId": cleanupErr.ArticleID,
				"processed": cleanupErr.Processed,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": feedID})
}

func (h *Handler) GetCatalog(c *gin.Context) {
	var categories []feed.CatalogCategory
	if h.catalog != nil {
		categories = h.catalog.Categories()
	}
	if categories == nil {
		categories = []feed.CatalogCategory{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// StreamNewsletter answers with server-sent events: one "partial" event per model chunk,
// then a "done" event with the last decodable newsletter.
func (h *Handler) StreamNewsletter(c *gin.Context) {
	if h.newsletter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Newsletter generation is not configured"})
		return
	}

	var req newsletter.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid newsletter request", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()

	selected, err := h.newsletter.Prepare(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Articles-Count", strconv.Itoa(len(selected)))
	c.Status(http.StatusOK)

	final, err := h.newsletter.Stream(ctx, req, selected, func(result newsletter.PartialResult) error {
		c.SSEvent("partial", result)
		c.Writer.Flush()
		return ctx.Err()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			slog.Debug("Newsletter stream cancelled by client")
			return
		}
		slog.Error("Newsletter stream failed", "error", err)
		c.SSEvent("error", gin.H{"error": err.Error()})
	}

	c.SSEvent("done", final)
	c.Writer.Flush()
}

func (h *Handler) loadFeed(c *gin.Context) (*database.Feed, bool) {
	feedID := c.Param("id")

	f, err := h.feedRepo.GetFeed(c.Request.Context(), feedID)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed_id", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return nil, false
	}

	return f, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, newsletter.ErrNoArticles):
		status = http.StatusNotFound
	case errors.Is(err, articles.ErrInvalidFeedURL), errors.Is(err, newsletter.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrDuplicateKey):
		status = http.StatusConflict
	case articles.IsFetchError(err):
		status = http.StatusUnprocessableEntity
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": message})
}
