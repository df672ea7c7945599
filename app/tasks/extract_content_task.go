package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/database"
)

type ExtractContentTask struct {
	Task
	fetcher     PageFetcher
	extractor   ContentExtractor
	articleRepo ArticleContentStore
	invalidator articles.FeedCacheInvalidator
	maxItems    int
	timeout     time.Duration
}

func NewExtractContentTask(feedID string, fetcher PageFetcher, extractor ContentExtractor, articleRepo ArticleContentStore,
	invalidator articles.FeedCacheInvalidator, maxItems int, timeout time.Duration) *ExtractContentTask {
	return &ExtractContentTask{
		Task:        NewTask(TaskTypeExtractContent, feedID),
		fetcher:     fetcher,
		extractor:   extractor,
		articleRepo: articleRepo,
		invalidator: invalidator,
		maxItems:    maxItems,
		timeout:     timeout,
	}
}

func (t *ExtractContentTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	pending, err := t.articleRepo.GetArticlesMissingContent(ctx, t.FeedID, t.maxItems)
	if err != nil {
		return fmt.Errorf("failed to get articles for content extraction: %w", err)
	}

	if len(pending) == 0 {
		slog.Debug("No articles need content extraction", "feed_id", t.FeedID)
		return nil
	}

	successCount := 0
	errorCount := 0

	for _, article := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		extractCtx, cancel := context.WithTimeout(ctx, t.timeout)
		err := t.extractContentForArticle(extractCtx, article)
		cancel()

		if err != nil {
			slog.Error("Failed to extract content for article", "article_id", article.ID, "url", article.Link, "error", err)
			errorCount++
		} else {
			successCount++
		}
	}

	if successCount > 0 && t.invalidator != nil {
		if err := t.invalidator.Invalidate(ctx, t.FeedID); err != nil {
			slog.Warn("Failed to invalidate feed cache", "feed_id", t.FeedID, "error", err)
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"feed_id", t.FeedID,
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount)

	return nil
}

func (t *ExtractContentTask) extractContentForArticle(ctx context.Context, article database.Article) error {
	data, err := t.fetcher.FetchPage(ctx, article.Link)
	if err != nil {
		return fmt.Errorf("failed to fetch article page: %w", err)
	}

	extracted, err := t.extractor.Run(data, article.Link)
	if err != nil {
		return fmt.Errorf("failed to extract content: %w", err)
	}

	article.Content = extracted
	err = t.articleRepo.UpdateArticleContent(ctx, &article)
	if errors.Is(err, database.ErrConflict) {
		// changed by an ingest meanwhile; the next run picks it up if still empty
		slog.Debug("Article changed during extraction, skipping", "article_id", article.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}

	slog.Debug("Content extracted successfully", "article_id", article.ID, "url", article.Link, "content_length", len(extracted))
	return nil
}
