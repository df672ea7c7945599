package tasks

import (
	"context"

	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/database"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Example usage:
//
//	scheduler := NewScheduler(feedRepo, articleRepo, service, fetcher, extractor, cache)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueFeedRefresh(feed)
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueFeedRefresh(feed database.Feed) error
}

type FeedRefresher interface {
	RefreshFeed(ctx context.Context, feed database.Feed) (articles.IngestResult, error)
}

type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

type ContentExtractor interface {
	Run(data []byte, pageURL string) (string, error)
}

type ArticleContentStore interface {
	GetArticlesMissingContent(ctx context.Context, feedID string, limit int) ([]database.Article, error)
	UpdateArticleContent(ctx context.Context, article *database.Article) error
}
