package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrConflict is returned when a versioned write finds the row changed or gone since it was read.
	ErrConflict = errors.New("concurrent modification")
)

type FeedRepository interface {
	GetFeed(ctx context.Context, feedID string) (*Feed, error)
	GetFeedByURL(ctx context.Context, feedURL string) (*Feed, error)
	ListFeeds(ctx context.Context) ([]Feed, error)
	GetFeedsDueForRefresh(ctx context.Context, fetchedBefore time.Time) ([]Feed, error)
	GetFeedCount(ctx context.Context) (int, error)

	CreateFeed(ctx context.Context, feedURL string) (*Feed, error)
	UpdateFeedMetadata(ctx context.Context, feedID string, metadata FeedMetadata, fetchedAt time.Time) error
	DeleteFeed(ctx context.Context, feedID string) error
}

type ArticleRepository interface {
	FindByDedupKey(ctx context.Context, dedupKey string) (*Article, error)
	GetArticle(ctx context.Context, articleID string) (*Article, error)
	FindArticlesReferencingFeed(ctx context.Context, feedID string) ([]Article, error)

	CreateArticle(ctx context.Context, article *Article) error
	UpdateArticleContent(ctx context.Context, article *Article) error
	UpdateArticleMembership(ctx context.Context, articleID string, expectedVersion int64, primaryFeedID string, sourceFeedIDs []string) error
	DeleteArticle(ctx context.Context, articleID string, expectedVersion int64) error
}

// ArticleReader covers the read-side queries used by the API, the RSS output and the newsletter.
type ArticleReader interface {
	GetFeedArticles(ctx context.Context, feedID string, limit int) ([]Article, error)
	GetArticlesForDigest(ctx context.Context, feedIDs []string, from, to time.Time, limit int) ([]Article, error)
	GetArticlesMissingContent(ctx context.Context, feedID string, limit int) ([]Article, error)
	GetArticleCount(ctx context.Context) (int, error)
	GetFeedArticleCount(ctx context.Context, feedID string) (int, error)
}
