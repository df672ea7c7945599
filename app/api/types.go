package api

import (
	"context"
	"strconv"
	"time"

	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/newsletter"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

type GeneratorInterface interface {
	Run(feed database.Feed, articles []database.Article) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

type FeedCache interface {
	GetFeedRSS(ctx context.Context, feedID string) (string, bool, error)
	SetFeedRSS(ctx context.Context, feedID, content string) error
	Health(ctx context.Context) map[string]any
}

type FeedService interface {
	AddFeed(ctx context.Context, feedURL string) (*database.Feed, articles.IngestResult, error)
	IngestFeed(ctx context.Context, feedID string, rawItems []feed.RawItem) (articles.IngestResult, error)
}

type FeedDeleter interface {
	DeleteFeedSafely(ctx context.Context, feedID string) error
}

type NewsletterGenerator interface {
	Prepare(ctx context.Context, req newsletter.Request) ([]database.Article, error)
	Stream(ctx context.Context, req newsletter.Request, articles []database.Article, emit func(newsletter.PartialResult) error) (newsletter.PartialResult, error)
}

var (
	_ FeedService         = (*articles.Service)(nil)
	_ FeedDeleter         = (*articles.Lifecycle)(nil)
	_ NewsletterGenerator = (*newsletter.Generator)(nil)
)

type Handler struct {
	feedRepo      database.FeedRepository
	articleReader database.ArticleReader
	service       FeedService
	lifecycle     FeedDeleter
	generator     GeneratorInterface
	catalog       *feed.Catalog
	newsletter    NewsletterGenerator
	scheduler     tasks.TaskSchedulerInterface
	cache         FeedCache
	maxItems      int
}

type addFeedRequest struct {
	URL string `json:"url" binding:"required"`
}

type ingestRequest struct {
	Items []feed.RawItem `json:"items"`
}

type feedResponse struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Link          string     `json:"link"`
	ImageURL      string     `json:"imageUrl,omitempty"`
	Language      string     `json:"language,omitempty"`
	LastFetchedAt *time.Time `json:"lastFetchedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	ArticleCount  *int       `json:"articleCount,omitempty"`
	CatalogName   string     `json:"catalogName,omitempty"`
}

type ingestResponse struct {
	Created   int           `json:"created"`
	Skipped   int           `json:"skipped"`
	Errors    []ingestIssue `json:"errors"`
	Malformed []ingestIssue `json:"malformed"`
}

type ingestIssue struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

func toFeedResponse(f database.Feed) feedResponse {
	return feedResponse{
		ID:            f.ID,
		URL:           f.URL,
		Title:         f.Title,
		Description:   f.Description,
		Link:          f.Link,
		ImageURL:      f.ImageURL,
		Language:      f.Language,
		LastFetchedAt: f.LastFetchedAt,
		CreatedAt:     f.CreatedAt,
	}
}

func toIngestResponse(result articles.IngestResult) ingestResponse {
	response := ingestResponse{
		Created:   result.Created,
		Skipped:   result.Skipped,
		Errors:    make([]ingestIssue, 0, len(result.Errors)),
		Malformed: make([]ingestIssue, 0, len(result.Malformed)),
	}
	for _, e := range result.Errors {
		response.Errors = append(response.Errors, ingestIssue{Key: e.DedupKey, Error: e.Err.Error()})
	}
	for _, e := range result.Malformed {
		response.Malformed = append(response.Malformed, ingestIssue{Key: strconv.Itoa(e.Index), Error: e.Err.Error()})
	}
	return response
}
