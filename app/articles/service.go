package articles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/feed"
)

type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type FeedParser interface {
	Run(data []byte) (*feed.Metadata, []feed.RawItem, error)
}

// Service ties fetching, normalization and deduplication together for one feed at a time.
type Service struct {
	feedRepo     database.FeedRepository
	fetcher      FeedFetcher
	parser       FeedParser
	normalizer   *feed.Normalizer
	deduplicator *Deduplicator
	lifecycle    *Lifecycle
	invalidator  FeedCacheInvalidator
}

func NewService(feedRepo database.FeedRepository, articleRepo database.ArticleRepository, fetcher FeedFetcher,
	parser FeedParser, normalizer *feed.Normalizer, invalidator FeedCacheInvalidator) *Service {
	return &Service{
		feedRepo:     feedRepo,
		fetcher:      fetcher,
		parser:       parser,
		normalizer:   normalizer,
		deduplicator: NewDeduplicator(articleRepo),
		lifecycle:    NewLifecycle(feedRepo, articleRepo, invalidator),
		invalidator:  invalidator,
	}
}

// IngestFeed normalizes raw items for feedID and merges them into the article store.
// It returns database.ErrNotFound without touching the store when the feed no longer exists.
func (s *Service) IngestFeed(ctx context.Context, feedID string, rawItems []feed.RawItem) (IngestResult, error) {
	existing, err := s.feedRepo.GetFeed(ctx, feedID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to load feed %s: %w", feedID, err)
	}
	if existing == nil {
		return IngestResult{}, fmt.Errorf("feed %s: %w", feedID, database.ErrNotFound)
	}

	candidates, itemErrors := s.normalizer.Run(feedID, rawItems)

	result := s.deduplicator.Ingest(ctx, feedID, candidates)
	result.Malformed = itemErrors

	if result.Created > 0 || result.Skipped > 0 {
		s.invalidate(ctx, feedID)
	}

	return result, nil
}

// RefreshFeed fetches and parses the feed document, ingests its items and records the fetch.
func (s *Service) RefreshFeed(ctx context.Context, f database.Feed) (IngestResult, error) {
	data, err := s.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to fetch feed: %w", err)
	}

	metadata, rawItems, err := s.parser.Run(data)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %w", ErrUnparseableFeed, err)
	}

	return s.store(ctx, f.ID, metadata, rawItems)
}

// AddFeed validates that feedURL serves a parseable feed before storing it, then runs the first ingest.
// A failure of that first ingest still returns the created feed.
func (s *Service) AddFeed(ctx context.Context, feedURL string) (*database.Feed, IngestResult, error) {
	feedURL = strings.TrimSpace(feedURL)
	if err := validateFeedURL(feedURL); err != nil {
		return nil, IngestResult{}, err
	}

	existing, err := s.feedRepo.GetFeedByURL(ctx, feedURL)
	if err != nil {
		return nil, IngestResult{}, fmt.Errorf("failed to check existing feed: %w", err)
	}
	if existing != nil {
		return nil, IngestResult{}, fmt.Errorf("feed %s is already subscribed: %w", feedURL, database.ErrDuplicateKey)
	}

	data, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, IngestResult{}, fmt.Errorf("failed to fetch feed: %w", err)
	}

	metadata, rawItems, err := s.parser.Run(data)
	if err != nil {
		return nil, IngestResult{}, fmt.Errorf("%w: %w", ErrUnparseableFeed, err)
	}

	created, err := s.feedRepo.CreateFeed(ctx, feedURL)
	if err != nil {
		return nil, IngestResult{}, err
	}

	result, err := s.store(ctx, created.ID, metadata, rawItems)
	if err != nil {
		slog.Warn("Initial ingest of new feed failed", "feed_id", created.ID, "url", feedURL, "error", err)
		return created, IngestResult{}, nil
	}

	if stored, err := s.feedRepo.GetFeed(ctx, created.ID); err == nil && stored != nil {
		created = stored
	}

	return created, result, nil
}

func (s *Service) store(ctx context.Context, feedID string, metadata *feed.Metadata, rawItems []feed.RawItem) (IngestResult, error) {
	result, err := s.IngestFeed(ctx, feedID, rawItems)
	if err != nil {
		return result, err
	}

	fetchedAt := time.Now().UTC()
	err = s.feedRepo.UpdateFeedMetadata(ctx, feedID, database.FeedMetadata{
		Title:       metadata.Title,
		Description: metadata.Description,
		Link:        metadata.Link,
		ImageURL:    metadata.ImageURL,
		Language:    metadata.Language,
	}, fetchedAt)
	if errors.Is(err, database.ErrNotFound) {
		// the feed was deleted while its items were being ingested
		if releaseErr := s.lifecycle.releaseOrphans(ctx, feedID); releaseErr != nil {
			return result, fmt.Errorf("feed %s deleted during ingest, cleanup failed: %w", feedID, releaseErr)
		}
		return IngestResult{}, fmt.Errorf("feed %s: %w", feedID, database.ErrNotFound)
	}
	if err != nil {
		return result, fmt.Errorf("failed to update feed metadata: %w", err)
	}

	return result, nil
}

func (s *Service) invalidate(ctx context.Context, feedIDs ...string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, feedIDs...); err != nil {
		slog.Warn("Failed to invalidate feed cache", "feed_ids", feedIDs, "error", err)
	}
}

func validateFeedURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidFeedURL)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeedURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidFeedURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidFeedURL)
	}

	return nil
}

// IsFetchError reports whether err came from fetching or parsing a feed document.
func IsFetchError(err error) bool {
	var fetchErr *feed.FetchError
	return errors.As(err, &fetchErr) || errors.Is(err, ErrUnparseableFeed)
}
