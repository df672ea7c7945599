package articles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lysyi3m/rss-digest/app/database"
)

// FeedCacheInvalidator drops rendered output for feeds whose article set changed.
type FeedCacheInvalidator interface {
	Invalidate(ctx context.Context, feedIDs ...string) error
}

type Lifecycle struct {
	feedRepo    database.FeedRepository
	articleRepo database.ArticleRepository
	invalidator FeedCacheInvalidator
}

// NewLifecycle creates the feed deletion manager. invalidator may be nil.
func NewLifecycle(feedRepo database.FeedRepository, articleRepo database.ArticleRepository, invalidator FeedCacheInvalidator) *Lifecycle {
	return &Lifecycle{
		feedRepo:    feedRepo,
		articleRepo: articleRepo,
		invalidator: invalidator,
	}
}

// DeleteFeedSafely detaches every article from the feed one at a time and deletes the
// feed row only once all of them are resolved. On failure the feed is kept and a
// *CleanupError describes how far the cleanup got.
func (l *Lifecycle) DeleteFeedSafely(ctx context.Context, feedID string) error {
	existing, err := l.feedRepo.GetFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("failed to load feed %s: %w", feedID, err)
	}
	if existing == nil {
		return fmt.Errorf("feed %s: %w", feedID, database.ErrNotFound)
	}

	stats, err := l.release(ctx, feedID)
	if err != nil {
		return err
	}

	if err := l.feedRepo.DeleteFeed(ctx, feedID); err != nil {
		return fmt.Errorf("failed to delete feed %s: %w", feedID, err)
	}

	l.invalidate(ctx, feedID, stats.affected)

	slog.Info("Feed deleted",
		"feed_id", feedID,
		"url", existing.URL,
		"articles", stats.processed,
		"deleted", stats.deleted,
		"reparented", stats.reparented)

	return nil
}

type releaseStats struct {
	affected   []string
	processed  int
	deleted    int
	reparented int
}

// release detaches feedID from every article that still references it.
// It stops at the first failure with a *CleanupError.
func (l *Lifecycle) release(ctx context.Context, feedID string) (releaseStats, error) {
	stats := releaseStats{affected: []string{feedID}}

	referencing, err := l.articleRepo.FindArticlesReferencingFeed(ctx, feedID)
	if err != nil {
		return stats, &CleanupError{FeedID: feedID, Err: err}
	}

	for i, article := range referencing {
		if err := ctx.Err(); err != nil {
			return stats, &CleanupError{FeedID: feedID, ArticleID: article.ID, Processed: i, Err: err}
		}

		remaining, promoted, err := l.detach(ctx, feedID, article)
		if err != nil {
			slog.Error("Failed to detach article from feed", "feed_id", feedID, "article_id", article.ID, "processed", i, "error", err)
			return stats, &CleanupError{FeedID: feedID, ArticleID: article.ID, Processed: i, Err: err}
		}
		stats.processed++

		if remaining == nil {
			stats.deleted++
			continue
		}
		if promoted {
			stats.reparented++
		}
		for _, id := range remaining {
			if !slices.Contains(stats.affected, id) {
				stats.affected = append(stats.affected, id)
			}
		}
	}

	return stats, nil
}

// releaseOrphans undoes an ingest that raced with the deletion of feedID.
func (l *Lifecycle) releaseOrphans(ctx context.Context, feedID string) error {
	stats, err := l.release(ctx, feedID)
	if err != nil {
		return err
	}
	l.invalidate(ctx, feedID, stats.affected)

	if stats.processed > 0 {
		slog.Warn("Released articles ingested for a deleted feed", "feed_id", feedID, "deleted", stats.deleted, "reparented", stats.reparented)
	}
	return nil
}

func (l *Lifecycle) invalidate(ctx context.Context, feedID string, affected []string) {
	if l.invalidator == nil {
		return
	}
	if err := l.invalidator.Invalidate(ctx, affected...); err != nil {
		slog.Warn("Failed to invalidate feed cache", "feed_id", feedID, "error", err)
	}
}

// detach removes feedID from one article in a single versioned write, re-reading on conflict.
// It returns the remaining membership (nil when the article is gone) and whether the primary changed.
func (l *Lifecycle) detach(ctx context.Context, feedID string, article database.Article) ([]string, bool, error) {
	current := &article

	for attempt := 1; ; attempt++ {
		if !current.HasSource(feedID) && current.PrimaryFeedID != feedID {
			return current.SourceFeedIDs, false, nil
		}

		remaining := slices.DeleteFunc(slices.Clone(current.SourceFeedIDs), func(id string) bool {
			return id == feedID
		})

		var err error
		promoted := false
		switch {
		case len(remaining) == 0:
			err = l.articleRepo.DeleteArticle(ctx, current.ID, current.Version)
		case current.PrimaryFeedID == feedID:
			// first remaining source in stored order becomes primary
			promoted = true
			err = l.articleRepo.UpdateArticleMembership(ctx, current.ID, current.Version, remaining[0], remaining)
		default:
			err = l.articleRepo.UpdateArticleMembership(ctx, current.ID, current.Version, current.PrimaryFeedID, remaining)
		}

		if err == nil {
			if len(remaining) == 0 {
				return nil, false, nil
			}
			return remaining, promoted, nil
		}
		if !errors.Is(err, database.ErrConflict) || attempt >= maxUpsertAttempts {
			return nil, false, err
		}

		current, err = l.articleRepo.GetArticle(ctx, article.ID)
		if err != nil {
			return nil, false, err
		}
		if current == nil {
			return nil, false, nil
		}
	}
}
