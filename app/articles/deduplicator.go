package articles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/feed"
)

// maxUpsertAttempts bounds re-read and retry after a unique or version conflict
const maxUpsertAttempts = 3

type IngestResult struct {
	Created   int
	Skipped   int
	Errors    []CandidateError
	Malformed []feed.ItemError
}

type upsertOutcome int

const (
	outcomeCreated upsertOutcome = iota
	outcomeMerged
	outcomeRefreshed
	outcomeUnchanged
)

// Deduplicator keeps at most one article per dedup key across all feeds.
type Deduplicator struct {
	repo database.ArticleRepository
}

func NewDeduplicator(repo database.ArticleRepository) *Deduplicator {
	return &Deduplicator{repo: repo}
}

func (d *Deduplicator) Ingest(ctx context.Context, feedID string, candidates []feed.Candidate) IngestResult {
	var result IngestResult
	merged := 0

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, CandidateError{DedupKey: candidate.DedupKey, Err: err})
			continue
		}

		outcome, err := d.upsert(ctx, feedID, candidate)
		if err != nil {
			slog.Warn("Failed to upsert article", "feed_id", feedID, "dedup_key", candidate.DedupKey, "error", err)
			result.Errors = append(result.Errors, CandidateError{DedupKey: candidate.DedupKey, Err: err})
			continue
		}

		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeMerged:
			merged++
			result.Skipped++
		default:
			result.Skipped++
		}
	}

	slog.Debug("Ingested candidates",
		"feed_id", feedID,
		"total", len(candidates),
		"created", result.Created,
		"merged", merged,
		"skipped", result.Skipped,
		"errors", len(result.Errors))

	return result
}

func (d *Deduplicator) upsert(ctx context.Context, feedID string, candidate feed.Candidate) (upsertOutcome, error) {
	var lastErr error

	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		existing, err := d.repo.FindByDedupKey(ctx, candidate.DedupKey)
		if err != nil {
			return 0, err
		}

		var outcome upsertOutcome
		switch {
		case existing == nil:
			outcome = outcomeCreated
			err = d.repo.CreateArticle(ctx, newArticle(feedID, candidate))

		case !existing.HasSource(feedID):
			// content stays with the first writer; only membership grows
			outcome = outcomeMerged
			sources := append(slices.Clone(existing.SourceFeedIDs), feedID)
			err = d.repo.UpdateArticleMembership(ctx, existing.ID, existing.Version, existing.PrimaryFeedID, sources)

		default:
			if !applyCandidate(existing, candidate) {
				return outcomeUnchanged, nil
			}
			outcome = outcomeRefreshed
			err = d.repo.UpdateArticleContent(ctx, existing)
		}

		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, database.ErrDuplicateKey) && !errors.Is(err, database.ErrConflict) {
			return 0, err
		}

		lastErr = err
		slog.Debug("Article upsert conflict, retrying", "feed_id", feedID, "dedup_key", candidate.DedupKey, "attempt", attempt)
	}

	return 0, fmt.Errorf("gave up after %d attempts: %w", maxUpsertAttempts, lastErr)
}

func newArticle(feedID string, candidate feed.Candidate) *database.Article {
	return &database.Article{
		DedupKey:      candidate.DedupKey,
		PrimaryFeedID: feedID,
		SourceFeedIDs: []string{feedID},
		Title:         candidate.Title,
		Link:          candidate.Link,
		Content:       candidate.Content,
		Summary:       candidate.Summary,
		PublishedAt:   candidate.PublishedAt,
		Author:        candidate.Author,
		Categories:    candidate.Categories,
		ImageURL:      candidate.ImageURL,
	}
}

// applyCandidate copies the candidate's content fields onto article and reports whether anything changed.
// Content extracted later is kept when the feed itself carries none.
func applyCandidate(article *database.Article, candidate feed.Candidate) bool {
	content := candidate.Content
	if content == "" {
		content = article.Content
	}

	changed := article.Title != candidate.Title ||
		article.Link != candidate.Link ||
		article.Content != content ||
		article.Summary != candidate.Summary ||
		!article.PublishedAt.Equal(candidate.PublishedAt) ||
		article.Author != candidate.Author ||
		!slices.Equal(article.Categories, candidate.Categories) ||
		article.ImageURL != candidate.ImageURL

	if !changed {
		return false
	}

	article.Title = candidate.Title
	article.Link = candidate.Link
	article.Content = content
	article.Summary = candidate.Summary
	article.PublishedAt = candidate.PublishedAt
	article.Author = candidate.Author
	article.Categories = candidate.Categories
	article.ImageURL = candidate.ImageURL

	return true
}
