package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-digest/app/database"
)

type ProcessFeedTask struct {
	Task
	Feed      database.Feed
	refresher FeedRefresher
}

func NewProcessFeedTask(feed database.Feed, refresher FeedRefresher) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:      NewTask(TaskTypeProcessFeed, feed.ID),
		Feed:      feed,
		refresher: refresher,
	}
}

func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.refresher.RefreshFeed(ctx, t.Feed)
	if errors.Is(err, database.ErrNotFound) {
		// deleted after the task was queued; retrying cannot succeed
		slog.Info("Feed no longer exists, dropping task", "type", t.GetType(), "feed_id", t.FeedID, "url", t.Feed.URL)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to refresh feed %s: %w", t.Feed.URL, err)
	}

	for _, candidateErr := range result.Errors {
		slog.Warn("Failed to store article", "feed_id", t.FeedID, "dedup_key", candidateErr.DedupKey, "error", candidateErr.Err)
	}
	for _, itemErr := range result.Malformed {
		slog.Debug("Skipped malformed item", "feed_id", t.FeedID, "index", itemErr.Index, "error", itemErr.Err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"feed", t.Feed.URL,
		"duration", t.GetDuration(),
		"created", result.Created,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"malformed", len(result.Malformed))

	return nil
}
