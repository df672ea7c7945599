package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ FeedRepository = (*FeedRepositoryImpl)(nil)

const feedColumns = `id, url, title, description, link, image_url, language, last_fetched_at, created_at, updated_at`

type FeedRepositoryImpl struct {
	db *DB
}

func NewFeedRepository(db *DB) *FeedRepositoryImpl {
	return &FeedRepositoryImpl{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var feed Feed
	var lastFetchedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&feed.ID, &feed.URL, &feed.Title, &feed.Description, &feed.Link, &feed.ImageURL, &feed.Language,
		&lastFetchedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if feed.LastFetchedAt, err = parseNullTime(lastFetchedAt); err != nil {
		return nil, err
	}
	if feed.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if feed.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &feed, nil
}

func (r *FeedRepositoryImpl) CreateFeed(ctx context.Context, feedURL string) (*Feed, error) {
	now := time.Now().UTC()
	feed := &Feed{
		ID:        uuid.NewString(),
		URL:       feedURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feeds (id, url, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, feed.ID, feed.URL, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("feed with URL %s already exists: %w", feedURL, ErrDuplicateKey)
		}
		return nil, fmt.Errorf("failed to create feed: %w", err)
	}

	return feed, nil
}

func (r *FeedRepositoryImpl) GetFeed(ctx context.Context, feedID string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, feedID)

	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return feed, nil
}

func (r *FeedRepositoryImpl) GetFeedByURL(ctx context.Context, feedURL string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE url = ?`, feedURL)

	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by URL: %w", err)
	}

	return feed, nil
}

func (r *FeedRepositoryImpl) ListFeeds(ctx context.Context) ([]Feed, error) {
	return r.queryFeeds(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY created_at DESC`)
}

// GetFeedsDueForRefresh returns feeds never fetched or last fetched before fetchedBefore
func (r *FeedRepositoryImpl) GetFeedsDueForRefresh(ctx context.Context, fetchedBefore time.Time) ([]Feed, error) {
	return r.queryFeeds(ctx, `
		SELECT `+feedColumns+`
		FROM feeds
		WHERE last_fetched_at IS NULL OR last_fetched_at <= ?
		ORDER BY COALESCE(last_fetched_at, '')
		LIMIT 50
	`, formatTime(fetchedBefore))
}

func (r *FeedRepositoryImpl) queryFeeds(ctx context.Context, query string, args ...any) ([]Feed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, *feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}

	return feeds, nil
}

func (r *FeedRepositoryImpl) UpdateFeedMetadata(ctx context.Context, feedID string, metadata FeedMetadata, fetchedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET title = ?, description = ?, link = ?, image_url = ?, language = ?,
		    last_fetched_at = ?, updated_at = ?
		WHERE id = ?
	`, metadata.Title, metadata.Description, metadata.Link, metadata.ImageURL, metadata.Language,
		formatTime(fetchedAt), formatTime(time.Now()), feedID)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}

	return requireAffected(result, ErrNotFound)
}

// DeleteFeed removes only the feed row; article membership must already have been cleaned up.
func (r *FeedRepositoryImpl) DeleteFeed(ctx context.Context, feedID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, feedID)
	if err != nil {
		return fmt.Errorf("failed to delete feed: %w", err)
	}

	return requireAffected(result, ErrNotFound)
}

func (r *FeedRepositoryImpl) GetFeedCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

func requireAffected(result sql.Result, notAffected error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return notAffected
	}
	return nil
}
