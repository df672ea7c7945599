package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	_ ArticleRepository = (*ArticleRepositoryImpl)(nil)
	_ ArticleReader     = (*ArticleRepositoryImpl)(nil)
)

const articleColumns = `id, dedup_key, primary_feed_id, source_feed_ids, title, link, content, summary,
	published_at, author, categories, image_url, version, created_at, updated_at`

// referencesFeed matches articles whose membership set contains the bound feed id.
const referencesFeed = `EXISTS (SELECT 1 FROM json_each(articles.source_feed_ids) WHERE json_each.value = ?)`

type ArticleRepositoryImpl struct {
	db *DB
}

func NewArticleRepository(db *DB) *ArticleRepositoryImpl {
	return &ArticleRepositoryImpl{db: db}
}

func scanArticle(row rowScanner) (*Article, error) {
	var article Article
	var sourceFeedIDs, categories string
	var publishedAt, createdAt, updatedAt string

	err := row.Scan(
		&article.ID, &article.DedupKey, &article.PrimaryFeedID, &sourceFeedIDs,
		&article.Title, &article.Link, &article.Content, &article.Summary,
		&publishedAt, &article.Author, &categories, &article.ImageURL,
		&article.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sourceFeedIDs), &article.SourceFeedIDs); err != nil {
		return nil, fmt.Errorf("failed to decode source feed ids: %w", err)
	}
	if err := json.Unmarshal([]byte(categories), &article.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	if article.PublishedAt, err = parseTime(publishedAt); err != nil {
		return nil, err
	}
	if article.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if article.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &article, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *ArticleRepositoryImpl) FindByDedupKey(ctx context.Context, dedupKey string) (*Article, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE dedup_key = ?`, dedupKey)

	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find article by dedup key: %w", err)
	}

	return article, nil
}

func (r *ArticleRepositoryImpl) GetArticle(ctx context.Context, articleID string) (*Article, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, articleID)

	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	return article, nil
}

// FindArticlesReferencingFeed returns every article that lists feedID as primary or secondary source,
// oldest first.
func (r *ArticleRepositoryImpl) FindArticlesReferencingFeed(ctx context.Context, feedID string) ([]Article, error) {
	return r.queryArticles(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE primary_feed_id = ? OR `+referencesFeed+`
		ORDER BY created_at, id
	`, feedID, feedID)
}

// CreateArticle inserts a new article and assigns its ID and version.
// A second article with the same dedup key fails with ErrDuplicateKey.
func (r *ArticleRepositoryImpl) CreateArticle(ctx context.Context, article *Article) error {
	if len(article.SourceFeedIDs) == 0 {
		return fmt.Errorf("article %q has no source feeds", article.DedupKey)
	}

	sources, err := encodeStrings(article.SourceFeedIDs)
	if err != nil {
		return fmt.Errorf("failed to encode source feed ids: %w", err)
	}
	categories, err := encodeStrings(article.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO articles (
			id, dedup_key, primary_feed_id, source_feed_ids, title, link, content, summary,
			published_at, author, categories, image_url, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, id, article.DedupKey, article.PrimaryFeedID, sources, article.Title, article.Link,
		article.Content, article.Summary, formatTime(article.PublishedAt), article.Author,
		categories, article.ImageURL, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("article %q: %w", article.DedupKey, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create article: %w", err)
	}

	article.ID = id
	article.Version = 1
	article.CreatedAt = now
	article.UpdatedAt = now

	return nil
}

// UpdateArticleContent overwrites the content fields if the stored version still matches article.Version.
func (r *ArticleRepositoryImpl) UpdateArticleContent(ctx context.Context, article *Article) error {
	categories, err := encodeStrings(article.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET title = ?, link = ?, content = ?, summary = ?, published_at = ?, author = ?,
		    categories = ?, image_url = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, article.Title, article.Link, article.Content, article.Summary, formatTime(article.PublishedAt),
		article.Author, categories, article.ImageURL, formatTime(now), article.ID, article.Version)
	if err != nil {
		return fmt.Errorf("failed to update article content: %w", err)
	}

	if err := requireAffected(result, ErrConflict); err != nil {
		return err
	}

	article.Version++
	article.UpdatedAt = now
	return nil
}

// UpdateArticleMembership persists primary feed and membership together in one versioned write.
func (r *ArticleRepositoryImpl) UpdateArticleMembership(ctx context.Context, articleID string, expectedVersion int64, primaryFeedID string, sourceFeedIDs []string) error {
	if len(sourceFeedIDs) == 0 {
		return fmt.Errorf("article %s: membership must not be empty", articleID)
	}

	sources, err := encodeStrings(sourceFeedIDs)
	if err != nil {
		return fmt.Errorf("failed to encode source feed ids: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET primary_feed_id = ?, source_feed_ids = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, primaryFeedID, sources, formatTime(time.Now()), articleID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update article membership: %w", err)
	}

	return requireAffected(result, ErrConflict)
}

func (r *ArticleRepositoryImpl) DeleteArticle(ctx context.Context, articleID string, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE id = ? AND version = ?`, articleID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}

	return requireAffected(result, ErrConflict)
}

func (r *ArticleRepositoryImpl) GetFeedArticles(ctx context.Context, feedID string, limit int) ([]Article, error) {
	return r.queryArticles(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE `+referencesFeed+`
		ORDER BY published_at DESC
		LIMIT ?
	`, feedID, limit)
}

// GetArticlesForDigest returns articles sourced by any of feedIDs and published within [from, to], newest first.
func (r *ArticleRepositoryImpl) GetArticlesForDigest(ctx context.Context, feedIDs []string, from, to time.Time, limit int) ([]Article, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(feedIDs)), ",")
	args := make([]any, 0, len(feedIDs)+3)
	for _, id := range feedIDs {
		args = append(args, id)
	}
	args = append(args, formatTime(from), formatTime(to), limit)

	return r.queryArticles(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE EXISTS (
			SELECT 1 FROM json_each(articles.source_feed_ids) WHERE json_each.value IN (`+placeholders+`)
		)
		  AND published_at >= ? AND published_at <= ?
		ORDER BY published_at DESC
		LIMIT ?
	`, args...)
}

func (r *ArticleRepositoryImpl) GetArticlesMissingContent(ctx context.Context, feedID string, limit int) ([]Article, error) {
	return r.queryArticles(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE primary_feed_id = ? AND content = '' AND link != ''
		ORDER BY published_at DESC
		LIMIT ?
	`, feedID, limit)
}

func (r *ArticleRepositoryImpl) GetArticleCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get article count: %w", err)
	}
	return count, nil
}

func (r *ArticleRepositoryImpl) GetFeedArticleCount(ctx context.Context, feedID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles WHERE "+referencesFeed, feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed article count: %w", err)
	}
	return count, nil
}

func (r *ArticleRepositoryImpl) queryArticles(ctx context.Context, query string, args ...any) ([]Article, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		articles = append(articles, *article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article rows: %w", err)
	}

	return articles, nil
}
