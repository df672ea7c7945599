package articles

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/rss-digest/app/database"
)

// MemoryStore implements the feed and article repositories in memory with the same
// unique-key and version semantics as the sqlite store.
type MemoryStore struct {
	mu       sync.Mutex
	feeds    map[string]*database.Feed
	articles map[string]*database.Article
	nextID   int

	// failures injected per operation name, consumed in order
	failures map[string][]error
	// hooks run before an operation, outside the lock
	beforeWrite func(op, articleID string)
}

var (
	_ database.FeedRepository    = (*MemoryStore)(nil)
	_ database.ArticleRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		feeds:    make(map[string]*database.Feed),
		articles: make(map[string]*database.Article),
		failures: make(map[string][]error),
	}
}

func (m *MemoryStore) failNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

func (m *MemoryStore) takeFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	m.failures[op] = queue[1:]
	return queue[0]
}

func (m *MemoryStore) runHook(op, articleID string) {
	if m.beforeWrite != nil {
		m.beforeWrite(op, articleID)
	}
}

func copyArticle(a *database.Article) *database.Article {
	c := *a
	c.SourceFeedIDs = slices.Clone(a.SourceFeedIDs)
	c.Categories = slices.Clone(a.Categories)
	return &c
}

func (m *MemoryStore) addFeed(id, url string) *database.Feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &database.Feed{ID: id, URL: url, CreatedAt: time.Now()}
	m.feeds[id] = f
	return f
}

// seedArticle stores an article directly, bypassing dedup semantics
func (m *MemoryStore) seedArticle(a database.Article) *database.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if a.ID == "" {
		a.ID = fmt.Sprintf("article-%d", m.nextID)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	a.CreatedAt = time.Now().Add(time.Duration(m.nextID) * time.Millisecond)
	m.articles[a.ID] = copyArticle(&a)
	return copyArticle(&a)
}

func (m *MemoryStore) allArticles() []database.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []database.Article
	for _, a := range m.articles {
		all = append(all, *copyArticle(a))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DedupKey < all[j].DedupKey })
	return all
}

// Feed repository

func (m *MemoryStore) GetFeed(ctx context.Context, feedID string) (*database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.feeds[feedID]; ok {
		c := *f
		return &c, nil
	}
	return nil, nil
}

func (m *MemoryStore) GetFeedByURL(ctx context.Context, feedURL string) (*database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.feeds {
		if f.URL == feedURL {
			c := *f
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListFeeds(ctx context.Context) ([]database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var feeds []database.Feed
	for _, f := range m.feeds {
		feeds = append(feeds, *f)
	}
	return feeds, nil
}

func (m *MemoryStore) GetFeedsDueForRefresh(ctx context.Context, fetchedBefore time.Time) ([]database.Feed, error) {
	return m.ListFeeds(ctx)
}

func (m *MemoryStore) GetFeedCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds), nil
}

func (m *MemoryStore) CreateFeed(ctx context.Context, feedURL string) (*database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateFeed"); err != nil {
		return nil, err
	}
	for _, f := range m.feeds {
		if f.URL == feedURL {
			return nil, database.ErrDuplicateKey
		}
	}
	m.nextID++
	f := &database.Feed{ID: fmt.Sprintf("feed-%d", m.nextID), URL: feedURL, CreatedAt: time.Now()}
	m.feeds[f.ID] = f
	c := *f
	return &c, nil
}

func (m *MemoryStore) UpdateFeedMetadata(ctx context.Context, feedID string, metadata database.FeedMetadata, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("UpdateFeedMetadata"); err != nil {
		return err
	}
	f, ok := m.feeds[feedID]
	if !ok {
		return database.ErrNotFound
	}
	f.Title = metadata.Title
	f.Description = metadata.Description
	f.Link = metadata.Link
	f.ImageURL = metadata.ImageURL
	f.Language = metadata.Language
	f.LastFetchedAt = &fetchedAt
	return nil
}

func (m *MemoryStore) DeleteFeed(ctx context.Context, feedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("DeleteFeed"); err != nil {
		return err
	}
	if _, ok := m.feeds[feedID]; !ok {
		return database.ErrNotFound
	}
	delete(m.feeds, feedID)
	return nil
}

// Article repository

func (m *MemoryStore) FindByDedupKey(ctx context.Context, dedupKey string) (*database.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FindByDedupKey"); err != nil {
		return nil, err
	}
	for _, a := range m.articles {
		if a.DedupKey == dedupKey {
			return copyArticle(a), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetArticle(ctx context.Context, articleID string) (*database.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.articles[articleID]; ok {
		return copyArticle(a), nil
	}
	return nil, nil
}

func (m *MemoryStore) FindArticlesReferencingFeed(ctx context.Context, feedID string) ([]database.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FindArticlesReferencingFeed"); err != nil {
		return nil, err
	}
	var found []database.Article
	for _, a := range m.articles {
		if a.PrimaryFeedID == feedID || a.HasSource(feedID) {
			found = append(found, *copyArticle(a))
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	return found, nil
}

func (m *MemoryStore) CreateArticle(ctx context.Context, article *database.Article) error {
	m.runHook("CreateArticle", "")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateArticle"); err != nil {
		return err
	}
	for _, a := range m.articles {
		if a.DedupKey == article.DedupKey {
			return fmt.Errorf("article %q: %w", article.DedupKey, database.ErrDuplicateKey)
		}
	}
	m.nextID++
	article.ID = fmt.Sprintf("article-%d", m.nextID)
	article.Version = 1
	article.CreatedAt = time.Now().Add(time.Duration(m.nextID) * time.Millisecond)
	m.articles[article.ID] = copyArticle(article)
	return nil
}

func (m *MemoryStore) UpdateArticleContent(ctx context.Context, article *database.Article) error {
	m.runHook("UpdateArticleContent", article.ID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("UpdateArticleContent"); err != nil {
		return err
	}
	stored, ok := m.articles[article.ID]
	if !ok || stored.Version != article.Version {
		return database.ErrConflict
	}
	updated := copyArticle(article)
	updated.SourceFeedIDs = stored.SourceFeedIDs
	updated.PrimaryFeedID = stored.PrimaryFeedID
	updated.Version++
	m.articles[article.ID] = updated
	article.Version++
	return nil
}

func (m *MemoryStore) UpdateArticleMembership(ctx context.Context, articleID string, expectedVersion int64, primaryFeedID string, sourceFeedIDs []string) error {
	m.runHook("UpdateArticleMembership", articleID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("UpdateArticleMembership"); err != nil {
		return err
	}
	stored, ok := m.articles[articleID]
	if !ok || stored.Version != expectedVersion {
		return database.ErrConflict
	}
	if len(sourceFeedIDs) == 0 || !slices.Contains(sourceFeedIDs, primaryFeedID) {
		return fmt.Errorf("invalid membership for %s", articleID)
	}
	stored.PrimaryFeedID = primaryFeedID
	stored.SourceFeedIDs = slices.Clone(sourceFeedIDs)
	stored.Version++
	return nil
}

func (m *MemoryStore) DeleteArticle(ctx context.Context, articleID string, expectedVersion int64) error {
	m.runHook("DeleteArticle", articleID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("DeleteArticle"); err != nil {
		return err
	}
	stored, ok := m.articles[articleID]
	if !ok || stored.Version != expectedVersion {
		return database.ErrConflict
	}
	delete(m.articles, articleID)
	return nil
}

// MockInvalidator records invalidated feed ids
type MockInvalidator struct {
	mu      sync.Mutex
	feedIDs []string
	err     error
}

func (m *MockInvalidator) Invalidate(ctx context.Context, feedIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedIDs = append(m.feedIDs, feedIDs...)
	return m.err
}
