package tasks

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/cfg"
	"github.com/lysyi3m/rss-digest/app/database"
)

func setupTestConfig(t *testing.T, extractContent bool) {
	t.Helper()

	oldArgs := os.Args
	os.Args = []string{"test"}
	defer func() { os.Args = oldArgs }()

	t.Setenv("TZ", "UTC")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("SCHEDULER_INTERVAL", "60")
	t.Setenv("REFRESH_INTERVAL", "3600")
	t.Setenv("FETCH_TIMEOUT", "5")
	t.Setenv("MAX_ITEMS", "10")
	if extractContent {
		t.Setenv("EXTRACT_CONTENT", "true")
	} else {
		t.Setenv("EXTRACT_CONTENT", "false")
	}

	if _, err := cfg.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
}

// MockFeedRepository implements a simple mock for testing
type MockFeedRepository struct {
	feeds     []database.Feed
	err       error
	dueBefore time.Time
}

var _ database.FeedRepository = (*MockFeedRepository)(nil)

func (m *MockFeedRepository) GetFeed(ctx context.Context, feedID string) (*database.Feed, error) {
	for _, f := range m.feeds {
		if f.ID == feedID {
			return &f, nil
		}
	}
	return nil, nil
}

func (m *MockFeedRepository) GetFeedByURL(ctx context.Context, feedURL string) (*database.Feed, error) {
	return nil, nil
}

func (m *MockFeedRepository) ListFeeds(ctx context.Context) ([]database.Feed, error) {
	return m.feeds, m.err
}

func (m *MockFeedRepository) GetFeedsDueForRefresh(ctx context.Context, fetchedBefore time.Time) ([]database.Feed, error) {
	m.dueBefore = fetchedBefore
	if m.err != nil {
		return nil, m.err
	}
	return m.feeds, nil
}

func (m *MockFeedRepository) GetFeedCount(ctx context.Context) (int, error) {
	return len(m.feeds), nil
}

func (m *MockFeedRepository) CreateFeed(ctx context.Context, feedURL string) (*database.Feed, error) {
	return nil, errors.New("not implemented")
}

func (m *MockFeedRepository) UpdateFeedMetadata(ctx context.Context, feedID string, metadata database.FeedMetadata, fetchedAt time.Time) error {
	return nil
}

func (m *MockFeedRepository) DeleteFeed(ctx context.Context, feedID string) error {
	return nil
}

// MockRefresher records refreshed feeds
type MockRefresher struct {
	mu     sync.Mutex
	result articles.IngestResult
	err    error
	feeds  []string
	done   chan string
}

func (m *MockRefresher) RefreshFeed(ctx context.Context, feed database.Feed) (articles.IngestResult, error) {
	m.mu.Lock()
	m.feeds = append(m.feeds, feed.ID)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- feed.ID
	}
	return m.result, m.err
}

type MockPageFetcher struct {
	pages map[string][]byte
	err   error
}

func (m *MockPageFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	if data, ok := m.pages[url]; ok {
		return data, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	return nil, errors.New("page not found")
}

type MockExtractor struct{}

func (m *MockExtractor) Run(data []byte, pageURL string) (string, error) {
	return "<p>" + string(data) + "</p>", nil
}

type MockArticleStore struct {
	articles []database.Article
	updated  map[string]string
	conflict map[string]bool
	err      error
	limit    int
}

func (m *MockArticleStore) GetArticlesMissingContent(ctx context.Context, feedID string, limit int) ([]database.Article, error) {
	m.limit = limit
	return m.articles, m.err
}

func (m *MockArticleStore) UpdateArticleContent(ctx context.Context, article *database.Article) error {
	if m.conflict[article.ID] {
		return database.ErrConflict
	}
	if m.updated == nil {
		m.updated = make(map[string]string)
	}
	m.updated[article.ID] = article.Content
	return nil
}

type MockInvalidator struct {
	feedIDs []string
}

func (m *MockInvalidator) Invalidate(ctx context.Context, feedIDs ...string) error {
	m.feedIDs = append(m.feedIDs, feedIDs...)
	return nil
}

// MockTask counts executions and fails while err is set
type MockTask struct {
	Task
	err      error
	executed chan struct{}
}

func newMockTask(feedID string, err error) *MockTask {
	return &MockTask{
		Task:     NewTask(TaskTypeProcessFeed, feedID),
		err:      err,
		executed: make(chan struct{}, 10),
	}
}

func (m *MockTask) Execute(ctx context.Context) error {
	m.executed <- struct{}{}
	return m.err
}
