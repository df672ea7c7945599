package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/cfg"
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/newsletter"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <link>https://a.example.com</link>
    <description>Example Description</description>
    <item>
      <title>First Post</title>
      <link>https://a.example.com/1</link>
      <guid>post-1</guid>
      <pubDate>Mon, 04 Mar 2024 10:00:00 GMT</pubDate>
      <description>First summary</description>
    </item>
    <item>
      <title>Second Post</title>
      <link>https://a.example.com/2</link>
      <guid>post-2</guid>
      <pubDate>Tue, 05 Mar 2024 10:00:00 GMT</pubDate>
      <description>Second summary</description>
    </item>
  </channel>
</rss>`

const sampleNewsletter = `{"suggestedTitles":["T1","T2","T3","T4","T5"],` +
	`"suggestedSubjectLines":["S1","S2","S3","S4","S5"],` +
	`"body":"Hello readers",` +
	`"topAnnouncements":["A1","A2","A3","A4","A5"]}`

type fakeFetcher struct {
	responses map[string][]byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if data, ok := f.responses[url]; ok {
		return data, nil
	}
	return nil, &feed.FetchError{Kind: feed.FetchHTTPError, URL: url, StatusCode: http.StatusNotFound}
}

type MockScheduler struct {
	mu    sync.Mutex
	feeds []string
	err   error
}

func (m *MockScheduler) Start() {}
func (m *MockScheduler) Stop()  {}

func (m *MockScheduler) EnqueueTask(task tasks.TaskInterface) error {
	return m.err
}

func (m *MockScheduler) EnqueueFeedRefresh(f database.Feed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds = append(m.feeds, f.ID)
	return m.err
}

// MockCache is an in-memory FeedCache that also records invalidations
type MockCache struct {
	mu          sync.Mutex
	entries     map[string]string
	invalidated []string
}

func (m *MockCache) GetFeedRSS(ctx context.Context, feedID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.entries[feedID]
	return content, ok, nil
}

func (m *MockCache) SetFeedRSS(ctx context.Context, feedID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[feedID] = content
	return nil
}

func (m *MockCache) Invalidate(ctx context.Context, feedIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range feedIDs {
		delete(m.entries, id)
	}
	m.invalidated = append(m.invalidated, feedIDs...)
	return nil
}

func (m *MockCache) Health(ctx context.Context) map[string]any {
	return map[string]any{"status": "healthy", "type": "memory"}
}

type testEnv struct {
	router      *gin.Engine
	feedRepo    *database.FeedRepositoryImpl
	articleRepo *database.ArticleRepositoryImpl
	fetcher     *fakeFetcher
	scheduler   *MockScheduler
	cache       *MockCache
}

func setupTestConfig(t *testing.T) {
	t.Helper()

	oldArgs := os.Args
	os.Args = []string{"test"}
	defer func() { os.Args = oldArgs }()

	t.Setenv("PORT", "8080")
	t.Setenv("BASE_URL", "https://digest.example.com")
	t.Setenv("TZ", "UTC")
	t.Setenv("MAX_ITEMS", "50")

	if _, err := cfg.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
}

func setupTestEnv(t *testing.T, withNewsletter bool) *testEnv {
	t.Helper()
	setupTestConfig(t)
	gin.SetMode(gin.TestMode)

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	env := &testEnv{
		feedRepo:    database.NewFeedRepository(db),
		articleRepo: database.NewArticleRepository(db),
		fetcher:     &fakeFetcher{responses: map[string][]byte{"https://a.example.com/rss": []byte(sampleRSS)}},
		scheduler:   &MockScheduler{},
		cache:       &MockCache{entries: make(map[string]string)},
	}

	catalogPath := filepath.Join(t.TempDir(), "catalog.yml")
	catalogYAML := "categories:\n  - id: tech\n    name: Technology\n    feeds:\n      - name: Go Blog\n        url: https://go.dev/blog/feed.atom\n"
	if err := os.WriteFile(catalogPath, []byte(catalogYAML), 0644); err != nil {
		t.Fatal(err)
	}
	catalog := feed.NewCatalog(catalogPath)
	if err := catalog.Run(); err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	service := articles.NewService(env.feedRepo, env.articleRepo, env.fetcher, feed.NewParser(), feed.NewNormalizer(), env.cache)
	lifecycle := articles.NewLifecycle(env.feedRepo, env.articleRepo, env.cache)

	var newsletterGen NewsletterGenerator
	if withNewsletter {
		producer := newsletter.NewReaderProducer(func() io.Reader { return strings.NewReader(sampleNewsletter) })
		newsletterGen = newsletter.NewGenerator(env.articleRepo, producer)
	}

	handler := NewHandler(env.feedRepo, env.articleRepo, service, lifecycle, catalog, newsletterGen, env.scheduler, env.cache)
	env.router = NewServer(handler)

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func (e *testEnv) createFeed(t *testing.T, url string) string {
	t.Helper()
	f, err := e.feedRepo.CreateFeed(context.Background(), url)
	if err != nil {
		t.Fatalf("Failed to create feed: %v", err)
	}
	return f.ID
}

func TestCreateFeedAndRenderRSS(t *testing.T) {
	env := setupTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/feeds", gin.H{"url": "https://a.example.com/rss"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Feed   feedResponse   `json:"feed"`
		Result ingestResponse `json:"result"`
	}
	decode(t, w, &created)

	if created.Feed.Title != "Example Feed" || created.Feed.LastFetchedAt == nil {
		t.Errorf("Expected stored metadata, got: %+v", created.Feed)
	}
	if created.Result.Created != 2 {
		t.Errorf("Expected 2 created articles, got: %d", created.Result.Created)
	}

	w = env.do(t, http.MethodGet, "/feeds/"+created.Feed.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "First Post") || !strings.Contains(w.Body.String(), "Second Post") {
		t.Errorf("Expected rendered articles, got: %s", w.Body.String())
	}
	if w.Header().Get("X-Cache") != "MISS" || w.Header().Get("X-Feed-Items") != "2" {
		t.Errorf("Unexpected headers: %v", w.Header())
	}

	w = env.do(t, http.MethodGet, "/feeds/"+created.Feed.ID, nil)
	if w.Header().Get("X-Cache") != "HIT" {
		t.Error("Expected second request to be served from cache")
	}
}

func TestCreateFeedErrors(t *testing.T) {
	env := setupTestEnv(t, false)
	env.createFeed(t, "https://dup.example.com/rss")

	tests := []struct {
		name     string
		body     any
		expected int
	}{
		{"missing url", gin.H{}, http.StatusBadRequest},
		{"invalid url", gin.H{"url": "ftp://example.com/rss"}, http.StatusBadRequest},
		{"duplicate", gin.H{"url": "https://dup.example.com/rss"}, http.StatusConflict},
		{"unreachable", gin.H{"url": "https://missing.example.com/rss"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/feeds", tt.body)
			if w.Code != tt.expected {
				t.Errorf("Expected %d, got %d: %s", tt.expected, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetUnknownFeed(t *testing.T) {
	env := setupTestEnv(t, false)

	if w := env.do(t, http.MethodGet, "/feeds/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestIngestAndDeleteReparentsSharedArticles(t *testing.T) {
	env := setupTestEnv(t, false)
	feedA := env.createFeed(t, "https://a.example.com/rss")
	feedB := env.createFeed(t, "https://b.example.com/rss")

	items := gin.H{"items": []gin.H{
		{"guid": "shared", "title": "Shared story", "isoDate": "2024-03-04T10:00:00Z"},
		{"guid": "only-a", "title": "Only A"},
	}}

	var result ingestResponse
	w := env.do(t, http.MethodPost, "/api/feeds/"+feedA+"/items", items)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &result)
	if result.Created != 2 {
		t.Errorf("Expected 2 created, got %d", result.Created)
	}

	w = env.do(t, http.MethodPost, "/api/feeds/"+feedB+"/items", gin.H{"items": []gin.H{
		{"guid": "shared", "title": "Shared story (copy)"},
		{"description": "body only"},
	}})
	decode(t, w, &result)
	if result.Created != 1 || result.Skipped != 1 || len(result.Malformed) != 0 {
		t.Errorf("Expected one merge and one untitled article, got %+v", result)
	}

	w = env.do(t, http.MethodDelete, "/api/feeds/"+feedA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/feeds/"+feedA, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected deleted feed to be gone, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/feeds/"+feedB, nil)
	if !strings.Contains(w.Body.String(), "Shared story") {
		t.Errorf("Expected shared article to survive in feed B, got: %s", w.Body.String())
	}

	shared, err := env.articleRepo.FindByDedupKey(context.Background(), "shared")
	if err != nil || shared == nil {
		t.Fatalf("Expected shared article, got %v / %v", shared, err)
	}
	if shared.PrimaryFeedID != feedB || len(shared.SourceFeedIDs) != 1 {
		t.Errorf("Expected article re-parented to feed B, got %+v", shared)
	}
	if onlyA, _ := env.articleRepo.FindByDedupKey(context.Background(), "only-a"); onlyA != nil {
		t.Error("Expected sole-owned article to be deleted")
	}

	if w := env.do(t, http.MethodDelete, "/api/feeds/"+feedA, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for second delete, got %d", w.Code)
	}
}

func TestIngestUnknownFeed(t *testing.T) {
	env := setupTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/feeds/missing/items", gin.H{"items": []gin.H{{"guid": "x"}}})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRefreshFeed(t *testing.T) {
	env := setupTestEnv(t, false)
	feedID := env.createFeed(t, "https://a.example.com/rss")

	w := env.do(t, http.MethodPost, "/api/feeds/"+feedID+"/refresh", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if len(env.scheduler.feeds) != 1 || env.scheduler.feeds[0] != feedID {
		t.Errorf("Expected refresh to be enqueued, got %v", env.scheduler.feeds)
	}

	if w := env.do(t, http.MethodPost, "/api/feeds/missing/refresh", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestListFeedsAndStats(t *testing.T) {
	env := setupTestEnv(t, false)
	env.do(t, http.MethodPost, "/api/feeds", gin.H{"url": "https://a.example.com/rss"})
	env.createFeed(t, "https://b.example.com/rss")

	var list struct {
		Feeds []feedResponse `json:"feeds"`
		Total int            `json:"total"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/feeds", nil), &list)
	if list.Total != 2 {
		t.Fatalf("Expected 2 feeds, got %d", list.Total)
	}
	counts := 0
	for _, f := range list.Feeds {
		if f.ArticleCount != nil {
			counts += *f.ArticleCount
		}
	}
	if counts != 2 {
		t.Errorf("Expected 2 articles across feeds, got %d", counts)
	}

	env.createFeed(t, "https://go.dev/blog/feed.atom")
	decode(t, env.do(t, http.MethodGet, "/api/feeds", nil), &list)
	named := 0
	for _, f := range list.Feeds {
		if f.CatalogName == "Go Blog" {
			named++
		}
	}
	if named != 1 {
		t.Errorf("Expected catalog feed to carry its catalog name, got %+v", list.Feeds)
	}

	var stats struct {
		Feeds    int `json:"feeds"`
		Articles int `json:"articles"`
	}
	decode(t, env.do(t, http.MethodGet, "/stats", nil), &stats)
	if stats.Feeds != 3 || stats.Articles != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var health map[string]any
	decode(t, w, &health)
	if health["status"] != "healthy" || health["catalog_feeds"] != float64(1) {
		t.Errorf("Unexpected health: %v", health)
	}
	if health["newsletter_enabled"] != false {
		t.Errorf("Expected newsletter to be disabled, got %v", health["newsletter_enabled"])
	}
}

func TestGetCatalog(t *testing.T) {
	env := setupTestEnv(t, false)

	var response struct {
		Categories []feed.CatalogCategory `json:"categories"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/catalog", nil), &response)

	if len(response.Categories) != 1 || response.Categories[0].Feeds[0].Name != "Go Blog" {
		t.Errorf("Unexpected catalog: %+v", response.Categories)
	}
}

func TestStreamNewsletter(t *testing.T) {
	env := setupTestEnv(t, true)
	env.do(t, http.MethodPost, "/api/feeds", gin.H{"url": "https://a.example.com/rss"})

	var list struct {
		Feeds []feedResponse `json:"feeds"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/feeds", nil), &list)

	w := env.do(t, http.MethodPost, "/api/newsletter/stream", gin.H{
		"feedIds":   []string{list.Feeds[0].ID},
		"startDate": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"endDate":   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
		t.Errorf("Expected event stream, got %s", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("X-Articles-Count") != "2" {
		t.Errorf("Expected 2 articles selected, got %s", w.Header().Get("X-Articles-Count"))
	}

	body := w.Body.String()
	if !strings.Contains(body, "event:partial") {
		t.Errorf("Expected partial events, got: %s", body)
	}
	doneIndex := strings.Index(body, "event:done")
	if doneIndex < 0 {
		t.Fatalf("Expected done event, got: %s", body)
	}
	if !strings.Contains(body[doneIndex:], `"status":"complete"`) || !strings.Contains(body[doneIndex:], "Hello readers") {
		t.Errorf("Expected complete newsletter in done event, got: %s", body[doneIndex:])
	}
}

func TestStreamNewsletterErrors(t *testing.T) {
	env := setupTestEnv(t, true)
	feedID := env.createFeed(t, "https://empty.example.com/rss")

	tests := []struct {
		name     string
		body     any
		expected int
	}{
		{"malformed", "not an object", http.StatusBadRequest},
		{"no feeds", gin.H{"feedIds": []string{}, "startDate": "2024-03-01T00:00:00Z", "endDate": "2024-03-02T00:00:00Z"}, http.StatusBadRequest},
		{"no articles", gin.H{"feedIds": []string{feedID}, "startDate": "2024-03-01T00:00:00Z", "endDate": "2024-03-02T00:00:00Z"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/newsletter/stream", tt.body)
			if w.Code != tt.expected {
				t.Errorf("Expected %d, got %d: %s", tt.expected, w.Code, w.Body.String())
			}
		})
	}
}

func TestStreamNewsletterDisabled(t *testing.T) {
	env := setupTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/newsletter/stream", gin.H{"feedIds": []string{"x"}})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}
