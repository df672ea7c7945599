package feed

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCatalogLoadValid(t *testing.T) {
	path := writeCatalog(t, `
categories:
  - id: tech
    name: "Technology"
    icon: "💻"
    feeds:
      - name: "Hacker News"
        url: "https://news.ycombinator.com/rss"
        description: "Links for the curious"
      - name: "Go Blog"
        url: "https://go.dev/blog/feed.atom"
  - id: science
    name: "Science"
    icon: "🔬"
    feeds:
      - name: "Nature"
        url: "https://www.nature.com/nature.rss"
`)

	catalog := NewCatalog(path)
	if err := catalog.Run(); err != nil {
		t.Fatal(err)
	}

	categories := catalog.Categories()
	if len(categories) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(categories))
	}
	if categories[0].ID != "tech" || len(categories[0].Feeds) != 2 {
		t.Errorf("Unexpected first category: %+v", categories[0])
	}
	if catalog.FeedCount() != 3 {
		t.Errorf("Expected 3 feeds, got %d", catalog.FeedCount())
	}

	feed, ok := catalog.FindByURL("https://go.dev/blog/feed.atom")
	if !ok || feed.Name != "Go Blog" {
		t.Errorf("Expected to find Go Blog by URL, got %+v, %v", feed, ok)
	}
	if _, ok := catalog.FindByURL("https://unknown.example.com/rss"); ok {
		t.Error("Expected unknown URL not to be found")
	}
}

func TestCatalogMissingFile(t *testing.T) {
	catalog := NewCatalog(filepath.Join(t.TempDir(), "missing.yml"))
	if err := catalog.Run(); err != nil {
		t.Fatalf("Expected missing catalog to be tolerated, got: %v", err)
	}
	if len(catalog.Categories()) != 0 {
		t.Error("Expected empty catalog")
	}
}

func TestCatalogInvalid(t *testing.T) {
	tests := map[string]string{
		"missing id": `
categories:
  - name: "No id"
    feeds: []
`,
		"duplicate id": `
categories:
  - id: a
    name: "A"
  - id: a
    name: "A again"
`,
		"feed without url": `
categories:
  - id: a
    name: "A"
    feeds:
      - name: "Nameless"
`,
		"broken yaml": "categories: [",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			catalog := NewCatalog(writeCatalog(t, content))
			if err := catalog.Run(); err == nil {
				t.Error("Expected error for invalid catalog")
			}
		})
	}
}

func TestCatalogReload(t *testing.T) {
	path := writeCatalog(t, `
categories:
  - id: a
    name: "A"
    feeds:
      - name: "One"
        url: "https://one.example.com/rss"
`)

	catalog := NewCatalog(path)
	if err := catalog.Run(); err != nil {
		t.Fatal(err)
	}

	updated := `
categories:
  - id: a
    name: "A"
    feeds:
      - name: "Two"
        url: "https://two.example.com/rss"
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}
	if err := catalog.Run(); err != nil {
		t.Fatal(err)
	}

	if _, ok := catalog.FindByURL("https://one.example.com/rss"); ok {
		t.Error("Expected old feed to be gone after reload")
	}
	if _, ok := catalog.FindByURL("https://two.example.com/rss"); !ok {
		t.Error("Expected new feed after reload")
	}
}
