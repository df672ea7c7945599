package feed

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Categories []CatalogCategory `yaml:"categories"`
}

// Catalog holds the curated feed directory users can browse and subscribe from.
type Catalog struct {
	path       string
	categories []CatalogCategory
	byURL      map[string]CatalogFeed
	mu         sync.RWMutex
}

func NewCatalog(path string) *Catalog {
	return &Catalog{
		path:  path,
		byURL: make(map[string]CatalogFeed),
	}
}

// Run (re)loads the catalog file. A missing file yields an empty catalog.
func (c *Catalog) Run() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		slog.Debug("Catalog file not found, using empty catalog", "path", c.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	if err := c.validate(file.Categories); err != nil {
		return fmt.Errorf("invalid catalog %s: %w", c.path, err)
	}

	byURL := make(map[string]CatalogFeed)
	for _, category := range file.Categories {
		for _, feed := range category.Feeds {
			byURL[feed.URL] = feed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = file.Categories
	c.byURL = byURL

	slog.Debug("Catalog loaded", "path", c.path, "categories", len(file.Categories), "feeds", len(byURL))

	return nil
}

func (c *Catalog) Categories() []CatalogCategory {
	c.mu.RLock()
	defer c.mu.RUnlock()

	categories := make([]CatalogCategory, len(c.categories))
	copy(categories, c.categories)
	return categories
}

func (c *Catalog) FindByURL(url string) (CatalogFeed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	feed, ok := c.byURL[url]
	return feed, ok
}

func (c *Catalog) FeedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byURL)
}

func (c *Catalog) validate(categories []CatalogCategory) error {
	seenIDs := make(map[string]bool, len(categories))

	for i, category := range categories {
		if category.ID == "" {
			return fmt.Errorf("category at index %d has no id", i)
		}
		if seenIDs[category.ID] {
			return fmt.Errorf("duplicate category id: %s", category.ID)
		}
		seenIDs[category.ID] = true

		for j, feed := range category.Feeds {
			if feed.Name == "" || feed.URL == "" {
				return fmt.Errorf("feed at index %d in category %s must have name and url", j, category.ID)
			}
		}
	}

	return nil
}
