package database

import (
	"slices"
	"time"
)

type Feed struct {
	ID            string // Database UUID
	URL           string // RSS/Atom feed URL submitted by the user
	Title         string
	Description   string
	Link          string // Homepage URL from feed's <link> element
	ImageURL      string
	Language      string
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Article struct {
	ID            string
	DedupKey      string
	PrimaryFeedID string
	SourceFeedIDs []string // Ordered; never empty while the article exists
	Title         string
	Link          string
	Content       string
	Summary       string
	PublishedAt   time.Time
	Author        string
	Categories    []string
	ImageURL      string
	Version       int64 // Bumped on every write, used for optimistic concurrency
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Article) HasSource(feedID string) bool {
	return slices.Contains(a.SourceFeedIDs, feedID)
}

type FeedMetadata struct {
	Title       string
	Description string
	Link        string
	ImageURL    string
	Language    string
}
