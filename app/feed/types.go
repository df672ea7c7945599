package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Feed processing types

type Metadata struct {
	Title       string
	Link        string
	Description string
	ImageURL    string
	Language    string
	PublishedAt *time.Time
}

// RawItem is a parsed feed item before normalization. The JSON shape matches what
// clients post to the items endpoint, so several alternative fields may be set at once.
type RawItem struct {
	GUID           string            `json:"guid,omitempty"`
	Title          string            `json:"title,omitempty"`
	Link           string            `json:"link,omitempty"`
	IsoDate        string            `json:"isoDate,omitempty"`
	PubDate        string            `json:"pubDate,omitempty"`
	Content        string            `json:"content,omitempty"`
	ContentEncoded string            `json:"content:encoded,omitempty"`
	Description    string            `json:"description,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	ContentSnippet string            `json:"contentSnippet,omitempty"`
	Creator        string            `json:"creator,omitempty"`
	Author         string            `json:"author,omitempty"`
	Categories     []json.RawMessage `json:"categories,omitempty"`
	Enclosure      *Enclosure        `json:"enclosure,omitempty"`
}

type Enclosure struct {
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
	Length string `json:"length,omitempty"`
}

// Candidate is a normalized article ready for deduplication
type Candidate struct {
	DedupKey    string
	Title       string
	Link        string
	Content     string
	Summary     string
	PublishedAt time.Time
	Author      string
	Categories  []string
	ImageURL    string
}

// ItemError reports a raw item that was skipped during normalization
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Catalog types

type CatalogCategory struct {
	ID    string        `yaml:"id" json:"id"`
	Name  string        `yaml:"name" json:"name"`
	Icon  string        `yaml:"icon" json:"icon"`
	Feeds []CatalogFeed `yaml:"feeds" json:"feeds"`
}

type CatalogFeed struct {
	Name        string `yaml:"name" json:"name"`
	URL         string `yaml:"url" json:"url"`
	Description string `yaml:"description" json:"description"`
}
