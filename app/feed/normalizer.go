package feed

import (
	"cmp"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/text/unicode/norm"
)

const defaultTitle = "Untitled"

var ErrMissingFeedID = errors.New("item has no feed id to key it by")

// Normalizer turns raw feed items into deduplication candidates.
// It does not touch the store; the clock is injectable for tests.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

func (n *Normalizer) Run(feedID string, items []RawItem) ([]Candidate, []ItemError) {
	candidates := make([]Candidate, 0, len(items))
	var itemErrors []ItemError

	for i, item := range items {
		candidate, err := n.normalizeItem(feedID, item)
		if err != nil {
			slog.Warn("Skipping malformed feed item", "feed_id", feedID, "index", i, "error", err)
			itemErrors = append(itemErrors, ItemError{Index: i, Err: err})
			continue
		}
		candidates = append(candidates, candidate)
	}

	return candidates, itemErrors
}

func (n *Normalizer) normalizeItem(feedID string, item RawItem) (Candidate, error) {
	guid := strings.TrimSpace(item.GUID)
	link := strings.TrimSpace(item.Link)
	title := strings.TrimSpace(item.Title)

	if feedID == "" {
		return Candidate{}, ErrMissingFeedID
	}

	title = cmp.Or(title, defaultTitle)

	candidate := Candidate{
		DedupKey:    dedupKey(feedID, guid, link, title),
		Title:       title,
		Link:        link,
		Content:     cmp.Or(item.Content, item.ContentEncoded, item.Description, item.Summary),
		Summary:     cmp.Or(item.ContentSnippet, item.Description, item.Summary),
		PublishedAt: n.publishedAt(item),
		Author:      strings.TrimSpace(cmp.Or(item.Creator, item.Author)),
		Categories:  normalizeCategories(feedID, item.Categories),
	}

	if item.Enclosure != nil && isImageType(item.Enclosure.Type) {
		candidate.ImageURL = item.Enclosure.URL
	}

	return candidate, nil
}

// dedupKey picks guid, then link, then feedID-title, so every item gets a key
func dedupKey(feedID, guid, link, title string) string {
	if guid != "" {
		return guid
	}
	if link != "" {
		return link
	}
	return feedID + "-" + title
}

func (n *Normalizer) publishedAt(item RawItem) time.Time {
	if item.IsoDate != "" {
		if t, err := time.Parse(time.RFC3339, item.IsoDate); err == nil {
			return t.UTC()
		}
	}

	for _, value := range []string{item.PubDate, item.IsoDate} {
		if value == "" {
			continue
		}
		if t, err := dateparse.ParseAny(value); err == nil {
			return t.UTC()
		}
		slog.Debug("Failed to parse item date", "value", value)
	}

	return n.now().UTC()
}

func isImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// structuredCategory covers {"text": ..., "attributes": {...}} and the xml2js form {"_": ..., "$": {...}}
type structuredCategory struct {
	Text       *string        `json:"text"`
	Attributes map[string]any `json:"attributes"`
	Value      *string        `json:"_"`
	Attrs      map[string]any `json:"$"`
}

func decodeCategory(raw json.RawMessage) (string, bool) {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, true
	}

	var structured structuredCategory
	if err := json.Unmarshal(raw, &structured); err == nil {
		if structured.Text != nil {
			return *structured.Text, true
		}
		if structured.Value != nil {
			return *structured.Value, true
		}
	}

	return "", false
}

func normalizeCategories(feedID string, raws []json.RawMessage) []string {
	if len(raws) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(raws))
	categories := make([]string, 0, len(raws))

	for _, raw := range raws {
		value, ok := decodeCategory(raw)
		if !ok {
			slog.Warn("Dropping category with unknown shape", "feed_id", feedID, "value", string(raw))
			continue
		}

		value = strings.TrimSpace(norm.NFC.String(value))
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		categories = append(categories, value)
	}

	return categories
}
