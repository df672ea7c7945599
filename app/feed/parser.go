package feed

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
	textPolicy   *bluemonday.Policy
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		textPolicy:   bluemonday.StrictPolicy(),
	}
}

func (p *Parser) Run(data []byte) (*Metadata, []RawItem, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:       feed.Title,
		Link:        feed.Link,
		Description: feed.Description,
		Language:    feed.Language,
	}

	if feed.Image != nil {
		metadata.ImageURL = feed.Image.URL
	}

	if feed.PublishedParsed != nil {
		metadata.PublishedAt = feed.PublishedParsed
	}

	items := make([]RawItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		items = append(items, p.toRawItem(item))
	}

	return metadata, items, nil
}

func (p *Parser) toRawItem(item *gofeed.Item) RawItem {
	raw := RawItem{
		GUID:        item.GUID,
		Title:       item.Title,
		Link:        item.Link,
		Content:     item.Content,
		Description: item.Description,
		PubDate:     cmp.Or(item.Published, item.Updated),
		Author:      p.extractAuthors(item),
	}

	if parsed := cmp.Or(item.PublishedParsed, item.UpdatedParsed); parsed != nil {
		raw.IsoDate = parsed.UTC().Format(time.RFC3339)
	}

	raw.ContentSnippet = p.snippet(cmp.Or(item.Content, item.Description))

	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		raw.Creator = strings.Join(item.DublinCoreExt.Creator, ", ")
	}

	for _, category := range item.Categories {
		encoded, err := json.Marshal(category)
		if err != nil {
			continue
		}
		raw.Categories = append(raw.Categories, encoded)
	}

	// RSS 2.0 allows only one enclosure per item
	if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
		enclosure := item.Enclosures[0]
		raw.Enclosure = &Enclosure{
			URL:    enclosure.URL,
			Type:   enclosure.Type,
			Length: enclosure.Length,
		}
	}

	return raw
}

// snippet strips all markup and collapses whitespace
func (p *Parser) snippet(markup string) string {
	if markup == "" {
		return ""
	}
	text := html.UnescapeString(p.textPolicy.Sanitize(markup))
	return strings.Join(strings.Fields(text), " ")
}

func (p *Parser) extractAuthors(item *gofeed.Item) string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				if authorStr := p.formatAuthor(author.Name, author.Email); authorStr != "" {
					authors = append(authors, authorStr)
				}
			}
		}
	} else if item.Author != nil {
		if authorStr := p.formatAuthor(item.Author.Name, item.Author.Email); authorStr != "" {
			authors = append(authors, authorStr)
		}
	}

	return strings.Join(authors, ", ")
}

func (p *Parser) formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}
